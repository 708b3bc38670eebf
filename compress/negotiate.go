package compress

import "strings"

// Negotiate picks the outgoing algorithm and the set of algorithms
// accepted for incoming payloads.
//
// The outgoing pick is the first entry of the local ordered preference
// list that also appears in the peer's advertised set; identity when
// the sets do not intersect. The accepted set is the local list plus
// identity, which both sides must accept regardless of what was
// advertised.
func Negotiate(local []string, peer []string) (outgoing string, accepted map[string]bool) {
	peerSet := make(map[string]bool, len(peer))
	for _, name := range peer {
		peerSet[name] = true
	}

	outgoing = Identity
	for _, name := range local {
		if peerSet[name] {
			outgoing = name
			break
		}
	}

	accepted = make(map[string]bool, len(local)+1)
	accepted[Identity] = true
	for _, name := range local {
		accepted[name] = true
	}
	return outgoing, accepted
}

// JoinNames renders an advertised algorithm list for a metadata value,
// e.g. "gzip,identity". Identity is always appended.
func JoinNames(names []string) string {
	out := make([]string, 0, len(names)+1)
	for _, name := range names {
		if name != Identity {
			out = append(out, name)
		}
	}
	return strings.Join(append(out, Identity), ",")
}

// SplitNames parses a metadata value produced by JoinNames.
func SplitNames(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
