// Package metadata implements the key-value maps attached to the two
// ends of a stream: initial metadata sent with the request headers and
// trailing metadata delivered with the terminal status.
//
// Keys are case-insensitive and normalized to lowercase on every write.
package metadata

import "strings"

// MD maps normalized keys to one or more values.
type MD map[string][]string

// New builds an MD from a plain map, normalizing keys.
func New(m map[string]string) MD {
	md := make(MD, len(m))
	for k, v := range m {
		md[strings.ToLower(k)] = []string{v}
	}
	return md
}

// Pairs builds an MD from an even-length list of key, value, key,
// value... It panics on an odd count, mirroring the construction-time
// misuse it indicates.
func Pairs(kv ...string) MD {
	if len(kv)%2 == 1 {
		panic("metadata: Pairs got an odd number of arguments")
	}
	md := make(MD, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := strings.ToLower(kv[i])
		md[key] = append(md[key], kv[i+1])
	}
	return md
}

// Get returns the first value for key, or "" when absent.
func (md MD) Get(key string) string {
	vs := md[strings.ToLower(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for key.
func (md MD) Values(key string) []string {
	return md[strings.ToLower(key)]
}

// Set replaces the values for key.
func (md MD) Set(key string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	md[strings.ToLower(key)] = vals
}

// Append adds values for key, keeping existing ones.
func (md MD) Append(key string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	key = strings.ToLower(key)
	md[key] = append(md[key], vals...)
}

// Copy returns a deep copy of md.
func (md MD) Copy() MD {
	out := make(MD, len(md))
	for k, v := range md {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Join merges all given MDs into one. Later values append after
// earlier ones for shared keys.
func Join(mds ...MD) MD {
	out := MD{}
	for _, md := range mds {
		for k, v := range md {
			out[k] = append(out[k], v...)
		}
	}
	return out
}
