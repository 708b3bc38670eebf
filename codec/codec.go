// Package codec defines the pluggable serialization contract between
// message values and the byte payloads carried inside frames.
//
// The framing and call layers are format-agnostic: they only ever see a
// Codec. Generated or hand-written service stubs pick the codec through
// the method descriptor.
package codec

import "fmt"

// Codec serializes one message type pair for the wire.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error

	// ContentType is the declared wire content-type string, e.g.
	// "application/json".
	ContentType() string
}

var registry = map[string]Codec{}

// Register makes a codec resolvable by its content type. Codecs are
// registered at init time; Register is not safe for concurrent use.
func Register(c Codec) {
	registry[c.ContentType()] = c
}

// Get resolves a codec by content type.
func Get(contentType string) (Codec, error) {
	c, ok := registry[contentType]
	if !ok {
		return nil, fmt.Errorf("codec: no codec registered for content type %q", contentType)
	}
	return c, nil
}

func init() {
	Register(JSON)
	Register(Bytes)
}
