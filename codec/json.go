package codec

import "encoding/json"

// JSON serializes messages with encoding/json.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection, larger payload.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) ContentType() string { return "application/json" }
