package codec

import "errors"

// Bytes passes raw []byte payloads through untouched. Encode accepts
// []byte or *[]byte; Decode requires *[]byte.
var Bytes Codec = bytesCodec{}

type bytesCodec struct{}

func (bytesCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, errors.New("codec: bytes codec requires []byte or *[]byte")
	}
}

func (bytesCodec) Decode(data []byte, v any) error {
	out, ok := v.(*[]byte)
	if !ok {
		return errors.New("codec: bytes codec requires *[]byte")
	}
	*out = append((*out)[:0], data...)
	return nil
}

func (bytesCodec) ContentType() string { return "application/octet-stream" }
