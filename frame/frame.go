// Package frame implements the length-delimited wire framing for
// messages: a fixed 5-byte header followed by the payload.
//
// Frame format:
//
//	0         1                   5
//	┌─────────┬───────────────────┬──────────────────┐
//	│ flag    │      length       │     payload      │
//	│ 0|1     │ uint32 big-endian │  length bytes    │
//	└─────────┴───────────────────┴──────────────────┘
//
// flag 0 marks a plain payload, flag 1 a compressed one. A frame always
// carries exactly one message. The receiver reads the header first to
// learn the payload length, then reads exactly that many bytes, so
// frames are self-delimiting over any byte stream.
package frame

import (
	"encoding/binary"
	"io"
	"math"

	"meshrpc/compress"
	"meshrpc/status"
)

// HeaderSize is the fixed frame header length: 1 flag byte + 4 length bytes.
const HeaderSize = 5

const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// Encoder writes messages as frames, compressing payloads when built
// with a non-identity compressor.
type Encoder struct {
	comp compress.Compressor // nil means identity
}

// NewEncoder returns an Encoder using the given compressor for every
// message. Pass nil for identity.
func NewEncoder(comp compress.Compressor) *Encoder {
	return &Encoder{comp: comp}
}

// Encode frames one message. An empty message is a normal path and
// yields a bare header with length 0.
func (e *Encoder) Encode(msg []byte) ([]byte, error) {
	flag := flagPlain
	payload := msg
	if e.comp != nil {
		compressed, err := e.comp.Compress(msg)
		if err != nil {
			return nil, status.Newf(status.Internal, "compressing message with %q: %v", e.comp.Name(), err).Err()
		}
		flag = flagCompressed
		payload = compressed
	}
	if len(payload) > math.MaxUint32 {
		return nil, status.Newf(status.ResourceExhausted, "message of %d bytes does not fit in a frame", len(payload)).Err()
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = flag
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeTo frames one message directly onto w. The caller must hold a
// write lock if multiple goroutines share the writer, otherwise frames
// interleave and corrupt the stream.
func (e *Encoder) EncodeTo(w io.Writer, msg []byte) error {
	buf, err := e.Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
