package frame

import (
	"encoding/binary"

	"meshrpc/compress"
	"meshrpc/status"
)

type decodeState int

const (
	awaitingHeader decodeState = iota
	awaitingPayload
	failed
)

// DecoderConfig bounds and parameterizes a Decoder.
type DecoderConfig struct {
	// MaxFrameSize caps the declared payload length. A frame whose
	// header declares more fails with ResourceExhausted before any
	// payload is buffered. <= 0 means unlimited.
	MaxFrameSize int

	// MaxDecodedSize caps the decompressed size of a compressed
	// payload; exceeding it fails with ResourceExhausted. <= 0 means
	// unlimited.
	MaxDecodedSize int

	// Encoding is the algorithm the peer announced for its payloads,
	// "" or "identity" when none. A compressed frame arriving without
	// an announced algorithm is a protocol error.
	Encoding string

	// Accept is the locally-accepted algorithm set. A compressed frame
	// whose announced algorithm is not accepted fails the call with
	// Unimplemented. This is checked per message, not only at setup,
	// because the peer may violate the negotiated contract.
	Accept map[string]bool
}

// Decoder is a restartable decode cursor: feed it byte chunks of any
// size and drain complete messages as they become available. It never
// waits for more bytes than the current header declares.
type Decoder struct {
	cfg   DecoderConfig
	buf   []byte
	state decodeState

	// header fields, valid in awaitingPayload
	compressed bool
	length     int
}

// NewDecoder returns a Decoder in the awaiting-header state.
func NewDecoder(cfg DecoderConfig) *Decoder {
	return &Decoder{cfg: cfg}
}

// Feed appends a chunk of transport bytes to the cursor.
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	d.buf = append(d.buf, p...)
}

// Buffered reports how many undecoded bytes the cursor holds. A
// non-zero value at end of stream means the peer closed mid-frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next returns the next complete message. ok is false when the cursor
// needs more bytes. A returned error is call-fatal: the cursor stays
// failed and yields the same error on every subsequent call.
func (d *Decoder) Next() (msg []byte, ok bool, err error) {
	if d.state == failed {
		return nil, false, status.New(status.Internal, "frame decoder used after a decode error").Err()
	}

	if d.state == awaitingHeader {
		if len(d.buf) < HeaderSize {
			return nil, false, nil
		}
		if err := d.readHeader(); err != nil {
			d.state = failed
			return nil, false, err
		}
		d.state = awaitingPayload
	}

	if len(d.buf) < d.length {
		return nil, false, nil
	}

	payload := d.buf[:d.length:d.length]
	d.buf = d.buf[d.length:]
	d.state = awaitingHeader

	if !d.compressed {
		return payload, true, nil
	}
	inflated, err := d.decompress(payload)
	if err != nil {
		d.state = failed
		return nil, false, err
	}
	return inflated, true, nil
}

// readHeader consumes and validates the 5-byte header at the front of
// the buffer. The length check happens here, before payload buffering.
func (d *Decoder) readHeader() error {
	flag := d.buf[0]
	switch flag {
	case flagPlain:
		d.compressed = false
	case flagCompressed:
		if d.cfg.Encoding == "" || d.cfg.Encoding == compress.Identity {
			return status.New(status.Internal,
				"protocol error: received a compressed message but no encoding was announced").Err()
		}
		if !d.cfg.Accept[d.cfg.Encoding] {
			return status.Newf(status.Unimplemented,
				"message compressed with %q which is not supported", d.cfg.Encoding).Err()
		}
		d.compressed = true
	default:
		return status.Newf(status.Internal,
			"protocol error: invalid compression flag %d (valid flags are 0 and 1)", flag).Err()
	}

	length := binary.BigEndian.Uint32(d.buf[1:HeaderSize])
	if d.cfg.MaxFrameSize > 0 && length > uint32(d.cfg.MaxFrameSize) {
		return status.Newf(status.ResourceExhausted,
			"received frame of %d bytes exceeding the %d byte limit", length, d.cfg.MaxFrameSize).Err()
	}
	d.length = int(length)
	d.buf = d.buf[HeaderSize:]
	return nil
}

func (d *Decoder) decompress(payload []byte) ([]byte, error) {
	comp, ok := compress.Lookup(d.cfg.Encoding)
	if !ok {
		return nil, status.Newf(status.Unimplemented,
			"message compressed with %q which is not supported", d.cfg.Encoding).Err()
	}
	out, err := comp.Decompress(payload, d.cfg.MaxDecodedSize)
	if err == compress.ErrTooLarge {
		return nil, status.Newf(status.ResourceExhausted,
			"decompressed message exceeds the %d byte limit", d.cfg.MaxDecodedSize).Err()
	}
	if err != nil {
		return nil, status.Newf(status.Internal, "decompressing message with %q: %v", d.cfg.Encoding, err).Err()
	}
	return out, nil
}
