package compress

import (
	"bytes"
	"compress/gzip"
	"io"
)

// gzipCompressor implements the "gzip" algorithm. Decompression is
// bounded: it inflates through a limited reader so an oversized payload
// fails before the full buffer is materialized.
type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte, maxSize int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	// Read one byte past the limit so overflow is detectable without
	// buffering the whole oversized payload.
	out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

func init() {
	Register(gzipCompressor{})
}
