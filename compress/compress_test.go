package compress

import (
	"bytes"
	"testing"
)

func TestNegotiateFirstPreferenceWins(t *testing.T) {
	out, accepted := Negotiate([]string{"zstd", "gzip"}, []string{"gzip", "zstd"})
	if out != "zstd" {
		t.Fatalf("outgoing = %q, want zstd", out)
	}
	for _, name := range []string{"zstd", "gzip", Identity} {
		if !accepted[name] {
			t.Errorf("accepted set misses %q", name)
		}
	}
}

func TestNegotiateNoOverlap(t *testing.T) {
	out, accepted := Negotiate([]string{"gzip"}, []string{"snappy"})
	if out != Identity {
		t.Fatalf("outgoing = %q, want identity", out)
	}
	if !accepted[Identity] || !accepted["gzip"] {
		t.Errorf("accepted = %v, want identity and gzip", accepted)
	}
}

func TestNegotiateEmptyLocal(t *testing.T) {
	out, accepted := Negotiate(nil, []string{"gzip"})
	if out != Identity {
		t.Fatalf("outgoing = %q, want identity", out)
	}
	if len(accepted) != 1 || !accepted[Identity] {
		t.Fatalf("accepted = %v, want identity only", accepted)
	}
}

func TestJoinSplitNames(t *testing.T) {
	joined := JoinNames([]string{"gzip"})
	if joined != "gzip,identity" {
		t.Fatalf("JoinNames = %q", joined)
	}
	names := SplitNames(" gzip , identity ")
	if len(names) != 2 || names[0] != "gzip" || names[1] != Identity {
		t.Fatalf("SplitNames = %v", names)
	}
	if SplitNames("") != nil {
		t.Fatal("SplitNames of empty value should be nil")
	}
}

func TestGzipCompressor(t *testing.T) {
	comp, ok := Lookup("gzip")
	if !ok {
		t.Fatal("gzip not registered")
	}
	msg := bytes.Repeat([]byte("data "), 1000)

	packed, err := comp.Compress(msg)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := comp.Decompress(packed, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatal("round trip mismatch")
	}

	if _, err := comp.Decompress(packed, 16); err != ErrTooLarge {
		t.Fatalf("Decompress over limit = %v, want ErrTooLarge", err)
	}
}
