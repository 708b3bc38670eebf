package codec

import (
	"bytes"
	"testing"
)

func TestRegistry(t *testing.T) {
	c, err := Get("application/json")
	if err != nil || c != JSON {
		t.Fatalf("Get(json) = (%v, %v)", c, err)
	}
	if _, err := Get("application/x-unknown"); err == nil {
		t.Fatal("Get of unregistered content type succeeded")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type msg struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	data, err := JSON.Encode(&msg{Name: "a", Count: 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got msg
	if err := JSON.Decode(data, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestBytesCodec(t *testing.T) {
	in := []byte{1, 2, 3}
	data, err := Bytes.Encode(in)
	if err != nil || !bytes.Equal(data, in) {
		t.Fatalf("Encode = (%v, %v)", data, err)
	}

	var out []byte
	if err := Bytes.Decode(data, &out); err != nil || !bytes.Equal(out, in) {
		t.Fatalf("Decode = (%v, %v)", out, err)
	}

	if _, err := Bytes.Encode("not bytes"); err == nil {
		t.Fatal("Encode accepted a non-byte value")
	}
	if err := Bytes.Decode(data, out); err == nil {
		t.Fatal("Decode accepted a non-pointer target")
	}
}
