package status

import (
	"context"
	"errors"
	"testing"
)

func TestErrOKIsNil(t *testing.T) {
	if err := New(OK, "").Err(); err != nil {
		t.Fatalf("OK status Err() = %v, want nil", err)
	}
	if err := New(NotFound, "missing").Err(); err == nil {
		t.Fatal("non-OK status Err() = nil")
	}
}

func TestFromError(t *testing.T) {
	st, ok := FromError(nil)
	if !ok || st.Code() != OK {
		t.Fatalf("FromError(nil) = (%v, %v)", st, ok)
	}

	orig := Newf(PermissionDenied, "not %s", "allowed")
	st, ok = FromError(orig.Err())
	if !ok || st.Code() != PermissionDenied || st.Message() != "not allowed" {
		t.Fatalf("FromError round trip = (%v, %v)", st, ok)
	}

	st, ok = FromError(context.Canceled)
	if !ok || st.Code() != Canceled {
		t.Fatalf("FromError(context.Canceled) = (%v, %v)", st, ok)
	}
	st, ok = FromError(context.DeadlineExceeded)
	if !ok || st.Code() != DeadlineExceeded {
		t.Fatalf("FromError(context.DeadlineExceeded) = (%v, %v)", st, ok)
	}

	st, ok = FromError(errors.New("plain"))
	if ok || st.Code() != Unknown || st.Message() != "plain" {
		t.Fatalf("FromError(plain) = (%v, %v)", st, ok)
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != OK {
		t.Fatal("CodeOf(nil) != OK")
	}
	if CodeOf(Errorf(Unavailable, "down")) != Unavailable {
		t.Fatal("CodeOf lost the code")
	}
}

func TestTrailerRoundTrip(t *testing.T) {
	st := New(FailedPrecondition, "state mismatch").WithDetails([]byte{0x01, 0xff})
	got, ok := FromMD(st.ToMD())
	if !ok {
		t.Fatal("FromMD did not find a status")
	}
	if got.Code() != FailedPrecondition || got.Message() != "state mismatch" {
		t.Fatalf("round trip = %v", got)
	}
	if len(got.Details()) != 2 || got.Details()[0] != 0x01 {
		t.Fatalf("details = %v", got.Details())
	}
}

func TestFromMDMissing(t *testing.T) {
	if _, ok := FromMD(nil); ok {
		t.Fatal("FromMD(nil) reported a status")
	}
}

func TestCodeNames(t *testing.T) {
	cases := map[Code]string{
		OK:              "OK",
		Canceled:        "Canceled",
		Unauthenticated: "Unauthenticated",
		Code(99):        "Code(99)",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}
