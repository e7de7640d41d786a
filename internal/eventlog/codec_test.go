package eventlog

import (
	"encoding/gob"
	"testing"
)

type codecSample struct {
	Msg string
	N   int
}

func init() {
	gob.Register(codecSample{})
}

func TestCodec_RoundTrip(t *testing.T) {
	cases := []any{
		"hello",
		int(42),
		int64(7),
		true,
		codecSample{Msg: "m", N: 3},
	}

	for _, in := range cases {
		data, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", in, err)
		}
		out, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%v) failed: %v", in, err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got %v, want %v", out, in)
		}
	}
}

func TestCodec_Nil(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil) failed: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil bytes for nil value, got %v", data)
	}

	out, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) failed: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil value, got %v", out)
	}
}
