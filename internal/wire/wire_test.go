package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func mustCompress(t *testing.T, b []byte) []byte {
	t.Helper()
	enc, err := Compress(b)
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	return enc
}

func TestRoundTripEmptyAndNonEmpty(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("hello"),
		[]byte(strings.Repeat(`{"name":"john"}`, 500)),
		{0, 1, 2, 3, 4},
	}
	for _, payload := range cases {
		enc := mustCompress(t, payload)
		if !IsCompressed(enc) {
			t.Fatalf("missing marker on %x", enc[:hdr])
		}
		got, err := Unpack(enc, 0)
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch: got %q want %q", got, payload)
		}
	}
}

func TestUnpackPassesRawThrough(t *testing.T) {
	for _, raw := range []string{`{"data":1}`, `[1,2]`, `"s"`, `42`, ``} {
		got, err := Unpack([]byte(raw), 0)
		if err != nil {
			t.Fatalf("Unpack(%q): %v", raw, err)
		}
		if string(got) != raw {
			t.Fatalf("raw payload altered: got %q want %q", got, raw)
		}
	}
}

func TestCompressesLargeRepetitivePayload(t *testing.T) {
	payload := []byte(strings.Repeat("abcdefgh", 4096))
	enc := mustCompress(t, payload)
	if len(enc) >= len(payload) {
		t.Fatalf("expected smaller frame: %d >= %d", len(enc), len(payload))
	}
}

func TestCorruptFrames(t *testing.T) {
	enc := mustCompress(t, []byte("abcabcabc"))

	badVer := append([]byte(nil), enc...)
	badVer[len(magic)] = version + 1
	if _, err := Unpack(badVer, 0); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on bad version, got %v", err)
	}

	trunc := enc[:hdr-1]
	if _, err := Unpack(trunc, 0); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on truncated header, got %v", err)
	}

	garbage := append(append([]byte(nil), enc[:hdr]...), 'x', 'y', 'z')
	if _, err := Unpack(garbage, 0); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on garbage body, got %v", err)
	}

	// announce fewer bytes than the stream holds
	lying := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(lying[len(magic)+1:hdr], 2)
	if _, err := Unpack(lying, 0); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on lying length, got %v", err)
	}
}

func TestUnpackHonorsLimit(t *testing.T) {
	enc := mustCompress(t, bytes.Repeat([]byte{'a'}, 2048))
	if _, err := Unpack(enc, 1024); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := Unpack(enc, 4096); err != nil {
		t.Fatalf("within limit: %v", err)
	}
}
