package util

import (
	"encoding/hex"
	"testing"
)

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(64)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(b) != 64 {
		t.Fatalf("got %d bytes, want 64", len(b))
	}
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(32)
	if err != nil {
		t.Fatalf("RandomHex: %v", err)
	}
	if len(s) != 64 {
		t.Fatalf("got %d chars, want 64", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("not valid hex: %v", err)
	}
	s2, _ := RandomHex(32)
	if s == s2 {
		t.Fatal("two random tokens should not collide")
	}
}

func TestNormalize(t *testing.T) {
	// NFKD decomposes the precomposed form; both inputs must normalize equal.
	a := Normalize("café")
	b := Normalize("café")
	if a != b {
		t.Fatalf("normalized forms differ: %q vs %q", a, b)
	}
}
