package internal

import (
	"encoding/hex"
	"testing"
)

func isHexToken(s string, n int) bool {
	if len(s) != n*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func TestNewTokenShape(t *testing.T) {
	tok, err := NewToken(DefaultTokenBytes)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	if len(tok) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(tok))
	}
	if !isHexToken(tok, DefaultTokenBytes) {
		t.Fatalf("expected hex token, got %q", tok)
	}
}

func TestNewTokenIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok, err := NewToken(DefaultTokenBytes)
		if err != nil {
			t.Fatalf("NewToken error: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewTokenRejectsNonPositiveSize(t *testing.T) {
	if _, err := NewToken(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	a := HashToken("abc")
	b := HashToken("abc")
	if a != b {
		t.Fatal("expected stable digest")
	}
	if a == HashToken("abd") {
		t.Fatal("expected distinct digests")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex digest, got %d chars", len(a))
	}
}

func TestTokensEqual(t *testing.T) {
	if !TokensEqual("same", "same") {
		t.Fatal("expected equal tokens to compare equal")
	}
	if TokensEqual("same", "diff") || TokensEqual("short", "longer") {
		t.Fatal("expected different tokens to compare unequal")
	}
}
