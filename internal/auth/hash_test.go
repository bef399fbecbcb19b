package auth

import (
	"errors"
	"strings"
	"testing"
)

var fastArgon = Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestArgon2RoundTrip(t *testing.T) {
	encoded, err := fastArgon.Hash("eyJhbGciOiJSUzI1NiJ9.payload.signature")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	ok, err := VerifyArgon2(encoded, "eyJhbGciOiJSUzI1NiJ9.payload.signature")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyArgon2(encoded, "eyJhbGciOiJSUzI1NiJ9.payload.signaturX")
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}

	other, err := fastArgon.Hash("eyJhbGciOiJSUzI1NiJ9.payload.signature")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if other == encoded {
		t.Fatal("salts must differ between hashes")
	}
}

func TestArgon2RejectsMalformed(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$2a$10$bcrypt", "$argon2id$v=18$m=1,t=1,p=1$AA$AA"} {
		if ok, err := VerifyArgon2(encoded, "x"); err == nil || ok {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("p1", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := VerifyPassword(hash, "p1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "p2"); err == nil {
		t.Fatal("expected mismatch")
	}
	if _, err := HashPassword(strings.Repeat("a", 73), 4); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for long password, got %v", err)
	}
	if _, err := HashPassword("", 4); err == nil {
		t.Fatal("expected error for empty password")
	}
}
