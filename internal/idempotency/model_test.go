package idempotency

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"uuid", "0b6c8f7e-3f5d-4f7e-9a53-1c2d3e4f5a6b", nil},
		{"max length", strings.Repeat("k", MaxKeyLength), nil},
		{"empty", "", ErrInvalidKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
		{"contains space", "open session", ErrInvalidKey},
		{"non ascii", "clé", ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestComputeResponseHash(t *testing.T) {
	a := ComputeResponseHash(`{"id":"s1"}`)
	b := ComputeResponseHash(`{"id":"s1"}`)
	c := ComputeResponseHash(`{"id":"s2"}`)

	if a != b {
		t.Error("hash is not deterministic")
	}
	if a == c {
		t.Error("different bodies produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}
