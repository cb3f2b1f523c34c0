// Package idempotency stores the responses of retried viewer requests so a
// client that repeats a request with the same Idempotency-Key gets the
// original response instead of a second side effect.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = time.Hour

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// Record is a stored response for one key on one route.
type Record struct {
	Key          string    `json:"key"`
	Method       string    `json:"method"`
	Route        string    `json:"route"`
	CreatedAt    time.Time `json:"created_at"`
	StatusCode   int       `json:"status_code"`
	ContentType  string    `json:"content_type,omitempty"`
	Location     string    `json:"location,omitempty"`
	Body         string    `json:"body"`
	ResponseHash string    `json:"response_hash"`
}

// ValidateKey checks if an idempotency key is valid.
// Keys must be printable ASCII without spaces.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] > '~' {
			return ErrInvalidKey
		}
	}
	return nil
}

// ComputeResponseHash computes a SHA256 hash of the response body.
func ComputeResponseHash(body string) string {
	hash := sha256.Sum256([]byte(body))
	return hex.EncodeToString(hash[:])
}

// Repository persists records. Keys are scoped by route so the same key
// sent to two different tours does not collide.
type Repository interface {
	// Get returns ErrKeyNotFound if nothing is stored for route and key.
	Get(ctx context.Context, route, key string) (*Record, error)

	// Store returns ErrKeyExists if a record is already stored.
	Store(ctx context.Context, record *Record) error
}

func scopedKey(route, key string) string {
	return route + " " + key
}
