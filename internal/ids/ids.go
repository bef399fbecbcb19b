// Package ids generates record and token identifiers.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a ULID string. Ids made in the same millisecond still sort in
// creation order.
func New() string {
	return ulid.Make().String()
}

// NewTokenID returns a random UUIDv4 for the jti claim.
func NewTokenID() string {
	return uuid.NewString()
}
