// Package identity mints the identifiers used by the service registry.
//
// RegistrationID names a published service and ConsumerID names a consumer
// instance. Both are 128-bit random (UUID v4) values: comparable with ==,
// usable as map keys, and totally ordered by Compare over their bytes.
// The two types are deliberately distinct so one can never be passed where
// the other is expected.
package identity

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when parsing a malformed identifier.
var ErrInvalidID = errors.New("invalid identifier")

// RegistrationID uniquely identifies a registry entry. IDs are never reused.
type RegistrationID uuid.UUID

// NewRegistrationID generates a new RegistrationID using UUID v4.
func NewRegistrationID() RegistrationID {
	return RegistrationID(uuid.New())
}

// ParseRegistrationID parses the canonical textual form of a RegistrationID.
func ParseRegistrationID(s string) (RegistrationID, error) {
	u, err := parse(s)
	return RegistrationID(u), err
}

// String returns the canonical UUID form.
func (id RegistrationID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil UUID, which NewRegistrationID never returns.
func (id RegistrationID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Compare orders ids by their bit pattern. It returns -1, 0 or +1.
func (id RegistrationID) Compare(other RegistrationID) int {
	return bytes.Compare(id[:], other[:])
}

// ConsumerID identifies a consumer instance.
type ConsumerID uuid.UUID

// NewConsumerID generates a new ConsumerID using UUID v4.
func NewConsumerID() ConsumerID {
	return ConsumerID(uuid.New())
}

// ParseConsumerID parses the canonical textual form of a ConsumerID.
func ParseConsumerID(s string) (ConsumerID, error) {
	u, err := parse(s)
	return ConsumerID(u), err
}

func (id ConsumerID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil UUID.
func (id ConsumerID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Compare orders ids by their bit pattern. It returns -1, 0 or +1.
func (id ConsumerID) Compare(other ConsumerID) int {
	return bytes.Compare(id[:], other[:])
}

func parse(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w %q: %w", ErrInvalidID, s, err)
	}
	return u, nil
}
