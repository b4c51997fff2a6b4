// Package idgen generates correlation identifiers for messages.
package idgen

import "github.com/google/uuid"

// Generator produces unique identifiers.
type Generator interface {
	NewID() string
}

// New returns a generator of random (version 4) UUIDs.
func New() Generator {
	return uuidGenerator{}
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}
