package core

import "github.com/google/uuid"

// NewIdentifier returns a fresh random identity for long-lived engine objects
// (meshes, materials). Identities are never reused.
func NewIdentifier() uuid.UUID {
	return uuid.New()
}

// ParseIdentifier accepts the canonical textual form.
func ParseIdentifier(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
