// Package util contains small internal helpers shared across packages.
package util

import "github.com/google/uuid"

// NewID generates a new unique identifier for requests and chunks.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
