// Package idgen mints the opaque identifiers used throughout the runtime:
// step, task, stage, and waiting IDs. Centralizing this keeps every ID the
// same shape (a UUIDv4 string) regardless of which component mints it.
package idgen

import "github.com/google/uuid"

// New returns a fresh opaque identifier.
func New() string {
	return uuid.NewString()
}
