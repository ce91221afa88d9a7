// Package store persists account credentials. It is a pure persistence
// boundary: no network access, no token logic.
package store

import (
	"errors"

	"github.com/brewkit/lmctl/internal/domain"
)

// ErrCorrupt reports a credentials file that exists but cannot be parsed.
var ErrCorrupt = errors.New("store: corrupt credentials file")

// Store is the persistence boundary for credentials. Load returns nil (not
// an error) when nothing has been stored yet. Save must be atomic from the
// caller's perspective: a reader observes either the prior credentials or
// the new ones, never a torn mix.
type Store interface {
	Load() (*domain.Credentials, error)
	Save(*domain.Credentials) error
	Clear() error
}
