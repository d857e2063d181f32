package partner

import "context"

// Repository is the persistence contract the cache depends on. Absent rows
// are reported as (nil, nil), never as errors — the broadcast path must not
// see exceptions for expected outcomes.
type Repository interface {
	// FindActive returns every enabled partner with ACTIVE status.
	FindActive(ctx context.Context) ([]Partner, error)

	// FindByIDEnabled returns the enabled partner with the given id, or nil
	// when no such partner exists.
	FindByIDEnabled(ctx context.Context, id string) (*Partner, error)

	// Save inserts or replaces a partner configuration.
	Save(ctx context.Context, p Partner) (Partner, error)

	// SetEnabled flips the enabled flag without touching the rest of the
	// configuration.
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
