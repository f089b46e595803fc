package profile

import "context"

// Repository persists the single user profile.
type Repository interface {
	// Get returns the profile. A missing profile is returned as an empty
	// one, never as an error.
	Get(ctx context.Context) (*Profile, error)

	// Save replaces the profile.
	Save(ctx context.Context, p *Profile) error
}
