package website

import "context"

// Repository provides persistence for per-domain records. Records are read
// and written whole; partial updates are not supported.
type Repository interface {
	// Get returns the record for a domain, or a NotFound error if none exists.
	Get(ctx context.Context, domain string) (*WebSite, error)

	// Upsert creates or replaces the record for a domain.
	Upsert(ctx context.Context, site *WebSite) error

	// List returns all known records.
	List(ctx context.Context) ([]*WebSite, error)

	// Delete removes the record for a domain.
	Delete(ctx context.Context, domain string) error
}
