package audit

import (
	"context"
	"time"

	"github.com/signetd/signet/internal/website"
)

// Log appends decision records to a domain's history. Appends for the same
// domain are serialized by the underlying store, so concurrent decisions
// never lose entries.
type Log struct {
	sites *website.Store
	now   func() time.Time
}

func New(sites *website.Store) *Log {
	return &Log{sites: sites, now: time.Now}
}

// Append adds an entry to the domain's history. A zero CreatedAt is filled
// with the current time.
func (l *Log) Append(ctx context.Context, domain string, entry website.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	_, err := l.sites.Update(ctx, domain, func(site *website.WebSite) (bool, error) {
		site.History = append(site.History, entry)
		return true, nil
	})
	return err
}
