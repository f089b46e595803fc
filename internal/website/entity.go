package website

import "time"

// Permission is the current grant or denial state for a domain. A permanent
// decision sets Always and leaves ExpiresAt empty; a time-boxed decision sets
// ExpiresAt to the end of its window. An expired temporary denial is flipped
// to an open-ended accept on the next evaluation (see the policy package).
type Permission struct {
	Always    bool       `yaml:"always" json:"always"`
	Accept    bool       `yaml:"accept" json:"accept"`
	Reject    bool       `yaml:"reject" json:"reject"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty" json:"expiresAt,omitempty"`
}

// HistoryEntry is an immutable audit record. Entries are appended only,
// never mutated or removed.
type HistoryEntry struct {
	Accepted  bool      `yaml:"accepted" json:"accepted"`
	Type      string    `yaml:"type" json:"type"`
	Data      string    `yaml:"data,omitempty" json:"data,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}

// WebSite is the per-domain record: whether any decision was ever made,
// the current permission and the append-only history.
type WebSite struct {
	Domain     string         `yaml:"domain" json:"domain"`
	Auth       bool           `yaml:"auth" json:"auth"`
	Permission Permission     `yaml:"permission" json:"permission"`
	History    []HistoryEntry `yaml:"history,omitempty" json:"history,omitempty"`
}

// NewWebSite returns the default record for a domain that has never been
// decided on: unauthenticated, with an open accept that only becomes
// meaningful once Auth is set by an explicit decision.
func NewWebSite(domain string) *WebSite {
	return &WebSite{
		Domain: domain,
		Auth:   false,
		Permission: Permission{
			Always: false,
			Accept: true,
			Reject: false,
		},
	}
}
