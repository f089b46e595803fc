package policy

import (
	"time"

	"github.com/signetd/signet/internal/website"
)

// Decision is the outcome of evaluating a domain's permission state
// against an incoming request.
type Decision int

const (
	// Prompt means no standing decision applies; the user must be asked.
	Prompt Decision = iota
	// Allow means the request proceeds without user interaction.
	Allow
	// Deny means the request is rejected without user interaction.
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "prompt"
	}
}

// Evaluate applies the permission rules to a domain record and returns the
// decision plus whether the record was mutated and needs persisting.
//
// Rules, in order:
//  1. No record, or no decision ever made: prompt.
//  2. Permanent accept: allow.
//  3. Temporary accept: allow while unexpired, prompt after. A missing
//     expiry on a temporary accept counts as unexpired, so re-evaluating a
//     record already flipped by rule 4 keeps allowing.
//  4. Reject: an expired temporary denial flips in place to an open-ended
//     accept and allows; any other denial denies.
//  5. Anything else: prompt.
func Evaluate(site *website.WebSite, now time.Time) (Decision, bool) {
	if site == nil || !site.Auth {
		return Prompt, false
	}

	p := &site.Permission
	switch {
	case p.Accept && p.Always:
		return Allow, false
	case p.Accept:
		if p.ExpiresAt == nil || now.Before(*p.ExpiresAt) {
			return Allow, false
		}
		return Prompt, false
	case p.Reject:
		if !p.Always && p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
			*p = website.Permission{Accept: true}
			return Allow, true
		}
		return Deny, false
	default:
		return Prompt, false
	}
}

// Choice is the user's answer to a permission prompt. When Always is false
// the decision is valid until Duration.
type Choice struct {
	Always   bool      `json:"always"`
	Accept   bool      `json:"accept"`
	Reject   bool      `json:"reject"`
	Duration time.Time `json:"duration"`
}

// Accepted reports whether the choice grants the request.
func (c Choice) Accepted() bool {
	return c.Accept && !c.Reject
}

// Apply overwrites the record's permission state with the user's choice and
// marks the domain as decided on.
func Apply(site *website.WebSite, c Choice) {
	site.Auth = true
	perm := website.Permission{
		Always: c.Always,
		Accept: c.Accept,
		Reject: c.Reject,
	}
	if !c.Always {
		d := c.Duration
		perm.ExpiresAt = &d
	}
	site.Permission = perm
}
