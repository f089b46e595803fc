package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/signetd/signet/internal/audit"
	"github.com/signetd/signet/internal/eventbus"
	"github.com/signetd/signet/internal/pending"
	"github.com/signetd/signet/internal/policy"
	"github.com/signetd/signet/internal/prompt"
	"github.com/signetd/signet/internal/website"
	"github.com/signetd/signet/pkg/panicerr"
)

const (
	msgNoKey    = "No private key found"
	msgRejected = "User rejected the request"
)

// KeyStore answers whether a signing key is available at all.
type KeyStore interface {
	HasKey(ctx context.Context) bool
}

// Signer produces the response payload for a granted request.
type Signer interface {
	Respond(ctx context.Context, reqType string, data []byte) (any, error)
}

// Notifier is told about every decision outcome.
type Notifier interface {
	Notify(ctx context.Context, reqType string, accepted bool)
}

// Broker arbitrates requests from web origins against the per-domain
// permission state, suspending on a user prompt when no standing decision
// applies and finishing suspended requests when decisions arrive.
type Broker struct {
	sites    *website.Store
	keys     KeyStore
	signer   Signer
	prompts  prompt.Surface
	notifier Notifier
	bus      *eventbus.Bus
	pending  *pending.Table[Response]
	audit    *audit.Log
	now      func() time.Time
}

func New(sites *website.Store, keys KeyStore, signer Signer, prompts prompt.Surface, notifier Notifier, bus *eventbus.Bus) *Broker {
	return &Broker{
		sites:    sites,
		keys:     keys,
		signer:   signer,
		prompts:  prompts,
		notifier: notifier,
		bus:      bus,
		pending:  pending.NewTable[Response](),
		audit:    audit.New(sites),
		now:      time.Now,
	}
}

// HandleRequest arbitrates one request and always returns a Response. When
// the policy yields no decision the call blocks until the user answers the
// prompt or ctx is cancelled.
func (b *Broker) HandleRequest(ctx context.Context, req Request) Response {
	if !b.keys.HasKey(ctx) {
		return b.errorResponse(req.ID, req.Type, msgNoKey, msgNoKey)
	}

	domain, err := website.Normalize(req.URL)
	if err != nil {
		return b.errorResponse(req.ID, req.Type, "invalid request origin", err.Error())
	}

	var decision policy.Decision
	if _, err := b.sites.Update(ctx, domain, func(site *website.WebSite) (bool, error) {
		var changed bool
		decision, changed = policy.Evaluate(site, b.now())
		return changed, nil
	}); err != nil {
		return b.errorResponse(req.ID, req.Type, "failed to load site permissions", err.Error())
	}

	slog.DebugContext(ctx, "request arbitrated",
		"request_id", req.ID, "domain", domain, "type", req.Type, "decision", decision.String())

	switch decision {
	case policy.Allow:
		return b.respondGranted(ctx, req.ID, req.Type, domain, req.Data())

	case policy.Deny:
		if err := b.audit.Append(ctx, domain, website.HistoryEntry{
			Accepted: false,
			Type:     req.Type,
			Data:     string(req.Data()),
		}); err != nil {
			return b.errorResponse(req.ID, req.Type, "failed to record decision", err.Error())
		}
		b.notify(ctx, req.Type, false)
		b.publishResolved(req.ID, domain, req.Type, false)
		return b.errorResponse(req.ID, req.Type, msgRejected, msgRejected)

	default:
		return b.awaitDecision(ctx, req, domain)
	}
}

func (b *Broker) respondGranted(ctx context.Context, id, reqType, domain string, data []byte) Response {
	payload, err := b.signer.Respond(ctx, reqType, data)
	if err != nil {
		payload = ErrorBody{Error: ResponseError{Message: err.Error(), Stack: err.Error()}}
	}
	if err := b.audit.Append(ctx, domain, website.HistoryEntry{
		Accepted: true,
		Type:     reqType,
		Data:     string(data),
	}); err != nil {
		return b.errorResponse(id, reqType, "failed to record decision", err.Error())
	}
	b.notify(ctx, reqType, true)
	b.publishResolved(id, domain, reqType, true)
	return Response{ID: id, Type: reqType, Ext: ExtName, Response: payload}
}

func (b *Broker) awaitDecision(ctx context.Context, req Request, domain string) Response {
	entry := pending.NewEntry[Response](req.Type, domain, req.Data())
	if err := b.pending.Register(req.ID, entry); err != nil {
		return b.errorResponse(req.ID, req.Type, "request is already pending", err.Error())
	}

	windowID, err := b.prompts.Open(ctx, prompt.Request{
		Action:    "login",
		URL:       req.URL,
		RequestID: req.ID,
		Type:      req.Type,
		Data:      req.Data(),
	})
	if err != nil {
		b.pending.Take(req.ID)
		return b.errorResponse(req.ID, req.Type, "failed to open permission prompt", err.Error())
	}
	entry.SetWindow(windowID)

	select {
	case resp := <-entry.Done():
		return resp
	case <-ctx.Done():
		if _, ok := b.pending.Take(req.ID); ok {
			if closeErr := b.prompts.Close(context.WithoutCancel(ctx), windowID); closeErr != nil {
				slog.WarnContext(ctx, "failed to close prompt", "window_id", windowID, "error", closeErr)
			}
			return b.errorResponse(req.ID, req.Type, "request cancelled", ctx.Err().Error())
		}
		// A concurrent result already took ownership; its resolution is
		// imminent, so hand back the real answer instead of a cancellation.
		return <-entry.Done()
	}
}

// HandleResult applies one prompt decision. Results for unknown or already
// resolved request ids are ignored; a panic while applying a decision is
// contained so it cannot take the caller down.
func (b *Broker) HandleResult(ctx context.Context, res Result) {
	if err := panicerr.SafeContext(func(ctx context.Context) error {
		return b.handleResult(ctx, res)
	})(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to handle prompt result", "request_id", res.RequestID, "error", err)
	}
}

func (b *Broker) handleResult(ctx context.Context, res Result) error {
	entry, ok := b.pending.Take(res.RequestID)
	if !ok {
		// Stale, duplicate or never registered; nothing to resolve.
		slog.DebugContext(ctx, "result for unknown request ignored", "request_id", res.RequestID)
		return nil
	}
	defer func() {
		if windowID := entry.Window(); windowID != "" {
			if err := b.prompts.Close(ctx, windowID); err != nil {
				slog.WarnContext(ctx, "failed to close prompt", "window_id", windowID, "error", err)
			}
		}
	}()

	var choice *policy.Choice
	if res.Response != nil && res.Response.Error == nil {
		choice = res.Response.Permission
	}

	accepted := false
	if choice != nil {
		accepted = choice.Accepted()
		if _, err := b.sites.Update(ctx, entry.Domain, func(site *website.WebSite) (bool, error) {
			policy.Apply(site, *choice)
			site.History = append(site.History, website.HistoryEntry{
				Accepted:  accepted,
				Type:      entry.Type,
				Data:      string(entry.Data),
				CreatedAt: b.now(),
			})
			return true, nil
		}); err != nil {
			entry.Resolve(b.errorResponse(res.RequestID, entry.Type, "failed to store permission", err.Error()))
			return err
		}
		b.bus.PublishNew(eventbus.EventPermissionUpdated, entry.Domain, "", map[string]string{"type": entry.Type})
	} else {
		// Dismissed or errored prompt: no permission change, audit only.
		if err := b.audit.Append(ctx, entry.Domain, website.HistoryEntry{
			Accepted: false,
			Type:     entry.Type,
			Data:     string(entry.Data),
		}); err != nil {
			entry.Resolve(b.errorResponse(res.RequestID, entry.Type, "failed to record decision", err.Error()))
			return err
		}
	}

	b.notify(ctx, entry.Type, accepted)
	b.publishResolved(res.RequestID, entry.Domain, entry.Type, accepted)

	if !accepted {
		entry.Resolve(b.errorResponse(res.RequestID, entry.Type, msgRejected, msgRejected))
		return nil
	}

	payload, err := b.signer.Respond(ctx, entry.Type, entry.Data)
	if err != nil {
		payload = ErrorBody{Error: ResponseError{Message: err.Error(), Stack: err.Error()}}
	}
	entry.Resolve(Response{ID: res.RequestID, Type: entry.Type, Ext: ExtName, Response: payload})
	return nil
}

// PendingCount reports how many requests are suspended on a prompt.
func (b *Broker) PendingCount() int {
	return b.pending.Len()
}

func (b *Broker) notify(ctx context.Context, reqType string, accepted bool) {
	if b.notifier != nil {
		b.notifier.Notify(ctx, reqType, accepted)
	}
}

func (b *Broker) publishResolved(id, domain, reqType string, accepted bool) {
	if b.bus == nil {
		return
	}
	acceptedStr := "false"
	if accepted {
		acceptedStr = "true"
	}
	b.bus.PublishNew(eventbus.EventRequestResolved, id, "", map[string]string{
		"domain":   domain,
		"type":     reqType,
		"accepted": acceptedStr,
	})
}

func (b *Broker) errorResponse(id, reqType, message, stack string) Response {
	return Response{
		ID:   id,
		Type: reqType,
		Ext:  ExtName,
		Response: ErrorBody{
			Error: ResponseError{Message: message, Stack: stack},
		},
	}
}
