package pushnotification

import (
	"context"
	"log/slog"
	"strings"

	"github.com/signetd/signet/internal/profile"
)

// Notifier announces request decisions via Web Push, filtered by the
// user's notification settings: a decision is pushed when an enabled
// setting's name appears in the request type.
type Notifier struct {
	profiles profile.Repository
	sender   *Sender
}

func NewNotifier(profiles profile.Repository, sender *Sender) *Notifier {
	return &Notifier{profiles: profiles, sender: sender}
}

func (n *Notifier) Notify(ctx context.Context, reqType string, accepted bool) {
	p, err := n.profiles.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "push notifier: failed to load profile", "error", err)
		return
	}

	for _, setting := range p.Notifications {
		if !setting.State || !strings.Contains(reqType, setting.Name) {
			continue
		}
		body := "Request rejected"
		if accepted {
			body = "Request accepted"
		}
		n.sender.SendToAll(ctx, &NotificationPayload{
			Title: reqType,
			Body:  body,
			Tag:   reqType,
		})
		return
	}
}
