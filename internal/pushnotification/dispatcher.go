package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signetd/signet/internal/eventbus"
)

// Dispatcher pushes a notification whenever a permission prompt opens, so
// the user learns a request is waiting even with no UI in the foreground.
type Dispatcher struct {
	eventBus *eventbus.Bus
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		sender:   sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Type == eventbus.EventPromptOpened {
				d.handlePromptOpened(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) handlePromptOpened(ctx context.Context, event eventbus.Event) {
	origin := event.Metadata["url"]
	reqType := event.Metadata["type"]

	d.sender.SendToAll(ctx, &NotificationPayload{
		Title: "Permission Request",
		Body:  fmt.Sprintf("%s requests %s", origin, reqType),
		URL:   event.Payload,
		Tag:   event.ResourceID,
	})
}
