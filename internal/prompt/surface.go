package prompt

import (
	"context"
	"net/url"

	"github.com/oklog/ulid/v2"

	"github.com/signetd/signet/internal/eventbus"
)

// Request carries everything a prompt page needs to render a permission
// question and post its answer back.
type Request struct {
	Action    string
	URL       string
	RequestID string
	Type      string
	Data      []byte
}

// PopupURL encodes the request as the relative URL of the prompt page.
func PopupURL(req Request) string {
	v := url.Values{}
	v.Set("action", req.Action)
	v.Set("url", req.URL)
	v.Set("requestId", req.RequestID)
	v.Set("type", req.Type)
	v.Set("data", string(req.Data))
	return "popup.html?" + v.Encode()
}

// Surface opens and closes permission prompts. Open returns a window id
// used to tear the prompt down once the request is resolved.
type Surface interface {
	Open(ctx context.Context, req Request) (string, error)
	Close(ctx context.Context, windowID string) error
}

// BusSurface announces prompts on the event bus. Whatever UI is attached to
// the event stream (a browser extension page, a desktop agent) opens the
// encoded popup URL and posts the decision back over the results endpoint.
type BusSurface struct {
	bus *eventbus.Bus
}

func NewBusSurface(bus *eventbus.Bus) *BusSurface {
	return &BusSurface{bus: bus}
}

func (s *BusSurface) Open(_ context.Context, req Request) (string, error) {
	windowID := ulid.Make().String()
	s.bus.PublishNew(eventbus.EventPromptOpened, windowID, PopupURL(req), map[string]string{
		"request_id": req.RequestID,
		"type":       req.Type,
		"url":        req.URL,
	})
	return windowID, nil
}

func (s *BusSurface) Close(_ context.Context, windowID string) error {
	s.bus.PublishNew(eventbus.EventPromptClosed, windowID, "", nil)
	return nil
}
