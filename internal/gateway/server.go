package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/signetd/signet/internal/broker"
	"github.com/signetd/signet/internal/config"
	"github.com/signetd/signet/internal/eventbus"
	"github.com/signetd/signet/internal/profile"
	"github.com/signetd/signet/internal/pushsubscription"
	"github.com/signetd/signet/internal/website"
	"github.com/signetd/signet/pkg/cerr"
)

// Server exposes the broker and its surrounding state over JSON endpoints.
type Server struct {
	broker   *broker.Broker
	sites    website.Repository
	profiles profile.Repository
	subs     pushsubscription.Repository
	bus      *eventbus.Bus
	vapidEnv *config.VAPIDEnv
}

func NewServer(
	b *broker.Broker,
	sites website.Repository,
	profiles profile.Repository,
	subs pushsubscription.Repository,
	bus *eventbus.Bus,
	vapidEnv *config.VAPIDEnv,
) *Server {
	return &Server{
		broker:   b,
		sites:    sites,
		profiles: profiles,
		subs:     subs,
		bus:      bus,
		vapidEnv: vapidEnv,
	}
}

// Routes mounts the JSON endpoints. The event stream is mounted separately
// because it writes directly to the connection.
func (s *Server) Routes(r chi.Router) {
	r.Post("/requests", s.handleRequest)
	r.Post("/results", s.handleResult)

	r.Get("/websites", s.handleListWebsites)
	r.Delete("/websites", s.handleDeleteWebsite)

	r.Get("/profile/relays", s.handleGetRelays)
	r.Put("/profile/relays", s.handlePutRelays)
	r.Get("/profile/notifications", s.handleGetNotifications)
	r.Put("/profile/notifications", s.handlePutNotifications)

	r.Post("/push/subscriptions", s.handleCreateSubscription)
	r.Get("/push/vapid-key", s.handleVAPIDKey)
}

// handleRequest arbitrates a request from a web origin. The call blocks
// while the request waits on a user prompt, so the client sees the final
// answer as the response body.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req broker.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request envelope", err)
		return
	}
	if req.ID == "" || req.URL == "" || req.Type == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "id, url and type are required", nil)
		return
	}
	cerr.SetJSONResponse(ctx, s.broker.HandleRequest(ctx, req))
}

// handleResult accepts a prompt decision and acknowledges it immediately;
// the suspended request is finished in the background.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var res broker.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid result envelope", err)
		return
	}
	if res.RequestID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "requestId is required", nil)
		return
	}
	go s.broker.HandleResult(context.WithoutCancel(ctx), res)
	cerr.SetJSONResponse(ctx, map[string]bool{"message": true})
}

func (s *Server) handleListWebsites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := s.sites.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if sites == nil {
		sites = []*website.WebSite{}
	}
	cerr.SetJSONResponse(ctx, sites)
}

func (s *Server) handleDeleteWebsite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "domain is required", nil)
		return
	}
	if err := s.sites.Delete(ctx, domain); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"message": true})
}

func (s *Server) handleGetRelays(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.profiles.Get(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	relays := p.Relays
	if relays == nil {
		relays = []profile.Relay{}
	}
	cerr.SetJSONResponse(ctx, relays)
}

func (s *Server) handlePutRelays(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var relays []profile.Relay
	if err := json.NewDecoder(r.Body).Decode(&relays); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid relay list", err)
		return
	}
	p, err := s.profiles.Get(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	p.Relays = relays
	if err := s.profiles.Save(ctx, p); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"message": true})
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.profiles.Get(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	settings := p.Notifications
	if settings == nil {
		settings = []profile.NotificationSetting{}
	}
	cerr.SetJSONResponse(ctx, settings)
}

func (s *Server) handlePutNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var settings []profile.NotificationSetting
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid notification settings", err)
		return
	}
	p, err := s.profiles.Get(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	p.Notifications = settings
	if err := s.profiles.Save(ctx, p); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"message": true})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid subscription", err)
		return
	}
	if body.Endpoint == "" || body.Keys.P256dh == "" || body.Keys.Auth == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint and keys are required", nil)
		return
	}
	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  body.Endpoint,
		P256dhKey: body.Keys.P256dh,
		AuthKey:   body.Keys.Auth,
		CreatedAt: time.Now(),
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sub)
}

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv == nil || s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "push notifications are not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"publicKey": s.vapidEnv.VAPIDPublicKey})
}

// EventsHandler streams bus events as server-sent events. It bypasses the
// JSON response middleware because it writes the stream itself.
func (s *Server) EventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		subID, ch := s.bus.Subscribe(64)
		defer s.bus.Unsubscribe(subID)

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
