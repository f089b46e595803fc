package broker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetd/signet/internal/broker"
	"github.com/signetd/signet/internal/eventbus"
	"github.com/signetd/signet/internal/policy"
	"github.com/signetd/signet/internal/prompt"
	"github.com/signetd/signet/internal/website"
	"github.com/signetd/signet/pkg/cerr"
)

const testOrigin = "https://example.com/page"
const testDomain = "https://example.com"

// memoryRepository keeps records in a map so broker tests don't touch disk.
type memoryRepository struct {
	mu    sync.Mutex
	sites map[string]*website.WebSite
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{sites: make(map[string]*website.WebSite)}
}

func (r *memoryRepository) Get(_ context.Context, domain string) (*website.WebSite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	site, ok := r.sites[domain]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "website not found", nil)
	}
	clone := *site
	clone.History = append([]website.HistoryEntry(nil), site.History...)
	return &clone, nil
}

func (r *memoryRepository) Upsert(_ context.Context, site *website.WebSite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *site
	clone.History = append([]website.HistoryEntry(nil), site.History...)
	r.sites[site.Domain] = &clone
	return nil
}

func (r *memoryRepository) List(_ context.Context) ([]*website.WebSite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sites []*website.WebSite
	for _, site := range r.sites {
		sites = append(sites, site)
	}
	return sites, nil
}

func (r *memoryRepository) Delete(_ context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sites, domain)
	return nil
}

type fakeKeys struct{ has bool }

func (k *fakeKeys) HasKey(context.Context) bool { return k.has }

type fakeSigner struct {
	payload any
	err     error
}

func (s *fakeSigner) Respond(_ context.Context, reqType string, _ []byte) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.payload != nil {
		return s.payload, nil
	}
	return "signed:" + reqType, nil
}

type fakeSurface struct {
	mu     sync.Mutex
	opened chan prompt.Request
	closed []string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{opened: make(chan prompt.Request, 8)}
}

func (s *fakeSurface) Open(_ context.Context, req prompt.Request) (string, error) {
	s.opened <- req
	return "win-" + req.RequestID, nil
}

func (s *fakeSurface) Close(_ context.Context, windowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, windowID)
	return nil
}

func (s *fakeSurface) closedWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

type notifyCall struct {
	reqType  string
	accepted bool
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(_ context.Context, reqType string, accepted bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{reqType: reqType, accepted: accepted})
}

func (n *fakeNotifier) all() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type fixture struct {
	broker   *broker.Broker
	repo     *memoryRepository
	sites    *website.Store
	keys     *fakeKeys
	surface  *fakeSurface
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepository()
	sites := website.NewStore(repo)
	keys := &fakeKeys{has: true}
	surface := newFakeSurface()
	notifier := &fakeNotifier{}
	b := broker.New(sites, keys, &fakeSigner{}, surface, notifier, eventbus.New())
	return &fixture{broker: b, repo: repo, sites: sites, keys: keys, surface: surface, notifier: notifier}
}

func errorMessage(t *testing.T, resp broker.Response) string {
	t.Helper()
	body, ok := resp.Response.(broker.ErrorBody)
	require.True(t, ok, "response payload %T is not an error body", resp.Response)
	return body.Error.Message
}

func request(id, reqType string) broker.Request {
	return broker.Request{ID: id, URL: testOrigin, Type: reqType}
}

func TestHandleRequestNoKey(t *testing.T) {
	f := newFixture(t)
	f.keys.has = false

	resp := f.broker.HandleRequest(context.Background(), request("req-1", "getPublicKey"))

	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, "getPublicKey", resp.Type)
	assert.Equal(t, "signet", resp.Ext)
	assert.Equal(t, "No private key found", errorMessage(t, resp))

	// No prompt, no record.
	assert.Empty(t, f.surface.opened)
	site, err := f.sites.Get(context.Background(), testDomain)
	require.NoError(t, err)
	assert.Nil(t, site)
}

func TestHandleRequestStandingGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sites.Update(ctx, testDomain, func(site *website.WebSite) (bool, error) {
		policy.Apply(site, policy.Choice{Always: true, Accept: true})
		return true, nil
	})
	require.NoError(t, err)

	resp := f.broker.HandleRequest(ctx, request("req-1", "signEvent"))

	assert.Equal(t, "signed:signEvent", resp.Response)
	assert.Empty(t, f.surface.opened, "standing grant must not prompt")

	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	require.Len(t, site.History, 1)
	assert.True(t, site.History[0].Accepted)
	assert.Equal(t, "signEvent", site.History[0].Type)

	require.Len(t, f.notifier.all(), 1)
	assert.True(t, f.notifier.all()[0].accepted)
}

func TestHandleRequestStandingDenial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sites.Update(ctx, testDomain, func(site *website.WebSite) (bool, error) {
		policy.Apply(site, policy.Choice{Always: true, Reject: true})
		return true, nil
	})
	require.NoError(t, err)

	resp := f.broker.HandleRequest(ctx, request("req-1", "signEvent"))

	assert.Equal(t, "User rejected the request", errorMessage(t, resp))
	assert.Empty(t, f.surface.opened, "standing denial must not prompt")

	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	require.Len(t, site.History, 1)
	assert.False(t, site.History[0].Accepted)

	require.Len(t, f.notifier.all(), 1)
	assert.False(t, f.notifier.all()[0].accepted)
}

func TestHandleRequestExpiredDenialFlips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sites.Update(ctx, testDomain, func(site *website.WebSite) (bool, error) {
		policy.Apply(site, policy.Choice{Reject: true, Duration: time.Now().Add(-time.Minute)})
		return true, nil
	})
	require.NoError(t, err)

	resp := f.broker.HandleRequest(ctx, request("req-1", "signEvent"))

	assert.Equal(t, "signed:signEvent", resp.Response, "expired denial must grant")

	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	p := site.Permission
	assert.True(t, p.Accept)
	assert.False(t, p.Reject)
	assert.False(t, p.Always)
	assert.Nil(t, p.ExpiresAt, "flipped permission must be open-ended")
}

func TestHandleRequestPromptGranted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	respCh := make(chan broker.Response, 1)
	go func() {
		respCh <- f.broker.HandleRequest(ctx, request("req-1", "getPublicKey"))
	}()

	var opened prompt.Request
	select {
	case opened = <-f.surface.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never opened")
	}
	assert.Equal(t, "req-1", opened.RequestID)
	assert.Equal(t, "getPublicKey", opened.Type)
	assert.Equal(t, testOrigin, opened.URL)
	assert.Equal(t, 1, f.broker.PendingCount())

	f.broker.HandleResult(ctx, broker.Result{
		RequestID: "req-1",
		Response: &broker.ResultResponse{
			Permission: &policy.Choice{Accept: true, Duration: time.Now().Add(5 * time.Minute)},
		},
	})

	var resp broker.Response
	select {
	case resp = <-respCh:
	case <-time.After(2 * time.Second):
		t.Fatal("request never resolved")
	}
	assert.Equal(t, "signed:getPublicKey", resp.Response)
	assert.Equal(t, 0, f.broker.PendingCount())
	assert.Equal(t, []string{"win-req-1"}, f.surface.closedWindows())

	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	assert.True(t, site.Auth)
	assert.True(t, site.Permission.Accept)
	require.NotNil(t, site.Permission.ExpiresAt)
	require.Len(t, site.History, 1)
	assert.True(t, site.History[0].Accepted)
}

func TestHandleRequestPromptRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	respCh := make(chan broker.Response, 1)
	go func() {
		respCh <- f.broker.HandleRequest(ctx, request("req-1", "signEvent"))
	}()
	<-f.surface.opened

	f.broker.HandleResult(ctx, broker.Result{
		RequestID: "req-1",
		Response: &broker.ResultResponse{
			Permission: &policy.Choice{Reject: true, Duration: time.Now().Add(5 * time.Minute)},
		},
	})

	resp := <-respCh
	assert.Equal(t, "User rejected the request", errorMessage(t, resp))

	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	assert.True(t, site.Auth)
	assert.True(t, site.Permission.Reject)
	require.Len(t, site.History, 1)
	assert.False(t, site.History[0].Accepted)

	// A repeat within the window is denied without a second prompt.
	resp = f.broker.HandleRequest(ctx, request("req-2", "signEvent"))
	assert.Equal(t, "User rejected the request", errorMessage(t, resp))
	assert.Empty(t, f.surface.opened)
}

func TestHandleRequestPromptDismissed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	respCh := make(chan broker.Response, 1)
	go func() {
		respCh <- f.broker.HandleRequest(ctx, request("req-1", "signEvent"))
	}()
	<-f.surface.opened

	f.broker.HandleResult(ctx, broker.Result{
		RequestID: "req-1",
		Response: &broker.ResultResponse{
			Error: &broker.ResponseError{Message: "prompt dismissed", Stack: "prompt dismissed"},
		},
	})

	resp := <-respCh
	assert.Equal(t, "User rejected the request", errorMessage(t, resp))

	// The dismissal is recorded but leaves the permission state undecided.
	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	assert.False(t, site.Auth)
	require.Len(t, site.History, 1)
	assert.False(t, site.History[0].Accepted)
}

func TestHandleRequestDuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	respCh := make(chan broker.Response, 1)
	go func() {
		respCh <- f.broker.HandleRequest(ctx, request("req-1", "signEvent"))
	}()
	<-f.surface.opened

	dup := f.broker.HandleRequest(ctx, request("req-1", "signEvent"))
	assert.Equal(t, "request is already pending", errorMessage(t, dup))
	assert.Equal(t, 1, f.broker.PendingCount(), "duplicate must not disturb the original")

	f.broker.HandleResult(ctx, broker.Result{
		RequestID: "req-1",
		Response: &broker.ResultResponse{
			Permission: &policy.Choice{Accept: true, Duration: time.Now().Add(time.Minute)},
		},
	})
	resp := <-respCh
	assert.Equal(t, "signed:signEvent", resp.Response)
}

func TestHandleResultUnknownRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Must be a no-op: no panic, no records, no notifications.
	f.broker.HandleResult(ctx, broker.Result{
		RequestID: "never-registered",
		Response: &broker.ResultResponse{
			Permission: &policy.Choice{Accept: true, Duration: time.Now().Add(time.Minute)},
		},
	})

	assert.Empty(t, f.notifier.all())
	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	assert.Nil(t, site)
}

func TestHandleResultDeliveredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	respCh := make(chan broker.Response, 1)
	go func() {
		respCh <- f.broker.HandleRequest(ctx, request("req-1", "signEvent"))
	}()
	<-f.surface.opened

	grant := broker.Result{
		RequestID: "req-1",
		Response: &broker.ResultResponse{
			Permission: &policy.Choice{Accept: true, Duration: time.Now().Add(time.Minute)},
		},
	}
	f.broker.HandleResult(ctx, grant)
	// The second result finds nothing to resolve.
	f.broker.HandleResult(ctx, grant)

	resp := <-respCh
	assert.Equal(t, "signed:signEvent", resp.Response)

	site, err := f.sites.Get(ctx, testDomain)
	require.NoError(t, err)
	assert.Len(t, site.History, 1, "duplicate result must not append history")
}

func TestHandleRequestCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	respCh := make(chan broker.Response, 1)
	go func() {
		respCh <- f.broker.HandleRequest(ctx, request("req-1", "signEvent"))
	}()
	<-f.surface.opened

	cancel()

	var resp broker.Response
	select {
	case resp = <-respCh:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never returned")
	}
	assert.Equal(t, "request cancelled", errorMessage(t, resp))
	assert.Equal(t, 0, f.broker.PendingCount())
}

func TestHandleRequestParamsData(t *testing.T) {
	event := json.RawMessage(`{"kind":1,"content":"hi"}`)
	wrapped := broker.Request{Params: json.RawMessage(`{"event":{"kind":1,"content":"hi"}}`)}
	assert.JSONEq(t, string(event), string(wrapped.Data()))

	flat := broker.Request{Params: json.RawMessage(`{"peer":"ab","plaintext":"x"}`)}
	assert.JSONEq(t, `{"peer":"ab","plaintext":"x"}`, string(flat.Data()))

	empty := broker.Request{}
	assert.JSONEq(t, `{}`, string(empty.Data()))
}
