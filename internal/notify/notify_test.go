package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mbd888/jobads/internal/ads"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chanSink struct {
	name string
	err  error
	got  chan *Message
}

func (c *chanSink) Name() string { return c.name }

func (c *chanSink) Send(_ context.Context, msg *Message) error {
	c.got <- msg
	return c.err
}

func pendingEvent() ads.Event {
	return ads.Event{
		Type:      ads.EventPendingDeposit,
		AccountID: "acct_1",
		AdID:      "ad_1",
		OrderID:   "ord_1",
		Tier:      catalog.TierUrgent,
		Amount:    55000,
		Method:    ads.MethodBankDeposit,
		At:        time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
	}
}

func TestEmitter_FansOutToEverySink(t *testing.T) {
	failing := &chanSink{name: "failing", err: errors.New("down"), got: make(chan *Message, 1)}
	ok := &chanSink{name: "ok", got: make(chan *Message, 1)}
	e := NewEmitter(testLogger(), failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Notify(context.Background(), pendingEvent())

	for _, s := range []*chanSink{failing, ok} {
		select {
		case msg := <-s.got:
			assert.Equal(t, ads.EventPendingDeposit, msg.Type)
			assert.Equal(t, "ord_1", msg.Data.OrderID)
			assert.True(t, strings.HasPrefix(msg.ID, "evt_"))
		case <-time.After(2 * time.Second):
			t.Fatalf("sink %s never received the event", s.name)
		}
	}
}

func TestEmitter_NotifyNeverBlocks(t *testing.T) {
	s := &chanSink{name: "stuck", got: make(chan *Message)}
	e := NewEmitter(testLogger(), s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*2; i++ {
			e.Notify(context.Background(), pendingEvent())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked with no worker running")
	}
	assert.Len(t, e.queue, defaultQueueSize)
}

func TestEmitter_DrainsOnShutdown(t *testing.T) {
	s := &chanSink{name: "buffered", got: make(chan *Message, 8)}
	e := NewEmitter(testLogger(), s)
	for i := 0; i < 3; i++ {
		e.Notify(context.Background(), pendingEvent())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx)

	<-e.Done()
	assert.Len(t, s.got, 3)
}

func TestEmitter_NilAndEmpty(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() { e.Notify(context.Background(), pendingEvent()) })

	empty := NewEmitter(testLogger())
	empty.Notify(context.Background(), pendingEvent())
	assert.Empty(t, empty.queue)
}

func newTestWebhook(urls ...string) *WebhookSink {
	w := NewWebhookSink(urls, "s3cret")
	w.baseDelay = time.Millisecond
	return w
}

func testMessage() *Message {
	return &Message{ID: "evt_1", Type: ads.EventPendingDeposit, Timestamp: time.Now(), Data: pendingEvent()}
}

func TestWebhookSink_SignsPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		hdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		hdr = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestWebhook(srv.URL).Send(context.Background(), testMessage()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ads.EventPendingDeposit, hdr.Get(HeaderEvent))
	assert.Equal(t, Sign(body, "s3cret"), hdr.Get(HeaderSignature))

	var decoded Message
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, int64(55000), decoded.Data.Amount)
}

func TestWebhookSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestWebhook(srv.URL).Send(context.Background(), testMessage()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSink_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestWebhook(srv.URL).Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookSink_BreakerOpensPerEndpoint(t *testing.T) {
	var bad, good atomic.Int32
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bad.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		good.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer goodSrv.Close()

	w := newTestWebhook(badSrv.URL, goodSrv.URL)
	w.attempts = 1
	for i := 0; i < 5; i++ {
		assert.Error(t, w.Send(context.Background(), testMessage()))
	}
	assert.Equal(t, int32(5), bad.Load())

	err := w.Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(5), bad.Load(), "open circuit skips the endpoint")
	assert.Equal(t, int32(6), good.Load())
}

func TestEndpointBreaker_TrialAfterCooldown(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	b := newEndpointBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	const url = "https://ops.example.com/hook"

	b.failed(url)
	assert.True(t, b.allow(url))
	b.failed(url)
	assert.Equal(t, circuitOpen, b.state(url))
	assert.False(t, b.allow(url))

	now = now.Add(time.Minute)
	assert.True(t, b.allow(url), "one trial request after cooldown")
	assert.False(t, b.allow(url), "only one trial request at a time")

	b.failed(url)
	assert.Equal(t, circuitOpen, b.state(url), "failed trial reopens")

	now = now.Add(time.Minute)
	require.True(t, b.allow(url))
	b.succeeded(url)
	assert.Equal(t, circuitClosed, b.state(url))
	assert.True(t, b.allow(url))
}

func TestSubscription_Matches(t *testing.T) {
	msg := testMessage()

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"zero value", Subscription{}, true},
		{"event type", Subscription{EventTypes: []string{ads.EventPendingDeposit}}, true},
		{"other event type", Subscription{EventTypes: []string{ads.EventAdExpired}}, false},
		{"account", Subscription{AccountIDs: []string{"acct_1"}}, true},
		{"other account", Subscription{AccountIDs: []string{"acct_2"}}, false},
		{"tier", Subscription{Tiers: []catalog.TierID{catalog.TierUrgent, catalog.TierLine}}, true},
		{"other tier", Subscription{Tiers: []catalog.TierID{catalog.TierNational}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.matches(msg))
		})
	}
}

func TestHub_BroadcastsToFeedClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := gin.New()
	hub.RegisterAdminRoutes(r.Group("/admin"))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/admin/feed", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), testMessage()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "evt_1", got.ID)
	assert.Equal(t, "ad_1", got.Data.AdID)
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	r := gin.New()
	hub.RegisterAdminRoutes(r.Group("/admin"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/feed", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
