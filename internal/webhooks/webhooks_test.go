package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type delivery struct {
	body      []byte
	event     string
	signature string
	timestamp string
}

func receiver(t *testing.T, status int, deliveries chan<- delivery) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		deliveries <- delivery{
			body:      body,
			event:     r.Header.Get("X-Onboardly-Event"),
			signature: r.Header.Get("X-Onboardly-Signature"),
			timestamp: r.Header.Get("X-Onboardly-Timestamp"),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatch_SignedDelivery(t *testing.T) {
	deliveries := make(chan delivery, 1)
	srv := receiver(t, http.StatusOK, deliveries)

	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Subscription{
		ID:     "whk_1",
		URL:    srv.URL,
		Secret: "topsecret",
		Events: []EventType{EventTenantActivated},
		Active: true,
	})

	d := NewDispatcher(store)
	event := &Event{
		ID:        "evt_1",
		Type:      EventTenantActivated,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"tenantId": "ten_1"},
	}
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-deliveries:
		if got.event != string(EventTenantActivated) {
			t.Errorf("event header = %q", got.event)
		}
		if got.timestamp == "" {
			t.Error("timestamp header missing")
		}
		mac := hmac.New(sha256.New, []byte("topsecret"))
		mac.Write(got.body)
		if want := hex.EncodeToString(mac.Sum(nil)); got.signature != want {
			t.Errorf("signature = %q, want %q", got.signature, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery received")
	}

	waitFor(t, func() bool {
		sub, _ := store.Get(context.Background(), "whk_1")
		return sub.LastSuccess != nil
	})
}

func TestDispatch_SkipsInactiveAndUnsubscribed(t *testing.T) {
	deliveries := make(chan delivery, 2)
	srv := receiver(t, http.StatusOK, deliveries)

	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Subscription{
		ID: "whk_inactive", URL: srv.URL,
		Events: []EventType{EventTenantActivated}, Active: false,
	})
	_ = store.Create(context.Background(), &Subscription{
		ID: "whk_other", URL: srv.URL,
		Events: []EventType{EventPaymentFailed}, Active: true,
	})

	d := NewDispatcher(store)
	if err := d.Dispatch(context.Background(), &Event{Type: EventTenantActivated, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-deliveries:
		t.Fatalf("unexpected delivery: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

// statusSeq serves the given status codes in order, then repeats the last
// one, counting requests.
type statusSeq struct {
	mu       sync.Mutex
	statuses []int
	requests int
}

func (s *statusSeq) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	i := s.requests
	s.requests++
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	status := s.statuses[i]
	s.mu.Unlock()
	w.WriteHeader(status)
}

func (s *statusSeq) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// testDispatcher shortens the redelivery backoff so tests run fast.
func testDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.backoff = 5 * time.Millisecond
	return d
}

func TestDispatch_ServerErrorRetriedThenRecorded(t *testing.T) {
	seq := &statusSeq{statuses: []int{http.StatusInternalServerError}}
	srv := httptest.NewServer(seq)
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Subscription{
		ID: "whk_1", URL: srv.URL,
		Events: []EventType{EventPaymentFailed}, Active: true,
	})

	d := testDispatcher(store)
	if err := d.Dispatch(context.Background(), &Event{Type: EventPaymentFailed, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		sub, _ := store.Get(context.Background(), "whk_1")
		return sub.LastError == "status 500"
	})
	if got := seq.count(); got != 3 {
		t.Errorf("delivery attempts = %d, want 3", got)
	}
}

func TestDispatch_RecoversAfterTransientServerError(t *testing.T) {
	seq := &statusSeq{statuses: []int{http.StatusServiceUnavailable, http.StatusOK}}
	srv := httptest.NewServer(seq)
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Subscription{
		ID: "whk_1", URL: srv.URL,
		Events: []EventType{EventPaymentFailed}, Active: true,
	})

	d := testDispatcher(store)
	if err := d.Dispatch(context.Background(), &Event{Type: EventPaymentFailed, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		sub, _ := store.Get(context.Background(), "whk_1")
		return sub.LastSuccess != nil && sub.LastError == ""
	})
	if got := seq.count(); got != 2 {
		t.Errorf("delivery attempts = %d, want 2", got)
	}
}

func TestDispatch_ClientErrorNotRetried(t *testing.T) {
	seq := &statusSeq{statuses: []int{http.StatusGone}}
	srv := httptest.NewServer(seq)
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Subscription{
		ID: "whk_1", URL: srv.URL,
		Events: []EventType{EventPaymentFailed}, Active: true,
	})

	d := testDispatcher(store)
	if err := d.Dispatch(context.Background(), &Event{Type: EventPaymentFailed, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		sub, _ := store.Get(context.Background(), "whk_1")
		return sub.LastError == "status 410"
	})
	if got := seq.count(); got != 1 {
		t.Errorf("delivery attempts = %d, want 1", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Create(ctx, &Subscription{ID: "whk_1", Events: []EventType{EventTenantActivated, EventPaymentFailed}})
	_ = store.Create(ctx, &Subscription{ID: "whk_2", Events: []EventType{EventOnboardingStarted}})

	subs, err := store.GetByEvent(ctx, EventPaymentFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID != "whk_1" {
		t.Fatalf("subs = %v", subs)
	}

	if _, err := store.Get(ctx, "whk_missing"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}

	_ = store.Delete(ctx, "whk_1")
	subs, _ = store.GetByEvent(ctx, EventPaymentFailed)
	if len(subs) != 0 {
		t.Errorf("deleted subscription still matched")
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	// Must not panic.
	e.EmitOnboardingStarted("onb_1", "Acme")
	e.EmitPaymentFailed("ten_1", "pi_1", "declined", true)
}
