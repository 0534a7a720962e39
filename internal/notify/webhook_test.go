package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/events"
)

type endpointList []Endpoint

func (l endpointList) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error) {
	var out []Endpoint
	for _, ep := range l {
		for _, t := range ep.Topics {
			if t == topic {
				out = append(out, ep)
			}
		}
	}
	return out, nil
}

func testEvent(topic string) events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: uuid.New(),
		Payload:     []byte(`{"order_number":"ABC-000001-TEST"}`),
		OccurredAt:  time.Now(),
	}
}

func TestDeliverEventSignsPayload(t *testing.T) {
	secret := "whsec_test"
	var gotSig, gotTS, gotEventID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotTS = r.Header.Get("X-Timestamp")
		gotEventID = r.Header.Get("X-Event-ID")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	// httptest server is plain http on 127.0.0.1, which the URL policy allows.

	d := &Deliverer{
		Store: endpointList{{
			ID: uuid.New(), URL: srv.URL, Secret: secret,
			Topics: []string{events.TopicOrderConfirmed}, Active: true,
		}},
		Log: zerolog.Nop(),
	}
	ev := testEvent(events.TopicOrderConfirmed)
	if err := d.DeliverEvent(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	if err != nil {
		t.Fatalf("bad timestamp header %q", gotTS)
	}
	if gotEventID != ev.ID.String() {
		t.Fatalf("event id header %q, want %q", gotEventID, ev.ID)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write([]byte(gotEventID))
	mac.Write([]byte("."))
	mac.Write(gotBody)
	if expected := hex.EncodeToString(mac.Sum(nil)); gotSig != expected {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, expected)
	}
}

func TestDeliverEventReturnsErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := &Deliverer{
		Store: endpointList{{
			ID: uuid.New(), URL: srv.URL, Secret: "s",
			Topics: []string{events.TopicOrderConfirmed}, Active: true,
		}},
		Log: zerolog.Nop(),
	}
	if err := d.DeliverEvent(context.Background(), testEvent(events.TopicOrderConfirmed)); err == nil {
		t.Fatal("5xx delivery must surface an error so the task is retried")
	}
}

func TestDeliverEventSkipsUnsubscribedTopics(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := &Deliverer{
		Store: endpointList{{
			ID: uuid.New(), URL: srv.URL, Secret: "s",
			Topics: []string{events.TopicOrderCanceled}, Active: true,
		}},
		Log: zerolog.Nop(),
	}
	if err := d.DeliverEvent(context.Background(), testEvent(events.TopicOrderConfirmed)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if called {
		t.Fatal("endpoint subscribed to a different topic must not be called")
	}
}

func TestValidateURLPolicy(t *testing.T) {
	if err := validateURL("https://example.com/hooks"); err != nil {
		t.Fatalf("https must be allowed: %v", err)
	}
	if err := validateURL("http://localhost:9999/hooks"); err != nil {
		t.Fatalf("localhost http must be allowed: %v", err)
	}
	if err := validateURL("http://example.com/hooks"); err == nil {
		t.Fatal("remote http must be rejected")
	}
	if err := validateURL("ftp://example.com"); err == nil {
		t.Fatal("non-http schemes must be rejected")
	}
}
