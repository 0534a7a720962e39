package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/resilience"
)

// Endpoint is a subscriber's webhook registration.
type Endpoint struct {
	ID     uuid.UUID
	URL    string
	Secret string
	Topics []string
	Active bool
}

// Store lists the endpoints subscribed to a topic.
type Store interface {
	ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error)
}

// Deliverer posts signed event payloads to subscriber endpoints. It runs
// inside the asynq worker; a returned error makes asynq retry the whole
// delivery with its own backoff. When Resilient is set, each attempt also
// goes through the shared breaker so one dead subscriber cannot soak the
// worker pool.
type Deliverer struct {
	Store     Store
	Client    *http.Client
	Resilient *resilience.HTTPClient
	Log       zerolog.Logger
}

// DeliverEvent fans the event out to every active endpoint subscribed to its
// topic. Per-endpoint failures are joined so one slow subscriber does not
// hide another's outcome.
func (d *Deliverer) DeliverEvent(ctx context.Context, event events.Event) error {
	if d == nil || d.Store == nil {
		return nil
	}
	ctx, span := otel.Tracer("notify.Deliverer").Start(ctx, "Deliverer.DeliverEvent")
	defer span.End()
	span.SetAttributes(attribute.String("event.topic", event.Topic))

	endpoints, err := d.Store.ListActiveEndpointsForTopic(ctx, event.Topic)
	if err != nil {
		span.RecordError(err)
		return err
	}
	var joined error
	for _, ep := range endpoints {
		status, deliverErr := d.deliver(ctx, ep, event)
		if deliverErr != nil || status < 200 || status >= 300 {
			joined = errors.Join(joined, fmt.Errorf("endpoint %s: status=%d err=%w", ep.ID, status, deliverErr))
			d.Log.Warn().Str("endpoint_id", ep.ID.String()).Int("status", status).
				Err(deliverErr).Str("topic", event.Topic).Msg("webhook delivery failed")
			continue
		}
		d.Log.Debug().Str("endpoint_id", ep.ID.String()).Str("topic", event.Topic).
			Msg("webhook delivered")
	}
	return joined
}

func (d *Deliverer) deliver(ctx context.Context, ep Endpoint, ev events.Event) (int, error) {
	if d.Client == nil {
		d.Client = HTTPClient(5000, false)
	}
	ctx, span := otel.Tracer("notify.Deliverer").Start(ctx, "Deliverer.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint_id", ep.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
	)
	if err := validateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, err
	}
	payload := struct {
		EventID    string          `json:"eventId"`
		Topic      string          `json:"topic"`
		Data       json.RawMessage `json:"data"`
		OccurredAt time.Time       `json:"occurredAt"`
	}{
		EventID:    ev.ID.String(),
		Topic:      ev.Topic,
		Data:       json.RawMessage(ev.Payload),
		OccurredAt: ev.OccurredAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "soko-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID.String())
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, ev.ID.String(), body))
	var resp *http.Response
	if d.Resilient != nil {
		resp, err = d.Resilient.Do(ctx, req)
	} else {
		resp, err = d.Client.Do(req)
	}
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload.
// The format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint
// secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns an HTTP client configured for webhook delivery.
func HTTPClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
