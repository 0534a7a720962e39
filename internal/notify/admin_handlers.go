package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
)

var errInvalidEndpointURL = errors.New("url must be an absolute http or https address")

// AdminStore is the management surface over endpoint registrations. The
// delivery worker only ever reads; this store also writes.
type AdminStore interface {
	Store
	ListEndpoints(ctx context.Context) ([]Endpoint, error)
	InsertEndpoint(ctx context.Context, ep Endpoint) error
	DeactivateEndpoint(ctx context.Context, id uuid.UUID) error
}

// AdminHandler exposes management endpoints for webhook subscriptions.
type AdminHandler struct {
	Store AdminStore
}

type endpointRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Topics []string `json:"topics"`
}

// CreateEndpoint registers a new delivery target.
func (h *AdminHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "webhook store unavailable", nil)
		return
	}
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Secret) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "url and secret are required", nil)
		return
	}
	if err := validateEndpointURL(req.URL); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	topics := normaliseTopics(req.Topics)
	if len(topics) == 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "at least one topic is required", nil)
		return
	}
	ep := Endpoint{
		ID:     uuid.New(),
		URL:    strings.TrimSpace(req.URL),
		Secret: req.Secret,
		Topics: topics,
		Active: true,
	}
	if err := h.Store.InsertEndpoint(r.Context(), ep); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusCreated, endpointJSON(ep))
}

// ListEndpoints returns every registration, active or not.
func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "webhook store unavailable", nil)
		return
	}
	endpoints, err := h.Store.ListEndpoints(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	out := make([]map[string]any, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, endpointJSON(ep))
	}
	common.JSON(w, http.StatusOK, map[string]any{"endpoints": out})
}

// DeactivateEndpoint stops deliveries without losing the registration.
func (h *AdminHandler) DeactivateEndpoint(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "webhook store unavailable", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return
	}
	if err := h.Store.DeactivateEndpoint(r.Context(), id); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// endpointJSON omits the signing secret from responses.
func endpointJSON(ep Endpoint) map[string]any {
	return map[string]any{
		"id":     ep.ID,
		"url":    ep.URL,
		"topics": ep.Topics,
		"active": ep.Active,
	}
}

func validateEndpointURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return errInvalidEndpointURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errInvalidEndpointURL
	}
	return nil
}

func normaliseTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		trimmed := strings.ToLower(strings.TrimSpace(t))
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
