// Package admin implements the minimal operator introspection surface
// spec §6 acknowledges without specifying: reading/writing system
// flags and listing in-flight webhook events. Every route here sits
// behind the single-operator-token AdminAuth middleware, not the per-tenant
// auth the teacher used for its own API.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/sysflags"
)

// Store is the subset of persistence.Store this package depends on.
type Store interface {
	PendingSyncs(ctx context.Context, limit int) ([]domain.WebhookEvent, error)
}

// Handler serves the admin routes.
type Handler struct {
	store  Store
	flags  *sysflags.Flags
	logger zerolog.Logger
}

// NewHandler constructs the admin handler set.
func NewHandler(store Store, flags *sysflags.Flags, logger zerolog.Logger) *Handler {
	return &Handler{store: store, flags: flags, logger: logger.With().Str("component", "admin").Logger()}
}

// ListFlags handles GET /admin/flags.
func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.flags.All(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not list flags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flags": flags})
}

type setFlagRequest struct {
	Value string `json:"value"`
}

// SetFlag handles POST /admin/flags/{key}.
func (h *Handler) SetFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "flag key is required")
		return
	}

	var req setFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "could not parse request body: "+err.Error())
		return
	}

	if err := h.flags.Set(r.Context(), key, req.Value); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("set flag failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not set flag")
		return
	}
	h.logger.Info().Str("key", key).Str("value", req.Value).Msg("flag changed by operator")
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": req.Value})
}

// PendingSyncs handles GET /admin/pending-syncs.
func (h *Handler) PendingSyncs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.store.PendingSyncs(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list pending syncs failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not list pending syncs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}
