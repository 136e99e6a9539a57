package playback

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/richtext-sync/internal/types"
)

// HTTPHandler exposes playback via a RESTful endpoint.
type HTTPHandler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHTTPHandler builds the handler for GET /documents/{id}/state.
func NewHTTPHandler(svc *Service, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// ServeHTTP implements http.Handler. Query parameters: at_op/at_time select
// the primary cursor; prev_op/prev_time additionally request a second
// hydration for a two-snapshot diff render (§4.8).
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "documents" || parts[2] != "state" {
		http.NotFound(w, r)
		return
	}
	docID := parts[1]

	q := r.URL.Query()
	atTime, err := parseOptionalTime(q.Get("at_time"))
	if err != nil {
		http.Error(w, "invalid at_time", http.StatusBadRequest)
		return
	}
	prevAtTime, err := parseOptionalTime(q.Get("prev_time"))
	if err != nil {
		http.Error(w, "invalid prev_time", http.StatusBadRequest)
		return
	}

	req := Request{
		Document:        types.DocumentID(docID),
		OperationID:      types.OperationID(q.Get("at_op")),
		AtTime:           atTime,
		PrevOperationID: types.OperationID(q.Get("prev_op")),
		PrevAtTime:       prevAtTime,
	}

	resp, err := h.svc.Playback(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("document", docID).Msg("playback failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "encode response failed", http.StatusInternalServerError)
	}
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
