package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"uniadmit/internal/http/response"
	"uniadmit/internal/notify"
)

const (
	internalAuthHeader    = "Authorization"
	internalAuthAltHeader = "X-Internal-Key"
)

func requireInternalAuth(w http.ResponseWriter, r *http.Request, internalKey string) bool {
	key := strings.TrimSpace(internalKey)
	if key == "" {
		response.Error(w, errUnauthorized())
		return false
	}
	altValue := strings.TrimSpace(r.Header.Get(internalAuthAltHeader))
	value := strings.TrimSpace(r.Header.Get(internalAuthHeader))
	if constantEqual(altValue, key) || constantEqual(value, "Bearer "+key) {
		return true
	}
	response.Error(w, errUnauthorized())
	return false
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DeadLetterSource lists notifications that exhausted their delivery attempts.
type DeadLetterSource func(ctx context.Context, limit int) ([]notify.DeadLetter, error)

// DeadLetterHandler serves the dead-letter list to internal callers holding the
// shared key.
type DeadLetterHandler struct {
	source      DeadLetterSource
	internalKey string
}

func NewDeadLetterHandler(source DeadLetterSource, internalKey string) *DeadLetterHandler {
	return &DeadLetterHandler{source: source, internalKey: internalKey}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	if !requireInternalAuth(w, r, h.internalKey) {
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		response.Error(w, err)
		return
	}
	items, err := h.source(r.Context(), limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}
