package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gavelhq/gavel/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// identity returns the caller's user ID from the X-User-ID header. Identity
// verification happens upstream; the engine treats the ID as opaque.
func identity(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// statusForError maps domain sentinel errors onto HTTP status codes.
// Validation failures are 400, authorization 403, missing records 404, and
// state or conflict rejections 409.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrBidTooHigh):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrCeilingTooLow),
		errors.Is(err, domain.ErrStalePrice),
		errors.Is(err, domain.ErrAuctionNotActive),
		errors.Is(err, domain.ErrSelfOutbid),
		errors.Is(err, domain.ErrHasBids),
		errors.Is(err, domain.ErrBadTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
