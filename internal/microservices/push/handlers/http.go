package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"what2eat/internal/common/auth"
	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem is the single error shape (RFC 7807, simplified).
func writeProblem(w http.ResponseWriter, code int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged
// and reported as 500 without leaking their text.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		writeProblem(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, domain.ErrInvalidDish):
		writeProblem(w, http.StatusBadRequest, "invalid_dish", err.Error())
	case errors.Is(err, errBadRequest):
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	case errors.Is(err, domain.ErrNotAMember):
		writeProblem(w, http.StatusForbidden, "not_a_member", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrUnknownDish):
		writeProblem(w, http.StatusNotFound, "unknown_dish", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		writeProblem(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	default:
		if log != nil {
			log.FromContext(r.Context()).Error("request_failed", err, map[string]any{"method": r.Method, "path": r.URL.Path})
		}
		writeProblem(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func identity(r *http.Request) (domain.Identity, error) {
	return auth.FromContext(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// cursorParam reads an optional non-negative seq from the query string.
func cursorParam(r *http.Request, key string) (uint64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

func atoiDefault(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}
