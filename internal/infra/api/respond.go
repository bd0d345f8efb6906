package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"premium-reconciler/internal/domain"
)

// RetryAfterSeconds is advertised with every 503 so the gateway backs off.
const RetryAfterSeconds = 5

type errorBody struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, code int, msg string) {
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	WriteJSON(w, code, errorBody{Error: msg})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err with its mapped status. Internal errors are not echoed.
func WriteDomainError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	switch code {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusServiceUnavailable:
		msg = "temporarily unavailable, retry later"
	}
	WriteError(w, code, msg)
}
