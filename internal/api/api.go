// Package api exposes the token lifecycle over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

type API struct {
	service           *service.Service
	metrics           http.Handler
	allowRegistration bool
}

type Option func(*API)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// WithRegistration enables POST /register.
func WithRegistration(enabled bool) Option {
	return func(a *API) { a.allowRegistration = enabled }
}

func New(
	svc *service.Service,
	opts ...Option,
) *API {
	a := &API{service: svc}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ErrorResponse is the body of every failed token request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func decodeRequest[T any](
	req *T,
	w http.ResponseWriter,
	r *http.Request,
) bool {
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		logApiErr(r, err, "bad json request")
		returnJson(w, r, http.StatusBadRequest, ErrorResponse{
			Status:  "error",
			Message: "bad request",
		})
		return false
	}
	return true
}

func returnJson(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	data any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("response.encode_failed")
	}
}

func logApiErr(
	r *http.Request,
	err error,
	msg string,
) {
	log.Ctx(r.Context()).Warn().Err(err).Msg(msg)
}

// writeError maps service errors onto status codes. Messages come from the
// sentinel errors only, never from wrapped detail.
func writeError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
) {
	status := http.StatusInternalServerError
	message := service.ErrInternal.Error()

	switch {
	case errors.Is(err, service.ErrTokenStillValid):
		status, message = http.StatusForbidden, service.ErrTokenStillValid.Error()
	case errors.Is(err, service.ErrSourceUnavailable):
		message = service.ErrSourceUnavailable.Error()
	case errors.Is(err, service.ErrHandleExists):
		status, message = http.StatusConflict, service.ErrHandleExists.Error()
	case errors.Is(err, service.ErrInvalidHandle):
		status, message = http.StatusBadRequest, service.ErrInvalidHandle.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		status, message = http.StatusBadRequest, service.ErrInvalidCredentials.Error()
	}

	returnJson(w, r, status, ErrorResponse{
		Status:  "error",
		Message: message,
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
