package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

const CorrelationIDHeader = "X-Correlation-ID"

type contextKey int

const (
	correlationIDKey contextKey = iota
	principalKey
)

// Principal is the caller resolved at the transport boundary.
type Principal struct {
	UserID   string
	Username string
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// CorrelationID returns the request correlation id, or "" outside a request.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		w.Header().Set(CorrelationIDHeader, id)

		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		l := log.With().
			Str("correlation_id", CorrelationID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Logger()

		ctx := l.WithContext(r.Context())
		ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r.WithContext(ctx))

		if r.URL.Path == "/healthz" && ww.statusCode < 400 {
			return
		}

		l.Info().
			Int("status", ww.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request.handled")
	})
}

func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Ctx(r.Context()).Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Msg("panic.recovered")

				returnJson(w, r, http.StatusInternalServerError, ErrorResponse{
					Status:  "error",
					Message: service.ErrInternal.Error(),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// authenticate resolves HTTP Basic credentials to a Principal and rejects
// the request with 401 when they are missing or wrong.
func (a *API) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, secret, ok := r.BasicAuth()
		if !ok {
			unauthorized(w, r)
			return
		}

		identity, err := a.service.Authenticate(r.Context(), handle, secret)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				logApiErr(r, err, "auth.rejected")
				unauthorized(w, r)
				return
			}
			logApiErr(r, err, "auth.failed")
			writeError(w, r, err)
			return
		}

		p := Principal{UserID: identity.ID, Username: identity.Username}
		ctx := log.Ctx(r.Context()).With().
			Str("user_id", p.UserID).
			Logger().
			WithContext(r.Context())
		ctx = context.WithValue(ctx, principalKey, p)
		next(w, r.WithContext(ctx))
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Basic realm="tokenslot"`)
	returnJson(w, r, http.StatusUnauthorized, ErrorResponse{
		Status:  "error",
		Message: "unauthorized",
	})
}
