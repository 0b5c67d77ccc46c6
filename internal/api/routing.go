package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.Health()).Methods(http.MethodGet)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics).Methods(http.MethodGet)
	}
	if a.allowRegistration {
		r.HandleFunc("/register", a.Register()).Methods(http.MethodPost)
	}

	// token routes act on the authenticated caller only
	r.HandleFunc("/check-token", a.authenticate(a.CheckToken())).Methods(http.MethodGet)
	r.HandleFunc("/fetch-token", a.authenticate(a.FetchToken())).Methods(http.MethodPost)
	r.HandleFunc("/verify-token", a.authenticate(a.VerifyToken())).Methods(http.MethodPost)

	return RecoverMiddleware(
		CorrelationIDMiddleware(
			LoggingMiddleware(
				r)))
}

func (a *API) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}
}
