package api

import (
	"net/http"
)

type RegistrationRequest struct {
	Handle   string `json:"username"`
	Password string `json:"password"`
}

type RegistrationResponse struct {
	Status string `json:"status"`
}

func (a *API) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegistrationRequest
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}

		if _, err := a.service.RegisterAccount(r.Context(), req.Handle, req.Password); err != nil {
			logApiErr(r, err, "account.register_failed")
			writeError(w, r, err)
			return
		}

		returnJson(w, r, http.StatusCreated, RegistrationResponse{Status: "created"})
	}
}
