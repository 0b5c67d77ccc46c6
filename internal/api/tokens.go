package api

import (
	"errors"
	"net/http"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

const (
	statusValid            = "valid"
	statusExpiredOrMissing = "expired_or_not_found"
	statusSuccess          = "success"
	statusInvalid          = "invalid"
)

type CheckTokenResponse struct {
	Status    string `json:"status"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type FetchTokenResponse struct {
	Status    string `json:"status"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

type VerifyTokenRequest struct {
	Token string `json:"token"`
}

type VerifyTokenResponse struct {
	Status    string `json:"status"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// CheckToken always answers 200; the state is in the body.
func (a *API) CheckToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		status, err := a.service.CheckStatus(r.Context(), p.UserID)
		if err != nil {
			logApiErr(r, err, "token.check_failed")
			writeError(w, r, err)
			return
		}

		if !status.Valid() {
			returnJson(w, r, http.StatusOK, CheckTokenResponse{Status: statusExpiredOrMissing})
			return
		}
		returnJson(w, r, http.StatusOK, CheckTokenResponse{
			Status:    statusValid,
			ExpiresAt: formatTime(status.ExpiresAt),
		})
	}
}

func (a *API) FetchToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		issued, err := a.service.IssueToken(r.Context(), p.UserID, p.Username)
		if err != nil {
			if !errors.Is(err, service.ErrTokenStillValid) {
				logApiErr(r, err, "token.fetch_failed")
			}
			writeError(w, r, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		returnJson(w, r, http.StatusOK, FetchTokenResponse{
			Status:    statusSuccess,
			Token:     issued.Token,
			ExpiresAt: formatTime(issued.ExpiresAt),
		})
	}
}

func (a *API) VerifyToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		var req VerifyTokenRequest
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}

		status, err := a.service.Verify(r.Context(), p.UserID, req.Token)
		if err != nil {
			if errors.Is(err, service.ErrTokenInvalid) {
				returnJson(w, r, http.StatusUnauthorized, VerifyTokenResponse{Status: statusInvalid})
				return
			}
			logApiErr(r, err, "token.verify_failed")
			writeError(w, r, err)
			return
		}

		returnJson(w, r, http.StatusOK, VerifyTokenResponse{
			Status:    statusValid,
			ExpiresAt: formatTime(status.ExpiresAt),
		})
	}
}
