package transport

import (
	"context"
	"net/http"

	"github.com/pitabwire/surety/internal/session"
	"github.com/pitabwire/surety/model"
)

// LoginService signs users in against the insurance API.
type LoginService interface {
	Login(ctx context.Context, email, password string) (session.LoginResult, error)
	Logout(ctx context.Context, subjectID string) error
}

// handleLogin handles POST /ui/auth/login.
func handleLogin(svc LoginService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		result, err := svc.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			respondError(w, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, result)
	}
}

// handleLogout handles POST /ui/auth/logout.
func handleLogout(svc LoginService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		if err := svc.Logout(r.Context(), rctx.SubjectID); err != nil {
			respondError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
