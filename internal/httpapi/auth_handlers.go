package httpapi

import (
	"errors"
	"net/http"
	"time"

	"shopfront.io/internal/auth"
)

const refreshHeader = "X-Auth-Refresh"

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newUserView(u auth.User) userView {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, Permissions: perms, CreatedAt: u.CreatedAt}
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        *userView `json:"user,omitempty"`
}

func requestOrigin(r *http.Request) auth.Origin {
	return auth.Origin{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password, requestOrigin(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.cookies.setSession(w, res.AccessToken, res.RefreshToken)
	view := newUserView(res.User)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
		User:        &view,
	})
}

// handleRefresh rotates the refresh cookie. The custom header is checked
// before any token parsing so cross-site form posts cannot trigger rotation.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(refreshHeader) != "1" {
		writeError(w, r, http.StatusForbidden, "missing "+refreshHeader+" header")
		return
	}
	raw := a.cookies.refreshToken(r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "missing refresh token")
		return
	}
	res, err := a.auth.Refresh(r.Context(), raw, requestOrigin(r))
	if err != nil {
		// infrastructure failures leave the stored session usable
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrReplayDetected) {
			a.cookies.clear(w)
		}
		a.writeServiceError(w, r, err)
		return
	}
	a.cookies.setSession(w, res.AccessToken, res.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := a.cookies.refreshToken(r); raw != "" {
		a.auth.Logout(r.Context(), raw)
	}
	a.cookies.clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	profile, err := a.auth.Me(r.Context(), id.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        newUserView(profile.User),
		"permissions": profile.Permissions,
	})
}
