package api

import (
	"errors"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// POST /register
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := a.cfg.Accounts.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrUsernameTaken):
		httpserver.WriteError(w, http.StatusBadRequest, "username already taken")
		return
	case errors.Is(err, model.ErrInvalidUsername):
		httpserver.WriteError(w, http.StatusBadRequest, "username must be 1-32 letters, digits, '_', '.' or '-'")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		httpserver.WriteError(w, http.StatusBadRequest, "password is required")
		return
	case errors.Is(err, auth.ErrPasswordTooLong):
		httpserver.WriteError(w, http.StatusBadRequest, "password is too long")
		return
	default:
		a.log.Error("register failed", "username", req.Username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.log.Info("account registered", "username", id.Username, "user_id", id.ID)
	httpserver.WriteJSON(w, http.StatusOK, okResponse)
}

// POST /login
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := a.cfg.Accounts.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httpserver.WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		a.log.Error("login failed", "username", req.Username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, _, err := a.cfg.Tokens.Issue(id)
	if err != nil {
		a.log.Error("issue session token", "username", id.Username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.setSessionCookie(w, token)
	httpserver.WriteJSON(w, http.StatusOK, loginResponse{Success: true, Token: token})
}

// GET|POST /logout. Tokens are stateless; logout only drops the cookie.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	httpserver.WriteJSON(w, http.StatusOK, okResponse)
}
