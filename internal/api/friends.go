package api

import (
	"errors"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

type friendResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type friendRequestResponse struct {
	ID     int64  `json:"id"`
	Sender string `json:"sender"`
}

type addFriendRequest struct {
	Username string `json:"username"`
}

type acceptFriendRequest struct {
	RequestID int64 `json:"request_id"`
}

// GET /api/me
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	httpserver.WriteJSON(w, http.StatusOK, id)
}

// GET /api/friends
func (a *API) friends(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	accepted, err := a.cfg.Store.ListAccepted(r.Context(), me.ID)
	if err != nil {
		a.log.Error("list friends", "user_id", me.ID, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]friendResponse, 0, len(accepted))
	for _, f := range accepted {
		out = append(out, friendResponse{
			ID:       f.ID,
			Username: f.Username,
			Online:   a.cfg.Presence.Online(f.Username),
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

// GET /api/friend-requests
func (a *API) friendRequests(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	pending, err := a.cfg.Store.ListPending(r.Context(), me.ID)
	if err != nil {
		a.log.Error("list friend requests", "user_id", me.ID, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]friendRequestResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, friendRequestResponse{ID: p.ID, Sender: p.Requester.Username})
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

// POST /api/add-friend
func (a *API) addFriend(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	var req addFriendRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := a.cfg.Store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, model.ErrNotFound) {
		httpserver.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		a.log.Error("resolve friend", "username", req.Username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if target.ID == me.ID {
		httpserver.WriteError(w, http.StatusBadRequest, "you cannot add yourself")
		return
	}

	_, err = a.cfg.Store.CreatePending(r.Context(), me.ID, target.ID)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrFriendshipExists):
		httpserver.WriteError(w, http.StatusBadRequest, "already friends or request already sent")
		return
	case errors.Is(err, model.ErrSelfFriendship):
		httpserver.WriteError(w, http.StatusBadRequest, "you cannot add yourself")
		return
	default:
		a.log.Error("create friend request", "user_id", me.ID, "target_id", target.ID, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Offline targets find the request through /api/friend-requests.
	a.cfg.Notifier.NotifyFriendRequest(target.Username, me.Username)
	httpserver.WriteJSON(w, http.StatusOK, okResponse)
}

// POST /api/accept-friend
func (a *API) acceptFriend(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	var req acceptFriendRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.cfg.Store.Accept(r.Context(), req.RequestID, me.ID)
	switch {
	case err == nil:
		httpserver.WriteJSON(w, http.StatusOK, okResponse)
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrNotRequestTarget):
		httpserver.WriteError(w, http.StatusBadRequest, "no such friend request")
	default:
		a.log.Error("accept friend request", "user_id", me.ID, "request_id", req.RequestID, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
