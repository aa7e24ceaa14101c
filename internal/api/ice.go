package api

import (
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/turnrest"
)

// GET /webrtc/ice. With TURN REST enabled every TURN entry carries fresh
// credentials scoped to the caller.
func (a *API) iceServers(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.ICEError; err != nil {
		httpserver.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := a.cfg.ICEServers
	if a.cfg.TURN != nil {
		me, _ := IdentityFromContext(r.Context())
		creds, err := a.cfg.TURN.ForUser(me.ID)
		if err != nil {
			a.log.Error("issue turn credentials", "user_id", me.ID, "err", err)
			httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		servers = turnrest.Apply(servers, creds)
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	w.Header().Set("Cache-Control", "no-store")
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}
