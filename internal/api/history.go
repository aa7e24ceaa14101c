package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
)

type messageResponse struct {
	ID        int64  `json:"id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// GET /api/messages/{friendID}
func (a *API) messages(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	friendID, err := strconv.ParseInt(chi.URLParam(r, "friendID"), 10, 64)
	if err != nil {
		httpserver.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	conv, err := a.cfg.Store.Conversation(r.Context(), me.ID, friendID)
	if err != nil {
		a.log.Error("load conversation", "user_id", me.ID, "friend_id", friendID, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]messageResponse, 0, len(conv))
	for _, m := range conv {
		out = append(out, messageResponse{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			Timestamp: m.Clock(),
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}
