package circle

import (
	"encoding/json"
	"net/http"

	"github.com/circlechat/circle/core"
	"github.com/go-chi/chi/v5"
)

type ChatHandler struct {
	chat *core.ChatService
}

func NewChatHandler(chat *core.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type HistoryResponse struct {
	RoomKey  string             `json:"room_id"`
	Messages []core.MessageView `json:"messages"`
}

func (h *ChatHandler) GetDirectMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	otherUserID := chi.URLParam(r, "userID")

	roomKey, messages, err := h.chat.DirectHistory(r.Context(), session.UserID, otherUserID)
	if err != nil {
		return err
	}

	return json.NewEncoder(w).Encode(HistoryResponse{RoomKey: roomKey, Messages: messages})
}

func (h *ChatHandler) GetGroupMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	groupID := chi.URLParam(r, "groupID")

	roomKey, messages, err := h.chat.GroupHistory(r.Context(), session.UserID, groupID)
	if err != nil {
		return err
	}

	return json.NewEncoder(w).Encode(HistoryResponse{RoomKey: roomKey, Messages: messages})
}
