package livechat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopdesk/livechat/core"
	"github.com/shopdesk/livechat/pkg/router"
)

type ChatHandler struct {
	chatStore core.ChatStore
}

func NewChatHandler(chatStore core.ChatStore) *ChatHandler {
	return &ChatHandler{chatStore: chatStore}
}

type CreateRoomPayload struct {
	CustomerID string `json:"customer_id"`
	AgentID    string `json:"agent_id"`
}

type CreateRoomResponse struct {
	ID string `json:"id"`
}

func (h *ChatHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)

	var payload CreateRoomPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	// customers open conversations for themselves; agents and admins open
	// them on behalf of a customer
	switch identity.Role {
	case core.RoleCustomer:
		payload.CustomerID = identity.UserID
	case core.RoleAgent:
		if payload.AgentID == "" {
			payload.AgentID = identity.UserID
		}
	}

	if payload.CustomerID == "" {
		return router.NewJsonError(http.StatusBadRequest, core.ErrInvalidRoom.Error())
	}

	id, err := h.chatStore.CreateRoom(r.Context(), payload.CustomerID, payload.AgentID)
	if err != nil {
		if err == core.ErrInvalidRoom {
			return router.NewJsonError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateRoomResponse{ID: id})
	return nil
}

type RoomsResponse struct {
	Rooms []core.Room `json:"rooms"`
}

func (h *ChatHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rooms, err := h.chatStore.GetRoomsByUser(r.Context(), identity.UserID, offset, limit)
	if err != nil {
		return err
	}

	json.NewEncoder(w).Encode(RoomsResponse{Rooms: rooms})
	return nil
}

func (h *ChatHandler) GetActiveRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	if identity.Role != core.RoleAgent && identity.Role != core.RoleAdmin {
		return router.NewJsonError(http.StatusForbidden, core.ErrAccessDenied.Error())
	}

	rooms, err := h.chatStore.GetActiveRooms(r.Context())
	if err != nil {
		return err
	}

	json.NewEncoder(w).Encode(RoomsResponse{Rooms: rooms})
	return nil
}

func (h *ChatHandler) GetRoomByIDHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)

	room, err := h.chatStore.GetRoomByID(r.Context(), r.PathValue("roomID"))
	if err != nil {
		return err
	}
	if room == nil {
		return router.NewJsonError(http.StatusNotFound, core.ErrRoomNotFound.Error())
	}
	if !core.Authorize(room, identity) {
		return router.NewJsonError(http.StatusForbidden, core.ErrAccessDenied.Error())
	}

	json.NewEncoder(w).Encode(room)
	return nil
}

type RoomMessagesResponse struct {
	RoomID   string         `json:"room_id"`
	Messages []core.Message `json:"messages"`
}

// GetRoomMessagesHandler serves cursor-paginated history. It backs the socket
// history replay for clients that reconnect or scroll back past the replay window.
func (h *ChatHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	roomID := r.PathValue("roomID")

	room, err := h.chatStore.GetRoomByID(r.Context(), roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return router.NewJsonError(http.StatusNotFound, core.ErrRoomNotFound.Error())
	}
	if !core.Authorize(room, identity) {
		return router.NewJsonError(http.StatusForbidden, core.ErrAccessDenied.Error())
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	beforeID, _ := strconv.Atoi(r.URL.Query().Get("beforeId"))

	messages, err := h.chatStore.GetRoomMessages(r.Context(), roomID, limit, beforeID)
	if err != nil {
		return err
	}

	json.NewEncoder(w).Encode(RoomMessagesResponse{RoomID: roomID, Messages: messages})
	return nil
}

func (h *ChatHandler) DeactivateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	roomID := r.PathValue("roomID")

	room, err := h.chatStore.GetRoomByID(r.Context(), roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return router.NewJsonError(http.StatusNotFound, core.ErrRoomNotFound.Error())
	}

	// only the assigned agent or an admin may close a conversation
	if identity.Role != core.RoleAdmin &&
		!(identity.Role == core.RoleAgent && identity.UserID == room.AgentID) {
		return router.NewJsonError(http.StatusForbidden, core.ErrAccessDenied.Error())
	}

	if err := h.chatStore.DeactivateRoom(r.Context(), roomID); err != nil {
		if err == core.ErrRoomNotFound {
			return router.NewJsonError(http.StatusNotFound, err.Error())
		}
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
