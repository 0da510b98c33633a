package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vediclink/consult-api/internal/service"
	"github.com/vediclink/consult-api/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens via JWT before the upgrade; origins are not restricted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades authenticated connections into hub clients
type WSHandler struct {
	hub  *ws.Hub
	chat *service.ChatService
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(hub *ws.Hub, chat *service.ChatService) *WSHandler {
	return &WSHandler{hub: hub, chat: chat}
}

// Connect upgrades the request and attaches the client to the hub
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, userID, role)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.chat)
}
