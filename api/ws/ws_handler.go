package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inkdeck/inkdeck/models"
	"github.com/inkdeck/inkdeck/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if requiredOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"inkdeck-v1"},
	}
}

// ServeWS handles websocket requests from the peer. Browser clients
// cannot set headers on websocket upgrades, so in token mode the channel
// token rides in the second subprotocol entry.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	var identity *service.Identity

	if h.Service.TokensEnabled() {
		protocols := r.Header.Get("Sec-WebSocket-Protocol")
		protocolsSplit := strings.Split(protocols, ",")

		if len(protocolsSplit) != 2 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(protocolsSplit[1])
		verified, authErr := h.Service.VerifyChannelToken(token)

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade ws connection: %v", err)
			return
		}

		// Must upgrade the connection in order to be able to send a custom close message
		if authErr != nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
			)
			conn.Close()
			return
		}

		identity = &verified
		h.startClient(conn, identity, shutdownCtx)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	h.startClient(conn, nil, shutdownCtx)
}

func (h *Handler) startClient(conn *websocket.Conn, identity *service.Identity, shutdownCtx context.Context) {
	client, err := NewClient(h.Hub, conn, identity)
	if err != nil {
		log.Printf("Failed to create ws client: %v", err)
		conn.Close()
		return
	}
	h.Hub.OpenCh <- client

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Wire event names (client -> server)
const (
	eventJoinBoard       = "join-board"
	eventJoinPage        = "join-page"
	eventCursorMove      = "cursor-move"
	eventStrokeOperation = "stroke-operation"
	eventSave            = "save"
	eventLoad            = "load"
	eventPingPresence    = "ping-presence"
)

// Wire event names (server -> client)
const (
	eventJoined         = "joined"
	eventPresenceUpdate = "presence-update"
	eventCursorUpdate   = "cursor-update"
	eventSaved          = "saved"
	eventSaveError      = "save-error"
	eventSync           = "sync"
	eventUserJoined     = "user-joined"
	eventUserLeft       = "user-left"
	eventLoadResponse   = "load-response"
)

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinPayload struct {
	BoardId  string `json:"boardId,omitempty"`
	PageId   string `json:"pageId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

type joinedBoardPayload struct {
	SocketId  string               `json:"socketId"`
	UserColor string               `json:"userColor"`
	Users     []models.Participant `json:"users"`
}

type joinedPagePayload struct {
	PageId         string               `json:"pageId"`
	ConnectedUsers []models.Participant `json:"connectedUsers"`
}

type membershipDelta struct {
	UserId         string               `json:"userId"`
	ConnectedUsers []models.Participant `json:"connectedUsers"`
}

type cursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type cursorUpdatePayload struct {
	SocketId  string        `json:"socketId"`
	Cursor    models.Cursor `json:"cursor"`
	UserColor string        `json:"userColor"`
	UserName  string        `json:"userName"`
}

type savePayload struct {
	PageId    string          `json:"pageId"`
	Content   json.RawMessage `json:"content"`
	Thumbnail string          `json:"thumbnail,omitempty"`
}

type savedPayload struct {
	PageId    string `json:"pageId"`
	Timestamp int64  `json:"timestamp"`
}

type saveErrorPayload struct {
	PageId  string `json:"pageId,omitempty"`
	Message string `json:"message"`
}

type syncPayload struct {
	PageId    string          `json:"pageId"`
	Content   json.RawMessage `json:"content"`
	UserId    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
}

type loadPayload struct {
	PageId string `json:"pageId"`
}

type loadResponsePayload struct {
	Success bool            `json:"success"`
	PageId  string          `json:"pageId"`
	Content json.RawMessage `json:"content,omitempty"`
}

// inboundHandlers is the dispatch table for client frames. Every handler
// runs on the hub goroutine with exclusive access to the registry.
var inboundHandlers = map[string]func(*Hub, *Client, json.RawMessage){
	eventJoinBoard:       (*Hub).handleJoinBoard,
	eventJoinPage:        (*Hub).handleJoinPage,
	eventCursorMove:      (*Hub).handleCursorMove,
	eventStrokeOperation: (*Hub).handleStrokeOperation,
	eventSave:            (*Hub).handleSave,
	eventLoad:            (*Hub).handleLoad,
	eventPingPresence:    (*Hub).handlePingPresence,
}

func (h *Hub) handleJoinBoard(client *Client, data json.RawMessage) {
	var join joinPayload
	if err := json.Unmarshal(data, &join); err != nil {
		log.Printf("Invalid join-board data: %v", err)
		return
	}
	if err := service.ValidateBoardId(join.BoardId); err != nil {
		log.Printf("join-board rejected: %v", err)
		return
	}
	if err := service.ValidatePageId(join.PageId); err != nil {
		log.Printf("join-board rejected: %v", err)
		return
	}

	key := models.RoomKey{BoardId: join.BoardId, PageId: join.PageId}
	p := h.joinRoom(client, key, join)

	h.sendTo(client.connectionId, eventJoined, joinedBoardPayload{
		SocketId:  client.connectionId,
		UserColor: p.Color,
		Users:     h.registry.Participants(key),
	})
}

func (h *Hub) handleJoinPage(client *Client, data json.RawMessage) {
	var join joinPayload
	if err := json.Unmarshal(data, &join); err != nil {
		log.Printf("Invalid join-page data: %v", err)
		return
	}
	if err := service.ValidatePageId(join.PageId); err != nil {
		log.Printf("join-page rejected: %v", err)
		return
	}

	key := models.RoomKey{PageId: join.PageId}
	p := h.joinRoom(client, key, join)

	h.sendTo(client.connectionId, eventJoined, joinedPagePayload{
		PageId:         key.PageId,
		ConnectedUsers: h.registry.Participants(key),
	})

	h.broadcastRoom(key, client.connectionId, eventUserJoined, membershipDelta{
		UserId:         p.UserId,
		ConnectedUsers: h.registry.Participants(key),
	})
}

// joinRoom performs the room transition: implicit leave of the previous
// room (with its own presence broadcast), then join and presence
// broadcast to the new room. Atomic from the registry's perspective.
func (h *Hub) joinRoom(client *Client, key models.RoomKey, join joinPayload) models.Participant {
	userId := join.UserId
	userName := join.UserName
	if client.identity != nil {
		// Token mode: signed claims override whatever the payload says
		userId = client.identity.UserId
		if client.identity.DisplayName != "" {
			userName = client.identity.DisplayName
		}
	}
	if userId == "" {
		userId = client.connectionId
	}

	prev, wasInRoom := h.registry.RoomOf(client.connectionId)

	p, roster := h.registry.Join(key, client.connectionId, userId, userName)

	if client.identity == nil {
		client.identity = &service.Identity{UserId: p.UserId, DisplayName: p.DisplayName}
	}

	if wasInRoom && prev != key {
		prevRoster := h.registry.Participants(prev)
		h.broadcastPresence(prev, prevRoster)
		if prev.IsPageRoom() {
			h.broadcastRoom(prev, client.connectionId, eventUserLeft, membershipDelta{
				UserId:         p.UserId,
				ConnectedUsers: prevRoster,
			})
		}
	}

	// The joiner learns the roster from its joined ack; peers get the
	// presence push.
	h.broadcastRoom(key, client.connectionId, eventPresenceUpdate, roster)
	return p
}

func (h *Hub) handleCursorMove(client *Client, data json.RawMessage) {
	var cursor cursorMovePayload
	if err := json.Unmarshal(data, &cursor); err != nil {
		log.Printf("Invalid cursor-move data: %v", err)
		return
	}

	// No-op when not in a room. Relayed immediately and unthrottled:
	// outbound throttling is the sending client's job.
	p, key, ok := h.registry.UpdateCursor(client.connectionId, cursor.X, cursor.Y)
	if !ok {
		return
	}

	h.broadcastRoom(key, client.connectionId, eventCursorUpdate, cursorUpdatePayload{
		SocketId:  client.connectionId,
		Cursor:    *p.Cursor,
		UserColor: p.Color,
		UserName:  p.DisplayName,
	})
}

func (h *Hub) handleStrokeOperation(client *Client, data json.RawMessage) {
	var op models.StrokeOperation
	if err := json.Unmarshal(data, &op); err != nil {
		log.Printf("Invalid stroke-operation data: %v", err)
		return
	}
	if err := service.ValidateOperation(op); err != nil {
		log.Printf("stroke-operation rejected from %s: %v", client.connectionId, err)
		return
	}

	key, ok := h.registry.RoomOf(client.connectionId)
	if !ok {
		return
	}

	op.SenderId = client.connectionId
	if op.UserId == "" && client.identity != nil {
		op.UserId = client.identity.UserId
	}
	if op.Timestamp == 0 {
		op.Timestamp = time.Now().UnixMilli()
	}

	h.broadcastRoom(key, client.connectionId, eventStrokeOperation, op)
}

func (h *Hub) handleSave(client *Client, data json.RawMessage) {
	var save savePayload
	if err := json.Unmarshal(data, &save); err != nil {
		log.Printf("Invalid save data: %v", err)
		return
	}

	// Protocol errors are rejected immediately with no partial effect
	if err := service.ValidatePageId(save.PageId); err != nil {
		h.sendTo(client.connectionId, eventSaveError, saveErrorPayload{
			PageId:  save.PageId,
			Message: err.Error(),
		})
		return
	}

	var thumbnail []byte
	if save.Thumbnail != "" {
		decoded, err := base64.StdEncoding.DecodeString(save.Thumbnail)
		if err != nil {
			log.Printf("Invalid thumbnail encoding from %s, ignoring thumbnail", client.connectionId)
		} else {
			thumbnail = decoded
		}
	}

	userId := ""
	if client.identity != nil {
		userId = client.identity.UserId
	}

	h.coordinator.RequestCh <- models.SaveRequest{
		PageId:       save.PageId,
		Content:      save.Content,
		Thumbnail:    thumbnail,
		UserId:       userId,
		ConnectionId: client.connectionId,
	}
}

func (h *Hub) handleLoad(client *Client, data json.RawMessage) {
	var load loadPayload
	if err := json.Unmarshal(data, &load); err != nil {
		log.Printf("Invalid load data: %v", err)
		return
	}

	// Store/cache reads suspend, so they run off the hub goroutine; the
	// response goes straight to the client's send channel.
	go func() {
		content, err := h.svc.LoadPage(context.Background(), load.PageId)
		resp := loadResponsePayload{Success: err == nil, PageId: load.PageId, Content: content}
		if err != nil {
			log.Printf("LoadPage failed for %s: %v", load.PageId, err)
		}

		msgBytes, err := marshalMessage(eventLoadResponse, resp)
		if err != nil {
			log.Printf("Error marshaling load response: %v", err)
			return
		}
		select {
		case client.Send <- msgBytes:
		default:
			log.Printf("Dropping load-response for slow connection %s", client.connectionId)
		}
	}()
}

func (h *Hub) handlePingPresence(client *Client, data json.RawMessage) {
	h.registry.Heartbeat(client.connectionId)
}
