package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/inkdeck/inkdeck/models"
	"github.com/inkdeck/inkdeck/rooms"
	"github.com/inkdeck/inkdeck/service"
	"github.com/inkdeck/inkdeck/worker"
)

type inboundFrame struct {
	client *Client
	data   []byte
}

// Hub owns the room registry and runs the per-connection lifecycle:
// join, room switch, heartbeat, disconnect cleanup, and the relays. All
// registry mutations happen on the single Run goroutine, serialized by
// arrival order, so the registry needs no locking. Persistence is the
// only suspending operation and lives in the save coordinator.
type Hub struct {
	registry    *rooms.Registry
	svc         *service.Service
	coordinator *worker.SaveCoordinator

	OpenCh    chan *Client
	CloseCh   chan *Client
	InboundCh chan inboundFrame

	clients map[string]*Client

	sweepInterval  time.Duration
	staleThreshold time.Duration
}

const (
	defaultSweepInterval  = 30 * time.Second
	defaultStaleThreshold = 60 * time.Second
)

func NewHub(registry *rooms.Registry, svc *service.Service, coordinator *worker.SaveCoordinator) *Hub {
	return &Hub{
		registry:       registry,
		svc:            svc,
		coordinator:    coordinator,
		OpenCh:         make(chan *Client, 256),
		CloseCh:        make(chan *Client, 256),
		InboundCh:      make(chan inboundFrame, 1024),
		clients:        make(map[string]*Client),
		sweepInterval:  defaultSweepInterval,
		staleThreshold: defaultStaleThreshold,
	}
}

func (h *Hub) Run(shutdownCtx context.Context) {
	sweep := time.NewTicker(h.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case client := <-h.OpenCh:
			h.clients[client.connectionId] = client

		case client := <-h.CloseCh:
			h.handleDisconnect(client)

		case frame := <-h.InboundCh:
			h.dispatch(frame.client, frame.data)

		case result := <-h.coordinator.ResultCh:
			h.handleSaveResult(result)

		case <-sweep.C:
			h.pruneStale()

		case <-shutdownCtx.Done():
			return
		}
	}
}

// dispatch decodes the envelope and routes to the handler table. Unknown
// types are logged and dropped, never fatal.
func (h *Hub) dispatch(client *Client, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON from %s: %v", client.connectionId, err)
		return
	}

	handler, ok := inboundHandlers[msg.Type]
	if !ok {
		log.Printf("Unknown message type: %v", msg.Type)
		return
	}

	handler(h, client, msg.Data)
}

// handleDisconnect transitions the connection to disconnected from
// whatever sub-state it was in and cleans up its room membership.
func (h *Hub) handleDisconnect(client *Client) {
	if _, ok := h.clients[client.connectionId]; !ok {
		return
	}
	delete(h.clients, client.connectionId)

	key, roster, ok := h.registry.Leave(client.connectionId)
	if !ok {
		return
	}

	h.broadcastPresence(key, roster)
	if key.IsPageRoom() && client.identity != nil {
		h.broadcastRoom(key, client.connectionId, eventUserLeft, membershipDelta{
			UserId:         client.identity.UserId,
			ConnectedUsers: roster,
		})
	}
}

func (h *Hub) pruneStale() {
	for _, changed := range h.registry.PruneStale(h.staleThreshold) {
		h.broadcastPresence(changed.Key, changed.Remaining)
		if changed.Key.IsPageRoom() {
			for _, removed := range changed.Removed {
				h.broadcastRoom(changed.Key, removed.ConnectionId, eventUserLeft, membershipDelta{
					UserId:         removed.UserId,
					ConnectedUsers: changed.Remaining,
				})
			}
		}
	}
}

func (h *Hub) handleSaveResult(result worker.SaveResult) {
	if result.Err != nil {
		h.sendTo(result.ConnectionId, eventSaveError, saveErrorPayload{
			PageId:  result.PageId,
			Message: result.Err.Error(),
		})
		return
	}

	h.sendTo(result.ConnectionId, eventSaved, savedPayload{
		PageId:    result.PageId,
		Timestamp: result.Timestamp,
	})

	// Peers viewing the same page get the saved content pushed so their
	// local state reflects it without polling. Both room variants can
	// host the page.
	sync := syncPayload{
		PageId:    result.PageId,
		Content:   result.Content,
		UserId:    result.UserId,
		Timestamp: result.Timestamp,
	}
	for _, key := range h.registry.RoomsForPage(result.PageId) {
		h.broadcastRoom(key, result.ConnectionId, eventSync, sync)
	}
}

// broadcastPresence sends the full roster to every remaining member.
func (h *Hub) broadcastPresence(key models.RoomKey, roster []models.Participant) {
	h.broadcastRoom(key, "", eventPresenceUpdate, roster)
}

// broadcastRoom fans a message out to every member of the room except
// the excluded connection. Slow consumers are dropped rather than
// allowed to stall the hub.
func (h *Hub) broadcastRoom(key models.RoomKey, excludeConnectionId string, msgType string, data any) {
	msgBytes, err := marshalMessage(msgType, data)
	if err != nil {
		log.Printf("Error marshaling %s broadcast: %v", msgType, err)
		return
	}

	for _, p := range h.registry.Participants(key) {
		if p.ConnectionId == excludeConnectionId {
			continue
		}
		client, ok := h.clients[p.ConnectionId]
		if !ok {
			continue
		}
		select {
		case client.Send <- msgBytes:
		default:
			log.Printf("Dropping %s for slow connection %s", msgType, p.ConnectionId)
		}
	}
}

func (h *Hub) sendTo(connectionId string, msgType string, data any) {
	client, ok := h.clients[connectionId]
	if !ok {
		return
	}

	msgBytes, err := marshalMessage(msgType, data)
	if err != nil {
		log.Printf("Error marshaling %s response: %v", msgType, err)
		return
	}

	select {
	case client.Send <- msgBytes:
	default:
		log.Printf("Dropping %s for slow connection %s", msgType, connectionId)
	}
}

func marshalMessage(msgType string, data any) ([]byte, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{Type: msgType, Data: dataBytes})
}
