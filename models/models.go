package models

import (
	"encoding/json"
	"time"
)

// RoomKey scopes presence and broadcast. Board rooms are keyed by
// (boardId, pageId); page rooms leave BoardId empty.
type RoomKey struct {
	BoardId string
	PageId  string
}

func (k RoomKey) String() string {
	if k.BoardId == "" {
		return "page:" + k.PageId
	}
	return "board:" + k.BoardId + "#" + k.PageId
}

// IsPageRoom reports whether the key belongs to the page-room variant.
func (k RoomKey) IsPageRoom() bool {
	return k.BoardId == ""
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is a single live connection's presence record within a room.
// Owned exclusively by the registry entry for its room.
type Participant struct {
	ConnectionId string    `json:"connectionId"`
	UserId       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	LastSeenAt   time.Time `json:"-"`
}

type OperationType string

const (
	OpAdd    OperationType = "add"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpClear  OperationType = "clear"
)

// StrokeOperation is a transient drawing mutation relayed to room peers.
// Stroke content is opaque to the server; the canvas client owns its shape.
type StrokeOperation struct {
	Type      OperationType   `json:"type"`
	Stroke    json.RawMessage `json:"stroke,omitempty"`
	StrokeId  string          `json:"strokeId,omitempty"`
	PageId    string          `json:"pageId"`
	UserId    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	// SenderId is stamped by the relay so receivers can discard echoes.
	// Distinct from UserId: one user may hold several connections.
	SenderId string `json:"senderId,omitempty"`
}

// SaveRequest is a page persistence request routed through the save
// coordinator. At most one pending request per page; newer content
// supersedes older un-sent content.
type SaveRequest struct {
	PageId       string
	Content      json.RawMessage
	Thumbnail    []byte
	UserId       string
	ConnectionId string
}
