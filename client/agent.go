package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/inkdeck/inkdeck/models"
)

// State is the agent's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Reconnect schedule: exponential from 1s, doubling, capped at 30s,
// giving up after 5 attempts.
const (
	reconnectInitialInterval = 1 * time.Second
	reconnectMultiplier      = 2
	reconnectMaxInterval     = 30 * time.Second
	reconnectMaxAttempts     = 5
)

// Outbound cursor throttle and the minimum spacing between save frames.
const (
	cursorEventsPerSecond = 20
	saveMinInterval       = 500 * time.Millisecond
)

var ErrNotConnected = errors.New("agent is not connected")

// CursorUpdate is a peer cursor position relayed by the server.
type CursorUpdate struct {
	SocketId  string        `json:"socketId"`
	Cursor    models.Cursor `json:"cursor"`
	UserColor string        `json:"userColor"`
	UserName  string        `json:"userName"`
}

// SyncEvent carries saved content pushed to peers viewing the page.
type SyncEvent struct {
	PageId    string          `json:"pageId"`
	Content   json.RawMessage `json:"content"`
	UserId    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
}

// LoadResponse is the reply to an explicit page load request.
type LoadResponse struct {
	Success bool            `json:"success"`
	PageId  string          `json:"pageId"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Handlers are the application callbacks. All of them are optional and
// are invoked from the agent's read goroutine, so they must not block.
type Handlers struct {
	OnJoined       func(data json.RawMessage)
	OnPresence     func(users []models.Participant)
	OnCursor       func(update CursorUpdate)
	OnOperation    func(op models.StrokeOperation)
	OnUserJoined   func(userId string, users []models.Participant)
	OnUserLeft     func(userId string, users []models.Participant)
	OnSaved        func(pageId string, timestamp int64)
	OnSaveError    func(pageId, message string)
	OnSync         func(event SyncEvent)
	OnLoadResponse func(resp LoadResponse)
	OnStateChange  func(state State)
}

type Options struct {
	// URL is the ws:// or wss:// endpoint of the sync channel.
	URL string

	// Token is the optional channel token. When set it rides in the
	// second subprotocol entry, matching what browser clients do.
	Token string

	UserId   string
	UserName string

	// Backup is the optional local side-store. When set, every save
	// request is mirrored to it before hitting the wire and cleared on
	// the server's confirmation.
	Backup *BackupStore

	Handlers Handlers
}

type pendingSave struct {
	pageId    string
	content   json.RawMessage
	thumbnail []byte
}

// Agent is the client-side counterpart of the sync channel. It owns the
// connection, rejoins the last room after a reconnect, throttles
// outbound cursor traffic, and coalesces save requests so at most one
// save frame per page leaves the wire per spacing window.
type Agent struct {
	opts   Options
	dialer *websocket.Dialer

	reconnectPolicy func() backoff.BackOff

	cursorLimiter *rate.Limiter

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	closed     bool
	lastJoin   *joinRequest // last successful join, replayed on reconnect
	pending    *pendingSave // single slot, newest wins
	lastSaveAt time.Time
	saveTimer  *time.Timer
}

type joinRequest struct {
	event    string
	boardId  string
	pageId   string
	userId   string
	userName string
}

func NewAgent(opts Options) *Agent {
	return &Agent{
		opts:            opts,
		dialer:          websocket.DefaultDialer,
		reconnectPolicy: defaultReconnectPolicy,
		cursorLimiter:   rate.NewLimiter(cursorEventsPerSecond, 1),
		state:           StateDisconnected,
	}
}

// Connect establishes the channel, retrying on the reconnect schedule.
func (a *Agent) Connect() error {
	a.setState(StateConnecting)

	if err := a.dialWithRetry(); err != nil {
		a.setState(StateFailed)
		return err
	}
	return nil
}

func (a *Agent) dialWithRetry() error {
	return backoff.Retry(a.dial, a.reconnectPolicy())
}

// defaultReconnectPolicy allows reconnectMaxAttempts dials in total:
// the initial one plus reconnectMaxAttempts-1 retries.
func defaultReconnectPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectInitialInterval
	policy.Multiplier = reconnectMultiplier
	policy.MaxInterval = reconnectMaxInterval
	policy.MaxElapsedTime = 0

	return backoff.WithMaxRetries(policy, reconnectMaxAttempts-1)
}

func (a *Agent) dial() error {
	dialer := *a.dialer
	if a.opts.Token != "" {
		dialer.Subprotocols = []string{"inkdeck-v1", a.opts.Token}
	} else {
		dialer.Subprotocols = []string{"inkdeck-v1"}
	}

	conn, _, err := dialer.Dial(a.opts.URL, nil)
	if err != nil {
		log.Printf("Dial failed: %v", err)
		return err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return backoff.Permanent(errors.New("agent closed"))
	}
	a.conn = conn
	a.state = StateConnected
	rejoin := a.lastJoin
	a.mu.Unlock()

	a.notifyState(StateConnected)

	go a.readLoop(conn)

	// Replay room membership, then flush whatever save was buffered
	// while offline.
	if rejoin != nil {
		if err := a.sendJoin(*rejoin); err != nil {
			log.Printf("Rejoin failed: %v", err)
		}
	}
	a.flushPending()

	return nil
}

// readLoop consumes server frames until the connection drops, then
// hands off to the reconnect path unless the agent was closed.
func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}
		a.dispatch(messageBytes)
	}

	a.mu.Lock()
	if a.closed || a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.state = StateConnecting
	a.mu.Unlock()

	a.notifyState(StateConnecting)
	log.Printf("Connection lost, reconnecting")

	if err := a.dialWithRetry(); err != nil {
		log.Printf("Reconnect gave up: %v", err)
		a.setState(StateFailed)
	}
}

func (a *Agent) dispatch(messageBytes []byte) {
	var msg wireMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid frame from server: %v", err)
		return
	}

	h := a.opts.Handlers
	switch msg.Type {
	case "joined":
		if h.OnJoined != nil {
			h.OnJoined(msg.Data)
		}

	case "presence-update":
		var users []models.Participant
		if err := json.Unmarshal(msg.Data, &users); err != nil {
			log.Printf("Invalid presence-update: %v", err)
			return
		}
		if h.OnPresence != nil {
			h.OnPresence(users)
		}

	case "cursor-update":
		var update CursorUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("Invalid cursor-update: %v", err)
			return
		}
		if h.OnCursor != nil {
			h.OnCursor(update)
		}

	case "stroke-operation":
		var op models.StrokeOperation
		if err := json.Unmarshal(msg.Data, &op); err != nil {
			log.Printf("Invalid stroke-operation: %v", err)
			return
		}
		if h.OnOperation != nil {
			h.OnOperation(op)
		}

	case "user-joined", "user-left":
		var delta struct {
			UserId         string               `json:"userId"`
			ConnectedUsers []models.Participant `json:"connectedUsers"`
		}
		if err := json.Unmarshal(msg.Data, &delta); err != nil {
			log.Printf("Invalid %s: %v", msg.Type, err)
			return
		}
		if msg.Type == "user-joined" && h.OnUserJoined != nil {
			h.OnUserJoined(delta.UserId, delta.ConnectedUsers)
		}
		if msg.Type == "user-left" && h.OnUserLeft != nil {
			h.OnUserLeft(delta.UserId, delta.ConnectedUsers)
		}

	case "saved":
		var saved struct {
			PageId    string `json:"pageId"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(msg.Data, &saved); err != nil {
			log.Printf("Invalid saved ack: %v", err)
			return
		}
		if a.opts.Backup != nil {
			if err := a.opts.Backup.Clear(saved.PageId); err != nil {
				log.Printf("Failed to clear backup for %s: %v", saved.PageId, err)
			}
		}
		if h.OnSaved != nil {
			h.OnSaved(saved.PageId, saved.Timestamp)
		}

	case "save-error":
		var saveErr struct {
			PageId  string `json:"pageId"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Data, &saveErr); err != nil {
			log.Printf("Invalid save-error: %v", err)
			return
		}
		if h.OnSaveError != nil {
			h.OnSaveError(saveErr.PageId, saveErr.Message)
		}

	case "sync":
		var event SyncEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Invalid sync: %v", err)
			return
		}
		if h.OnSync != nil {
			h.OnSync(event)
		}

	case "load-response":
		var resp LoadResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			log.Printf("Invalid load-response: %v", err)
			return
		}
		if h.OnLoadResponse != nil {
			h.OnLoadResponse(resp)
		}

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}
}

// JoinBoard enters the board-scoped room for a page.
func (a *Agent) JoinBoard(boardId, pageId string) error {
	return a.join(joinRequest{
		event:    "join-board",
		boardId:  boardId,
		pageId:   pageId,
		userId:   a.opts.UserId,
		userName: a.opts.UserName,
	})
}

// JoinPage enters the page-scoped room.
func (a *Agent) JoinPage(pageId string) error {
	return a.join(joinRequest{
		event:    "join-page",
		pageId:   pageId,
		userId:   a.opts.UserId,
		userName: a.opts.UserName,
	})
}

func (a *Agent) join(req joinRequest) error {
	a.mu.Lock()
	a.lastJoin = &req
	a.mu.Unlock()
	return a.sendJoin(req)
}

func (a *Agent) sendJoin(req joinRequest) error {
	return a.send(req.event, struct {
		BoardId  string `json:"boardId,omitempty"`
		PageId   string `json:"pageId"`
		UserId   string `json:"userId"`
		UserName string `json:"userName"`
	}{
		BoardId:  req.boardId,
		PageId:   req.pageId,
		UserId:   req.userId,
		UserName: req.userName,
	})
}

// SendCursor reports the local cursor position. Positions beyond the
// rate limit are dropped, not queued; only the freshest position
// matters and the next move will carry it.
func (a *Agent) SendCursor(x, y float64) error {
	if !a.cursorLimiter.Allow() {
		return nil
	}
	return a.send("cursor-move", struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}{X: x, Y: y})
}

// SendOperation relays a stroke mutation to the room.
func (a *Agent) SendOperation(op models.StrokeOperation) error {
	return a.send("stroke-operation", op)
}

// RequestLoad asks the server for the current page content.
func (a *Agent) RequestLoad(pageId string) error {
	return a.send("load", struct {
		PageId string `json:"pageId"`
	}{PageId: pageId})
}

// PingPresence refreshes the server-side liveness timestamp.
func (a *Agent) PingPresence() error {
	return a.send("ping-presence", struct{}{})
}

// RequestSave queues the page content for persistence. Content is
// mirrored to the local backup first, then sent subject to the spacing
// window: rapid successive requests collapse into the pending slot and
// only the newest survives. While disconnected the slot is held and
// flushed on reconnect.
func (a *Agent) RequestSave(pageId string, content json.RawMessage, thumbnail []byte) error {
	if a.opts.Backup != nil {
		if err := a.opts.Backup.Put(pageId, content); err != nil {
			log.Printf("Failed to back up page %s locally: %v", pageId, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	save := &pendingSave{pageId: pageId, content: content, thumbnail: thumbnail}

	if a.conn == nil {
		a.pending = save
		return nil
	}

	if elapsed := time.Since(a.lastSaveAt); elapsed < saveMinInterval {
		a.pending = save
		a.scheduleFlushLocked(saveMinInterval - elapsed)
		return nil
	}

	// This content supersedes whatever was buffered; a later flush of
	// the old slot would put stale content on the wire last.
	a.pending = nil
	return a.writeSaveLocked(save)
}

func (a *Agent) scheduleFlushLocked(wait time.Duration) {
	if a.saveTimer != nil {
		return
	}
	a.saveTimer = time.AfterFunc(wait, func() {
		a.mu.Lock()
		a.saveTimer = nil
		a.mu.Unlock()
		a.flushPending()
	})
}

func (a *Agent) flushPending() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending == nil || a.conn == nil {
		return
	}
	save := a.pending
	a.pending = nil
	if err := a.writeSaveLocked(save); err != nil {
		log.Printf("Failed to flush pending save for %s: %v", save.pageId, err)
	}
}

func (a *Agent) writeSaveLocked(save *pendingSave) error {
	thumbnail := ""
	if len(save.thumbnail) > 0 {
		thumbnail = base64.StdEncoding.EncodeToString(save.thumbnail)
	}

	a.lastSaveAt = time.Now()
	return a.writeLocked("save", struct {
		PageId    string          `json:"pageId"`
		Content   json.RawMessage `json:"content"`
		Thumbnail string          `json:"thumbnail,omitempty"`
	}{
		PageId:    save.pageId,
		Content:   save.content,
		Thumbnail: thumbnail,
	})
}

// Close flushes any buffered save synchronously and tears the channel
// down. The agent cannot be reused afterwards.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	if a.saveTimer != nil {
		a.saveTimer.Stop()
		a.saveTimer = nil
	}

	if a.pending != nil && a.conn != nil {
		save := a.pending
		a.pending = nil
		if err := a.writeSaveLocked(save); err != nil {
			log.Printf("Failed to flush save on close for %s: %v", save.pageId, err)
		}
	}

	conn := a.conn
	a.conn = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	a.notifyState(StateDisconnected)

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

// State reports the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (a *Agent) send(msgType string, data any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeLocked(msgType, data)
}

// writeLocked serializes frame writes through the agent mutex; the
// transport allows only one concurrent writer.
func (a *Agent) writeLocked(msgType string, data any) error {
	if a.conn == nil {
		return ErrNotConnected
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msgBytes, err := json.Marshal(wireMessage{Type: msgType, Data: dataBytes})
	if err != nil {
		return err
	}
	return a.conn.WriteMessage(websocket.TextMessage, msgBytes)
}

func (a *Agent) setState(state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.notifyState(state)
}

func (a *Agent) notifyState(state State) {
	if a.opts.Handlers.OnStateChange != nil {
		a.opts.Handlers.OnStateChange(state)
	}
}
