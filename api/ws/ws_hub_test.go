package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cachemocks "github.com/inkdeck/inkdeck/cache/mocks"
	"github.com/inkdeck/inkdeck/models"
	"github.com/inkdeck/inkdeck/rooms"
	"github.com/inkdeck/inkdeck/service"
	storemocks "github.com/inkdeck/inkdeck/store/mocks"
	"github.com/inkdeck/inkdeck/worker"
)

// Tests drive the hub synchronously through dispatch instead of running
// the Run loop: every handler is deterministic on the calling goroutine,
// which is exactly the concurrency contract the hub relies on.
func newTestHub(t *testing.T) (*Hub, *storemocks.MockStore, *cachemocks.MockCache) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	svc := service.NewService(mockStore, mockCache, nil)
	coordinator := worker.NewSaveCoordinator(mockStore, mockCache, nil, 500, 50)
	return NewHub(rooms.NewRegistry(), svc, coordinator), mockStore, mockCache
}

func addClient(h *Hub, connectionId string) *Client {
	c := &Client{
		hub:          h,
		connectionId: connectionId,
		Send:         make(chan []byte, 16),
	}
	h.clients[connectionId] = c
	return c
}

func frame(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	dataBytes, err := json.Marshal(data)
	require.NoError(t, err)
	msgBytes, err := json.Marshal(message{Type: msgType, Data: dataBytes})
	require.NoError(t, err)
	return msgBytes
}

func recv(t *testing.T, c *Client) message {
	t.Helper()
	select {
	case msgBytes := <-c.Send:
		var msg message
		require.NoError(t, json.Unmarshal(msgBytes, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message for connection %s", c.connectionId)
		return message{}
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msgBytes := <-c.Send:
		t.Fatalf("unexpected message for %s: %s", c.connectionId, msgBytes)
	default:
	}
}

func joinBoard(t *testing.T, h *Hub, c *Client, boardId, pageId, userId, userName string) {
	t.Helper()
	h.dispatch(c, frame(t, eventJoinBoard, joinPayload{
		BoardId: boardId, PageId: pageId, UserId: userId, UserName: userName,
	}))
}

func joinPage(t *testing.T, h *Hub, c *Client, pageId, userId, userName string) {
	t.Helper()
	h.dispatch(c, frame(t, eventJoinPage, joinPayload{
		PageId: pageId, UserId: userId, UserName: userName,
	}))
}

func TestJoinBoard_AcksWithRosterAndColor(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")

	joinBoard(t, h, c, "board1", "page1", "user1", "Alice")

	msg := recv(t, c)
	assert.Equal(t, eventJoined, msg.Type)

	var joined joinedBoardPayload
	require.NoError(t, json.Unmarshal(msg.Data, &joined))
	assert.Equal(t, "conn1", joined.SocketId)
	assert.NotEmpty(t, joined.UserColor)
	assert.Len(t, joined.Users, 1)

	// Presence goes to the rest of the room, which is empty here
	assertNoMessage(t, c)
}

func TestJoinBoard_PeersGetPresenceUpdate(t *testing.T) {
	h, _, _ := newTestHub(t)
	first := addClient(h, "conn1")
	second := addClient(h, "conn2")

	joinBoard(t, h, first, "board1", "page1", "user1", "Alice")
	recv(t, first) // joined ack

	joinBoard(t, h, second, "board1", "page1", "user2", "Bob")

	msg := recv(t, first)
	assert.Equal(t, eventPresenceUpdate, msg.Type)

	var roster []models.Participant
	require.NoError(t, json.Unmarshal(msg.Data, &roster))
	assert.Len(t, roster, 2)
}

func TestJoinBoard_InvalidIdsRejected(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")

	joinBoard(t, h, c, "bad board", "page1", "user1", "Alice")

	assertNoMessage(t, c)
	assert.Equal(t, 0, h.registry.RoomCount())
}

func TestJoinPage_PeersGetMembershipDelta(t *testing.T) {
	h, _, _ := newTestHub(t)
	first := addClient(h, "conn1")
	second := addClient(h, "conn2")

	joinPage(t, h, first, "page1", "user1", "Alice")
	recv(t, first) // joined ack

	joinPage(t, h, second, "page1", "user2", "Bob")

	msgTypes := map[string]bool{}
	msgTypes[recv(t, first).Type] = true
	msgTypes[recv(t, first).Type] = true
	assert.True(t, msgTypes[eventUserJoined])
	assert.True(t, msgTypes[eventPresenceUpdate])

	msg := recv(t, second)
	assert.Equal(t, eventJoined, msg.Type)

	var joined joinedPagePayload
	require.NoError(t, json.Unmarshal(msg.Data, &joined))
	assert.Equal(t, "page1", joined.PageId)
	assert.Len(t, joined.ConnectedUsers, 2)
}

func TestJoin_RoomSwitchNotifiesPreviousRoom(t *testing.T) {
	h, _, _ := newTestHub(t)
	mover := addClient(h, "conn1")
	stayer := addClient(h, "conn2")

	joinBoard(t, h, mover, "board1", "page1", "user1", "Alice")
	recv(t, mover)
	joinBoard(t, h, stayer, "board1", "page1", "user2", "Bob")
	recv(t, stayer)
	recv(t, mover) // presence from stayer's join

	joinBoard(t, h, mover, "board1", "page2", "user1", "Alice")

	msg := recv(t, stayer)
	assert.Equal(t, eventPresenceUpdate, msg.Type)

	var roster []models.Participant
	require.NoError(t, json.Unmarshal(msg.Data, &roster))
	assert.Len(t, roster, 1)
	assert.Equal(t, "conn2", roster[0].ConnectionId)
}

func TestCursorMove_RelayedToPeersNotSender(t *testing.T) {
	h, _, _ := newTestHub(t)
	sender := addClient(h, "conn1")
	peer := addClient(h, "conn2")

	joinBoard(t, h, sender, "board1", "page1", "user1", "Alice")
	recv(t, sender)
	joinBoard(t, h, peer, "board1", "page1", "user2", "Bob")
	recv(t, peer)
	recv(t, sender)

	h.dispatch(sender, frame(t, eventCursorMove, cursorMovePayload{X: 12.5, Y: 40}))

	msg := recv(t, peer)
	assert.Equal(t, eventCursorUpdate, msg.Type)

	var update cursorUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	assert.Equal(t, "conn1", update.SocketId)
	assert.Equal(t, 12.5, update.Cursor.X)
	assert.Equal(t, float64(40), update.Cursor.Y)
	assert.Equal(t, "Alice", update.UserName)

	assertNoMessage(t, sender)
}

func TestCursorMove_IgnoredOutsideRoom(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")

	h.dispatch(c, frame(t, eventCursorMove, cursorMovePayload{X: 1, Y: 2}))

	assertNoMessage(t, c)
}

func TestStrokeOperation_BroadcastStampsSender(t *testing.T) {
	h, _, _ := newTestHub(t)
	sender := addClient(h, "conn1")
	peer := addClient(h, "conn2")

	joinBoard(t, h, sender, "board1", "page1", "user1", "Alice")
	recv(t, sender)
	joinBoard(t, h, peer, "board1", "page1", "user2", "Bob")
	recv(t, peer)
	recv(t, sender)

	h.dispatch(sender, frame(t, eventStrokeOperation, models.StrokeOperation{
		Type:   models.OpAdd,
		PageId: "page1",
		Stroke: json.RawMessage(`{"points":[[0,0]]}`),
	}))

	msg := recv(t, peer)
	assert.Equal(t, eventStrokeOperation, msg.Type)

	var op models.StrokeOperation
	require.NoError(t, json.Unmarshal(msg.Data, &op))
	assert.Equal(t, "conn1", op.SenderId)
	assert.Equal(t, "user1", op.UserId)
	assert.NotZero(t, op.Timestamp)

	// Never echoed back to the sender
	assertNoMessage(t, sender)
}

func TestStrokeOperation_InvalidDropped(t *testing.T) {
	h, _, _ := newTestHub(t)
	sender := addClient(h, "conn1")
	peer := addClient(h, "conn2")

	joinBoard(t, h, sender, "board1", "page1", "user1", "Alice")
	recv(t, sender)
	joinBoard(t, h, peer, "board1", "page1", "user2", "Bob")
	recv(t, peer)
	recv(t, sender)

	h.dispatch(sender, frame(t, eventStrokeOperation, models.StrokeOperation{
		Type:   models.OpDelete,
		PageId: "page1",
		// missing strokeId
	}))

	assertNoMessage(t, peer)
	assertNoMessage(t, sender)
}

func TestSave_InvalidPageIdGetsImmediateError(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")

	h.dispatch(c, frame(t, eventSave, savePayload{
		PageId:  "not valid!",
		Content: json.RawMessage(`{}`),
	}))

	msg := recv(t, c)
	assert.Equal(t, eventSaveError, msg.Type)

	var saveErr saveErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &saveErr))
	assert.NotEmpty(t, saveErr.Message)
}

func TestSave_QueuedToCoordinator(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")
	joinBoard(t, h, c, "board1", "page1", "user1", "Alice")
	recv(t, c)

	h.dispatch(c, frame(t, eventSave, savePayload{
		PageId:  "page1",
		Content: json.RawMessage(`{"strokes":[]}`),
	}))

	select {
	case req := <-h.coordinator.RequestCh:
		assert.Equal(t, "page1", req.PageId)
		assert.Equal(t, "conn1", req.ConnectionId)
		assert.Equal(t, "user1", req.UserId)
		assert.JSONEq(t, `{"strokes":[]}`, string(req.Content))
	case <-time.After(time.Second):
		t.Fatal("save request never reached the coordinator")
	}
}

func TestSaveResult_AckToRequesterSyncToPeers(t *testing.T) {
	h, _, _ := newTestHub(t)
	requester := addClient(h, "conn1")
	boardPeer := addClient(h, "conn2")
	pagePeer := addClient(h, "conn3")

	joinBoard(t, h, requester, "board1", "page1", "user1", "Alice")
	recv(t, requester)
	joinBoard(t, h, boardPeer, "board1", "page1", "user2", "Bob")
	recv(t, boardPeer)
	recv(t, requester)
	joinPage(t, h, pagePeer, "page1", "user3", "Carol")
	recv(t, pagePeer)

	h.handleSaveResult(worker.SaveResult{
		PageId:       "page1",
		Content:      json.RawMessage(`{"strokes":[]}`),
		UserId:       "user1",
		ConnectionId: "conn1",
		Timestamp:    time.Now().UnixMilli(),
	})

	ack := recv(t, requester)
	assert.Equal(t, eventSaved, ack.Type)
	var saved savedPayload
	require.NoError(t, json.Unmarshal(ack.Data, &saved))
	assert.Equal(t, "page1", saved.PageId)
	assert.NotZero(t, saved.Timestamp)

	// Peers in every room showing the page get the content push
	for _, peer := range []*Client{boardPeer, pagePeer} {
		msg := recv(t, peer)
		assert.Equal(t, eventSync, msg.Type)
		var sync syncPayload
		require.NoError(t, json.Unmarshal(msg.Data, &sync))
		assert.Equal(t, "page1", sync.PageId)
		assert.Equal(t, "user1", sync.UserId)
	}

	assertNoMessage(t, requester)
}

func TestSaveResult_FailureGoesToRequesterOnly(t *testing.T) {
	h, _, _ := newTestHub(t)
	requester := addClient(h, "conn1")
	peer := addClient(h, "conn2")

	joinBoard(t, h, requester, "board1", "page1", "user1", "Alice")
	recv(t, requester)
	joinBoard(t, h, peer, "board1", "page1", "user2", "Bob")
	recv(t, peer)
	recv(t, requester)

	h.handleSaveResult(worker.SaveResult{
		PageId:       "page1",
		ConnectionId: "conn1",
		Err:          assert.AnError,
	})

	msg := recv(t, requester)
	assert.Equal(t, eventSaveError, msg.Type)
	assertNoMessage(t, peer)
}

func TestDisconnect_PresenceAndUserLeft(t *testing.T) {
	h, _, _ := newTestHub(t)
	leaver := addClient(h, "conn1")
	stayer := addClient(h, "conn2")

	joinPage(t, h, leaver, "page1", "user1", "Alice")
	recv(t, leaver)
	joinPage(t, h, stayer, "page1", "user2", "Bob")
	recv(t, stayer)
	recv(t, leaver)
	recv(t, leaver)

	h.handleDisconnect(leaver)

	msgTypes := map[string]bool{}
	msgTypes[recv(t, stayer).Type] = true
	msgTypes[recv(t, stayer).Type] = true
	assert.True(t, msgTypes[eventPresenceUpdate])
	assert.True(t, msgTypes[eventUserLeft])

	assert.False(t, h.registry.Member(models.RoomKey{PageId: "page1"}, "conn1"))
	assert.NotContains(t, h.clients, "conn1")
}

func TestDisconnect_Idempotent(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")
	joinPage(t, h, c, "page1", "user1", "Alice")
	recv(t, c)

	h.handleDisconnect(c)
	h.handleDisconnect(c)

	assert.Equal(t, 0, h.registry.RoomCount())
}

func TestDispatch_UnknownTypeDropped(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")

	h.dispatch(c, []byte(`{"type":"teleport","data":{}}`))
	h.dispatch(c, []byte(`not json at all`))

	assertNoMessage(t, c)
}

func TestLoad_RespondsDirectlyToClient(t *testing.T) {
	h, _, mockCache := newTestHub(t)
	c := addClient(h, "conn1")

	content := []byte(`{"strokes":[{"id":"s1"}]}`)
	mockCache.On("GetPage", mock.Anything, "page1").Return(content, nil)

	h.dispatch(c, frame(t, eventLoad, loadPayload{PageId: "page1"}))

	msg := recv(t, c)
	assert.Equal(t, eventLoadResponse, msg.Type)

	var resp loadResponsePayload
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "page1", resp.PageId)
	assert.JSONEq(t, string(content), string(resp.Content))
}

func TestPingPresence_RefreshesLiveness(t *testing.T) {
	h, _, _ := newTestHub(t)
	c := addClient(h, "conn1")
	joinPage(t, h, c, "page1", "user1", "Alice")
	recv(t, c)

	h.dispatch(c, frame(t, eventPingPresence, struct{}{}))

	assertNoMessage(t, c)
	assert.True(t, h.registry.Member(models.RoomKey{PageId: "page1"}, "conn1"))
}
