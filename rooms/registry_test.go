package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/inkdeck/inkdeck/models"
)

func boardRoom(boardId, pageId string) models.RoomKey {
	return models.RoomKey{BoardId: boardId, PageId: pageId}
}

func pageRoom(pageId string) models.RoomKey {
	return models.RoomKey{PageId: pageId}
}

func TestJoin_CreatesRoomAndAssignsColor(t *testing.T) {
	r := NewRegistry()
	key := boardRoom("board1", "page1")

	p, roster := r.Join(key, "conn1", "user1", "Alice")

	assert.Equal(t, "conn1", p.ConnectionId)
	assert.Equal(t, "user1", p.UserId)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Contains(t, PaletteColors(), p.Color)
	assert.Nil(t, p.Cursor)
	assert.Len(t, roster, 1)
	assert.Equal(t, 1, r.RoomCount())
}

func TestJoin_EmptyNameDefaultsToAnonymous(t *testing.T) {
	r := NewRegistry()

	p, _ := r.Join(pageRoom("page1"), "conn1", "user1", "")

	assert.Equal(t, "Anonymous", p.DisplayName)
}

func TestJoin_SwitchingRoomsLeavesPrevious(t *testing.T) {
	r := NewRegistry()
	first := boardRoom("board1", "page1")
	second := boardRoom("board1", "page2")

	r.Join(first, "conn1", "user1", "Alice")
	r.Join(first, "conn2", "user2", "Bob")
	r.Join(second, "conn1", "user1", "Alice")

	assert.False(t, r.Member(first, "conn1"))
	assert.True(t, r.Member(second, "conn1"))
	assert.Len(t, r.Participants(first), 1)
	assert.Len(t, r.Participants(second), 1)

	key, ok := r.RoomOf("conn1")
	assert.True(t, ok)
	assert.Equal(t, second, key)
}

func TestJoin_RejoinSameRoomKeepsSingleEntry(t *testing.T) {
	r := NewRegistry()
	key := pageRoom("page1")

	r.Join(key, "conn1", "user1", "Alice")
	_, roster := r.Join(key, "conn1", "user1", "Alice")

	assert.Len(t, roster, 1)
	assert.Equal(t, 1, r.RoomCount())
}

func TestLeave_LastParticipantDeletesRoom(t *testing.T) {
	r := NewRegistry()
	key := boardRoom("board1", "page1")
	r.Join(key, "conn1", "user1", "Alice")

	left, roster, ok := r.Leave("conn1")

	assert.True(t, ok)
	assert.Equal(t, key, left)
	assert.Empty(t, roster)
	assert.Equal(t, 0, r.RoomCount())
}

func TestLeave_UnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry()

	_, _, ok := r.Leave("ghost")

	assert.False(t, ok)
}

func TestLeave_ReturnsRemainingRoster(t *testing.T) {
	r := NewRegistry()
	key := pageRoom("page1")
	r.Join(key, "conn1", "user1", "Alice")
	r.Join(key, "conn2", "user2", "Bob")

	_, roster, ok := r.Leave("conn1")

	assert.True(t, ok)
	assert.Len(t, roster, 1)
	assert.Equal(t, "conn2", roster[0].ConnectionId)
}

func TestUpdateCursor_OverwritesPosition(t *testing.T) {
	r := NewRegistry()
	key := pageRoom("page1")
	r.Join(key, "conn1", "user1", "Alice")

	r.UpdateCursor("conn1", 10, 20)
	p, gotKey, ok := r.UpdateCursor("conn1", 42.5, 99.25)

	assert.True(t, ok)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, 42.5, p.Cursor.X)
	assert.Equal(t, 99.25, p.Cursor.Y)
}

func TestUpdateCursor_NotInRoom(t *testing.T) {
	r := NewRegistry()

	_, _, ok := r.UpdateCursor("ghost", 1, 2)

	assert.False(t, ok)
}

func TestRoomsForPage_SpansBothRoomVariants(t *testing.T) {
	r := NewRegistry()
	r.Join(boardRoom("board1", "page1"), "conn1", "user1", "Alice")
	r.Join(pageRoom("page1"), "conn2", "user2", "Bob")
	r.Join(pageRoom("page2"), "conn3", "user3", "Carol")

	keys := r.RoomsForPage("page1")

	assert.Len(t, keys, 2)
	assert.Contains(t, keys, boardRoom("board1", "page1"))
	assert.Contains(t, keys, pageRoom("page1"))
}

func TestPruneStale_RemovesOnlyExpired(t *testing.T) {
	r := NewRegistry()
	key := pageRoom("page1")

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Join(key, "stale", "user1", "Alice")

	r.now = func() time.Time { return base.Add(50 * time.Second) }
	r.Join(key, "fresh", "user2", "Bob")

	r.now = func() time.Time { return base.Add(70 * time.Second) }
	changed := r.PruneStale(60 * time.Second)

	assert.Len(t, changed, 1)
	assert.Equal(t, key, changed[0].Key)
	assert.Len(t, changed[0].Removed, 1)
	assert.Equal(t, "stale", changed[0].Removed[0].ConnectionId)
	assert.Len(t, changed[0].Remaining, 1)
	assert.True(t, r.Member(key, "fresh"))
	assert.False(t, r.Member(key, "stale"))
}

func TestPruneStale_HeartbeatKeepsParticipantAlive(t *testing.T) {
	r := NewRegistry()
	key := pageRoom("page1")

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Join(key, "conn1", "user1", "Alice")

	r.now = func() time.Time { return base.Add(50 * time.Second) }
	assert.True(t, r.Heartbeat("conn1"))

	r.now = func() time.Time { return base.Add(70 * time.Second) }
	changed := r.PruneStale(60 * time.Second)

	assert.Empty(t, changed)
	assert.True(t, r.Member(key, "conn1"))
}

func TestPruneStale_EmptiedRoomIsDeleted(t *testing.T) {
	r := NewRegistry()
	key := pageRoom("page1")

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Join(key, "conn1", "user1", "Alice")

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	changed := r.PruneStale(60 * time.Second)

	assert.Len(t, changed, 1)
	assert.Empty(t, changed[0].Remaining)
	assert.Equal(t, 0, r.RoomCount())
}
