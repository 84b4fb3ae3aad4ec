package rooms

import (
	"time"

	"github.com/inkdeck/inkdeck/models"
)

// Registry is the in-memory mapping of rooms to connected participants.
// It is a pure data structure with no I/O and no internal locking: all
// mutations must happen on the hub goroutine, which serializes joins,
// leaves and cursor updates by arrival order.
type Registry struct {
	rooms  map[models.RoomKey]map[string]*models.Participant
	byConn map[string]models.RoomKey

	// now is swappable so staleness tests don't have to sleep.
	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[models.RoomKey]map[string]*models.Participant),
		byConn: make(map[string]models.RoomKey),
		now:    time.Now,
	}
}

const anonymousName = "Anonymous"

// Join inserts the connection into the room, creating the room if absent.
// A connection belongs to at most one room: joining while a member of a
// different room first leaves that room. Returns the new participant and
// the full roster of the joined room.
func (r *Registry) Join(key models.RoomKey, connectionId, userId, displayName string) (models.Participant, []models.Participant) {
	if prev, ok := r.byConn[connectionId]; ok && prev != key {
		r.Leave(connectionId)
	}

	if displayName == "" {
		displayName = anonymousName
	}

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[string]*models.Participant)
		r.rooms[key] = room
	}

	p := &models.Participant{
		ConnectionId: connectionId,
		UserId:       userId,
		DisplayName:  displayName,
		Color:        randomColor(),
		LastSeenAt:   r.now(),
	}
	room[connectionId] = p
	r.byConn[connectionId] = key

	return *p, r.roster(room)
}

// Leave removes the connection from its room, deleting the room once
// empty. Idempotent. Returns the room key and the remaining roster for
// presence broadcast; ok is false if the connection was in no room.
func (r *Registry) Leave(connectionId string) (models.RoomKey, []models.Participant, bool) {
	key, ok := r.byConn[connectionId]
	if !ok {
		return models.RoomKey{}, nil, false
	}
	delete(r.byConn, connectionId)

	room := r.rooms[key]
	delete(room, connectionId)
	if len(room) == 0 {
		delete(r.rooms, key)
		return key, []models.Participant{}, true
	}
	return key, r.roster(room), true
}

// UpdateCursor overwrites the participant's cursor and refreshes
// LastSeenAt. No-op if the connection is not in any room. The caller is
// responsible for relaying the returned snapshot; the registry never
// broadcasts.
func (r *Registry) UpdateCursor(connectionId string, x, y float64) (models.Participant, models.RoomKey, bool) {
	key, ok := r.byConn[connectionId]
	if !ok {
		return models.Participant{}, models.RoomKey{}, false
	}
	p := r.rooms[key][connectionId]
	p.Cursor = &models.Cursor{X: x, Y: y}
	p.LastSeenAt = r.now()
	return *p, key, true
}

// Heartbeat refreshes LastSeenAt without changing any other state.
func (r *Registry) Heartbeat(connectionId string) bool {
	key, ok := r.byConn[connectionId]
	if !ok {
		return false
	}
	r.rooms[key][connectionId].LastSeenAt = r.now()
	return true
}

// RoomOf returns the room the connection currently occupies.
func (r *Registry) RoomOf(connectionId string) (models.RoomKey, bool) {
	key, ok := r.byConn[connectionId]
	return key, ok
}

// Participants returns the roster of a room, empty if the room is absent.
func (r *Registry) Participants(key models.RoomKey) []models.Participant {
	room, ok := r.rooms[key]
	if !ok {
		return []models.Participant{}
	}
	return r.roster(room)
}

// RoomsForPage returns every live room showing the given page, across
// both the board-room and page-room variants.
func (r *Registry) RoomsForPage(pageId string) []models.RoomKey {
	var keys []models.RoomKey
	for key := range r.rooms {
		if key.PageId == pageId {
			keys = append(keys, key)
		}
	}
	return keys
}

// Member reports whether the connection is a member of the given room.
func (r *Registry) Member(key models.RoomKey, connectionId string) bool {
	cur, ok := r.byConn[connectionId]
	return ok && cur == key
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	return len(r.rooms)
}

// PrunedRoom describes a room changed by a staleness sweep.
type PrunedRoom struct {
	Key       models.RoomKey
	Removed   []models.Participant
	Remaining []models.Participant
}

// PruneStale removes participants whose last activity is older than the
// threshold. This is the only path that reclaims connections that never
// sent a clean disconnect. Returns one entry per room that changed.
func (r *Registry) PruneStale(threshold time.Duration) []PrunedRoom {
	cutoff := r.now().Add(-threshold)
	var changed []PrunedRoom

	for key, room := range r.rooms {
		var removed []models.Participant
		for connId, p := range room {
			if p.LastSeenAt.Before(cutoff) {
				removed = append(removed, *p)
				delete(room, connId)
				delete(r.byConn, connId)
			}
		}
		if len(removed) == 0 {
			continue
		}
		pr := PrunedRoom{Key: key, Removed: removed, Remaining: r.roster(room)}
		if len(room) == 0 {
			delete(r.rooms, key)
			pr.Remaining = []models.Participant{}
		}
		changed = append(changed, pr)
	}
	return changed
}

func (r *Registry) roster(room map[string]*models.Participant) []models.Participant {
	out := make([]models.Participant, 0, len(room))
	for _, p := range room {
		out = append(out, *p)
	}
	return out
}
