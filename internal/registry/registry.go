// Package registry is the process-wide table of active rooms and their
// membership. It is the single source of truth for who is in which room and
// in what role.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roomcast/roomcast/internal/metrics"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Participant is one signaling session's membership entry. The signaling
// channel that created it owns it; the registry only holds a lookup
// reference for the channel's lifetime.
type Participant struct {
	ConnID   string
	Identity string
	Role     Role
	RoomID   string
	JoinedAt time.Time
}

// LeaveResult describes the side effects of removing a participant.
type LeaveResult struct {
	Removed       bool
	PublisherLeft bool
	RoomDeleted   bool
	// Subscribers remaining in the room at the moment the publisher left,
	// in join order. Empty unless PublisherLeft.
	Subscribers []*Participant
}

// Room groups one publisher and zero or more subscribers. Membership
// mutations are serialized by the room's own mutex so different rooms never
// contend.
type Room struct {
	ID string

	mu            sync.Mutex
	participants  []*Participant
	publisherConn string
	deleted       bool
}

// Publisher returns the current publisher, or nil if the room has none.
func (r *Room) Publisher() *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.ConnID == r.publisherConn {
			return p
		}
	}
	return nil
}

// Participants returns a join-ordered snapshot of the membership.
func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Registry maps room IDs to rooms. The registry-level mutex guards only
// room creation, deletion and listing.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	capacity int
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns an empty registry. capacity bounds participants per room;
// 0 means unlimited.
func New(capacity int, m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		capacity: capacity,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateRoom inserts an empty room under id.
func (reg *Registry) CreateRoom(id string) (*Room, error) {
	if id == "" {
		return nil, errors.New("empty room id")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[id]; ok {
		return nil, ErrRoomExists
	}
	room := &Room{ID: id}
	reg.rooms[id] = room
	reg.metrics.Inc(metrics.RoomCreated)
	return room, nil
}

// ListRooms returns a sorted snapshot of room IDs.
func (reg *Registry) ListRooms() []string {
	reg.mu.RLock()
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	reg.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (reg *Registry) room(id string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[id]
}

// Join adds a connection to a room. The joiner becomes the publisher when
// the room has none, otherwise a subscriber.
func (reg *Registry) Join(roomID, connID, identity string) (*Participant, error) {
	room := reg.room(roomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.deleted {
		return nil, ErrRoomNotFound
	}
	if reg.capacity > 0 && len(room.participants) >= reg.capacity {
		return nil, ErrRoomFull
	}

	p := &Participant{
		ConnID:   connID,
		Identity: identity,
		Role:     RoleSubscriber,
		RoomID:   roomID,
		JoinedAt: reg.now(),
	}
	if room.publisherConn == "" {
		p.Role = RolePublisher
		room.publisherConn = connID
	}
	room.participants = append(room.participants, p)
	reg.metrics.Inc(metrics.ParticipantJoined)
	return p, nil
}

// Leave removes a connection from a room. It is idempotent: leaving an
// unknown room or a room the connection is not in is a no-op. When the
// removed participant was the publisher the result carries the remaining
// subscribers so the caller can cascade. An emptied room is deleted.
func (reg *Registry) Leave(roomID, connID string) LeaveResult {
	room := reg.room(roomID)
	if room == nil {
		return LeaveResult{}
	}

	room.mu.Lock()
	var res LeaveResult
	for i, p := range room.participants {
		if p.ConnID != connID {
			continue
		}
		room.participants = append(room.participants[:i], room.participants[i+1:]...)
		res.Removed = true
		if room.publisherConn == connID {
			room.publisherConn = ""
			res.PublisherLeft = true
			res.Subscribers = make([]*Participant, len(room.participants))
			copy(res.Subscribers, room.participants)
		}
		break
	}
	if res.Removed && len(room.participants) == 0 {
		room.deleted = true
		res.RoomDeleted = true
	}
	room.mu.Unlock()

	if res.Removed {
		reg.metrics.Inc(metrics.ParticipantLeft)
	}
	if res.PublisherLeft {
		reg.metrics.Inc(metrics.PublisherLeftCascade)
	}
	if res.RoomDeleted {
		reg.mu.Lock()
		if reg.rooms[roomID] == room {
			delete(reg.rooms, roomID)
		}
		reg.mu.Unlock()
		reg.metrics.Inc(metrics.RoomDeleted)
	}
	return res
}

// Lookup returns the participant registered under (roomID, connID), or nil.
func (reg *Registry) Lookup(roomID, connID string) *Participant {
	room := reg.room(roomID)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	for _, p := range room.participants {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}
