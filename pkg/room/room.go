package room

import (
	"sort"
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
)

// Profile is what a participant tells about itself on join.
type Profile struct {
	UserName string
}

type participant struct {
	id          string
	socketId    string
	userName    string
	isCreator   bool
	joinedAt    time.Time
	lastSeen    time.Time
	isConnected bool
	media       api.MediaStatus
	token       string

	// episode changes on each disconnect and reconnect,
	// a grace timer only removes the participant of its own episode
	episode uint64
	grace   *time.Timer
}

func (p *participant) view() api.Participant {
	v := api.Participant{
		Id:          p.id,
		UserName:    p.userName,
		IsCreator:   p.isCreator,
		JoinedAt:    p.joinedAt,
		LastSeen:    p.lastSeen,
		IsConnected: p.isConnected,
		MediaStatus: p.media,
	}
	if p.isConnected {
		sid := p.socketId
		v.SocketId = &sid
	}
	return v
}

func (p *participant) stopGrace() {
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
}

// room state, guarded by its mutex.
type room struct {
	id              string
	createdAt       time.Time
	lastActivity    time.Time
	isActive        bool
	maxParticipants int
	timeout         time.Duration
	participants    map[string]*participant

	mu sync.Mutex
}

func (r *room) view() api.Room {
	return api.Room{
		Id:               r.id,
		CreatedAt:        r.createdAt,
		LastActivity:     r.lastActivity,
		ParticipantCount: len(r.participants),
		MaxParticipants:  r.maxParticipants,
		IsActive:         r.isActive,
		TimeoutDuration:  r.timeout.Milliseconds(),
	}
}

// members returns participant views ordered by join time.
func (r *room) members() []api.Participant {
	out := make([]api.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.view())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *room) isFull() bool { return len(r.participants) >= r.maxParticipants }

func (r *room) bySocket(socketId string) *participant {
	for _, p := range r.participants {
		if p.isConnected && p.socketId == socketId {
			return p
		}
	}
	return nil
}

// passCreator moves the creator flag to the earliest joined participant
// when nobody has it.
func (r *room) passCreator() *participant {
	var next *participant
	for _, p := range r.participants {
		if p.isCreator {
			return nil
		}
		if next == nil || p.joinedAt.Before(next.joinedAt) ||
			(p.joinedAt.Equal(next.joinedAt) && p.id < next.id) {
			next = p
		}
	}
	if next != nil {
		next.isCreator = true
	}
	return next
}

// Snapshot is a consistent read-only copy of a room.
type Snapshot struct {
	Room         api.Room
	Participants []api.Participant
}

func (r *room) snapshot() Snapshot { return Snapshot{Room: r.view(), Participants: r.members()} }

// Joined is a result of a successful create, join or reconnect.
type Joined struct {
	Snapshot
	Participant    api.Participant
	Token          string
	IsReconnection bool
	// Unchanged tells that the socket was already there.
	Unchanged bool
}

// Removed is a result of a participant leave, disconnect or expiry.
type Removed struct {
	Snapshot
	Participant api.Participant
	Explicit    bool
	// Emptied tells that the room had no one left after the removal.
	Emptied bool
}
