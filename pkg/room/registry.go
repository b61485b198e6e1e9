// Package room keeps meeting rooms and their participants.
//
// All mutations of one room are serialized by the room lock, different rooms
// are independent. The socket index (socket id -> room id) is changed only
// while holding the lock of the room it points to.
package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/com"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/token"
)

// Purger wipes the chat history of a room.
type Purger interface {
	Purge(ctx context.Context, roomId string) error
}

type Config struct {
	MaxParticipants int
	Grace           time.Duration
	Timeout         time.Duration
	PurgeTimeout    time.Duration
}

type Registry struct {
	conf    Config
	rooms   com.Map[string, *room]
	sockets com.Map[string, string]
	tokens  *token.Store
	purger  Purger
	log     *logger.Logger
	now     func() time.Time

	// guards room creation
	mu       sync.Mutex
	onExpire func(Removed)
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }
func WithPurger(p Purger) Option            { return func(r *Registry) { r.purger = p } }

func NewRegistry(conf Config, tokens *token.Store, log *logger.Logger, opts ...Option) *Registry {
	if conf.MaxParticipants <= 0 {
		conf.MaxParticipants = 10
	}
	if conf.PurgeTimeout <= 0 {
		conf.PurgeTimeout = 5 * time.Second
	}
	r := &Registry{
		conf:     conf,
		rooms:    com.Map[string, *room]{},
		sockets:  com.Map[string, string]{},
		tokens:   tokens,
		log:      log.Extend(log.With().Str(logger.ModuleField, "room")),
		now:      time.Now,
		onExpire: func(Removed) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnExpire sets a callback for participants removed after their grace window.
// It is called outside any room lock.
func (r *Registry) OnExpire(fn func(Removed)) { r.onExpire = fn }

func (r *Registry) Grace() time.Duration { return r.conf.Grace }

// CreateRoom makes a new room with the caller as its creator.
// An empty id gets a generated one.
func (r *Registry) CreateRoom(roomId, socketId string, profile Profile) (Joined, error) {
	roomId = strings.TrimSpace(roomId)
	if roomId == "" {
		roomId = com.NewUid().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, err := r.rooms.Find(roomId); err == nil {
		old.mu.Lock()
		active := old.isActive
		old.mu.Unlock()
		if active {
			return Joined{}, api.ErrRoomAlreadyActive
		}
	}

	now := r.now()
	rm := &room{
		id:              roomId,
		createdAt:       now,
		lastActivity:    now,
		isActive:        true,
		maxParticipants: r.conf.MaxParticipants,
		timeout:         r.conf.Timeout,
		participants:    make(map[string]*participant, r.conf.MaxParticipants),
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := r.newParticipant(rm, socketId, profile)
	p.isCreator = true
	r.rooms.Put(roomId, rm)
	r.log.Info().Str("room", roomId).Str("pid", p.id).Msg("Room created")
	return Joined{Snapshot: rm.snapshot(), Participant: p.view(), Token: p.token}, nil
}

// AddParticipant joins the room. A token of a disconnected participant of this
// room brings back the same identity, any other token is ignored and
// a new participant is created.
func (r *Registry) AddParticipant(roomId, socketId string, profile Profile, tok string) (Joined, error) {
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return Joined{}, api.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isActive {
		return Joined{}, api.ErrRoomInactive
	}
	if p := rm.bySocket(socketId); p != nil {
		return r.rejoin(rm, p, "")
	}

	if tok != "" {
		p, err := r.claim(rm, tok)
		if err == nil {
			r.reattach(rm, p, socketId)
			return Joined{Snapshot: rm.snapshot(), Participant: p.view(), Token: p.token, IsReconnection: true}, nil
		}
		r.log.Debug().Err(err).Str("room", roomId).Msg("Token ignored, fresh join")
	}

	if rm.isFull() {
		return Joined{}, api.ErrRoomFull
	}
	p := r.newParticipant(rm, socketId, profile)
	r.log.Info().Str("room", roomId).Str("pid", p.id).Msg("Participant joined")
	return Joined{Snapshot: rm.snapshot(), Participant: p.view(), Token: p.token}, nil
}

// Reconnect brings back a disconnected participant by its token.
// Unlike AddParticipant it fails with a token error instead of a fresh join.
func (r *Registry) Reconnect(roomId, socketId, tok string) (Joined, error) {
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return Joined{}, api.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isActive {
		return Joined{}, api.ErrRoomInactive
	}
	if p := rm.bySocket(socketId); p != nil {
		return r.rejoin(rm, p, tok)
	}
	p, err := r.claim(rm, tok)
	if err != nil {
		return Joined{}, err
	}
	r.reattach(rm, p, socketId)
	return Joined{Snapshot: rm.snapshot(), Participant: p.view(), Token: p.token, IsReconnection: true}, nil
}

// rejoin answers a socket that asks for the room it is already in.
// Nothing changes, a token if given must be the current one of the socket.
func (r *Registry) rejoin(rm *room, p *participant, tok string) (Joined, error) {
	if tok != "" && tok != p.token {
		if _, err := r.claim(rm, tok); err != nil {
			return Joined{}, err
		}
		return Joined{}, api.ErrValidation.With("already in the room")
	}
	return Joined{Snapshot: rm.snapshot(), Participant: p.view(), Token: p.token, Unchanged: true}, nil
}

// claim checks that the token belongs to a disconnected participant of the room.
// Must be called under the room lock.
func (r *Registry) claim(rm *room, tok string) (*participant, error) {
	b, err := r.tokens.Resolve(tok)
	if err != nil {
		return nil, err
	}
	if b.RoomId != rm.id {
		return nil, api.ErrTokenInvalid.With("another room")
	}
	p := rm.participants[b.ParticipantId]
	if p == nil {
		return nil, api.ErrTokenInvalid.With("no participant")
	}
	if p.isConnected {
		return nil, api.ErrTokenConsumed
	}
	return p, nil
}

func (r *Registry) reattach(rm *room, p *participant, socketId string) {
	p.stopGrace()
	p.episode++
	p.socketId = socketId
	p.isConnected = true
	p.lastSeen = r.now()
	p.token, _ = r.tokens.Issue(rm.id, p.id)
	rm.lastActivity = p.lastSeen
	r.sockets.Put(socketId, rm.id)
	r.log.Info().Str("room", rm.id).Str("pid", p.id).Msg("Participant reconnected")
}

func (r *Registry) newParticipant(rm *room, socketId string, profile Profile) *participant {
	now := r.now()
	p := &participant{
		id:          com.NewUid().String(),
		socketId:    socketId,
		userName:    strings.TrimSpace(profile.UserName),
		joinedAt:    now,
		lastSeen:    now,
		isConnected: true,
		media:       api.MediaStatus{HasAudio: true, HasVideo: true},
	}
	p.token, _ = r.tokens.Issue(rm.id, p.id)
	rm.participants[p.id] = p
	rm.lastActivity = now
	r.sockets.Put(socketId, rm.id)
	return p
}

// RemoveParticipant handles a user leave (explicit) or a lost connection.
// A disconnected participant stays in the room for the grace window.
func (r *Registry) RemoveParticipant(socketId string, explicit bool) (Removed, error) {
	rm, p, err := r.lockBySocket(socketId)
	if err != nil {
		return Removed{}, err
	}
	defer rm.mu.Unlock()

	r.sockets.RemoveByKey(socketId)
	now := r.now()
	rm.lastActivity = now

	if explicit {
		p.isConnected = false
		emptied := r.drop(rm, p)
		r.log.Info().Str("room", rm.id).Str("pid", p.id).Msg("Participant left")
		return Removed{Snapshot: rm.snapshot(), Participant: p.view(), Explicit: true, Emptied: emptied}, nil
	}

	p.isConnected = false
	p.lastSeen = now
	p.episode++
	p.stopGrace()
	r.tokens.Extend(rm.id, p.id, now.Add(r.conf.Grace))
	ep, pid := p.episode, p.id
	p.grace = time.AfterFunc(r.conf.Grace, func() { r.expire(rm, pid, ep) })
	r.log.Info().Str("room", rm.id).Str("pid", p.id).Dur("grace", r.conf.Grace).Msg("Participant disconnected")
	return Removed{Snapshot: rm.snapshot(), Participant: p.view()}, nil
}

// Detach takes the socket out of the given room as an explicit leave.
// Used when the socket has already moved to another room, so the socket
// index is kept unless it still points here.
func (r *Registry) Detach(roomId, socketId string) (Removed, error) {
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return Removed{}, api.ErrNotInRoom
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.bySocket(socketId)
	if p == nil {
		return Removed{}, api.ErrNotInRoom
	}
	r.sockets.CompareAndRemove(socketId, func(v string) bool { return v == roomId })
	rm.lastActivity = r.now()
	p.isConnected = false
	emptied := r.drop(rm, p)
	r.log.Info().Str("room", rm.id).Str("pid", p.id).Msg("Participant moved out")
	return Removed{Snapshot: rm.snapshot(), Participant: p.view(), Explicit: true, Emptied: emptied}, nil
}

func (r *Registry) expire(rm *room, pid string, episode uint64) {
	rm.mu.Lock()
	p := rm.participants[pid]
	if p == nil || p.isConnected || p.episode != episode {
		rm.mu.Unlock()
		return
	}
	p.grace = nil
	rm.lastActivity = r.now()
	emptied := r.drop(rm, p)
	res := Removed{Snapshot: rm.snapshot(), Participant: p.view(), Emptied: emptied}
	rm.mu.Unlock()

	r.log.Info().Str("room", rm.id).Str("pid", pid).Msg("Participant expired")
	r.onExpire(res)
}

// drop removes the participant from the room, must be called under the room lock.
// Returns true when the room became empty.
func (r *Registry) drop(rm *room, p *participant) bool {
	p.stopGrace()
	delete(rm.participants, p.id)
	r.tokens.RevokeParticipant(rm.id, p.id)
	if p.isCreator {
		if next := rm.passCreator(); next != nil {
			r.log.Debug().Str("room", rm.id).Str("pid", next.id).Msg("Creator passed")
		}
	}
	if len(rm.participants) > 0 || !rm.isActive {
		return false
	}
	rm.isActive = false
	r.purge(rm.id)
	return true
}

func (r *Registry) purge(roomId string) {
	if r.purger == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.conf.PurgeTimeout)
		defer cancel()
		if err := r.purger.Purge(ctx, roomId); err != nil {
			r.log.Error().Err(err).Str("room", roomId).Msg("Chat purge fail")
		}
	}()
}

// lockBySocket returns the locked room of the socket and its participant.
func (r *Registry) lockBySocket(socketId string) (*room, *participant, error) {
	roomId, err := r.sockets.Find(socketId)
	if err != nil {
		return nil, nil, api.ErrNotInRoom
	}
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return nil, nil, api.ErrNotInRoom
	}
	rm.mu.Lock()
	p := rm.bySocket(socketId)
	if p == nil {
		rm.mu.Unlock()
		return nil, nil, api.ErrNotInRoom
	}
	return rm, p, nil
}

// UpdateMedia changes the media flags of the caller in the room.
func (r *Registry) UpdateMedia(socketId, roomId string, status api.MediaStatus) (Snapshot, api.Participant, error) {
	rm, p, err := r.lockBySocket(socketId)
	if err != nil {
		return Snapshot{}, api.Participant{}, err
	}
	defer rm.mu.Unlock()
	if rm.id != roomId {
		return Snapshot{}, api.Participant{}, api.ErrNotInRoom
	}
	p.media = status
	p.lastSeen = r.now()
	rm.lastActivity = p.lastSeen
	return rm.snapshot(), p.view(), nil
}

// CloseRoom marks the room inactive and removes everyone from it.
// The returned snapshot holds the members as they were before the close.
func (r *Registry) CloseRoom(roomId string) (Snapshot, error) {
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return Snapshot{}, api.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.isActive {
		return Snapshot{}, api.ErrRoomInactive
	}
	before := rm.snapshot()
	for _, p := range rm.participants {
		p.stopGrace()
		if p.isConnected {
			r.sockets.RemoveByKey(p.socketId)
		}
		r.tokens.RevokeParticipant(rm.id, p.id)
	}
	rm.participants = make(map[string]*participant)
	rm.isActive = false
	rm.lastActivity = r.now()
	r.purge(rm.id)
	before.Room.IsActive = false
	r.log.Info().Str("room", roomId).Msg("Room closed")
	return before, nil
}

// GetRoomById returns a read-only copy of the room.
func (r *Registry) GetRoomById(roomId string) (Snapshot, error) {
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return Snapshot{}, api.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshot(), nil
}

// GetRoomBySocketId returns a read-only copy of the room the socket is in.
func (r *Registry) GetRoomBySocketId(socketId string) (Snapshot, error) {
	rm, _, err := r.lockBySocket(socketId)
	if err != nil {
		return Snapshot{}, err
	}
	defer rm.mu.Unlock()
	return rm.snapshot(), nil
}

// RoomOf returns the id of the room the socket is in.
func (r *Registry) RoomOf(socketId string) (string, bool) {
	id, err := r.sockets.Find(socketId)
	return id, err == nil
}

// Participant returns the participant attached to the socket and its room id.
func (r *Registry) Participant(socketId string) (string, api.Participant, error) {
	rm, p, err := r.lockBySocket(socketId)
	if err != nil {
		return "", api.Participant{}, err
	}
	defer rm.mu.Unlock()
	return rm.id, p.view(), nil
}

// Member returns a participant of the room by its id.
func (r *Registry) Member(roomId, participantId string) (api.Participant, error) {
	rm, err := r.rooms.Find(roomId)
	if err != nil {
		return api.Participant{}, api.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.participants[participantId]
	if p == nil {
		return api.Participant{}, api.ErrTargetNotFound
	}
	return p.view(), nil
}

// ReconnectWindow tells for a token of a disconnected participant
// its room and how much time is left to reconnect.
func (r *Registry) ReconnectWindow(tok string) (string, time.Duration, error) {
	b, err := r.tokens.Resolve(tok)
	if err != nil {
		return "", 0, err
	}
	rm, err := r.rooms.Find(b.RoomId)
	if err != nil {
		return "", 0, api.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.isActive {
		return "", 0, api.ErrRoomInactive
	}
	p := rm.participants[b.ParticipantId]
	if p == nil {
		return "", 0, api.ErrTokenInvalid
	}
	if p.isConnected {
		return "", 0, api.ErrTokenConsumed
	}
	now := r.now()
	left := r.conf.Grace - now.Sub(p.lastSeen)
	if tl := b.ExpiresAt.Sub(now); tl < left {
		left = tl
	}
	if left <= 0 {
		return "", 0, api.ErrTokenExpired
	}
	return rm.id, left, nil
}

// Rooms returns the number of active rooms.
func (r *Registry) Rooms() (n int) {
	for _, rm := range r.rooms.Values() {
		rm.mu.Lock()
		if rm.isActive {
			n++
		}
		rm.mu.Unlock()
	}
	return
}

// Sweep drops inactive rooms idle for longer than their timeout
// and expired tokens. Tokens of connected participants are kept.
func (r *Registry) Sweep() (rooms int, tokens int) {
	now := r.now()
	r.mu.Lock()
	for _, rm := range r.rooms.Values() {
		rm.mu.Lock()
		for _, p := range rm.participants {
			if p.isConnected {
				r.tokens.Extend(rm.id, p.id, now.Add(r.conf.Grace))
			}
		}
		stale := !rm.isActive && len(rm.participants) == 0 && now.Sub(rm.lastActivity) >= rm.timeout
		rm.mu.Unlock()
		if stale && r.rooms.CompareAndRemove(rm.id, func(v *room) bool { return v == rm }) {
			rooms++
		}
	}
	r.mu.Unlock()
	tokens = r.tokens.Sweep()
	return
}
