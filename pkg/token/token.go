// Package token issues opaque time-limited reconnection tokens.
//
// Each participant has at most one live token. Issuing a new one retires
// the previous value, so a token is accepted once per disconnect episode:
// a successful reconnect reissues the token and the old one reads as consumed.
package token

import (
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/gofrs/uuid"
)

// Binding is what a token stands for.
type Binding struct {
	RoomId        string
	ParticipantId string
	ExpiresAt     time.Time
}

type entry struct {
	Binding
	consumed bool
}

type owner struct{ room, participant string }

type Store struct {
	ttl    time.Duration
	now    func() time.Time
	mu     sync.Mutex
	tokens map[string]*entry
	live   map[owner]string
}

type Option func(*Store)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]*entry),
		live:   make(map[owner]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ttl() time.Duration { return s.ttl }

// Issue creates a new token for the participant, the previous one becomes consumed.
func (s *Store) Issue(roomId, participantId string) (string, time.Time) {
	value := uuid.Must(uuid.NewV4()).String()
	expires := s.now().Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	o := owner{roomId, participantId}
	if prev, ok := s.live[o]; ok {
		if e := s.tokens[prev]; e != nil {
			e.consumed = true
		}
	}
	s.tokens[value] = &entry{Binding: Binding{RoomId: roomId, ParticipantId: participantId, ExpiresAt: expires}}
	s.live[o] = value
	return value, expires
}

// Resolve returns the binding of a live token.
func (s *Store) Resolve(token string) (Binding, error) {
	if token == "" {
		return Binding{}, api.ErrTokenInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[token]
	if !ok {
		return Binding{}, api.ErrTokenInvalid
	}
	if !s.now().Before(e.ExpiresAt) {
		return Binding{}, api.ErrTokenExpired
	}
	if e.consumed {
		return Binding{}, api.ErrTokenConsumed
	}
	return e.Binding, nil
}

// Extend keeps the live token of the participant valid at least until
// the given time. An expired token that is not swept yet comes back.
func (s *Store) Extend(roomId, participantId string, until time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.tokens[s.live[owner{roomId, participantId}]]
	if e == nil {
		return false
	}
	if e.ExpiresAt.Before(until) {
		e.ExpiresAt = until
	}
	return true
}

// Revoke forgets the token.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tokens[token]; ok {
		s.drop(token, e)
	}
}

// RevokeParticipant forgets every token of the participant.
func (s *Store) RevokeParticipant(roomId, participantId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.tokens {
		if e.RoomId == roomId && e.ParticipantId == participantId {
			s.drop(k, e)
		}
	}
}

// Sweep removes expired tokens and returns how many were removed.
func (s *Store) Sweep() (n int) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.tokens {
		if !now.Before(e.ExpiresAt) {
			s.drop(k, e)
			n++
		}
	}
	return
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) drop(token string, e *entry) {
	delete(s.tokens, token)
	o := owner{e.RoomId, e.ParticipantId}
	if s.live[o] == token {
		delete(s.live, o)
	}
}
