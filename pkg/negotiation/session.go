package negotiation

import (
	"sync"
	"sync/atomic"
	"time"
)

// session is the negotiation with one remote participant.
// Every field except gen and out is guarded by mu.
type session struct {
	remote    string
	initiator bool

	mu        sync.Mutex
	state     State
	peer      Peer
	remoteSet bool
	pending   []Candidate
	attempt   int
	deadline  *time.Timer
	retry     *time.Timer

	// gen changes with every new connection handle,
	// callbacks of the older ones are ignored.
	gen atomic.Uint64
	out outbox

	// local candidates wait here until the offer or answer is queued
	lmu   sync.Mutex
	ready bool
	early []Candidate
}

func newSession(local, remote string) *session {
	return &session{remote: remote, initiator: IsInitiator(local, remote)}
}

// fire applies the event, false means the event is not allowed in the current state.
func (s *session) fire(e Event) bool {
	to, ok := Next(s.state, e)
	if ok {
		s.state = to
	}
	return ok
}

// can tells if the event is allowed in the current state.
func (s *session) can(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := Next(s.state, e)
	return ok
}

func (s *session) stopTimers() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// reset drops the connection handle before a new attempt
// and returns the new generation.
func (s *session) reset() uint64 {
	s.closePeer()
	s.remoteSet = false
	s.lmu.Lock()
	s.ready = false
	s.early = nil
	s.lmu.Unlock()
	return s.gen.Add(1)
}

func (s *session) closePeer() {
	if s.peer != nil {
		_ = s.peer.Close()
		s.peer = nil
	}
}

// flush applies buffered candidates in the order they came.
// Should be called right after the remote description is set.
func (s *session) flush() (applied int, errs []error) {
	for _, c := range s.pending {
		if err := s.peer.AddCandidate(c); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}
	s.pending = nil
	return
}

// release frees everything the session has, it can't be used after.
func (s *session) release() {
	s.stopTimers()
	s.closePeer()
	s.pending = nil
	s.remoteSet = false
	s.state = Closed
	s.gen.Add(1)
	s.lmu.Lock()
	s.early = nil
	s.lmu.Unlock()
	s.out.clear()
}
