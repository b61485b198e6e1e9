// Package negotiation establishes one WebRTC connection per remote
// participant of a room.
//
// For every pair exactly one side makes offers: the one with the smaller
// participant id. The other side only answers. Remote ICE candidates that
// come before the remote description are buffered and applied in the same
// order right after it. An attempt that doesn't get connected in time is
// retried by the initiator with exponential backoff. After a terminal
// failure the pair stays down until the remote leaves or offers again.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/logger"
)

type Config struct {
	Deadline    time.Duration
	RetryBase   time.Duration
	MaxAttempts int
}

var DefaultConfig = Config{Deadline: 15 * time.Second, RetryBase: 2 * time.Second, MaxAttempts: 3}

type Coordinator struct {
	local  string
	conf   Config
	peers  PeerFactory
	signal Signaler
	ice    IceSource

	mu       sync.Mutex
	sessions map[string]*session
	failed   map[string]struct{}
	closed   bool

	onFailure   func(remote string, err error)
	onConnected func(remote string)

	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
}

func NewCoordinator(local string, conf Config, peers PeerFactory, signal Signaler, ice IceSource,
	log *logger.Logger) *Coordinator {
	if conf.Deadline <= 0 {
		conf.Deadline = DefaultConfig.Deadline
	}
	if conf.RetryBase <= 0 {
		conf.RetryBase = DefaultConfig.RetryBase
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if ice == nil {
		ice = StaticIce{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		local:    local,
		conf:     conf,
		peers:    peers,
		signal:   signal,
		ice:      ice,
		sessions: make(map[string]*session),
		failed:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.Extend(log.With().Str(logger.ModuleField, "nego").Str("pid", local)),
	}
}

// OnFailure sets the handler of terminal negotiation failures.
// Should be set before any negotiation.
func (c *Coordinator) OnFailure(fn func(remote string, err error)) { c.onFailure = fn }

// OnConnected sets the handler called each time a peer gets connected.
func (c *Coordinator) OnConnected(fn func(remote string)) { c.onConnected = fn }

// Connect makes sure there is a negotiation with the remote participant.
// Only the initiator starts it, the other side waits for an offer.
func (c *Coordinator) Connect(remote string) {
	s := c.session(remote)
	if s == nil || !s.initiator {
		return
	}
	go c.start(s, EvStart)
}

// Sync aligns the negotiations with the current room members.
func (c *Coordinator) Sync(members []string) {
	want := make(map[string]struct{}, len(members))
	for _, id := range members {
		if id == c.local || id == "" {
			continue
		}
		want[id] = struct{}{}
		c.Connect(id)
	}
	c.mu.Lock()
	var gone []string
	for id := range c.sessions {
		if _, ok := want[id]; !ok {
			gone = append(gone, id)
		}
	}
	for id := range c.failed {
		if _, ok := want[id]; !ok {
			delete(c.failed, id)
		}
	}
	c.mu.Unlock()
	for _, id := range gone {
		c.PeerLeft(id)
	}
}

// HandleOffer accepts a remote offer. Offers from a participant that
// should be answering are a mismatch.
func (c *Coordinator) HandleOffer(from string, d Description) {
	if IsInitiator(c.local, from) {
		if s := c.find(from); s != nil {
			c.run(s, func() error { return api.ErrNegotiation.With("unexpected offer from the answering side") })
		} else {
			c.log.Warn().Str("peer", from).Msg("Unexpected offer from the answering side")
		}
		return
	}
	c.mu.Lock()
	delete(c.failed, from)
	c.mu.Unlock()
	s := c.session(from)
	if s == nil {
		return
	}
	c.run(s, func() error {
		if s.state == Closed {
			return nil
		}
		if !s.fire(EvRemoteOffer) {
			return api.ErrNegotiation.With("unexpected offer in " + s.state.String())
		}
		gen := s.reset()
		s.stopTimers()
		// credentials may need a network call
		go c.answer(s, gen, d)
		return nil
	})
}

// HandleAnswer applies the answer to the outstanding offer.
func (c *Coordinator) HandleAnswer(from string, d Description) {
	s := c.find(from)
	if s == nil {
		c.log.Debug().Str("peer", from).Msg("Answer without session")
		return
	}
	c.run(s, func() error {
		switch s.state {
		case Closed:
			return nil
		case Failed:
			c.log.Debug().Str("peer", from).Msg("Late answer")
			return nil
		}
		if !s.fire(EvRemoteAnswer) {
			return api.ErrNegotiation.With("unexpected answer in " + s.state.String())
		}
		if err := s.peer.SetRemoteDescription(d); err != nil {
			return api.ErrNegotiation.With("remote answer: " + err.Error())
		}
		s.remoteSet = true
		c.flush(s)
		return nil
	})
}

// HandleCandidate applies a remote ICE candidate or buffers it
// until the remote description is set.
func (c *Coordinator) HandleCandidate(from string, cand Candidate) {
	s := c.session(from)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == Closed:
		c.log.Debug().Str("peer", from).Msg("Candidate for a closed session")
	case s.peer == nil || !s.remoteSet:
		s.pending = append(s.pending, cand)
	default:
		if err := s.peer.AddCandidate(cand); err != nil {
			c.log.Error().Err(err).Str("peer", from).Msg("Bad candidate")
		}
	}
}

// PeerLeft closes the negotiation with a participant that has left.
func (c *Coordinator) PeerLeft(remote string) {
	c.mu.Lock()
	delete(c.failed, remote)
	c.mu.Unlock()
	s := c.find(remote)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.fire(EvClose)
	s.release()
	c.drop(s)
	s.mu.Unlock()
	c.log.Debug().Str("peer", remote).Msg("Session closed")
}

// Close stops all the negotiations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	sessions := c.sessions
	c.sessions = make(map[string]*session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.fire(EvClose)
		s.release()
		s.mu.Unlock()
	}
}

// State returns the negotiation state with the remote participant.
func (c *Coordinator) State(remote string) (State, bool) {
	s := c.find(remote)
	if s == nil {
		return Closed, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// Peers returns all the remote participants with a negotiation.
func (c *Coordinator) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

func (c *Coordinator) start(s *session, ev Event) {
	if !s.can(ev) {
		return
	}
	ice := c.ice.Config(c.ctx)
	c.run(s, func() error {
		if !s.fire(ev) {
			return nil
		}
		gen := s.reset()
		s.attempt++
		if n := len(s.pending); n > 0 {
			c.log.Debug().Str("peer", s.remote).Int("n", n).Msg("Stale candidates dropped")
			s.pending = nil
		}
		c.arm(s, gen)
		peer, err := c.peers.NewPeer(ice, c.events(s, gen))
		if err != nil {
			return api.ErrNegotiation.With("peer: " + err.Error())
		}
		s.peer = peer
		offer, err := peer.CreateOffer()
		if err != nil {
			return api.ErrNegotiation.With("offer: " + err.Error())
		}
		s.fire(EvOfferSent)
		c.send(s, gen, "offer", func(ctx context.Context) error { return c.signal.SendOffer(ctx, s.remote, offer) })
		c.ready(s, gen)
		c.log.Debug().Str("peer", s.remote).Int("attempt", s.attempt).Bool("relay", ice.Relay).Msg("Offer")
		return nil
	})
}

func (c *Coordinator) answer(s *session, gen uint64, offer Description) {
	ice := c.ice.Config(c.ctx)
	c.run(s, func() error {
		if s.gen.Load() != gen || s.state != Answering {
			return nil
		}
		peer, err := c.peers.NewPeer(ice, c.events(s, gen))
		if err != nil {
			return api.ErrNegotiation.With("peer: " + err.Error())
		}
		s.peer = peer
		if err = peer.SetRemoteDescription(offer); err != nil {
			return api.ErrNegotiation.With("remote offer: " + err.Error())
		}
		s.remoteSet = true
		c.flush(s)
		answer, err := peer.CreateAnswer()
		if err != nil {
			return api.ErrNegotiation.With("answer: " + err.Error())
		}
		s.fire(EvAnswerSent)
		c.arm(s, gen)
		c.send(s, gen, "answer", func(ctx context.Context) error { return c.signal.SendAnswer(ctx, s.remote, answer) })
		c.ready(s, gen)
		c.log.Debug().Str("peer", s.remote).Bool("relay", ice.Relay).Msg("Answer")
		return nil
	})
}

func (c *Coordinator) events(s *session, gen uint64) PeerEvents {
	return PeerEvents{
		OnCandidate: func(cand Candidate) { c.localCandidate(s, gen, cand) },
		OnConnected: func() { go c.connected(s, gen) },
		OnFailed:    func(err error) { go c.iceFailed(s, gen, err) },
	}
}

// localCandidate sends a gathered candidate, only after the description.
func (c *Coordinator) localCandidate(s *session, gen uint64, cand Candidate) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.gen.Load() != gen {
		return
	}
	if !s.ready {
		s.early = append(s.early, cand)
		return
	}
	c.sendCandidate(s, gen, cand)
}

// ready marks that the local description is queued, so candidates can follow.
func (c *Coordinator) ready(s *session, gen uint64) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.ready = true
	for _, cand := range s.early {
		c.sendCandidate(s, gen, cand)
	}
	s.early = nil
}

func (c *Coordinator) sendCandidate(s *session, gen uint64, cand Candidate) {
	c.send(s, gen, "candidate", func(ctx context.Context) error { return c.signal.SendCandidate(ctx, s.remote, cand) })
}

func (c *Coordinator) flush(s *session) {
	n := len(s.pending)
	if n == 0 {
		return
	}
	applied, errs := s.flush()
	for _, err := range errs {
		c.log.Error().Err(err).Str("peer", s.remote).Msg("Bad candidate")
	}
	c.log.Debug().Str("peer", s.remote).Msgf("Buffered candidates: %v/%v", applied, n)
}

// send queues a signaling message of the current attempt.
func (c *Coordinator) send(s *session, gen uint64, what string, fn func(ctx context.Context) error) {
	s.out.do(func() {
		if s.gen.Load() != gen {
			return
		}
		err := fn(c.ctx)
		if err == nil {
			return
		}
		switch {
		case errors.Is(err, api.ErrTargetNotFound):
			c.log.Info().Str("peer", s.remote).Msgf("No %v target, peer is gone", what)
			c.PeerLeft(s.remote)
		case what == "candidate":
			c.log.Warn().Err(err).Str("peer", s.remote).Msg("Candidate is not sent")
		default:
			c.run(s, func() error {
				if s.gen.Load() != gen || s.state == Closed {
					return nil
				}
				return api.ErrNegotiation.With(fmt.Sprintf("%v: %v", what, err))
			})
		}
	})
}

// arm starts the deadline of the current attempt.
func (c *Coordinator) arm(s *session, gen uint64) {
	if s.deadline != nil {
		s.deadline.Stop()
	}
	s.deadline = time.AfterFunc(c.conf.Deadline, func() { c.timeout(s, gen) })
}

func (c *Coordinator) timeout(s *session, gen uint64) {
	c.run(s, func() error {
		if s.gen.Load() != gen || !s.fire(EvTimeout) {
			return nil
		}
		s.deadline = nil
		gen = s.reset()
		if !s.initiator {
			c.log.Info().Str("peer", s.remote).Msg("Not connected in time, waiting for a new offer")
			return nil
		}
		if s.attempt >= c.conf.MaxAttempts {
			return api.ErrNegotiation.With(fmt.Sprintf("not connected after %v attempts", s.attempt))
		}
		backoff := c.conf.RetryBase << (s.attempt - 1)
		c.log.Info().Str("peer", s.remote).Int("attempt", s.attempt).Dur("backoff", backoff).Msg("Not connected in time, retry")
		s.retry = time.AfterFunc(backoff, func() {
			if s.gen.Load() == gen {
				c.start(s, EvRetry)
			}
		})
		return nil
	})
}

func (c *Coordinator) connected(s *session, gen uint64) {
	s.mu.Lock()
	ok := s.gen.Load() == gen && s.fire(EvConnected)
	if ok {
		s.stopTimers()
		s.attempt = 0
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	c.log.Info().Str("peer", s.remote).Msg("Connected")
	if c.onConnected != nil {
		c.onConnected(s.remote)
	}
}

func (c *Coordinator) iceFailed(s *session, gen uint64, err error) {
	c.run(s, func() error {
		if s.gen.Load() != gen || s.state == Closed {
			return nil
		}
		return api.ErrNegotiation.With("ice: " + err.Error())
	})
}

// run calls fn under the session lock. An error from fn is a terminal
// failure: the session is released and the failure handler is called.
func (c *Coordinator) run(s *session, fn func() error) {
	s.mu.Lock()
	err := fn()
	if err != nil {
		s.fire(EvError)
		s.release()
		c.drop(s)
		c.mu.Lock()
		c.failed[s.remote] = struct{}{}
		c.mu.Unlock()
	}
	s.mu.Unlock()
	if err == nil {
		return
	}
	c.log.Warn().Err(err).Str("peer", s.remote).Msg("Negotiation has failed")
	if c.onFailure != nil {
		c.onFailure(s.remote, err)
	}
}

// session returns the session with the remote participant, a new one if needed.
// A failed pair gets nil.
func (c *Coordinator) session(remote string) *session {
	if remote == "" || remote == c.local {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if _, ok := c.failed[remote]; ok {
		return nil
	}
	if s, ok := c.sessions[remote]; ok {
		return s
	}
	s := newSession(c.local, remote)
	c.sessions[remote] = s
	return s
}

func (c *Coordinator) find(remote string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[remote]
}

// drop removes the session from the list if it's still there.
func (c *Coordinator) drop(s *session) {
	c.mu.Lock()
	if c.sessions[s.remote] == s {
		delete(c.sessions, s.remote)
	}
	c.mu.Unlock()
}
