package token

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time      { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *clock) add(d time.Duration) { c.mu.Lock(); c.t = c.t.Add(d); c.mu.Unlock() }
func newClock() *clock               { return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestIssueResolve(t *testing.T) {
	c := newClock()
	s := New(time.Minute, WithClock(c.now))

	tok, exp := s.Issue("r", "p1")
	if tok == "" || !exp.Equal(c.now().Add(time.Minute)) {
		t.Fatalf("bad token %v %v", tok, exp)
	}
	b, err := s.Resolve(tok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.RoomId != "r" || b.ParticipantId != "p1" {
		t.Errorf("wrong binding %+v", b)
	}
}

func TestResolveErrors(t *testing.T) {
	c := newClock()
	s := New(time.Minute, WithClock(c.now))

	old, _ := s.Issue("r", "p1")
	fresh, _ := s.Issue("r", "p1")
	expiring, _ := s.Issue("r", "p2")

	tests := []struct {
		name  string
		token string
		err   error
		after time.Duration
	}{
		{name: "empty", token: "", err: api.ErrTokenInvalid},
		{name: "unknown", token: "nope", err: api.ErrTokenInvalid},
		{name: "reissued", token: old, err: api.ErrTokenConsumed},
		{name: "live", token: fresh},
		{name: "expired", token: expiring, err: api.ErrTokenExpired, after: time.Minute},
		{name: "expired stays expired", token: expiring, err: api.ErrTokenExpired},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c.add(test.after)
			_, err := s.Resolve(test.token)
			if !errors.Is(err, test.err) {
				t.Errorf("expected %v, got %v", test.err, err)
			}
			if test.err != nil && !api.IsClass(err, api.ClassToken) {
				t.Errorf("expected a token error, got %v", err)
			}
		})
	}
}

func TestRevoke(t *testing.T) {
	s := New(time.Minute)
	a, _ := s.Issue("r", "p1")
	b, _ := s.Issue("r", "p2")

	s.Revoke(a)
	if _, err := s.Resolve(a); !errors.Is(err, api.ErrTokenInvalid) {
		t.Errorf("revoked token is alive: %v", err)
	}
	s.RevokeParticipant("r", "p2")
	if _, err := s.Resolve(b); !errors.Is(err, api.ErrTokenInvalid) {
		t.Errorf("participant token is alive: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %v", s.Len())
	}
}

func TestSweep(t *testing.T) {
	c := newClock()
	s := New(time.Minute, WithClock(c.now))
	s.Issue("r", "p1")
	s.Issue("r", "p2")
	c.add(30 * time.Second)
	s.Issue("r", "p3")
	c.add(30 * time.Second)

	if n := s.Sweep(); n != 2 {
		t.Errorf("expected 2 swept, got %v", n)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 left, got %v", s.Len())
	}
}

func TestExtend(t *testing.T) {
	c := newClock()
	s := New(time.Minute, WithClock(c.now))
	old, _ := s.Issue("r", "p1")
	tok, _ := s.Issue("r", "p1")

	c.add(2 * time.Minute)
	if _, err := s.Resolve(tok); !errors.Is(err, api.ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if !s.Extend("r", "p1", c.now().Add(30*time.Second)) {
		t.Fatalf("live token not found")
	}
	if _, err := s.Resolve(tok); err != nil {
		t.Errorf("extended token: %v", err)
	}
	if _, err := s.Resolve(old); !errors.Is(err, api.ErrTokenExpired) {
		t.Errorf("retired token must not be extended, got %v", err)
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("only the retired token is swept")
	}
	if s.Extend("r", "nobody", c.now()) {
		t.Errorf("extended a token of nobody")
	}
}

func TestUniqueTokens(t *testing.T) {
	s := New(time.Minute)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, _ := s.Issue("r", "p")
		if _, ok := seen[tok]; ok {
			t.Fatalf("duplicate token %v", tok)
		}
		seen[tok] = struct{}{}
	}
}
