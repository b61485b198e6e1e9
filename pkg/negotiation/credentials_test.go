package negotiation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/logger"
)

type fakeSource struct {
	calls atomic.Int32

	mu   sync.Mutex
	cred api.RelayCredential
	ttl  time.Duration // renews ExpiresAt on each fetch if set
	err  error
}

func (f *fakeSource) Fetch(context.Context) (api.RelayCredential, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return api.RelayCredential{}, f.err
	}
	if f.ttl > 0 {
		f.cred.ExpiresAt = time.Now().Add(f.ttl)
	}
	return f.cred, nil
}

var fallback = IceConfig{Servers: []IceServer{{Urls: []string{"stun:stun.l.google.com:19302"}}}}

func relayCred(expires time.Time) api.RelayCredential {
	return api.RelayCredential{
		Identity:  "1700000000:meet:a",
		Secret:    "c2VjcmV0",
		Ttl:       3600,
		Servers:   []string{"stun:turn.example.com:3478", "turn:turn.example.com:3478?transport=udp"},
		ExpiresAt: expires,
	}
}

func TestCredentialsFallback(t *testing.T) {
	src := &fakeSource{err: errors.New("no socket")}
	c := NewCredentials(src, fallback, 30*time.Second, time.Second, logger.Nop())
	defer c.Close()

	conf := c.Config(context.Background())
	if conf.Relay || len(conf.Servers) != 1 || conf.Servers[0].Urls[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("not a fallback: %+v", conf)
	}
	// no caching of failures
	c.Config(context.Background())
	if n := src.calls.Load(); n != 2 {
		t.Errorf("fetches: %v", n)
	}
}

func TestCredentialsCached(t *testing.T) {
	src := &fakeSource{cred: relayCred(time.Now().Add(time.Hour))}
	c := NewCredentials(src, fallback, 30*time.Second, time.Second, logger.Nop())
	defer c.Close()

	conf := c.Config(context.Background())
	c.Config(context.Background())

	if n := src.calls.Load(); n != 1 {
		t.Errorf("fetches: %v", n)
	}
	if !conf.Relay || len(conf.Servers) != 2 {
		t.Fatalf("config: %+v", conf)
	}
	stun, turn := conf.Servers[0], conf.Servers[1]
	if stun.Username != "" || stun.Urls[0] != "stun:turn.example.com:3478" {
		t.Errorf("stun: %+v", stun)
	}
	if turn.Username != "1700000000:meet:a" || turn.Credential != "c2VjcmV0" {
		t.Errorf("turn: %+v", turn)
	}
	if cur, ok := c.Current(); !ok || cur.Identity != "1700000000:meet:a" {
		t.Errorf("current: %+v", cur)
	}
}

func TestCredentialsExpired(t *testing.T) {
	now := time.Now()
	src := &fakeSource{cred: relayCred(now.Add(time.Hour))}
	c := NewCredentials(src, fallback, 30*time.Second, time.Second, logger.Nop(),
		WithCredentialsClock(func() time.Time { return now }))
	defer c.Close()

	c.Config(context.Background())
	now = now.Add(2 * time.Hour)
	c.Config(context.Background())

	if n := src.calls.Load(); n != 2 {
		t.Errorf("fetches: %v", n)
	}
}

func TestCredentialsRefresh(t *testing.T) {
	src := &fakeSource{cred: relayCred(time.Time{}), ttl: 100 * time.Millisecond}
	c := NewCredentials(src, fallback, 60*time.Millisecond, time.Second, logger.Nop())

	c.Config(context.Background())
	eventually(t, "refresh", func() bool { return src.calls.Load() >= 3 })

	c.Close()
	n := src.calls.Load()
	time.Sleep(120 * time.Millisecond)
	if m := src.calls.Load(); m != n {
		t.Errorf("refresh after close: %v -> %v", n, m)
	}
}

func TestCredentialsWithoutSecret(t *testing.T) {
	src := &fakeSource{cred: api.RelayCredential{Servers: []string{"stun:stun.example.com:3478"}}}
	c := NewCredentials(src, fallback, 30*time.Second, time.Second, logger.Nop())
	defer c.Close()

	conf := c.Config(context.Background())
	if conf.Relay || len(conf.Servers) != 1 || conf.Servers[0].Urls[0] != "stun:stun.example.com:3478" {
		t.Errorf("config: %+v", conf)
	}
	if _, ok := c.Current(); ok {
		t.Errorf("cached credentials without a secret")
	}
}
