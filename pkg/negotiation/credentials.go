package negotiation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/logger"
)

// Credentials keeps relay (TURN) credentials fresh.
// They are fetched on the first use and refreshed in the background
// margin before they expire. When fetching fails, the fallback
// (STUN only) servers are used.
type Credentials struct {
	src      CredentialSource
	fallback IceConfig
	margin   time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cur    *api.RelayCredential
	timer  *time.Timer
	closed bool
	log    *logger.Logger
}

type CredentialsOption func(*Credentials)

func WithCredentialsClock(now func() time.Time) CredentialsOption {
	return func(c *Credentials) { c.now = now }
}

func NewCredentials(src CredentialSource, fallback IceConfig, margin, timeout time.Duration,
	log *logger.Logger, opts ...CredentialsOption) *Credentials {
	c := &Credentials{
		src:      src,
		fallback: fallback,
		margin:   margin,
		timeout:  timeout,
		now:      time.Now,
		log:      log.Extend(log.With().Str(logger.ModuleField, "creds")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	return c
}

// Config returns the ICE config with the latest valid credentials.
func (c *Credentials) Config(ctx context.Context) IceConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil && c.now().Before(c.cur.ExpiresAt) {
		return c.config(*c.cur)
	}
	cred, err := c.fetch(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Relay credentials are not available, using fallback servers")
		return c.fallback
	}
	return c.config(cred)
}

// Current returns cached credentials if there are any.
func (c *Credentials) Current() (api.RelayCredential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return api.RelayCredential{}, false
	}
	return *c.cur, true
}

// Close stops background refreshes.
func (c *Credentials) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// fetch should be called under the lock.
func (c *Credentials) fetch(ctx context.Context) (api.RelayCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cred, err := c.src.Fetch(ctx)
	if err != nil {
		return api.RelayCredential{}, err
	}
	if cred.Ttl <= 0 || cred.Secret == "" {
		// nothing to cache or refresh
		c.cur = nil
		return cred, nil
	}
	c.cur = &cred
	c.schedule(cred)
	c.log.Debug().Str("identity", cred.Identity).Time("expires", cred.ExpiresAt).Msg("Relay credentials")
	return cred, nil
}

func (c *Credentials) schedule(cred api.RelayCredential) {
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	left := cred.ExpiresAt.Sub(c.now())
	in := left - c.margin
	if in <= 0 {
		in = left / 2
	}
	if in <= 0 {
		return
	}
	c.timer = time.AfterFunc(in, c.refresh)
}

func (c *Credentials) refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timer = nil
	if _, err := c.fetch(context.Background()); err != nil {
		c.log.Warn().Err(err).Msg("Relay credentials refresh has failed")
	}
}

// config splits the credential servers into the STUN and TURN ones,
// only the latter need the username and password.
func (c *Credentials) config(cred api.RelayCredential) IceConfig {
	var stun, turn []string
	for _, u := range cred.Servers {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			turn = append(turn, u)
		} else {
			stun = append(stun, u)
		}
	}
	var conf IceConfig
	if len(stun) > 0 {
		conf.Servers = append(conf.Servers, IceServer{Urls: stun})
	}
	if len(turn) > 0 && cred.Secret != "" {
		conf.Servers = append(conf.Servers, IceServer{Urls: turn, Username: cred.Identity, Credential: cred.Secret})
		conf.Relay = true
	}
	if len(conf.Servers) == 0 {
		return c.fallback
	}
	return conf
}
