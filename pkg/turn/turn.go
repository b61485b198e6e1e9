// Package turn issues short-lived TURN credentials compatible with
// the coturn REST API (use-auth-secret):
//
//	username   = <unix expiry>:<prefix>:<participant id>
//	credential = base64(hmac-sha1(secret, username))
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/config"
)

type Issuer struct {
	secret []byte
	ttl    time.Duration
	prefix string
	urls   []string
	now    func() time.Time
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

func New(conf config.Turn, opts ...Option) (*Issuer, error) {
	if strings.Contains(conf.Prefix, ":") {
		return nil, errors.New("turn prefix must not contain ':'")
	}
	if conf.Secret != "" && conf.Ttl < time.Second {
		return nil, errors.New("turn ttl should be at least 1s")
	}
	i := &Issuer{
		secret: []byte(conf.Secret),
		ttl:    conf.Ttl,
		prefix: conf.Prefix,
		urls:   conf.Urls,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Enabled tells if the issuer has a shared secret to sign with.
func (i *Issuer) Enabled() bool { return len(i.secret) > 0 }

// Issue makes new credentials for the participant.
// Without the shared secret, only non-TURN servers are returned
// and the credentials are already expired.
func (i *Issuer) Issue(participantId string) api.RelayCredential {
	now := i.now().UTC()
	if !i.Enabled() {
		return api.RelayCredential{Servers: i.plain(), ExpiresAt: now}
	}
	ttl := int64(i.ttl / time.Second)
	expiry := now.Unix() + ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, i.prefix, strings.ReplaceAll(participantId, ":", "_"))
	return api.RelayCredential{
		Identity:  username,
		Secret:    Sign(i.secret, username),
		Ttl:       ttl,
		Servers:   i.urls,
		ExpiresAt: time.Unix(expiry, 0).UTC(),
	}
}

func (i *Issuer) plain() []string {
	var out []string
	for _, u := range i.urls {
		if !isTurn(u) {
			out = append(out, u)
		}
	}
	return out
}

// Sign makes the coturn password for the username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Expiry returns the expiration time encoded into the username.
func Expiry(username string) (time.Time, error) {
	ts, _, ok := strings.Cut(username, ":")
	if !ok {
		return time.Time{}, errors.New("no expiry in the username")
	}
	var sec int64
	if _, err := fmt.Sscan(ts, &sec); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func isTurn(url string) bool { return strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") }
