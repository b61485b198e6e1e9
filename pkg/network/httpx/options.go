package httpx

import (
	"time"

	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/logger"
)

type (
	Options struct {
		Https bool
		Tls   TlsOptions
		// PortRoll takes the next free port when the given one is busy.
		PortRoll     bool
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Logger       *logger.Logger
	}
	// TlsOptions are used only with Https.
	// Without a cert and key pair, certificates come from Let's Encrypt.
	TlsOptions struct {
		Cert      string
		Key       string
		Domain    string
		CertCache string
		// Redirect runs a plain HTTP server at RedirectAddress
		// that sends everyone to HTTPS.
		Redirect        bool
		RedirectAddress string
	}
	Option func(*Options)
)

func defaultOptions() Options {
	return Options{
		Tls:          TlsOptions{Redirect: true, CertCache: "certs"},
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  500 * time.Second,
		WriteTimeout: 500 * time.Second,
	}
}

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func (t TlsOptions) autoCert() bool { return t.Cert == "" || t.Key == "" }

func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }
func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }

// WithServerConfig takes the listen and TLS settings of the signaling server.
func WithServerConfig(conf config.Server) Option {
	return func(opts *Options) {
		opts.Https = conf.Https
		opts.Tls.Cert = conf.Tls.HttpsCert
		opts.Tls.Key = conf.Tls.HttpsKey
		opts.Tls.Domain = conf.Tls.Domain
		if conf.Tls.CertCache != "" {
			opts.Tls.CertCache = conf.Tls.CertCache
		}
		opts.Tls.RedirectAddress = conf.Address
	}
}
