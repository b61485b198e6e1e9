package config

import (
	"time"

	"github.com/spf13/pflag"
)

type MeetConfig struct {
	Meet        Meet
	Rooms       Rooms
	Negotiation Negotiation
	Turn        Turn
	Webrtc      Webrtc
	Chat        Chat
}

type Meet struct {
	Debug      bool
	Origin     string
	Server     Server
	Monitoring Monitoring
}

type Server struct {
	Address string `default:":8000"`
	Https   bool
	Tls     struct {
		Address   string `default:":443"`
		Domain    string
		CertCache string `default:"certs"`
		HttpsKey  string
		HttpsCert string
	}
}

type Monitoring struct {
	Port             int    `default:"6601"`
	URLPrefix        string `default:"/meet"`
	MetricEnabled    bool   `json:"metric_enabled"`
	ProfilingEnabled bool   `json:"profiling_enabled"`
}

type Rooms struct {
	MaxParticipants int           `default:"10"`
	Grace           time.Duration `default:"5m"`
	TokenTtl        time.Duration `default:"10m"`
	Timeout         time.Duration `default:"24h"`
	SweepInterval   time.Duration `default:"1m"`
}

type Negotiation struct {
	Deadline          time.Duration `default:"15s"`
	RetryBase         time.Duration `default:"2s"`
	MaxAttempts       int           `default:"3"`
	CredentialMargin  time.Duration `default:"30s"`
	CredentialTimeout time.Duration `default:"5s"`
}

// Turn holds the settings of the TURN REST API credentials,
// the secret should be the same as coturn's static-auth-secret.
type Turn struct {
	Secret string
	Ttl    time.Duration `default:"1h"`
	Prefix string        `default:"meet"`
	Urls   []string      `default:"[stun:stun.l.google.com:19302]"`
}

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap string
	LogLevel int `default:"1"`
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

type Chat struct {
	Dsn          string
	PurgeTimeout time.Duration `default:"5s"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

// NewMeetConfig returns the config with all defaults,
// then values from a file and env on top of them.
func NewMeetConfig(path string) (conf MeetConfig, src string, err error) {
	src, err = LoadConfig(&conf, path)
	return
}

const hidden = "***"

// Redacted returns a copy of the config safe to log.
func (c MeetConfig) Redacted() MeetConfig {
	mask := func(v string) string {
		if v == "" {
			return v
		}
		return hidden
	}
	c.Turn.Secret = mask(c.Turn.Secret)
	c.Chat.Dsn = mask(c.Chat.Dsn)
	if len(c.Webrtc.IceServers) > 0 {
		servers := make([]IceServer, len(c.Webrtc.IceServers))
		for i, s := range c.Webrtc.IceServers {
			s.Credential = mask(s.Credential)
			servers[i] = s
		}
		c.Webrtc.IceServers = servers
	}
	return c
}

func (c *MeetConfig) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Meet.Server.Address, "address", c.Meet.Server.Address, "HTTP server address (host:port)")
	fs.StringVar(&c.Meet.Server.Tls.Address, "httpsAddress", c.Meet.Server.Tls.Address, "HTTPS server address (host:port)")
	fs.StringVar(&c.Meet.Server.Tls.HttpsKey, "httpsKey", c.Meet.Server.Tls.HttpsKey, "HTTPS key")
	fs.StringVar(&c.Meet.Server.Tls.HttpsCert, "httpsCert", c.Meet.Server.Tls.HttpsCert, "HTTPS chain")
	fs.BoolVar(&c.Meet.Debug, "debug", c.Meet.Debug, "Enable debug logs")
	fs.IntVar(&c.Meet.Monitoring.Port, "monitoring.port", c.Meet.Monitoring.Port, "Monitoring server port")
	fs.IntVar(&c.Rooms.MaxParticipants, "maxParticipants", c.Rooms.MaxParticipants, "Max participants in a room")
}
