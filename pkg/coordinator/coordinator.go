// Package coordinator assembles the meeting server: the websocket gateway,
// the rooms with their reconnection tokens, and the background services.
package coordinator

import (
	"context"
	"errors"
	"net/http"

	"github.com/giongto35/cloud-meet/pkg/chat"
	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/gateway"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/monitoring"
	"github.com/giongto35/cloud-meet/pkg/network/httpx"
	"github.com/giongto35/cloud-meet/pkg/room"
	"github.com/giongto35/cloud-meet/pkg/service"
	"github.com/giongto35/cloud-meet/pkg/token"
	"github.com/giongto35/cloud-meet/pkg/turn"
)

type Coordinator struct {
	conf     config.MeetConfig
	gate     *gateway.Gateway
	chat     chat.Purger
	handler  http.Handler
	server   *httpx.Server
	services service.Group
	log      *logger.Logger
}

func New(conf config.MeetConfig, log *logger.Logger) (*Coordinator, error) {
	c, err := newCoordinator(conf, log)
	if err != nil {
		return nil, err
	}

	address := conf.Meet.Server.GetAddr()
	server, err := httpx.NewServer(
		address,
		func(*httpx.Server) httpx.Handler { return c.handler },
		httpx.WithServerConfig(conf.Meet.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		c.closeChat()
		return nil, err
	}
	c.server = server
	c.services.Add(server)
	c.services.Add(service.NewPeriodic("sweep", conf.Rooms.SweepInterval, c.gate.Sweep))

	if conf.Meet.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Meet.Monitoring, "meet", log)
		if err != nil {
			c.closeChat()
			return nil, err
		}
		c.services.Add(mon)
	}
	return c, nil
}

// newCoordinator builds everything but the network services.
func newCoordinator(conf config.MeetConfig, log *logger.Logger) (*Coordinator, error) {
	issuer, err := turn.New(conf.Turn)
	if err != nil {
		return nil, err
	}
	purger, err := chat.New(conf.Chat.Dsn, log)
	if err != nil {
		return nil, err
	}
	if !issuer.Enabled() {
		log.Warn().Msg("No TURN secret, relay credentials will have STUN servers only")
	}

	tokens := token.New(conf.Rooms.TokenTtl)
	rooms := room.NewRegistry(room.Config{
		MaxParticipants: conf.Rooms.MaxParticipants,
		Grace:           conf.Rooms.Grace,
		Timeout:         conf.Rooms.Timeout,
		PurgeTimeout:    conf.Chat.PurgeTimeout,
	}, tokens, log, room.WithPurger(purger))

	c := &Coordinator{
		conf: conf,
		gate: gateway.New(rooms, issuer, log),
		chat: purger,
		log:  log,
	}
	c.handler = c.routes()
	return c, nil
}

// Handler returns the HTTP routes of the server.
func (c *Coordinator) Handler() http.Handler { return c.handler }

// Addr returns the address the server listens on, empty without a server.
func (c *Coordinator) Addr() string {
	if c.server == nil {
		return ""
	}
	return c.server.Addr
}

func (c *Coordinator) Start() {
	c.log.Info().Msgf("Starting meeting server on %v", c.Addr())
	c.services.Start()
}

func (c *Coordinator) Shutdown(ctx context.Context) error {
	err := c.services.Shutdown(ctx)
	return errors.Join(err, c.closeChat())
}

func (c *Coordinator) closeChat() error {
	if cl, ok := c.chat.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
