// Peer is a headless meeting participant. It joins a room and keeps
// WebRTC connections with everyone there, handy for testing the server.
package main

import (
	"net/url"
	"os"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/client"
	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/negotiation"
	cmos "github.com/giongto35/cloud-meet/pkg/os"
	"github.com/giongto35/cloud-meet/pkg/webrtc"
	flag "github.com/spf13/pflag"
)

var Version = "?"

type opts struct {
	server    string
	room      string
	name      string
	create    bool
	tokenFile string
	conf      string
	debug     bool
}

func parse(args []string) (o opts, err error) {
	fs := flag.NewFlagSet("peer", flag.ContinueOnError)
	fs.StringVar(&o.server, "server", "ws://localhost:8000/ws", "Meeting server websocket URL")
	fs.StringVar(&o.room, "room", "", "Room id, a new room is created if empty")
	fs.StringVar(&o.name, "name", "peer", "User name")
	fs.BoolVar(&o.create, "create", false, "Create the room with the id")
	fs.StringVar(&o.tokenFile, "token-file", "", "File for the reconnection token")
	fs.StringVarP(&o.conf, "c-conf", "c", "", "Config file path")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logs")
	err = fs.Parse(args)
	return
}

func main() {
	o, err := parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	log := logger.NewConsole(o.debug, "p", false)
	log.Info().Msgf("version %s", Version)

	conf, _, err := config.NewMeetConfig(o.conf)
	if err != nil {
		log.Fatal().Err(err).Msg("config load fail")
	}

	if err = run(o, conf, log); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run(o opts, conf config.MeetConfig, log *logger.Logger) error {
	address, err := url.Parse(o.server)
	if err != nil {
		return err
	}
	tokens, err := newTokenFile(o.tokenFile)
	if err != nil {
		return err
	}
	token, err := tokens.Load(o.room)
	if err != nil {
		log.Warn().Err(err).Msg("Saved token is broken")
	}

	c, err := client.Dial(*address, token, log)
	if err != nil {
		return err
	}
	defer c.Close()
	c.On(api.ReconnectionAvailable, func(in api.In) {
		if m := api.Unwrap[api.ReconnectionAvailableMessage](in.Payload); m != nil {
			log.Info().Str("room", m.RoomId).Msgf("Can reconnect within %v", time.Duration(m.TimeLeft)*time.Millisecond)
		}
	})

	engine, err := webrtc.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return err
	}
	engine.OnMessage = func(data []byte) { log.Debug().Msgf("Data: %s", data) }

	creds := negotiation.NewCredentials(c, webrtc.IceConfig(conf.Webrtc.IceServers),
		conf.Negotiation.CredentialMargin, conf.Negotiation.CredentialTimeout, log)
	defer creds.Close()

	done := make(chan struct{})
	session := client.NewSession(c, engine, creds, negotiation.Config{
		Deadline:    conf.Negotiation.Deadline,
		RetryBase:   conf.Negotiation.RetryBase,
		MaxAttempts: conf.Negotiation.MaxAttempts,
	}, log,
		client.OnUpdate(func(up api.RoomUpdate) {
			log.Info().Str("event", up.Event).Int("participants", len(up.Participants)).Msg("Room")
		}),
		client.OnConnected(func(remote string) { log.Info().Str("peer", remote).Msg("Peer connected") }),
		client.OnClosed(func() { close(done) }),
	)
	defer session.Close()

	if o.room == "" || o.create {
		err = session.Create(o.room, o.name)
	} else {
		err = session.Join(o.room, o.name, token)
	}
	if err != nil {
		return err
	}
	roomId := session.RoomId()
	log.Info().Str("room", roomId).Str("pid", session.Self().Id).Msg("Joined")
	if err = tokens.Save(roomId, c.Token()); err != nil {
		log.Warn().Err(err).Msg("Token is not saved")
	}

	select {
	case <-cmos.ExpectTermination():
		// the token stays valid for the grace window
		if err = tokens.Save(roomId, c.Token()); err != nil {
			log.Warn().Err(err).Msg("Token is not saved")
		}
	case <-done:
		log.Info().Msg("Room has been closed")
		_ = tokens.Save(roomId, "")
	case <-c.Done():
		log.Warn().Msg("Connection lost")
	}
	return nil
}
