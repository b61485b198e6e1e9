package coordinator

import (
	"net/http"
	"runtime/debug"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/com"
	"github.com/giongto35/cloud-meet/pkg/network/httpx"
	"github.com/goccy/go-json"
)

func (c *Coordinator) routes() http.Handler {
	connector := com.NewConnector(com.WithOrigin(c.conf.Meet.Origin))

	h := httpx.NewServeMux("")
	h.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) { c.serveWs(connector, w, r) })
	h.HandleW("/healthz", c.health)
	return h
}

// serveWs upgrades the request and blocks until the socket is closed.
func (c *Coordinator) serveWs(connector *com.Connector, w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			c.log.Error().Msgf("WS panic: %v\n%s", err, debug.Stack())
		}
	}()

	conn, err := connector.NewServer(w, r, c.log)
	if err != nil {
		c.log.Error().Err(err).Msg("WS upgrade fail")
		return
	}
	c.gate.Connect(conn, r.URL.Query().Get("token"))
	conn.OnPacket(func(in api.In) { c.gate.Handle(conn, in) })
	conn.Listen()
	<-conn.Done()
	c.gate.Disconnect(conn)
}

type health struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

func (c *Coordinator) health(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Rooms: c.gate.Rooms(), Connections: c.gate.Connections()})
}
