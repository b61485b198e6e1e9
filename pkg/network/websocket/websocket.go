package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendQueue      = 64
)

var ErrClosed = errors.New("socket closed")

type WS struct {
	sock *websocket.Conn
	send chan []byte

	OnMessage func(message []byte)

	pingPong bool
	log      *logger.Logger

	once    sync.Once
	started sync.Once
	closed  chan struct{}
	Done    chan struct{}
}

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		WriteBufferPool: &sync.Pool{},
	},
}

// NewUpgrader creates an upgrader that accepts connections from the origin only.
// An empty origin allows any.
func NewUpgrader(origin string) *Upgrader {
	u := Upgrader{Upgrader: DefaultUpgrader.Upgrader}
	if origin == "" {
		u.CheckOrigin = func(*http.Request) bool { return true }
	} else {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// NewServer upgrades the request into a server-side socket with ping/pong keep-alive.
func NewServer(u *Upgrader, w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	if u == nil {
		u = &DefaultUpgrader
	}
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	return &WS{
		sock:      conn,
		send:      make(chan []byte, sendQueue),
		OnMessage: func([]byte) {},
		pingPong:  pingPong,
		log:       log,
		closed:    make(chan struct{}),
		Done:      make(chan struct{}),
	}
}

// Listen starts the read and write pumps.
// The Done channel is closed when both of them have stopped.
func (ws *WS) Listen() {
	ws.started.Do(func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); ws.reader() }()
		go func() { defer wg.Done(); ws.writer() }()
		go func() { wg.Wait(); close(ws.Done) }()
	})
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.Close()
	ws.sock.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		_ = ws.sock.SetReadDeadline(time.Now().Add(pongTime))
		ws.sock.SetPongHandler(func(string) error { return ws.sock.SetReadDeadline(time.Now().Add(pongTime)) })
	}
	for {
		_, message, err := ws.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				ws.log.Warn().Err(err).Msg("WebSocket read fail")
			}
			return
		}
		ws.OnMessage(message)
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes
// and owns the connection closing.
func (ws *WS) writer() {
	var tick <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() { _ = ws.sock.Close() }()
	for {
		select {
		case message := <-ws.send:
			if err := ws.write(websocket.TextMessage, message); err != nil {
				ws.log.Debug().Err(err).Msg("WebSocket write fail")
				ws.Close()
				return
			}
		case <-tick:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}
		case <-ws.closed:
			_ = ws.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// write sends one frame, each with its own deadline.
func (ws *WS) write(kind int, data []byte) error {
	if err := ws.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.sock.WriteMessage(kind, data)
}

// Write queues the message for sending.
// Messages written after Close are dropped.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.closed:
		return ErrClosed
	}
}

// Close stops the socket, it is safe to call it many times.
func (ws *WS) Close() { ws.once.Do(func() { close(ws.closed) }) }

func (ws *WS) IsServer() bool { return ws.pingPong }
