package com

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/network/websocket"
	"github.com/goccy/go-json"
)

type (
	Connector struct {
		wu *websocket.Upgrader
	}
	// Client is a packet-level wrapper over a websocket.
	// Outgoing requests (Call) are matched with their replies by the packet id,
	// everything else goes into the OnPacket callback.
	Client struct {
		id       Uid
		conn     *websocket.WS
		queue    map[string]*call
		onPacket func(packet api.In)
		closed   bool
		mu       sync.Mutex
		log      *logger.Logger
	}
	call struct {
		done     chan struct{}
		err      error
		response api.In
	}
	Option = func(c *Connector)
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrTimeout    = errors.New("timeout")
)

const callTimeout = 10 * time.Second

func WithOrigin(url string) Option { return func(c *Connector) { c.wu = websocket.NewUpgrader(url) } }

func NewConnector(opts ...Option) *Connector {
	c := &Connector{}
	for _, opt := range opts {
		opt(c)
	}
	if c.wu == nil {
		c.wu = &websocket.DefaultUpgrader
	}
	return c
}

// NewServer upgrades an HTTP request into a client connection.
func (co *Connector) NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*Client, error) {
	ws, err := websocket.NewServer(co.wu, w, r, log)
	if err != nil {
		return nil, err
	}
	return New(ws, log), nil
}

// NewClient dials a coordinator.
func (co *Connector) NewClient(address url.URL, log *logger.Logger) (*Client, error) {
	ws, err := websocket.NewClient(address, log)
	if err != nil {
		return nil, err
	}
	return New(ws, log), nil
}

func New(conn *websocket.WS, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	id := NewUid()
	client := &Client{
		id:       id,
		conn:     conn,
		queue:    make(map[string]*call, 1),
		onPacket: func(api.In) {},
		log:      log.Extend(log.With().Str(logger.ClientField, id.Short())),
	}
	conn.OnMessage = client.handleMessage
	return client
}

func (c *Client) Id() Uid { return c.id }

func (c *Client) IsServer() bool { return c.conn.IsServer() }

func (c *Client) OnPacket(fn func(packet api.In)) { c.mu.Lock(); c.onPacket = fn; c.mu.Unlock() }

// Listen starts processing of the incoming packets.
func (c *Client) Listen() {
	c.conn.Listen()
	go func() {
		<-c.conn.Done
		c.drain(ErrConnClosed)
	}()
}

func (c *Client) Close() { c.conn.Close() }

// Done is closed when the connection is completely shut.
func (c *Client) Done() <-chan struct{} { return c.conn.Done }

// Call sends a request and waits for its reply payload.
func (c *Client) Call(t api.PT, payload any) ([]byte, error) {
	id := NewUid().String()
	r, err := json.Marshal(api.Out{Id: id, T: t, Payload: payload})
	if err != nil {
		return nil, err
	}

	task := &call{done: make(chan struct{})}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.queue[id] = task
	c.mu.Unlock()

	if err = c.conn.Write(r); err != nil {
		c.pop(id)
		return nil, ErrConnClosed
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case <-task.done:
	case <-timer.C:
		if c.pop(id) != nil {
			return nil, ErrTimeout
		}
		// resolved concurrently
		<-task.done
	}
	return task.response.Payload, task.err
}

// Notify sends a packet without an id, no reply is expected.
func (c *Client) Notify(t api.PT, payload any) error {
	return c.Send(api.Out{T: t, Payload: payload})
}

// Reply answers the request packet with the same id and kind.
func (c *Client) Reply(in api.In, payload any) error {
	return c.Send(api.Out{Id: in.Id, T: in.T, Payload: payload})
}

func (c *Client) Send(packet api.Out) error {
	r, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	if err = c.conn.Write(r); err != nil {
		return ErrConnClosed
	}
	return nil
}

func (c *Client) handleMessage(message []byte) {
	var res api.In
	if err := json.Unmarshal(message, &res); err != nil {
		c.log.Warn().Err(err).Msg("malformed packet")
		return
	}

	// empty id implies that we won't track (wait) the response
	if res.Id != "" {
		if task := c.pop(res.Id); task != nil {
			task.response = res
			close(task.done)
			return
		}
	}
	c.mu.Lock()
	fn := c.onPacket
	c.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

// pop extracts and removes a task from the queue by its id.
func (c *Client) pop(id string) *call {
	c.mu.Lock()
	defer c.mu.Unlock()
	task := c.queue[id]
	delete(c.queue, id)
	return task
}

// drain cancels all what's left in the task queue.
func (c *Client) drain(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, task := range c.queue {
		task.err = err
		close(task.done)
		delete(c.queue, id)
	}
}
