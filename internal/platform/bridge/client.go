// Package bridge runs the idconnect platform over a websocket relay so the id provider can be
// completed on a second device that scans a QR code.
package bridge

import (
	"context"
	"encoding/hex"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/ratelimit"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/internal/metrics"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// Client is the bridge platform. It implements idconnect.MessageBus, idconnect.Opener and
// idconnect.Location.
type Client struct {
	bridgeURL string
	topic     string
	key       []byte
	qrPath    string
	out       io.Writer
	dialer    *websocket.Dialer
	redial    ratelimit.Limiter

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(idconnect.Message)

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithTopic fixes the subscription topic instead of a random uuid.
func WithTopic(topic string) Option {
	return func(c *Client) {
		if topic != "" {
			c.topic = topic
		}
	}
}

// WithQRCode sets where the QR code is written: a png file and, when out is not nil, a text
// rendering for terminals.
func WithQRCode(path string, out io.Writer) Option {
	return func(c *Client) {
		c.qrPath = path
		c.out = out
	}
}

// WithKey fixes the payload encryption key, 32 bytes.
func WithKey(key []byte) Option {
	return func(c *Client) {
		c.key = key
	}
}

func NewClient(bridgeURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil || u.Host == "" {
		return nil, errors.Errorf("bad bridge url %q", bridgeURL)
	}
	c := &Client{
		bridgeURL: strings.TrimRight(bridgeURL, "/"),
		topic:     uuid.NewString(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		redial:    ratelimit.New(1, ratelimit.Per(2*time.Second)),
		listeners: make(map[int]func(idconnect.Message)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.key == nil {
		if c.key, err = generateRandomBytes(keyBytes); err != nil {
			return nil, err
		}
	}
	if len(c.key) != keyBytes {
		return nil, errors.Errorf("bridge key must be %d bytes", keyBytes)
	}
	return c, nil
}

// Topic is the relay topic the client listens on.
func (c *Client) Topic() string {
	return c.topic
}

// webSocketURL maps http(s) to ws(s) and adds the protocol query.
func (c *Client) webSocketURL() string {
	u := c.bridgeURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "?protocol=idconnect&version=1"
}

// Start dials the relay, subscribes to the topic and keeps reading until Stop or ctx is done.
// A dropped connection is redialled at most once every two seconds.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CAS(false, true) {
		return errors.New("bridge client already started")
	}
	if err := c.connect(ctx); err != nil {
		c.started.Store(false)
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Stop closes the relay connection.
func (c *Client) Stop() {
	if !c.started.CAS(true, false) {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.done
}

func (c *Client) connect(ctx context.Context) error {
	c.redial.Take()
	conn, _, err := c.dialer.DialContext(ctx, c.webSocketURL(), nil)
	if err != nil {
		return errors.WrapAndReport(err, "dial to bridge")
	}
	if err := c.adopt(ctx, conn); err != nil {
		return err
	}
	sub := frame{Topic: c.topic, Type: frameSub, Silent: true}
	log.Debugf("bridge - subscribe topic:%v", c.topic)
	if err := c.send(sub.Marshal()); err != nil {
		c.closeConn()
		return err
	}
	return nil
}

// adopt makes conn the current connection unless ctx is already done, in which case conn is
// closed. Stop cancels before closing under the same lock, so a connection dialled while
// stopping is always closed by one side.
func (c *Client) adopt(ctx context.Context, conn *websocket.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		conn.Close()
		return errors.WithStack(err)
	}
	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("bridge not connected")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write bridge frame")
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		err := c.readLoop()
		if ctx.Err() != nil {
			return
		}
		log.Warnf("bridge - connection lost, redialling: %v", err)
		for {
			err := c.connect(ctx)
			if ctx.Err() != nil {
				c.closeConn()
				return
			}
			if err == nil {
				break
			}
			log.Warnf("bridge - redial: %v", err)
		}
	}
}

func (c *Client) readLoop() error {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	f, err := parseFrame(data)
	if err != nil {
		log.Debugf("bridge - %v", err)
		return
	}
	if f.Type != framePub || f.Topic != c.topic {
		return
	}
	ack := frame{Topic: c.topic, Type: frameAck, Silent: true}
	if err := c.send(ack.Marshal()); err != nil {
		log.Warnf("bridge - ack: %v", err)
	}
	plain, err := unseal(f.Payload, c.key)
	if err != nil {
		metrics.DropMessage("bridge")
		log.Warnf("bridge - dropping frame from %s: %v", f.Origin, err)
		return
	}
	c.deliver(idconnect.Message{Origin: f.Origin, Data: plain})
}

// Listen implements idconnect.MessageBus.
func (c *Client) Listen(listener func(idconnect.Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) deliver(msg idconnect.Message) {
	c.mu.RLock()
	listeners := make([]func(idconnect.Message), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()
	for _, l := range listeners {
		l(msg)
	}
}

// Origin implements idconnect.Location: the relay's http origin.
func (c *Client) Origin() string {
	u, _ := url.Parse(c.bridgeURL)
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// Query implements idconnect.Location. Responses only arrive as relay frames.
func (c *Client) Query() url.Values {
	return url.Values{}
}

// Replace implements idconnect.Location by showing the target as a QR code.
func (c *Client) Replace(rawURL string) error {
	_, err := c.render(rawURL)
	return err
}

// sessionURI appends the relay coordinates to target as a fragment, which never reaches the
// id provider server.
func (c *Client) sessionURI(target string) string {
	q := url.Values{}
	q.Set("bridge", c.bridgeURL)
	q.Set("topic", c.topic)
	q.Set("key", hex.EncodeToString(c.key))
	return target + "#" + q.Encode()
}
