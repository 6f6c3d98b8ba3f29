package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

var ErrBadEndpoint = errors.New("bad endpoint")

const (
	DefaultPath        = "/ws"
	DefaultMaxInterval = 30 * time.Second
	readLimit          = 1 << 20
)

type ChannelOptions struct {
	Path        string        // websocket path on the endpoint host, DefaultPath if empty
	MinInterval time.Duration // first reconnect delay, backoff's default if zero
	MaxInterval time.Duration // reconnect backoff ceiling, DefaultMaxInterval if zero
	HTTPClient  *http.Client
	Log         *zap.Logger
}

// Channel is a reconnecting websocket that dispatches server frames to named
// handlers. Frames are dispatched one at a time on the read goroutine, in the
// order they arrive. Every successful connection raises types.EventConnect and
// every lost one types.EventDisconnect.
type Channel struct {
	url  string
	opts ChannelOptions
	log  *zap.Logger

	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
	id       string
	conn     *websocket.Conn
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	closeOnce sync.Once
}

func NewChannel(endpoint string, opts ChannelOptions) (*Channel, error) {
	u, err := socketURL(endpoint, opts.Path)
	if err != nil {
		return nil, err
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		url:      u,
		opts:     opts,
		log:      log.Named("channel").With(zap.String("url", u)),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}, nil
}

func socketURL(endpoint, path string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrBadEndpoint)
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = path
	u.RawQuery = ""
	return u.String(), nil
}

// On registers h for event, replacing any previous handler.
func (c *Channel) On(event string, h func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for event. Unknown names are ignored.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// ID is the identity of the live connection, "" while disconnected.
func (c *Channel) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Connect starts the connect/reconnect loop and returns immediately.
// Calls after the first are ignored.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Close stops reconnecting and closes the socket. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn, started, cancel := c.conn, c.started, c.cancel
		c.started = true // a later Connect must not revive the channel
		c.mu.Unlock()

		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "bye")
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = nil
			}
		}
		if !started {
			return
		}
		cancel()
		<-c.done
	})
	return err
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.opts.MaxInterval
	if c.opts.MinInterval > 0 {
		b.InitialInterval = c.opts.MinInterval
	}

	for {
		connected, err := c.session(ctx, b)
		if ctx.Err() != nil {
			return
		}
		if !connected {
			c.log.Warn("connect failed", zap.Error(err))
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = c.opts.MaxInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connection until it drops. connected reports whether the
// dial succeeded at all.
func (c *Channel) session(ctx context.Context, b *backoff.ExponentialBackOff) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPClient: c.opts.HTTPClient})
	if err != nil {
		return false, err
	}
	conn.SetReadLimit(readLimit)
	b.Reset()

	id := uuid.NewString()
	c.mu.Lock()
	c.conn, c.id = conn, id
	c.mu.Unlock()

	c.log.Info("connected", zap.String("conn_id", id))
	c.dispatch(types.EventConnect, nil)

	err = c.readLoop(ctx, conn)

	c.mu.Lock()
	c.conn, c.id = nil, ""
	c.mu.Unlock()
	conn.CloseNow()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.log.Info("disconnected", zap.String("conn_id", id))
	default:
		c.log.Warn("connection lost", zap.String("conn_id", id), zap.Error(err))
	}
	c.dispatch(types.EventDisconnect, nil)
	return true, err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.log.Warn("ignoring binary frame")
			continue
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.log.Warn("ignoring undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if frame.Event == types.EventConnect || frame.Event == types.EventDisconnect {
			c.log.Warn("ignoring reserved event name from server", zap.String("event", frame.Event))
			continue
		}
		c.dispatch(frame.Event, frame.Data)
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	if h == nil {
		c.log.Debug("no handler", zap.String("event", event))
		return
	}
	h(data)
}
