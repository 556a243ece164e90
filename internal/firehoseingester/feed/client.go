package feed

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	"github.com/firehoseproject/firehose/internal/firehoseingester/configuration"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
)

const closeWriteTimeout = time.Second

// FeedError is returned by Start when the subscription ends for any reason other than Stop
type FeedError struct {
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("firehose subscription failed: %s", e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// Client subscribes to a firehose over a websocket and hands every message to a handler as a frame
type Client struct {
	url       string
	dialer    *websocket.Dialer
	readLimit int64
	resume    atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

func NewClient(config configuration.FeedConfig) *Client {
	return &Client{
		url: config.Url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		readLimit: config.ReadLimit,
	}
}

// UpdateResumePosition sets the sequence number the next connection resumes from
func (c *Client) UpdateResumePosition(seq int64) {
	c.resume.Store(seq)
}

func (c *Client) ResumePosition() int64 {
	return c.resume.Load()
}

// Start connects and calls onFrame synchronously for every message received, in order.
// It blocks until the connection ends.  The result is nil if the connection ended because Stop was called,
// otherwise a *FeedError.
func (c *Client) Start(ctx *firehosecontext.Context, onFrame ingest.Handler[model.Frame]) error {
	if c.isStopped() {
		return nil
	}

	target, err := c.subscriptionUrl()
	if err != nil {
		return &FeedError{Err: err}
	}

	ctx.Log.Infof("Connecting to %s", target)
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &FeedError{Err: errors.WithMessagef(err, "could not connect to %s", c.url)}
	}
	if c.readLimit > 0 {
		conn.SetReadLimit(c.readLimit)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isStopped() {
				ctx.Log.Info("Firehose subscription stopped")
				return nil
			}
			if ctx.Err() != nil {
				return &FeedError{Err: ctx.Err()}
			}
			return &FeedError{Err: err}
		}
		if err := onFrame(ctx, data); err != nil {
			if c.isStopped() {
				return nil
			}
			return &FeedError{Err: errors.WithMessage(err, "frame handler failed")}
		}
	}
}

// Stop ends the subscription.  Once stopped the client never connects again.  It is safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		_ = c.conn.Close()
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) subscriptionUrl() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", errors.WithMessagef(err, "invalid feed url %s", c.url)
	}
	if seq := c.resume.Load(); seq > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(seq, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
