// Package detector talks to the external face landmark service over a
// persistent WebSocket. Each frame is sent as a binary JPEG message and
// answered with one JSON message listing the faces found.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
)

// Response is the service reply for one frame.
type Response struct {
	Faces []types.Face `json:"faces"`
	Error string       `json:"error,omitempty"`
}

// Client is a request/response WebSocket client over a fixed set of
// connections. Each call checks one out for the whole exchange; a connection
// is dialed on first use and re-dialed on demand after any failure.
type Client struct {
	url          string
	dialer       websocket.Dialer
	writeTimeout time.Duration
	readTimeout  time.Duration
	quality      int
	size         int
	logger       logger.Logger

	links chan *link
}

// link is one pooled connection. Only the holder touches conn.
type link struct {
	conn *websocket.Conn
}

// New creates a client for url. No connection is made until the first call.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		dialer:       websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		writeTimeout: defaultWriteTimeout,
		readTimeout:  defaultReadTimeout,
		quality:      defaultJPEGQuality,
		size:         defaultConnections,
		logger:       logger.Named("detector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.links = make(chan *link, c.size)
	for i := 0; i < c.size; i++ {
		c.links <- &link{}
	}
	return c
}

// Size returns the number of pooled connections.
func (c *Client) Size() int { return c.size }

// Detect sends img and returns the detected faces, possibly none. It waits
// for a free connection while all of them are busy.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]types.Face, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var l *link
	select {
	case l = <-c.links:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for landmark connection: %w", ctx.Err())
	}
	defer func() { c.links <- l }()

	resp, err := c.roundTrip(ctx, l, buf.Bytes())
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp.Faces, nil
}

// Detection is idempotent, so a failure on a connection that may have gone
// stale gets one retry on a fresh one.
func (c *Client) roundTrip(ctx context.Context, l *link, frame []byte) (Response, error) {
	reused := l.conn != nil
	resp, err := c.exchange(ctx, l, frame)
	if err == nil || !reused || ctx.Err() != nil {
		return resp, err
	}
	c.logger.Debug(ctx, "landmark connection stale, redialing", logger.Error(err))
	return c.exchange(ctx, l, frame)
}

func (c *Client) exchange(ctx context.Context, l *link, frame []byte) (Response, error) {
	if err := c.connect(ctx, l); err != nil {
		return Response{}, err
	}
	_ = l.conn.SetWriteDeadline(deadline(ctx, c.writeTimeout))
	if err := l.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		l.drop()
		return Response{}, fmt.Errorf("send frame: %w", err)
	}
	_ = l.conn.SetReadDeadline(deadline(ctx, c.readTimeout))
	_, msg, err := l.conn.ReadMessage()
	if err != nil {
		l.drop()
		return Response{}, fmt.Errorf("read landmarks: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return Response{}, fmt.Errorf("decode landmarks: %w", err)
	}
	return resp, nil
}

func (c *Client) connect(ctx context.Context, l *link) error {
	if l.conn != nil {
		return nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial landmark service %s: %w", c.url, err)
	}
	l.conn = conn
	c.logger.Info(ctx, "connected to landmark service", logger.String("url", c.url))
	return nil
}

func (l *link) drop() {
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

// Close waits for in-flight calls and closes every open connection. The
// client stays usable; later calls dial again.
func (c *Client) Close() error {
	held := make([]*link, 0, c.size)
	for i := 0; i < c.size; i++ {
		held = append(held, <-c.links)
	}
	var errs []error
	for _, l := range held {
		if l.conn != nil {
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout))
			errs = append(errs, l.conn.Close())
			l.conn = nil
		}
		c.links <- l
	}
	return errors.Join(errs...)
}

func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if dl, ok := ctx.Deadline(); ok && dl.Before(t) {
		return dl
	}
	return t
}

// Disabled reports ErrNotConfigured for every frame.
type Disabled struct{}

// Detect implements the face detector contract.
func (Disabled) Detect(context.Context, image.Image) ([]types.Face, error) {
	return nil, ErrNotConfigured
}
