package detector

import (
	"time"

	"github.com/okian/presence/pkg/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadTimeout      = 10 * time.Second
	defaultJPEGQuality      = 90
	defaultConnections      = 1
)

// Option configures a Client.
type Option func(*Client)

// WithTimeouts overrides the handshake, write and read timeouts. Zero keeps
// the default. A context deadline, when earlier, wins.
func WithTimeouts(handshake, write, read time.Duration) Option {
	return func(c *Client) {
		if handshake > 0 {
			c.dialer.HandshakeTimeout = handshake
		}
		if write > 0 {
			c.writeTimeout = write
		}
		if read > 0 {
			c.readTimeout = read
		}
	}
}

// WithJPEGQuality sets the encoding quality of frames sent to the service.
func WithJPEGQuality(q int) Option {
	return func(c *Client) {
		if q > 0 && q <= 100 {
			c.quality = q
		}
	}
}

// WithConnections sets how many connections calls may use at once. Sizing
// it to the worker count lets every worker detect concurrently.
func WithConnections(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
