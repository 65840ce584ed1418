package notify

import (
	"errors"
	"sync"
)

var (
	// ErrChannelClosed is returned by Send after the channel was closed.
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelFull is returned by Send when the reader is not keeping up.
	ErrChannelFull = errors.New("channel buffer full")
)

// Channel is one open server-push stream of a principal. Send must not
// block; the hub treats any error as a dropped frame.
type Channel interface {
	Send(frame []byte) error
}

// StreamChannel is a Channel backed by a buffered Go channel. The goroutine
// serving the stream drains Frames and writes them to the client.
type StreamChannel struct {
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

// NewStreamChannel creates a channel buffering up to size frames.
func NewStreamChannel(size int) *StreamChannel {
	if size <= 0 {
		size = 1
	}
	return &StreamChannel{frames: make(chan []byte, size)}
}

// Send queues frame without blocking.
func (c *StreamChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.frames <- frame:
		return nil
	default:
		return ErrChannelFull
	}
}

// Frames returns the queue read by the stream writer.
func (c *StreamChannel) Frames() <-chan []byte {
	return c.frames
}

// Close moves the channel to CLOSED. Later sends fail with ErrChannelClosed.
// Close is idempotent.
func (c *StreamChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.frames)
}

// Closed reports whether Close was called.
func (c *StreamChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
