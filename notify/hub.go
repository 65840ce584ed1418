// Package notify fans mutation events out to the open server-push channels
// of the affected users.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultOutboxSize     = 1024
	defaultForwardTimeout = 5 * time.Second
)

// Forwarder receives every envelope published on this instance, e.g. to relay
// it to other instances or to export it.
type Forwarder interface {
	Forward(ctx context.Context, env Envelope) error
}

// Hub maps principal ids to their open channels. It is safe for concurrent
// use; construct one per server with NewHub.
type Hub struct {
	logger  *log.Logger
	metrics *Metrics
	origin  string

	mu       sync.RWMutex
	channels map[string]map[Channel]struct{}

	fwdMu          sync.RWMutex
	forwarders     []Forwarder
	outbox         chan Envelope
	forwardTimeout time.Duration
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records fan-out metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOutboxSize bounds the queue of envelopes waiting for forwarders.
func WithOutboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.outbox = make(chan Envelope, n)
		}
	}
}

// WithOrigin sets the instance id stamped on forwarded envelopes.
func WithOrigin(origin string) Option {
	return func(h *Hub) {
		if origin != "" {
			h.origin = origin
		}
	}
}

// NewHub creates an empty registry.
func NewHub(logger *log.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &Hub{
		logger:         logger,
		origin:         uuid.NewString(),
		channels:       make(map[string]map[Channel]struct{}),
		outbox:         make(chan Envelope, defaultOutboxSize),
		forwardTimeout: defaultForwardTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Origin returns the instance id of this hub.
func (h *Hub) Origin() string { return h.origin }

// Register adds ch to the principal's channel set. Registering the same
// handle twice has no further effect.
func (h *Hub) Register(principalID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[principalID]
	if !ok {
		set = make(map[Channel]struct{})
		h.channels[principalID] = set
	}
	if _, exists := set[ch]; exists {
		return
	}
	set[ch] = struct{}{}
	h.metrics.channelOpened()
	h.logger.WithFields(log.Fields{"user": principalID, "channels": len(set)}).Debug("stream channel registered")
}

// Unregister removes ch. The principal entry is dropped with its last channel.
func (h *Hub) Unregister(principalID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[principalID]
	if !ok {
		return
	}
	if _, exists := set[ch]; !exists {
		return
	}
	delete(set, ch)
	h.metrics.channelClosed()
	if len(set) == 0 {
		delete(h.channels, principalID)
	}
	h.logger.WithFields(log.Fields{"user": principalID, "channels": len(set)}).Debug("stream channel unregistered")
}

// Count returns the number of open channels of principalID.
func (h *Hub) Count(principalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[principalID])
}

// Principals returns the number of principals with at least one channel.
func (h *Hub) Principals() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Publish delivers event to every channel of every principal in
// principalIDs and hands the envelope to the forwarders. It never fails; the
// return value is the number of local deliveries, possibly zero.
func (h *Hub) Publish(principalIDs []string, event string, payload any) int {
	data, err := EncodeData(payload)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("unable to encode event payload")
		h.metrics.dropped("encode")
		return 0
	}
	h.metrics.published(event)
	env := Envelope{Origin: h.origin, UserIDs: principalIDs, Event: event, Data: data}
	n := h.Deliver(env)
	h.enqueueForward(env)
	return n
}

// Deliver sends env to the local channels of its users only. Relays call it
// for envelopes published on other instances.
func (h *Hub) Deliver(env Envelope) int {
	if len(env.UserIDs) == 0 {
		return 0
	}
	targets := h.snapshot(env.UserIDs)
	if len(targets) == 0 {
		return 0
	}
	data, err := compactData(env.Data)
	if err != nil {
		h.metrics.dropped("encode")
		h.logger.WithError(err).WithField("event", env.Event).Error("unable to encode relayed event payload")
		return 0
	}
	frame := Frame(env.Event, data)
	delivered := 0
	for _, t := range targets {
		if err := t.ch.Send(frame); err != nil {
			h.metrics.dropped(dropReason(err))
			h.logger.WithError(err).WithFields(log.Fields{"user": t.principalID, "event": env.Event}).Debug("stream frame dropped")
			continue
		}
		delivered++
	}
	h.metrics.delivered(delivered)
	return delivered
}

// Heartbeat sends a keep-alive frame to every channel of principalID.
func (h *Hub) Heartbeat(principalID string) int {
	frame := []byte(HeartbeatFrame)
	sent := 0
	for _, t := range h.snapshot([]string{principalID}) {
		if err := t.ch.Send(frame); err != nil {
			h.metrics.dropped(dropReason(err))
			continue
		}
		sent++
	}
	return sent
}

// RunHeartbeats sends a keep-alive frame to every registered principal each
// interval until ctx is done.
func (h *Hub) RunHeartbeats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, id := range h.principalIDs() {
				h.Heartbeat(id)
			}
		}
	}
}

func (h *Hub) principalIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	return ids
}

type target struct {
	principalID string
	ch          Channel
}

// snapshot copies the channel sets so sends happen outside the lock.
func (h *Hub) snapshot(principalIDs []string) []target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []target
	seen := make(map[string]struct{}, len(principalIDs))
	for _, id := range principalIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for ch := range h.channels[id] {
			out = append(out, target{principalID: id, ch: ch})
		}
	}
	return out
}

func dropReason(err error) string {
	switch err {
	case ErrChannelClosed:
		return "closed"
	case ErrChannelFull:
		return "full"
	default:
		return "error"
	}
}

// AddForwarder registers f. Forwarders only run while RunForwarders is active.
func (h *Hub) AddForwarder(f Forwarder) {
	h.fwdMu.Lock()
	h.forwarders = append(h.forwarders, f)
	h.fwdMu.Unlock()
}

func (h *Hub) hasForwarders() bool {
	h.fwdMu.RLock()
	defer h.fwdMu.RUnlock()
	return len(h.forwarders) > 0
}

func (h *Hub) enqueueForward(env Envelope) {
	if !h.hasForwarders() {
		return
	}
	select {
	case h.outbox <- env:
	default:
		h.metrics.forwardFailed()
		h.logger.WithField("event", env.Event).Warn("forward outbox saturated; dropping envelope")
	}
}

// RunForwarders drains the forward outbox until ctx is done.
func (h *Hub) RunForwarders(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-h.outbox:
			h.forward(ctx, env)
		}
	}
}

func (h *Hub) forward(ctx context.Context, env Envelope) {
	h.fwdMu.RLock()
	fwds := append([]Forwarder(nil), h.forwarders...)
	h.fwdMu.RUnlock()
	for _, f := range fwds {
		fctx, cancel := context.WithTimeout(ctx, h.forwardTimeout)
		err := f.Forward(fctx, env)
		cancel()
		if err != nil {
			h.metrics.forwardFailed()
			h.logger.WithError(err).WithField("event", env.Event).Error("forward envelope failed")
		}
	}
}
