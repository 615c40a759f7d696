// Package broadcast fans progress events out to live observers. It is a
// status feed, not an event log: late subscribers never see earlier events
// and an observer that falls behind loses events instead of slowing anyone
// down.
package broadcast

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/model"
)

// ErrNotRunning is returned by Subscribe before Start or after Shutdown.
var ErrNotRunning = eris.New("broadcast: hub is not running")

// Emitter is the side of the hub the orchestrator sees.
type Emitter interface {
	Emit(ev model.ProgressEvent)
}

// Metrics receives hub instrumentation. *metrics.Recorder implements it.
type Metrics interface {
	SubscriberAdded()
	SubscriberRemoved()
	EventDropped()
}

type noopMetrics struct{}

func (noopMetrics) SubscriberAdded()   {}
func (noopMetrics) SubscriberRemoved() {}
func (noopMetrics) EventDropped()      {}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics attaches instrumentation.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// Hub owns the set of connected observers.
type Hub struct {
	bufSize int
	metrics Metrics

	mu      sync.RWMutex
	running bool
	nextID  uint64
	subs    map[uint64]*Subscription
}

// New returns a stopped hub. Each subscriber gets a buffer of bufSize events.
func New(bufSize int, opts ...Option) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	h := &Hub{
		bufSize: bufSize,
		metrics: noopMetrics{},
		subs:    make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start lets observers subscribe.
func (h *Hub) Start() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
}

// Shutdown disconnects every observer and rejects new ones. Emit becomes a
// no-op.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = false
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
		h.metrics.SubscriberRemoved()
	}
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil, ErrNotRunning
	}
	h.nextID++
	s := &Subscription{
		id:  h.nextID,
		ch:  make(chan model.ProgressEvent, h.bufSize),
		hub: h,
	}
	h.subs[s.id] = s
	h.metrics.SubscriberAdded()
	return s, nil
}

// Emit offers ev to every observer without blocking. It never fails.
func (h *Hub) Emit(ev model.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.metrics.EventDropped()
			zap.L().Debug("broadcast: dropped progress event for slow observer",
				zap.Uint64("subscriber", s.id),
				zap.String("asset_id", ev.AssetID),
				zap.String("module", string(ev.Module)),
				zap.String("status", string(ev.Status)),
			)
		}
	}
}

// Len returns the number of connected observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	h.metrics.SubscriberRemoved()
}

// Subscription is one observer's view of the feed.
type Subscription struct {
	id  uint64
	ch  chan model.ProgressEvent
	hub *Hub
}

// Events returns the event channel. It is closed on Close or hub shutdown.
func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.ch
}

// Close disconnects the observer. It is safe to call more than once and
// concurrently with Emit.
func (s *Subscription) Close() {
	s.hub.remove(s)
}
