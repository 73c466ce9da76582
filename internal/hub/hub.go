// Package hub fans classification results out to live-feed subscribers.
package hub

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"vibration-sentinel/internal/classifier"
	"vibration-sentinel/internal/logbook"
)

const defaultBuffer = 64

// Replayer supplies the historical log a new subscriber must see before
// any live event.
type Replayer interface {
	ReadAllClassifications() ([]logbook.Record, error)
}

// MetricsTracker defines the metrics methods the hub needs.
type MetricsTracker interface {
	SubscribersSet(n int)
	BroadcastDropsInc()
	ResultsPublishedInc()
}

// Subscriber is one live-feed membership: a historical backlog snapshotted
// at subscribe time plus a buffered channel of live events. The events
// channel is closed when the subscriber is removed.
type Subscriber struct {
	backlog []logbook.Record
	events  chan classifier.Result
}

// Backlog returns the historical records to deliver before live events.
func (s *Subscriber) Backlog() []logbook.Record { return s.backlog }

// Events returns the live event channel.
func (s *Subscriber) Events() <-chan classifier.Result { return s.events }

// Hub tracks the set of connected subscribers. Subscribe, Unsubscribe and
// Publish are mutually exclusive, so the registry is never observed
// half-mutated.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	replay  Replayer
	metrics MetricsTracker
	buffer  int
}

// New creates a hub replaying history from the given source, with the
// default per-subscriber event buffer.
func New(replay Replayer, metrics MetricsTracker) *Hub {
	return NewWithBuffer(replay, metrics, defaultBuffer)
}

// NewWithBuffer creates a hub with an explicit per-subscriber event
// buffer capacity.
func NewWithBuffer(replay Replayer, metrics MetricsTracker, buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		replay:  replay,
		metrics: metrics,
		buffer:  buffer,
	}
}

// Subscribe registers a new subscriber, then snapshots the historical log
// as its replay backlog. Registration happens before the log read and the
// read runs outside the registry lock, so a large log never stalls
// concurrent Publish calls. A result persisted and published while the
// snapshot is in flight lands in the live buffer and may also appear in
// the snapshot; no result published after registration is ever lost.
func (h *Hub) Subscribe() (*Subscriber, error) {
	sub := &Subscriber{events: make(chan classifier.Result, h.buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.setGaugeLocked()
	n := len(h.subs)
	h.mu.Unlock()

	backlog, err := h.replay.ReadAllClassifications()
	if err != nil {
		h.Unsubscribe(sub)
		return nil, fmt.Errorf("read history for replay: %w", err)
	}
	sub.backlog = backlog

	log.Info().Int("subscribers", n).Int("replay_records", len(backlog)).Msg("subscriber connected")
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its event channel. Safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish delivers the result to every registered subscriber without ever
// blocking: a subscriber whose buffer is full is dropped from the registry
// instead of stalling the others or the caller.
func (h *Hub) Publish(r classifier.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stalled []*Subscriber
	for sub := range h.subs {
		select {
		case sub.events <- r:
		default:
			stalled = append(stalled, sub)
		}
	}

	for _, sub := range stalled {
		log.Warn().Str("sensor_id", r.SensorID).Msg("subscriber buffer full, dropping subscriber")
		h.removeLocked(sub)
		if h.metrics != nil {
			h.metrics.BroadcastDropsInc()
		}
	}

	if h.metrics != nil {
		h.metrics.ResultsPublishedInc()
	}
}

// Len returns the current number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.events)
	h.setGaugeLocked()
	log.Info().Int("subscribers", len(h.subs)).Msg("subscriber removed")
}

func (h *Hub) setGaugeLocked() {
	if h.metrics != nil {
		h.metrics.SubscribersSet(len(h.subs))
	}
}
