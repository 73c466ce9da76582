package hub

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibration-sentinel/internal/classifier"
	"vibration-sentinel/internal/logbook"
)

type fakeReplayer struct {
	records []logbook.Record
	err     error
}

func (f *fakeReplayer) ReadAllClassifications() ([]logbook.Record, error) {
	return f.records, f.err
}

type mockMetrics struct {
	lastGauge int
	drops     int
	published int
}

func (m *mockMetrics) SubscribersSet(n int) { m.lastGauge = n }
func (m *mockMetrics) BroadcastDropsInc()   { m.drops++ }
func (m *mockMetrics) ResultsPublishedInc() { m.published++ }

func result(x float64) classifier.Result {
	return classifier.Result{SensorID: "server", X: x, Distance: 0.1, Confidence: 0.9}
}

func TestSubscribe_ReplaysBacklogInOrder(t *testing.T) {
	replay := &fakeReplayer{records: []logbook.Record{
		{SensorID: "server", X: 1},
		{SensorID: "server", X: 2},
		{SensorID: "server", X: 3},
	}}
	h := New(replay, nil)

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	backlog := sub.Backlog()
	require.Len(t, backlog, 3)
	for i, rec := range backlog {
		assert.Equal(t, float64(i+1), rec.X)
	}
}

func TestSubscribe_ReplayError(t *testing.T) {
	h := New(&fakeReplayer{err: errors.New("disk gone")}, nil)

	_, err := h.Subscribe()
	assert.Error(t, err)
	assert.Equal(t, 0, h.Len())
}

func TestPublish_DeliversToAll(t *testing.T) {
	m := &mockMetrics{}
	h := New(&fakeReplayer{}, m)

	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)

	h.Publish(result(42))

	assert.Equal(t, 42.0, (<-a.Events()).X)
	assert.Equal(t, 42.0, (<-b.Events()).X)
	assert.Equal(t, 1, m.published)
}

func TestPublish_DropsStalledSubscriberOnly(t *testing.T) {
	m := &mockMetrics{}
	h := NewWithBuffer(&fakeReplayer{}, m, 1)

	stalled, err := h.Subscribe()
	require.NoError(t, err)
	healthy, err := h.Subscribe()
	require.NoError(t, err)

	// The stalled subscriber never drains; its buffer of 1 fills on the
	// first publish and the second publish evicts it.
	h.Publish(result(1))
	h.Publish(result(2))

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 1, m.drops)

	// The healthy subscriber still got both events, in order.
	assert.Equal(t, 1.0, (<-healthy.Events()).X)
	assert.Equal(t, 2.0, (<-healthy.Events()).X)

	// The stalled subscriber's channel is closed after its buffered event.
	assert.Equal(t, 1.0, (<-stalled.Events()).X)
	_, open := <-stalled.Events()
	assert.False(t, open, "dropped subscriber channel should be closed")
}

func TestNewWithBuffer_CapacityHonored(t *testing.T) {
	h := NewWithBuffer(&fakeReplayer{}, nil, 128)

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	assert.Equal(t, 128, cap(sub.events))
}

// slowReplayer blocks every read after the first until released, and
// reports when a blocked read has started.
type slowReplayer struct {
	calls   int32
	entered chan struct{}
	release chan struct{}
}

func (r *slowReplayer) ReadAllClassifications() ([]logbook.Record, error) {
	if atomic.AddInt32(&r.calls, 1) > 1 {
		close(r.entered)
		<-r.release
	}
	return nil, nil
}

func TestPublish_NotBlockedBySubscribeReplayRead(t *testing.T) {
	replay := &slowReplayer{entered: make(chan struct{}), release: make(chan struct{})}
	h := New(replay, nil)

	first, err := h.Subscribe()
	require.NoError(t, err)
	defer h.Unsubscribe(first)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub, err := h.Subscribe()
		if err == nil {
			h.Unsubscribe(sub)
		}
	}()

	<-replay.entered
	h.Publish(result(9))

	select {
	case r := <-first.Events():
		assert.Equal(t, 9.0, r.X)
	case <-time.After(time.Second):
		t.Fatal("publish stalled while a replay snapshot was in flight")
	}

	close(replay.release)
	<-done
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	m := &mockMetrics{}
	h := New(&fakeReplayer{}, m)

	sub, err := h.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 1, m.lastGauge)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // must not panic or double-close
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, m.lastGauge)

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestPublish_AfterUnsubscribeDoesNotDeliver(t *testing.T) {
	h := New(&fakeReplayer{}, nil)

	sub, err := h.Subscribe()
	require.NoError(t, err)
	h.Unsubscribe(sub)

	h.Publish(result(7)) // no registered subscribers; must not panic
	assert.Equal(t, 0, h.Len())
}
