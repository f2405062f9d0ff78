package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhatt1/hive-sub000/internal/types"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Type)
	default:
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ctx := context.Background()

	ch, cleanup := bus.Subscribe(ctx, Filter{}, 10)
	defer cleanup()

	require.NoError(t, bus.Publish(ctx, Event{Type: EventMissionStarted, MissionID: "m1"}))

	ev := receive(t, ch)
	assert.Equal(t, EventMissionStarted, ev.Type)
	assert.Equal(t, types.ID("m1"), ev.MissionID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventBus_Filters(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		event   Event
		matches bool
	}{
		{name: "empty filter", filter: Filter{}, event: Event{Type: EventStageStarted}, matches: true},
		{name: "type match", filter: Filter{Types: []EventType{EventMissionCompleted, EventMissionFailed}}, event: Event{Type: EventMissionFailed}, matches: true},
		{name: "type mismatch", filter: Filter{Types: []EventType{EventMissionCompleted}}, event: Event{Type: EventStageStarted}},
		{name: "mission match", filter: Filter{MissionID: "m1"}, event: Event{Type: EventStageStarted, MissionID: "m1"}, matches: true},
		{name: "mission mismatch", filter: Filter{MissionID: "m1"}, event: Event{Type: EventStageStarted, MissionID: "m2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, tt.filter.Matches(tt.event))

			bus := NewEventBus()
			defer bus.Close()
			ch, cleanup := bus.Subscribe(context.Background(), tt.filter, 1)
			defer cleanup()

			require.NoError(t, bus.Publish(context.Background(), tt.event))
			if tt.matches {
				assert.Equal(t, tt.event.Type, receive(t, ch).Type)
			} else {
				assertEmpty(t, ch)
			}
		})
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	published map[string]int
	dropped   map[string]int
}

func (r *countingRecorder) RecordEventPublished(eventType string, subscribers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[eventType] += subscribers
}

func (r *countingRecorder) RecordEventDropped(eventType string, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[eventType]++
}

func TestEventBus_SlowSubscriberDrops(t *testing.T) {
	recorder := &countingRecorder{published: map[string]int{}, dropped: map[string]int{}}
	bus := NewEventBus(WithMetrics(recorder))
	defer bus.Close()
	ctx := context.Background()

	slow, cleanupSlow := bus.Subscribe(ctx, Filter{}, 1)
	defer cleanupSlow()
	fast, cleanupFast := bus.Subscribe(ctx, Filter{}, 10)
	defer cleanupFast()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, Event{Type: EventStageStarted}))
	}

	assert.Equal(t, 2, recorder.dropped[string(EventStageStarted)])
	assert.Equal(t, 4, recorder.published[string(EventStageStarted)])
	assert.Len(t, slow, 1)
	assert.Len(t, fast, 3)
}

func TestEventBus_ContextEndsSubscription(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, cleanup := bus.Subscribe(ctx, Filter{}, 0)
	defer cleanup()
	assert.Equal(t, DefaultBufferSize, cap(ch))

	cancel()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventMissionStarted}))
}

func TestEventBus_CleanupAndClose(t *testing.T) {
	bus := NewEventBus()
	ctx := context.Background()

	ch, cleanup := bus.Subscribe(ctx, Filter{}, 0)
	assert.Equal(t, 1, bus.SubscriberCount())
	cleanup()
	cleanup()
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)

	ch2, cleanup2 := bus.Subscribe(ctx, Filter{}, 0)
	defer cleanup2()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	_, open = <-ch2
	assert.False(t, open)

	assert.ErrorIs(t, bus.Publish(ctx, Event{Type: EventMissionStarted}), ErrBusClosed)

	late, _ := bus.Subscribe(ctx, Filter{}, 0)
	_, open = <-late
	assert.False(t, open)
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ctx := context.Background()

	ch, cleanup := bus.Subscribe(ctx, Filter{}, 1000)
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, bus.Publish(ctx, Event{Type: EventStageCompleted}))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 500)
}
