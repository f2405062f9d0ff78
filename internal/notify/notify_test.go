package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
)

func TestBusChannel_Publish(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), events.Filter{Types: []events.EventType{events.EventNotification}}, 1)
	defer cleanup()

	id := types.NewID()
	err := NewBusChannel(bus).Publish(context.Background(), Notification{
		MissionID:     id,
		Status:        mission.StatusCompleted,
		FindingsCount: 7,
	})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, id, evt.MissionID)
		n, ok := evt.Payload.(Notification)
		require.True(t, ok)
		assert.Equal(t, 7, n.FindingsCount)
		assert.False(t, n.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestBusChannel_ClosedBus(t *testing.T) {
	bus := events.NewEventBus()
	require.NoError(t, bus.Close())

	err := NewBusChannel(bus).Publish(context.Background(), Notification{MissionID: types.NewID()})
	assert.ErrorContains(t, err, "failed to publish notification")
}

func TestLogChannel_Publish(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, NewLogChannel(logger).Publish(context.Background(), Notification{
		MissionID: types.NewID(),
		Status:    mission.StatusFailed,
		Error:     "Job.NonZeroExit: critic exited with code 2",
	}))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=FAILED")
	assert.Contains(t, out, "critic exited with code 2")
}

func TestMultiChannel_AttemptsAll(t *testing.T) {
	var calls []string
	record := func(name string, err error) Channel {
		return ChannelFunc(func(context.Context, Notification) error {
			calls = append(calls, name)
			return err
		})
	}

	multi := MultiChannel{
		record("first", errors.New("sns unavailable")),
		nil,
		record("second", nil),
		Discard,
	}
	err := multi.Publish(context.Background(), Notification{MissionID: types.NewID()})

	assert.ErrorContains(t, err, "sns unavailable")
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.NoError(t, MultiChannel{}.Publish(context.Background(), Notification{}))
}
