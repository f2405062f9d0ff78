// Package notify publishes mission outcome notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
)

// Notification is the message sent when a mission finishes.
type Notification struct {
	MissionID     types.ID       `json:"mission_id"`
	ScanType      string         `json:"scan_type,omitempty"`
	Status        mission.Status `json:"status"`
	FindingsCount int            `json:"findings_count"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Channel delivers notifications.
type Channel interface {
	Publish(ctx context.Context, n Notification) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, n Notification) error

// Publish calls f.
func (f ChannelFunc) Publish(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// BusChannel publishes notifications as events on an event bus.
type BusChannel struct {
	bus events.EventBus
}

// NewBusChannel creates a channel backed by bus.
func NewBusChannel(bus events.EventBus) *BusChannel {
	return &BusChannel{bus: bus}
}

// Publish emits an EventNotification carrying n.
func (c *BusChannel) Publish(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	err := c.bus.Publish(ctx, events.Event{
		Type:      events.EventNotification,
		Timestamp: n.Timestamp,
		MissionID: n.MissionID,
		Payload:   n,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification for mission %s: %w", n.MissionID, err)
	}
	return nil
}

// LogChannel writes notifications to a logger.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a channel that logs at info level, or warn for
// failures.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

// Publish logs n.
func (c *LogChannel) Publish(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Status == mission.StatusFailed {
		level = slog.LevelWarn
	}
	attrs := []any{
		"mission_id", n.MissionID.String(),
		"status", n.Status.String(),
		"findings_count", n.FindingsCount,
	}
	if n.Error != "" {
		attrs = append(attrs, "error", n.Error)
	}
	c.logger.Log(ctx, level, "mission notification", attrs...)
	return nil
}

// MultiChannel fans a notification out to several channels. Every channel is
// attempted; the errors are joined.
type MultiChannel []Channel

// Publish delivers n to each channel in order.
func (m MultiChannel) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, ch := range m {
		if ch == nil {
			continue
		}
		if err := ch.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
var Discard Channel = ChannelFunc(func(context.Context, Notification) error { return nil })
