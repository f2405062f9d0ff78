package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/types"
)

var (
	stageColor   = color.New(color.FgCyan)
	statusColor  = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed, color.Bold)
)

// ProgressReporter subscribes to mission events and prints progress in verbose mode.
type ProgressReporter struct {
	verbose   bool
	quiet     bool
	out       io.Writer
	startTime time.Time
}

// NewProgressReporter creates a new ProgressReporter.
// If verbose is false or quiet is true, no output is produced.
func NewProgressReporter(verbose, quiet bool, out io.Writer) *ProgressReporter {
	return &ProgressReporter{
		verbose:   verbose,
		quiet:     quiet,
		out:       out,
		startTime: time.Now(),
	}
}

// Subscribe prints the events of one mission until the returned stop function
// is called. Stop drains events already delivered before returning.
func (p *ProgressReporter) Subscribe(ctx context.Context, bus events.EventBus, missionID types.ID) func() {
	if !p.verbose || p.quiet || bus == nil {
		return func() {}
	}

	ch, unsubscribe := bus.Subscribe(ctx, events.Filter{MissionID: missionID}, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			p.handleEvent(evt)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

func (p *ProgressReporter) handleEvent(evt events.Event) {
	ts := p.formatTimestamp(evt.Timestamp)

	switch evt.Type {
	case events.EventMissionStarted:
		fmt.Fprintf(p.out, "%s Mission %s started\n", ts, evt.MissionID)

	case events.EventMissionStatus:
		if payload, ok := evt.Payload.(events.MissionStatusPayload); ok {
			fmt.Fprintf(p.out, "%s Status %s -> %s\n", ts, payload.From, statusColor.Sprint(payload.To))
		}

	case events.EventStageStarted:
		payload, _ := evt.Payload.(events.StagePayload)
		if payload.Depth > 0 {
			return
		}
		fmt.Fprintf(p.out, "%s %s %s\n", ts, stageColor.Sprint("▶"), evt.Stage)

	case events.EventStageCompleted:
		payload, _ := evt.Payload.(events.StagePayload)
		if payload.Depth > 0 {
			return
		}
		fmt.Fprintf(p.out, "%s %s %s (%s)%s\n", ts, successColor.Sprint("✓"), evt.Stage, payload.Duration.Round(time.Millisecond), retries(payload.Attempt))

	case events.EventStageFailed:
		payload, _ := evt.Payload.(events.StagePayload)
		fmt.Fprintf(p.out, "%s %s %s: %s%s\n", ts, failureColor.Sprint("✗"), evt.Stage, payload.Error, retries(payload.Attempt))

	case events.EventMissionCompleted, events.EventMissionFailed:
		payload, _ := evt.Payload.(events.MissionFinishedPayload)
		mark := successColor.Sprint("✓")
		if evt.Type == events.EventMissionFailed {
			mark = failureColor.Sprint("✗")
		}
		fmt.Fprintf(p.out, "%s %s Mission %s %s, %d findings\n", ts, mark, evt.MissionID, payload.Status, payload.FindingsCount)
	}
}

func retries(attempt int) string {
	switch attempt {
	case 0:
		return ""
	case 1:
		return " after 1 retry"
	default:
		return fmt.Sprintf(" after %d retries", attempt)
	}
}

// formatTimestamp renders the time since the reporter was created.
func (p *ProgressReporter) formatTimestamp(at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	elapsed := at.Sub(p.startTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("[%7.1fs]", elapsed.Seconds())
}
