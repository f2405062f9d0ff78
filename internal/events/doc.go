// Package events provides the in-process pub/sub bus Hive uses to broadcast
// mission lifecycle events.
//
// The orchestrator publishes mission and stage transitions; the notification
// channel publishes completion and failure notices. Subscribers receive events
// through buffered channels and may filter by type or mission:
//
//	ch, cleanup := bus.Subscribe(ctx, events.Filter{
//		Types: []events.EventType{events.EventMissionCompleted},
//	}, 0)
//	defer cleanup()
//
// Publish never blocks. When a subscriber's buffer is full the event is
// dropped for that subscriber only, logged and counted. A subscription ends
// when its cleanup function is called or its context is done.
package events
