package capture

import "time"

// EventKind discriminates the values delivered on [Session.Events].
type EventKind string

const (
	// EventStateChange reports a state-machine transition.
	EventStateChange EventKind = "state_change"

	// EventCountdownTick fires once per second while in the countdown state.
	EventCountdownTick EventKind = "countdown_tick"

	// EventProgress fires on every progress-clock poll while recording.
	EventProgress EventKind = "progress"
)

// Event is a session lifecycle notification. The state machine only emits
// events; audible or visual reactions belong to external subscribers.
type Event struct {
	Kind EventKind

	// State transition fields, set for EventStateChange.
	From   State
	To     State
	Reason ErrorReason

	// CountdownRemaining is the seconds left, set for EventCountdownTick.
	CountdownRemaining int

	// Recording progress fields, set for EventProgress.
	Elapsed  time.Duration
	Fraction float64
}
