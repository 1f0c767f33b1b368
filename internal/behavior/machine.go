package behavior

import (
	"time"
)

// State is the subject's current behavioral state.
type State int

const (
	Absent State = iota
	PendingStartup
	Visiting
	Roosting
	Activity
)

func (s State) String() string {
	switch s {
	case Absent:
		return "ABSENT"
	case PendingStartup:
		return "PENDING_STARTUP"
	case Visiting:
		return "VISITING"
	case Roosting:
		return "ROOSTING"
	case Activity:
		return "ACTIVITY"
	default:
		return "UNKNOWN"
	}
}

// EventType tags a lifecycle event.
type EventType string

const (
	EventArrived          EventType = "ARRIVED"
	EventDeparted         EventType = "DEPARTED"
	EventRoosting         EventType = "ROOSTING"
	EventActivityStart    EventType = "ACTIVITY_START"
	EventActivityEnd      EventType = "ACTIVITY_END"
	EventStartupConfirmed EventType = "STARTUP_CONFIRMED"
)

// Event is a lifecycle event emitted by the state machine.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Meta      map[string]interface{}
}

// Span is a completed activity interval within a roosting visit.
type Span struct {
	Start time.Time
	End   time.Time
}

// Timings holds the machine's four timing parameters.
type Timings struct {
	ExitTimeout         time.Duration
	RoostingThreshold   time.Duration
	RoostingExitTimeout time.Duration
	ActivityTimeout     time.Duration
}

// Machine consumes per-frame detection booleans and emits debounced
// lifecycle events. It is purely time-driven and deterministic: the same
// sequence of (detected, timestamp) updates always yields the same events.
// Not safe for concurrent use; the monitor calls it from a single loop.
type Machine struct {
	t Timings

	state        State
	initializing bool

	visitStart    time.Time
	lastDetection time.Time
	absenceStart  time.Time // zero when the subject was seen last update
	activityStart time.Time // absence start of the current ACTIVITY interval
	activitySpans []Span
}

// New creates a machine in the ABSENT state with the initialization
// window open (ARRIVED is suppressed until the window is resolved).
func New(t Timings) *Machine {
	return &Machine{t: t, state: Absent, initializing: true}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// VisitStart returns the first confirmed detection of the current visit.
func (m *Machine) VisitStart() time.Time { return m.visitStart }

// LastDetection returns the timestamp of the most recent detection.
func (m *Machine) LastDetection() time.Time { return m.lastDetection }

// ActivitySpans returns the completed activity intervals of the current
// visit, oldest first.
func (m *Machine) ActivitySpans() []Span {
	out := make([]Span, len(m.activitySpans))
	copy(out, m.activitySpans)
	return out
}

// Initializing reports whether the startup window is still open.
func (m *Machine) Initializing() bool { return m.initializing }

// Update feeds one detection sample into the machine and returns the
// events it produced, in order.
func (m *Machine) Update(detected bool, ts time.Time) []Event {
	if detected {
		return m.updateDetected(ts)
	}
	return m.updateAbsent(ts)
}

func (m *Machine) updateDetected(ts time.Time) []Event {
	m.lastDetection = ts
	m.absenceStart = time.Time{}

	switch m.state {
	case Absent:
		m.visitStart = ts
		if m.initializing {
			// First sighting during the startup window. The orchestrator
			// decides via ConfirmStartupPresence or ResetToAbsent.
			m.state = PendingStartup
			return nil
		}
		m.state = Visiting
		return []Event{{Type: EventArrived, Timestamp: ts}}

	case Visiting:
		if ts.Sub(m.visitStart) >= m.t.RoostingThreshold {
			m.state = Roosting
			return []Event{{
				Type:      EventRoosting,
				Timestamp: ts,
				Meta:      map[string]interface{}{"visit_start": m.visitStart},
			}}
		}

	case Activity:
		span := Span{Start: m.activityStart, End: ts}
		m.activitySpans = append(m.activitySpans, span)
		m.activityStart = time.Time{}
		m.state = Roosting
		return []Event{{
			Type:      EventActivityEnd,
			Timestamp: ts,
			Meta:      map[string]interface{}{"activity_start": span.Start},
		}}
	}
	return nil
}

func (m *Machine) updateAbsent(ts time.Time) []Event {
	if m.absenceStart.IsZero() {
		m.absenceStart = ts
	}
	absence := ts.Sub(m.absenceStart)

	switch m.state {
	case Visiting:
		if absence >= m.t.ExitTimeout {
			return m.depart()
		}

	case Roosting:
		if absence >= m.t.RoostingExitTimeout {
			return m.depart()
		}
		if absence >= m.t.ActivityTimeout {
			m.state = Activity
			m.activityStart = m.absenceStart
			return []Event{{
				Type:      EventActivityStart,
				Timestamp: ts,
				Meta:      map[string]interface{}{"absence_start": m.absenceStart},
			}}
		}

	case Activity:
		if ts.Sub(m.activityStart) >= m.t.RoostingExitTimeout {
			return m.depart()
		}
	}
	return nil
}

// depart moves to ABSENT and emits DEPARTED stamped with the last
// detection, not the update time; the visit ends when the subject was
// last seen.
func (m *Machine) depart() []Event {
	ev := Event{
		Type:      EventDeparted,
		Timestamp: m.lastDetection,
		Meta: map[string]interface{}{
			"visit_start":      m.visitStart,
			"duration_seconds": m.lastDetection.Sub(m.visitStart).Seconds(),
		},
	}
	m.reset()
	return []Event{ev}
}

// ConfirmStartupPresence resolves the startup window with the subject
// present: PENDING_STARTUP goes straight to ROOSTING with visit_start
// preserved, and no ARRIVED is emitted.
func (m *Machine) ConfirmStartupPresence(ts time.Time) []Event {
	m.initializing = false
	if m.state != PendingStartup {
		return nil
	}
	m.state = Roosting
	return []Event{{
		Type:      EventStartupConfirmed,
		Timestamp: ts,
		Meta:      map[string]interface{}{"visit_start": m.visitStart},
	}}
}

// ResetToAbsent discards any in-progress visit and closes the startup
// window without emitting events.
func (m *Machine) ResetToAbsent() {
	m.reset()
}

func (m *Machine) reset() {
	m.state = Absent
	m.initializing = false
	m.visitStart = time.Time{}
	m.lastDetection = time.Time{}
	m.absenceStart = time.Time{}
	m.activityStart = time.Time{}
	m.activitySpans = nil
}
