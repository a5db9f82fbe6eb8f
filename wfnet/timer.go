package wfnet

import "time"

// TimerTrigger selects when a work-item timer starts counting.
type TimerTrigger int

const (
	TriggerOnEnabled TimerTrigger = iota
	TriggerOnStarted
)

// String returns the trigger name.
func (t TimerTrigger) String() string {
	if t == TriggerOnStarted {
		return "on_started"
	}
	return "on_enabled"
}

// TimerSpec configures a task timer. Scheduling is external to this
// module; the spec only answers "has this timer expired" as a pure
// function of its parameters and the current time.
type TimerSpec struct {
	Trigger  TimerTrigger
	Duration time.Duration // Relative deadline from the trigger point
	Expiry   time.Time     // Absolute deadline; zero when unused
	Interval time.Duration // Repeating interval; zero when unused

	// LateBound names a case-data key holding the deadline, resolved by
	// the caller before asking for expiry.
	LateBound string
}

// Expired reports whether the timer has fired given the instant the
// trigger point was reached and the current time. A zero triggeredAt
// means the trigger point has not been reached, so nothing expires.
func (s *TimerSpec) Expired(triggeredAt, now time.Time) bool {
	if s == nil || triggeredAt.IsZero() {
		return false
	}
	if !s.Expiry.IsZero() {
		return !now.Before(s.Expiry)
	}
	if s.Duration > 0 {
		return !now.Before(triggeredAt.Add(s.Duration))
	}
	if s.Interval > 0 {
		return !now.Before(triggeredAt.Add(s.Interval))
	}
	return false
}
