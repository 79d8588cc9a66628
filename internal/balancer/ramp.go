package balancer

import "time"

// RampState tracks the timestamp of the last downward transition for one
// charger. It is owned by a single evaluation stream: callers must not
// evaluate the same charger concurrently.
type RampState struct {
	// LastReduction is the time the applied current was last lowered.
	// The zero value means no reduction has happened yet.
	LastReduction time.Time
}

// Apply enforces the asymmetric ramp rule on a computed target.
//
// Decreases (including to 0) pass through immediately and record the
// reduction time. Increases pass through only when no reduction has been
// recorded or the cooldown has elapsed (boundary inclusive); otherwise the
// previous applied value is held and the second return value is true.
// Holding does not touch the timer, so a pending increase is released as
// soon as the original cooldown expires.
func (rs *RampState) Apply(prevA, targetA float64, now time.Time, cooldown time.Duration) (float64, bool) {
	if targetA > prevA && !rs.LastReduction.IsZero() && now.Sub(rs.LastReduction) < cooldown {
		return prevA, true
	}
	if targetA < prevA {
		rs.LastReduction = now
	}
	return targetA, false
}

// MarkReduction records a downward transition performed outside Apply,
// such as a manual override that lowered the current.
func (rs *RampState) MarkReduction(now time.Time) {
	rs.LastReduction = now
}

// Reset forgets any recorded reduction so the next increase is immediate.
func (rs *RampState) Reset() {
	rs.LastReduction = time.Time{}
}
