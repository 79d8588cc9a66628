// Package balancer implements the current-allocation and ramp engine for
// dynamic EV charger load balancing.
//
// Each evaluation is a pure, non-blocking function of the configuration,
// one power-meter reading (or its absence) and the ramp state. The engine
// performs no I/O and never calls the charger itself: callers compare the
// previous applied current with the returned target and invoke the
// appropriate external action.
package balancer

import (
	"fmt"
	"math"
	"time"
)

// Default values matching common European single-phase installations.
const (
	DefaultVoltage           = 230.0 // Volts
	DefaultMinEVCurrent      = 6.0   // Amps, IEC 61851 minimum for AC charging
	DefaultStep              = 1.0   // Amps
	DefaultRampUpTimeSeconds = 30.0  // Seconds
)

// Config is the immutable configuration snapshot for one evaluation.
// Callers must Validate it before evaluating; Evaluate assumes a valid
// configuration.
type Config struct {
	VoltageV           float64           // Nominal supply voltage (V)
	MaxServiceCurrentA float64           // Whole-house breaker rating (A)
	MaxChargerCurrentA float64           // Per-charger ceiling (A)
	MinEVCurrentA      float64           // Below this the charger stops (A)
	StepA              float64           // Target current resolution (A)
	RampUpTime         time.Duration     // Cooldown before an increase after a reduction
	UnavailablePolicy  UnavailablePolicy // Behavior when the meter reading is invalid
	FallbackCurrentA   float64           // Fallback current for PolicySetCurrent (A)
	Enabled            bool              // Global kill switch
}

// Validate rejects configurations the engine must never evaluate against.
func (c Config) Validate() error {
	if c.VoltageV <= 0 {
		return fmt.Errorf("voltage must be positive, got %.1f V", c.VoltageV)
	}
	if c.MaxServiceCurrentA <= 0 {
		return fmt.Errorf("max service current must be positive, got %.1f A", c.MaxServiceCurrentA)
	}
	if c.MaxChargerCurrentA <= 0 {
		return fmt.Errorf("max charger current must be positive, got %.1f A", c.MaxChargerCurrentA)
	}
	if c.MinEVCurrentA < 0 {
		return fmt.Errorf("min EV current must not be negative, got %.1f A", c.MinEVCurrentA)
	}
	if c.StepA <= 0 {
		return fmt.Errorf("current step must be positive, got %.1f A", c.StepA)
	}
	if c.RampUpTime < 0 {
		return fmt.Errorf("ramp-up time must not be negative, got %s", c.RampUpTime)
	}
	if c.FallbackCurrentA < 0 {
		return fmt.Errorf("fallback current must not be negative, got %.1f A", c.FallbackCurrentA)
	}
	switch c.UnavailablePolicy {
	case PolicyStop, PolicyIgnore, PolicySetCurrent:
	default:
		return fmt.Errorf("unknown unavailable policy %q", c.UnavailablePolicy)
	}
	return nil
}

// Input is one evaluation trigger.
type Input struct {
	HousePowerW float64   // Total metered household draw, including the EV (W)
	MeterValid  bool      // False when the reading is missing or unparsable
	AppliedA    float64   // Currently active charging current, 0 if stopped (A)
	Now         time.Time // Evaluation timestamp
	Reason      Reason    // Trigger reason; defaults to ReasonPowerMeterUpdate
}

// Result is the outcome of one evaluation.
type Result struct {
	TargetA    float64 // New target charging current (A)
	AvailableA float64 // Raw headroom above the present total draw (A)
	State      State
	Reason     Reason
	Held       bool // True when an increase was blocked by the ramp-up cooldown
}

// ToAmps converts a power draw into current at the given nominal voltage.
// The caller is responsible for validating the voltage (Config.Validate).
func ToAmps(powerW, voltageV float64) float64 {
	return powerW / voltageV
}

// AvailableCurrent returns the headroom above the present total draw:
//
//	available = maxServiceA - housePowerW/voltageV
//
// The metered house power already includes any active EV charging, so a
// negative result means the service limit is exceeded and the EV current
// must come down immediately.
func AvailableCurrent(housePowerW, maxServiceA, voltageV float64) float64 {
	return maxServiceA - ToAmps(housePowerW, voltageV)
}

// ClampCurrent clamps a raw target to [0, maxA], floors it to the nearest
// lower multiple of stepA and enforces the minimum operating current. The
// second return value is false when the result falls below minA, meaning
// the charger must stop rather than trickle.
//
// A configuration with minA > maxA can never charge; that degenerate case
// simply always returns false.
func ClampCurrent(rawA, maxA, minA, stepA float64) (float64, bool) {
	target := math.Min(rawA, maxA)
	if target < 0 {
		target = 0
	}
	if stepA > 0 {
		target = math.Floor(target/stepA) * stepA
	}
	if target < minA || target == 0 {
		return 0, false
	}
	return target, true
}

// Evaluate runs the full decision pipeline: headroom (or fallback when the
// meter is unavailable), clamp & step, ramp control and state
// classification. It mutates only the ramp state.
func Evaluate(cfg Config, in Input, rs *RampState) Result {
	reason := in.Reason
	if reason == "" {
		reason = ReasonPowerMeterUpdate
	}

	// Disabled: skip evaluation entirely, the prior target is retained.
	if !cfg.Enabled {
		return Result{
			TargetA: in.AppliedA,
			State:   StateDisabled,
			Reason:  ReasonDisabled,
		}
	}

	if !in.MeterValid {
		return evaluateFallback(cfg, in, rs)
	}

	availableA := AvailableCurrent(in.HousePowerW, cfg.MaxServiceCurrentA, cfg.VoltageV)

	// The meter reads total draw including the EV's own contribution, so
	// the present charging current is added back before clamping.
	rawTargetA := in.AppliedA + availableA

	return settle(cfg, in, rs, rawTargetA, availableA, reason)
}

// evaluateFallback resolves the target while the power meter is
// unavailable. The resolved raw target still flows through clamp and ramp
// so every invariant holds for fallback targets too; only PolicyIgnore
// bypasses the pipeline and holds the applied value untouched.
func evaluateFallback(cfg Config, in Input, rs *RampState) Result {
	switch cfg.UnavailablePolicy {
	case PolicyIgnore:
		return Result{
			TargetA: in.AppliedA,
			State:   StateMeterUnavailable,
			Reason:  ReasonMeterUnavailable,
		}
	case PolicySetCurrent:
		// The configured fallback is always capped at the physical
		// charger ceiling.
		raw := math.Min(cfg.FallbackCurrentA, cfg.MaxChargerCurrentA)
		res := settle(cfg, in, rs, raw, 0, ReasonMeterUnavailable)
		res.State = StateMeterUnavailable
		return res
	default: // PolicyStop
		res := settle(cfg, in, rs, 0, 0, ReasonMeterUnavailable)
		res.State = StateMeterUnavailable
		return res
	}
}

// settle applies clamp & step, the ramp rule, and classifies the result.
func settle(cfg Config, in Input, rs *RampState, rawTargetA, availableA float64, reason Reason) Result {
	clamped, ok := ClampCurrent(rawTargetA, cfg.MaxChargerCurrentA, cfg.MinEVCurrentA, cfg.StepA)
	if !ok {
		clamped = 0
	}

	finalA, held := rs.Apply(in.AppliedA, clamped, in.Now, cfg.RampUpTime)

	return Result{
		TargetA:    finalA,
		AvailableA: availableA,
		State:      classify(finalA, in.AppliedA, held),
		Reason:     reason,
		Held:       held,
	}
}

// ApplyManualOverride clamps a user-requested current through the clamp &
// step policy only; the meter is not the trigger, so headroom and fallback
// are bypassed. The override is never held by the cooldown — the user's
// request wins — but a downward override records a reduction exactly as a
// normal decrease would, so subsequent automatic increases wait out the
// cooldown.
func ApplyManualOverride(cfg Config, requestedA, appliedA float64, rs *RampState, now time.Time) Result {
	clamped, ok := ClampCurrent(requestedA, cfg.MaxChargerCurrentA, cfg.MinEVCurrentA, cfg.StepA)
	if !ok {
		clamped = 0
	}

	reason := ReasonManualOverride
	if clamped != requestedA {
		reason = ReasonManualClamp
	}

	if clamped < appliedA {
		rs.MarkReduction(now)
	}

	return Result{
		TargetA: clamped,
		State:   classify(clamped, appliedA, false),
		Reason:  reason,
	}
}

func classify(finalA, prevA float64, held bool) State {
	switch {
	case held:
		return StateRampUpHold
	case finalA == 0:
		return StateStopped
	case finalA == prevA:
		return StateCharging
	default:
		return StateAdjusting
	}
}
