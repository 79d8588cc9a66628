package balancer

// State is the discrete operational state reported after every evaluation.
type State string

const (
	StateStopped          State = "stopped"
	StateCharging         State = "charging"
	StateAdjusting        State = "adjusting"
	StateRampUpHold       State = "ramp_up_hold"
	StateDisabled         State = "disabled"
	StateMeterUnavailable State = "meter_unavailable"
)

// Reason identifies what triggered or decided an evaluation result.
type Reason string

const (
	ReasonPowerMeterUpdate Reason = "power_meter_update"
	ReasonParameterChange  Reason = "parameter_change"
	ReasonManualOverride   Reason = "manual_override"
	ReasonManualClamp      Reason = "manual_clamp"
	ReasonDisabled         Reason = "disabled"
	ReasonMeterUnavailable Reason = "meter_unavailable"
)

// UnavailablePolicy selects the behavior when the power meter reading
// is missing or unparsable.
type UnavailablePolicy string

const (
	// PolicyStop stops charging immediately.
	PolicyStop UnavailablePolicy = "stop"
	// PolicyIgnore keeps the last applied current unchanged.
	PolicyIgnore UnavailablePolicy = "ignore"
	// PolicySetCurrent applies a fixed fallback current, capped at the
	// charger maximum.
	PolicySetCurrent UnavailablePolicy = "set_current"
)
