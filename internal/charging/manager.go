// Package charging coordinates evaluation triggers for a single charger.
// All triggers (meter updates, parameter changes, manual overrides, the
// enable switch and the staleness watchdog) are serialized through one
// mutex so only one evaluation of the ramp state is ever in flight.
package charging

import (
	"context"
	"sync"
	"time"

	"ev-balancer/internal/balancer"
	"ev-balancer/internal/charger"
	"ev-balancer/internal/models"

	"github.com/sirupsen/logrus"
)

// Event names notable fault and resolution conditions for observers.
type Event string

const (
	EventOverloadStop      Event = "overload_stop"
	EventMeterUnavailable  Event = "meter_unavailable"
	EventFallbackActivated Event = "fallback_activated"
	EventChargingResumed   Event = "charging_resumed"
	EventActionFailed      Event = "action_failed"
)

type Manager struct {
	cfg         balancer.Config
	maxMeterAge time.Duration
	logger      *logrus.Logger

	reading *models.MeterReading
	status  *models.ChargerStatus

	rampState  balancer.RampState
	lastResult balancer.Result

	controller charger.Controller

	onResult func(balancer.Result, float64)
	onEvent  func(Event, map[string]interface{})

	mutex sync.Mutex
}

func NewManager(cfg balancer.Config, maxMeterAge time.Duration, controller charger.Controller, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		maxMeterAge: maxMeterAge,
		logger:      logger,
		reading:     models.NewMeterReading(),
		status:      models.NewChargerStatus(),
		controller:  controller,
	}
}

// SetResultCallback registers a callback invoked after every evaluation
// with the result and the applied current actually in force.
func (m *Manager) SetResultCallback(cb func(balancer.Result, float64)) {
	m.onResult = cb
}

// SetEventCallback registers a callback for fault/resolution events.
func (m *Manager) SetEventCallback(cb func(Event, map[string]interface{})) {
	m.onEvent = cb
}

// Start runs the meter staleness watchdog until the context is cancelled.
// A reading older than maxMeterAge is treated as unavailable, the same as
// an explicit availability message. A zero maxMeterAge disables the
// watchdog entirely.
func (m *Manager) Start(ctx context.Context) {
	if m.maxMeterAge <= 0 {
		m.logger.Info("Meter watchdog disabled")
		<-ctx.Done()
		return
	}

	interval := m.maxMeterAge / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Infof("Meter watchdog started (max age %s)", m.maxMeterAge)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Meter watchdog stopped")
			return
		case <-ticker.C:
			m.checkMeterAge()
		}
	}
}

func (m *Manager) checkMeterAge() {
	_, valid, ts := m.reading.Get()
	if !valid || ts.IsZero() {
		return
	}
	if age := m.reading.Age(); age > m.maxMeterAge {
		m.logger.Warnf("Power meter silent for %s, treating as unavailable", age.Round(time.Second))
		m.HandleMeterUnavailable()
	}
}

// HandlePowerUpdate processes a new valid meter reading.
func (m *Manager) HandlePowerUpdate(powerW float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.reading.Update(powerW)
	m.evaluateLocked(balancer.ReasonPowerMeterUpdate)
}

// HandleMeterUnavailable processes the meter reporting itself unavailable
// or going stale.
func (m *Manager) HandleMeterUnavailable() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.reading.MarkUnavailable()
	m.evaluateLocked(balancer.ReasonMeterUnavailable)
}

// SetMaxChargerCurrent updates the per-charger ceiling and re-evaluates
// immediately so the new bound takes effect without waiting for the next
// meter event.
func (m *Manager) SetMaxChargerCurrent(currentA float64) error {
	return m.updateConfig(func(c *balancer.Config) { c.MaxChargerCurrentA = currentA })
}

// SetMinEVCurrent updates the minimum operating current and re-evaluates.
func (m *Manager) SetMinEVCurrent(currentA float64) error {
	return m.updateConfig(func(c *balancer.Config) { c.MinEVCurrentA = currentA })
}

func (m *Manager) updateConfig(mutate func(*balancer.Config)) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	next := m.cfg
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	m.cfg = next

	// Re-run against the last known reading; meter unavailability has its
	// own trigger, so a parameter change with no usable reading is a no-op.
	if _, valid, _ := m.reading.Get(); valid {
		m.evaluateLocked(balancer.ReasonParameterChange)
	}
	return nil
}

// SetEnabled flips the global kill switch. Disabling retains the prior
// target unmodified; enabling re-evaluates against the last known reading.
func (m *Manager) SetEnabled(enabled bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cfg.Enabled == enabled {
		return
	}
	m.cfg.Enabled = enabled

	if !enabled {
		m.logger.Info("Load balancing disabled")
		m.finishLocked(balancer.Result{
			TargetA: m.status.Applied(),
			State:   balancer.StateDisabled,
			Reason:  balancer.ReasonDisabled,
		})
		return
	}

	m.logger.Info("Load balancing enabled")
	if _, valid, _ := m.reading.Get(); valid {
		m.evaluateLocked(balancer.ReasonParameterChange)
	}
}

// ManualSetLimit applies a user-requested current, clamped to the charger
// limits. The override is one-shot: the next meter event resumes normal
// automatic balancing.
func (m *Manager) ManualSetLimit(currentA float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	res := balancer.ApplyManualOverride(m.cfg, currentA, m.status.Applied(), &m.rampState, time.Now())
	m.logger.Infof("Manual override: requested %.1f A, applying %.1f A (%s)", currentA, res.TargetA, res.Reason)
	m.finishLocked(res)
}

func (m *Manager) evaluateLocked(reason balancer.Reason) {
	powerW, valid, _ := m.reading.Get()

	res := balancer.Evaluate(m.cfg, balancer.Input{
		HousePowerW: powerW,
		MeterValid:  valid,
		AppliedA:    m.status.Applied(),
		Now:         time.Now(),
		Reason:      reason,
	}, &m.rampState)

	m.logger.Debugf("Evaluated: power=%.1fW valid=%v applied=%.1fA -> target=%.1fA state=%s reason=%s",
		powerW, valid, m.status.Applied(), res.TargetA, res.State, res.Reason)

	m.finishLocked(res)
}

// finishLocked dispatches charger actions for the transition, fires
// events, and notifies observers. Callers hold the mutex.
func (m *Manager) finishLocked(res balancer.Result) {
	prevApplied := m.status.Applied()
	prevActive := prevApplied > 0

	applied := m.dispatchActions(prevApplied, res.TargetA)
	m.status.SetApplied(applied)

	m.fireEvents(prevActive, prevApplied, res)
	m.lastResult = res

	if m.onResult != nil {
		m.onResult(res, applied)
	}
}

// dispatchActions invokes the external charger actions for a transition
// and returns the current actually in force afterwards. A failed action
// leaves the applied value unchanged so the next evaluation retries the
// transition naturally.
func (m *Manager) dispatchActions(prevA, targetA float64) float64 {
	if m.controller == nil || targetA == prevA {
		return prevA
	}

	switch {
	case prevA == 0 && targetA > 0:
		// Resume: start charging, then set the target current.
		if err := m.controller.StartCharging(); err != nil {
			m.actionFailed("start_charging", err)
			return prevA
		}
		if err := m.controller.SetCurrent(targetA); err != nil {
			m.actionFailed("set_current", err)
			return prevA
		}
		m.logger.Infof("Charging started at %.1f A", targetA)
	case prevA > 0 && targetA == 0:
		if err := m.controller.StopCharging(); err != nil {
			m.actionFailed("stop_charging", err)
			return prevA
		}
		m.logger.Infof("Charging stopped (was %.1f A)", prevA)
	default:
		if err := m.controller.SetCurrent(targetA); err != nil {
			m.actionFailed("set_current", err)
			return prevA
		}
		m.logger.Infof("Charging current adjusted %.1f A -> %.1f A", prevA, targetA)
	}

	return targetA
}

func (m *Manager) actionFailed(action string, err error) {
	m.logger.Warnf("Charger action %s failed: %v", action, err)
	m.fire(EventActionFailed, map[string]interface{}{
		"action": action,
		"error":  err.Error(),
	})
}

func (m *Manager) fireEvents(prevActive bool, prevApplied float64, res balancer.Result) {
	active := m.status.Applied() > 0

	switch {
	case res.Reason == balancer.ReasonMeterUnavailable && res.TargetA == 0 && m.cfg.UnavailablePolicy != balancer.PolicyIgnore:
		m.fire(EventMeterUnavailable, map[string]interface{}{
			"previous_current_a": prevApplied,
		})
	case res.Reason == balancer.ReasonMeterUnavailable && res.TargetA > 0 && m.cfg.UnavailablePolicy == balancer.PolicySetCurrent:
		m.fire(EventFallbackActivated, map[string]interface{}{
			"fallback_current_a": res.TargetA,
		})
	case res.Reason == balancer.ReasonPowerMeterUpdate && prevActive && !active:
		m.fire(EventOverloadStop, map[string]interface{}{
			"previous_current_a":  prevApplied,
			"available_current_a": res.AvailableA,
		})
	}

	if !prevActive && active {
		m.fire(EventChargingResumed, map[string]interface{}{
			"current_a": m.status.Applied(),
		})
	}
}

func (m *Manager) fire(event Event, data map[string]interface{}) {
	if m.onEvent != nil {
		m.onEvent(event, data)
	}
}

// Applied returns the charging current currently in force.
func (m *Manager) Applied() float64 {
	return m.status.Applied()
}

// LastResult returns the outcome of the most recent evaluation.
func (m *Manager) LastResult() balancer.Result {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.lastResult
}

func (m *Manager) GetStatus() map[string]interface{} {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	powerW, valid, ts := m.reading.Get()

	return map[string]interface{}{
		"house_power_w":       powerW,
		"meter_valid":         valid,
		"meter_timestamp":     ts,
		"applied_current_a":   m.status.Applied(),
		"charging":            m.status.IsCharging(),
		"target_current_a":    m.lastResult.TargetA,
		"available_current_a": m.lastResult.AvailableA,
		"state":               string(m.lastResult.State),
		"reason":              string(m.lastResult.Reason),
		"enabled":             m.cfg.Enabled,
		"max_charger_a":       m.cfg.MaxChargerCurrentA,
		"min_ev_a":            m.cfg.MinEVCurrentA,
	}
}
