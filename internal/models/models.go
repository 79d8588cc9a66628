package models

import (
	"sync"
	"time"
)

// MeterReading holds the last power-meter value shared between the MQTT
// client and the charging coordinator. Valid is false until the first
// reading arrives and whenever the source reports itself unavailable.
type MeterReading struct {
	powerW    float64
	valid     bool
	timestamp time.Time
	mutex     sync.RWMutex
}

func NewMeterReading() *MeterReading {
	return &MeterReading{}
}

func (m *MeterReading) Update(powerW float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.powerW = powerW
	m.valid = true
	m.timestamp = time.Now()
}

// MarkUnavailable invalidates the reading, e.g. when the source publishes
// an availability payload or stops reporting.
func (m *MeterReading) MarkUnavailable() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.valid = false
	m.timestamp = time.Now()
}

func (m *MeterReading) Get() (float64, bool, time.Time) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.powerW, m.valid, m.timestamp
}

// Age returns the time since the last update of any kind.
func (m *MeterReading) Age() time.Duration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.timestamp.IsZero() {
		return 0
	}
	return time.Since(m.timestamp)
}

// ChargerStatus tracks what was actually commanded to the charger. The
// applied current feeds back into the next evaluation so ramp bookkeeping
// stays consistent even when an actuation call fails.
type ChargerStatus struct {
	appliedA   float64
	charging   bool
	lastUpdate time.Time
	mutex      sync.RWMutex
}

func NewChargerStatus() *ChargerStatus {
	return &ChargerStatus{}
}

func (cs *ChargerStatus) SetApplied(currentA float64) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.appliedA = currentA
	cs.charging = currentA > 0
	cs.lastUpdate = time.Now()
}

func (cs *ChargerStatus) Applied() float64 {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.appliedA
}

func (cs *ChargerStatus) IsCharging() bool {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.charging
}

func (cs *ChargerStatus) LastUpdate() time.Time {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.lastUpdate
}
