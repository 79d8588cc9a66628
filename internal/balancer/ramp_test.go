package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRampStateApply(t *testing.T) {
	base := time.Now()
	cooldown := 30 * time.Second

	t.Run("increase allowed after cooldown", func(t *testing.T) {
		rs := &RampState{LastReduction: base}
		got, held := rs.Apply(10, 16, base.Add(31*time.Second), cooldown)
		assert.Equal(t, 16.0, got)
		assert.False(t, held)
	})

	t.Run("increase blocked within cooldown", func(t *testing.T) {
		rs := &RampState{LastReduction: base}
		got, held := rs.Apply(10, 16, base.Add(20*time.Second), cooldown)
		assert.Equal(t, 10.0, got)
		assert.True(t, held)
		assert.Equal(t, base, rs.LastReduction, "hold must not reset the timer")
	})

	t.Run("decrease always allowed", func(t *testing.T) {
		rs := &RampState{LastReduction: base}
		now := base.Add(time.Second)
		got, held := rs.Apply(16, 10, now, cooldown)
		assert.Equal(t, 10.0, got)
		assert.False(t, held)
		assert.Equal(t, now, rs.LastReduction)
	})

	t.Run("no prior reduction allows increase", func(t *testing.T) {
		rs := &RampState{}
		got, held := rs.Apply(10, 16, base, cooldown)
		assert.Equal(t, 16.0, got)
		assert.False(t, held)
	})

	t.Run("no change never touches the timer", func(t *testing.T) {
		rs := &RampState{LastReduction: base}
		got, held := rs.Apply(16, 16, base.Add(5*time.Second), cooldown)
		assert.Equal(t, 16.0, got)
		assert.False(t, held)
		assert.Equal(t, base, rs.LastReduction)
	})

	t.Run("boundary is inclusive", func(t *testing.T) {
		rs := &RampState{LastReduction: base}
		got, held := rs.Apply(10, 16, base.Add(30*time.Second), cooldown)
		assert.Equal(t, 16.0, got)
		assert.False(t, held)
	})

	t.Run("zero cooldown always allows increase", func(t *testing.T) {
		rs := &RampState{LastReduction: base}
		got, held := rs.Apply(10, 16, base, 0)
		assert.Equal(t, 16.0, got)
		assert.False(t, held)
	})
}

func TestRampStateReset(t *testing.T) {
	rs := &RampState{LastReduction: time.Now()}
	rs.Reset()
	assert.True(t, rs.LastReduction.IsZero())
}
