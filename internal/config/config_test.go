package config

import (
	"testing"
	"time"

	"ev-balancer/internal/balancer"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: "tcp://localhost:1883",
			Topics: Topics{
				PowerMeter: "energy/house/power",
			},
		},
		Balancer: BalancerConfig{
			Voltage:             230.0,
			MaxServiceCurrent:   32.0,
			MaxChargerCurrent:   16.0,
			MinEVCurrent:        6.0,
			Step:                1.0,
			RampUpTime:          30.0,
			UnavailableBehavior: "stop",
			FallbackCurrent:     6.0,
			MaxMeterAge:         300.0,
			Enabled:             true,
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	t.Run("missing broker", func(t *testing.T) {
		cfg := validConfig()
		cfg.MQTT.Broker = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing power meter topic", func(t *testing.T) {
		cfg := validConfig()
		cfg.MQTT.Topics.PowerMeter = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative meter age", func(t *testing.T) {
		cfg := validConfig()
		cfg.Balancer.MaxMeterAge = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid engine parameters are rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Balancer.Voltage = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Balancer.UnavailableBehavior = "explode"
		assert.Error(t, cfg.Validate())
	})
}

func TestEngineConfig(t *testing.T) {
	engine := validConfig().EngineConfig()

	assert.Equal(t, 230.0, engine.VoltageV)
	assert.Equal(t, 32.0, engine.MaxServiceCurrentA)
	assert.Equal(t, 16.0, engine.MaxChargerCurrentA)
	assert.Equal(t, 6.0, engine.MinEVCurrentA)
	assert.Equal(t, 1.0, engine.StepA)
	assert.Equal(t, 30*time.Second, engine.RampUpTime)
	assert.Equal(t, balancer.PolicyStop, engine.UnavailablePolicy)
	assert.True(t, engine.Enabled)
	assert.NoError(t, engine.Validate())
}
