package config

import (
	"fmt"
	"os"
	"time"

	"ev-balancer/internal/balancer"

	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Balancer  BalancerConfig  `mapstructure:"balancer"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topics   Topics `mapstructure:"topics"`
}

type Topics struct {
	PowerMeter string `mapstructure:"power_meter"` // readings in (float or JSON)
	SetLimit   string `mapstructure:"set_limit"`   // manual override in (amps)
	Enabled    string `mapstructure:"enabled"`     // kill switch in (true/false)
	Charger    string `mapstructure:"charger"`     // command topic base out
	Status     string `mapstructure:"status"`      // state topic base out
}

type BalancerConfig struct {
	Voltage             float64 `mapstructure:"voltage"`
	MaxServiceCurrent   float64 `mapstructure:"max_service_current"`
	MaxChargerCurrent   float64 `mapstructure:"max_charger_current"`
	MinEVCurrent        float64 `mapstructure:"min_ev_current"`
	Step                float64 `mapstructure:"step"`
	RampUpTime          float64 `mapstructure:"ramp_up_time"`          // seconds
	UnavailableBehavior string  `mapstructure:"unavailable_behavior"`  // stop | ignore | set_current
	FallbackCurrent     float64 `mapstructure:"fallback_current"`      // amps, for set_current
	MaxMeterAge         float64 `mapstructure:"max_meter_age"`         // seconds, 0 disables the watchdog
	Enabled             bool    `mapstructure:"enabled"`
}

type DiscoveryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Prefix     string `mapstructure:"prefix"`
	DeviceName string `mapstructure:"device_name"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("mqtt.client_id", "ev-balancer")
	viper.SetDefault("mqtt.topics.power_meter", "energy/house/power")
	viper.SetDefault("mqtt.topics.set_limit", "evbalancer/set_limit")
	viper.SetDefault("mqtt.topics.enabled", "evbalancer/enabled")
	viper.SetDefault("mqtt.topics.charger", "evbalancer/charger")
	viper.SetDefault("mqtt.topics.status", "evbalancer/status")
	viper.SetDefault("balancer.voltage", balancer.DefaultVoltage)
	viper.SetDefault("balancer.max_service_current", 32.0)
	viper.SetDefault("balancer.max_charger_current", 16.0)
	viper.SetDefault("balancer.min_ev_current", balancer.DefaultMinEVCurrent)
	viper.SetDefault("balancer.step", balancer.DefaultStep)
	viper.SetDefault("balancer.ramp_up_time", balancer.DefaultRampUpTimeSeconds)
	viper.SetDefault("balancer.unavailable_behavior", string(balancer.PolicyStop))
	viper.SetDefault("balancer.fallback_current", 6.0)
	viper.SetDefault("balancer.max_meter_age", 300.0)
	viper.SetDefault("balancer.enabled", true)
	viper.SetDefault("discovery.enabled", false)
	viper.SetDefault("discovery.prefix", "homeassistant")
	viper.SetDefault("discovery.device_name", "EV Load Balancer")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.MQTT.Broker == "" {
		config.MQTT.Broker = os.Getenv("MQTT_BROKER")
	}
	if config.MQTT.Username == "" {
		config.MQTT.Username = os.Getenv("MQTT_USERNAME")
	}
	if config.MQTT.Password == "" {
		config.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate fails fast on misconfiguration: the engine never evaluates
// against an invalid configuration.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required (config or MQTT_BROKER)")
	}
	if c.MQTT.Topics.PowerMeter == "" {
		return fmt.Errorf("power meter topic is required")
	}
	if c.Balancer.MaxMeterAge < 0 {
		return fmt.Errorf("max meter age must not be negative, got %.1f s", c.Balancer.MaxMeterAge)
	}
	return c.EngineConfig().Validate()
}

// EngineConfig builds the immutable core configuration snapshot.
func (c *Config) EngineConfig() balancer.Config {
	return balancer.Config{
		VoltageV:           c.Balancer.Voltage,
		MaxServiceCurrentA: c.Balancer.MaxServiceCurrent,
		MaxChargerCurrentA: c.Balancer.MaxChargerCurrent,
		MinEVCurrentA:      c.Balancer.MinEVCurrent,
		StepA:              c.Balancer.Step,
		RampUpTime:         time.Duration(c.Balancer.RampUpTime * float64(time.Second)),
		UnavailablePolicy:  balancer.UnavailablePolicy(c.Balancer.UnavailableBehavior),
		FallbackCurrentA:   c.Balancer.FallbackCurrent,
		Enabled:            c.Balancer.Enabled,
	}
}
