// Package homeassistant publishes MQTT discovery configurations so the
// balancer's sensors appear in Home Assistant without manual setup.
package homeassistant

import (
	"encoding/json"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type DeviceClass string

const (
	DeviceClassCurrent DeviceClass = "current"
	DeviceClassPower   DeviceClass = "power"
)

type Unit string

const (
	UnitAmpere Unit = "A"
	UnitWatt   Unit = "W"
)

type Device struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

type ConfigurationItem struct {
	DeviceClass       DeviceClass `json:"device_class,omitempty"`
	UnitOfMeasurement Unit        `json:"unit_of_measurement,omitempty"`
	Device            Device      `json:"device"`
	StateClass        string      `json:"state_class,omitempty"`
	UniqueId          string      `json:"unique_id"`
	Name              string      `json:"name"`
	StateTopic        string      `json:"state_topic"`
	ValueTemplate     string      `json:"value_template,omitempty"`
}

// BalancerSensors returns the discovery configuration for the balancer's
// state topics.
func BalancerSensors(deviceName, statusBase string) []ConfigurationItem {
	device := Device{
		Identifiers: []string{slug(deviceName)},
		Name:        deviceName,
	}

	return []ConfigurationItem{
		{
			Name:              "Target Current",
			UniqueId:          slug(deviceName) + "_target_current",
			Device:            device,
			DeviceClass:       DeviceClassCurrent,
			UnitOfMeasurement: UnitAmpere,
			StateClass:        "measurement",
			StateTopic:        statusBase + "/target_current",
		},
		{
			Name:              "Available Current",
			UniqueId:          slug(deviceName) + "_available_current",
			Device:            device,
			DeviceClass:       DeviceClassCurrent,
			UnitOfMeasurement: UnitAmpere,
			StateClass:        "measurement",
			StateTopic:        statusBase + "/available_current",
		},
		{
			Name:              "Applied Current",
			UniqueId:          slug(deviceName) + "_applied_current",
			Device:            device,
			DeviceClass:       DeviceClassCurrent,
			UnitOfMeasurement: UnitAmpere,
			StateClass:        "measurement",
			StateTopic:        statusBase + "/applied_current",
		},
		{
			Name:       "Balancer State",
			UniqueId:   slug(deviceName) + "_state",
			Device:     device,
			StateTopic: statusBase + "/state",
		},
	}
}

// SendConfiguration publishes retained discovery configs under the given
// discovery prefix (usually "homeassistant").
func SendConfiguration(client mqtt.Client, prefix string, items []ConfigurationItem, logger *logrus.Logger) {
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			logger.Errorf("Failed to marshal discovery config for %s: %v", item.Name, err)
			continue
		}

		topic := prefix + "/sensor/" + item.UniqueId + "/config"
		token := client.Publish(topic, 0, true, b)
		token.Wait()
		if tokenErr := token.Error(); tokenErr != nil {
			logger.Errorf("Failed to publish discovery config for %s: %v", item.Name, tokenErr)
			continue
		}
		logger.Debugf("Published discovery config for %s", item.Name)
	}
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
