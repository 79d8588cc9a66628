// Package charger defines the actuation boundary of the balancer. The
// coordinator decides which action a transition requires; implementations
// deliver it to the actual hardware.
package charger

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Controller commands a single charger. Implementations may retry or fail;
// the coordinator keeps the applied current honest either way.
type Controller interface {
	StartCharging() error
	SetCurrent(currentA float64) error
	StopCharging() error
}

const publishTimeout = 5 * time.Second

// MQTTController delivers charger commands over MQTT command topics:
// <base>/start, <base>/stop and <base>/current_limit.
type MQTTController struct {
	client    mqtt.Client
	baseTopic string
	logger    *logrus.Logger
}

func NewMQTTController(client mqtt.Client, baseTopic string, logger *logrus.Logger) *MQTTController {
	return &MQTTController{
		client:    client,
		baseTopic: baseTopic,
		logger:    logger,
	}
}

func (c *MQTTController) StartCharging() error {
	return c.publish(c.baseTopic+"/start", "1")
}

func (c *MQTTController) StopCharging() error {
	return c.publish(c.baseTopic+"/stop", "1")
}

func (c *MQTTController) SetCurrent(currentA float64) error {
	return c.publish(c.baseTopic+"/current_limit", fmt.Sprintf("%.1f", currentA))
}

func (c *MQTTController) publish(topic, payload string) error {
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	c.logger.Debugf("Charger command %s <- %s", topic, payload)
	return nil
}
