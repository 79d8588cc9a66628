package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ev-balancer/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type Client struct {
	client mqtt.Client
	config *config.Config
	logger *logrus.Logger

	onPowerUpdate      func(powerW float64)
	onMeterUnavailable func()
	onSetLimit         func(currentA float64)
	onEnabled          func(enabled bool)
}

// PowerMessage is the JSON form of a meter reading; plain float payloads
// are accepted as well.
type PowerMessage struct {
	Power     float64   `json:"power"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	c := &Client{
		config: cfg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)

	return c
}

func (c *Client) Connect() error {
	c.logger.Info("Connecting to MQTT broker...")

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("Connected to MQTT broker")
	return nil
}

func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker...")
	c.client.Disconnect(250)
}

// Raw exposes the underlying paho client for publishers sharing the
// connection (charger commands, discovery).
func (c *Client) Raw() mqtt.Client {
	return c.client
}

// SetCallbacks wires the inbound triggers. Must be called before Connect.
func (c *Client) SetCallbacks(
	onPower func(float64),
	onUnavailable func(),
	onSetLimit func(float64),
	onEnabled func(bool),
) {
	c.onPowerUpdate = onPower
	c.onMeterUnavailable = onUnavailable
	c.onSetLimit = onSetLimit
	c.onEnabled = onEnabled
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected, subscribing to topics...")

	c.subscribe(client, c.config.MQTT.Topics.PowerMeter, c.handlePowerMessage)
	c.subscribe(client, c.config.MQTT.Topics.SetLimit, c.handleSetLimitMessage)
	c.subscribe(client, c.config.MQTT.Topics.Enabled, c.handleEnabledMessage)
}

func (c *Client) subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) {
	if topic == "" {
		return
	}
	if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		c.logger.Errorf("Failed to subscribe to %s: %v", topic, token.Error())
	} else {
		c.logger.Infof("Subscribed to %s", topic)
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Errorf("MQTT connection lost: %v", err)
}

// handlePowerMessage parses a meter reading. Availability payloads and
// unparsable values are routed to the unavailable callback; they are never
// a hard failure.
func (c *Client) handlePowerMessage(client mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	c.logger.Debugf("Received power message: %s", payload)

	if isUnavailablePayload(payload) {
		c.logger.Warnf("Power meter reported unavailable: %q", payload)
		if c.onMeterUnavailable != nil {
			c.onMeterUnavailable()
		}
		return
	}

	power, err := parsePowerPayload(payload)
	if err != nil {
		c.logger.Warnf("Could not parse power meter value %q: %v", payload, err)
		if c.onMeterUnavailable != nil {
			c.onMeterUnavailable()
		}
		return
	}

	if c.onPowerUpdate != nil {
		c.onPowerUpdate(power)
	}
}

func isUnavailablePayload(payload string) bool {
	switch strings.ToLower(payload) {
	case "", "unavailable", "unknown", "none", "null":
		return true
	}
	return false
}

func parsePowerPayload(payload string) (float64, error) {
	if json.Valid([]byte(payload)) && strings.HasPrefix(payload, "{") {
		var msg PowerMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return 0, err
		}
		return msg.Power, nil
	}
	return strconv.ParseFloat(payload, 64)
}

func (c *Client) handleSetLimitMessage(client mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))

	currentA, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		c.logger.Warnf("Could not parse set-limit value %q: %v", payload, err)
		return
	}

	c.logger.Infof("Manual set-limit request: %.1f A", currentA)
	if c.onSetLimit != nil {
		c.onSetLimit(currentA)
	}
}

func (c *Client) handleEnabledMessage(client mqtt.Client, msg mqtt.Message) {
	payload := strings.ToLower(strings.TrimSpace(string(msg.Payload())))

	var enabled bool
	switch payload {
	case "1", "true", "on":
		enabled = true
	case "0", "false", "off":
		enabled = false
	default:
		c.logger.Warnf("Could not parse enabled value %q", payload)
		return
	}

	c.logger.Infof("Enabled switch set to %v", enabled)
	if c.onEnabled != nil {
		c.onEnabled(enabled)
	}
}

// PublishStatus publishes the evaluation outcome to the status topics.
func (c *Client) PublishStatus(targetA, availableA, appliedA float64, state, reason string) {
	base := c.config.MQTT.Topics.Status
	if base == "" {
		return
	}

	c.publish(base+"/target_current", fmt.Sprintf("%.1f", targetA))
	c.publish(base+"/available_current", fmt.Sprintf("%.2f", availableA))
	c.publish(base+"/applied_current", fmt.Sprintf("%.1f", appliedA))
	c.publish(base+"/state", state)
	c.publish(base+"/reason", reason)
}

// PublishEvent publishes a fault/resolution event as JSON.
func (c *Client) PublishEvent(event string, data map[string]interface{}) {
	base := c.config.MQTT.Topics.Status
	if base == "" {
		return
	}

	b, err := json.Marshal(data)
	if err != nil {
		c.logger.Errorf("Failed to marshal event %s: %v", event, err)
		return
	}
	c.publish(base+"/events/"+event, string(b))
}

func (c *Client) publish(topic, payload string) {
	token := c.client.Publish(topic, 0, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Errorf("Failed to publish to %s: %v", topic, err)
	}
}
