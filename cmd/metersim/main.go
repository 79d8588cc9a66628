package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type TestScenario struct {
	Name        string
	HousePowers []string // watts, or "unavailable" for a meter outage
	Intervals   []int    // seconds between each value
	Description string
}

type PowerMessage struct {
	Power     float64   `json:"power"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	var broker string
	var powerTopic string

	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "mqtt broker")
	flag.StringVar(&powerTopic, "topic", "energy/house/power", "house power topic")
	flag.Parse()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("meter-simulator")
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", token.Error())
	}
	defer client.Disconnect(250)

	fmt.Println("Meter simulator connected to", broker)
	fmt.Println("Publishing house power to:", powerTopic)
	fmt.Println()

	scenarios := []TestScenario{
		{
			Name:        "Test 1: Normal household load",
			HousePowers: []string{"3000", "3500", "2800", "4200", "3100"},
			Intervals:   []int{5, 5, 5, 5, 10},
			Description: "Steady load well under the service limit - charger should ramp to max",
		},
		{
			Name:        "Test 2: Overload spike",
			HousePowers: []string{"3000", "10500", "9800", "3200", "3000"},
			Intervals:   []int{10, 5, 5, 10, 10},
			Description: "Oven + heat pump spike - charger must stop instantly, then wait out the cooldown",
		},
		{
			Name:        "Test 3: Meter outage and recovery",
			HousePowers: []string{"3000", "unavailable", "unavailable", "3100"},
			Intervals:   []int{10, 10, 10, 10},
			Description: "Meter drops out - verify the configured unavailable policy fires",
		},
		{
			Name:        "Test 4: Load hovering near the limit",
			HousePowers: []string{"6800", "7400", "6900", "7600", "7000", "7300"},
			Intervals:   []int{5, 5, 5, 5, 5, 5},
			Description: "Oscillating load around the limit - ramp cooldown should prevent flapping",
		},
	}

	for i, scenario := range scenarios {
		runScenario(client, scenario, powerTopic)

		if i < len(scenarios)-1 {
			fmt.Println("\nPausing 10s before the next test...")
			time.Sleep(10 * time.Second)
		}
	}

	fmt.Println("\nAll tests finished.")
	fmt.Println("Check the balancer logs and status topics to analyse the behavior.")
}

func runScenario(client mqtt.Client, scenario TestScenario, powerTopic string) {
	fmt.Printf("=== %s ===\n", scenario.Name)
	fmt.Printf("%s\n", scenario.Description)

	for i, value := range scenario.HousePowers {
		publishHousePower(client, powerTopic, value)

		interval := 5 // default
		if i < len(scenario.Intervals) {
			interval = scenario.Intervals[i]
		}

		fmt.Printf("T+%ds: house power = %s\n", totalTime(scenario.Intervals, i), value)

		if i < len(scenario.HousePowers)-1 {
			time.Sleep(time.Duration(interval) * time.Second)
		}
	}

	fmt.Printf("=== %s done ===\n", scenario.Name)
}

func publishHousePower(client mqtt.Client, topic, value string) {
	var payload []byte

	var power float64
	if _, err := fmt.Sscanf(value, "%f", &power); err == nil {
		payload, _ = json.Marshal(PowerMessage{Power: power, Timestamp: time.Now()})
	} else {
		// Availability payloads are published verbatim.
		payload = []byte(value)
	}

	token := client.Publish(topic, 1, false, payload)
	token.Wait()
}

func totalTime(intervals []int, currentIndex int) int {
	total := 0
	for i := 0; i < currentIndex && i < len(intervals); i++ {
		total += intervals[i]
	}
	return total
}
