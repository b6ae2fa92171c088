package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// mqttPublisher publishes a JSON stats snapshot per worker per tick,
// modeled on the teacher's mqtt_publisher.go: connect once at startup,
// tolerate broker-unreachable as a logged non-fatal condition, never let
// the streaming pipelines depend on it.
type mqttPublisher struct {
	log         *componentLogger
	client      mqtt.Client
	topicPrefix string
}

func newMQTTPublisher(log *componentLogger, cfg MQTTConfig) *mqttPublisher {
	clientID := cfg.ClientID
	if clientID == "" {
		// Mirrors the teacher's instance_reporter.go minting a fresh
		// uuid.New().String() identity when none is configured, so two
		// gadget instances pointed at the same broker never collide on
		// MQTT client ID.
		clientID = "sdr-ip-gadget-" + uuid.New().String()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoReconnect(true)

	p := &mqttPublisher{
		log:         log,
		client:      mqtt.NewClient(opts),
		topicPrefix: cfg.TopicPrefix,
	}

	if token := p.client.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("mqtt connect failed (will keep retrying in background): %v", token.Error())
	}
	return p
}

// publish sends one stats snapshot; failures are logged and otherwise
// ignored, per SPEC_FULL.md §4.11.
func (p *mqttPublisher) publish(rep streamReport) {
	body, err := json.Marshal(rep)
	if err != nil {
		p.log.Printf("mqtt marshal failed: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/%s/stats", p.topicPrefix, rep.Worker)
	token := p.client.Publish(topic, 0, false, body)
	if token.WaitTimeout(time.Second) && token.Error() != nil {
		p.log.Printf("mqtt publish to %s failed: %v", topic, token.Error())
	}
}

func (p *mqttPublisher) close() {
	p.client.Disconnect(250)
}
