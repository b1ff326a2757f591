// Package telemetry publishes robot telemetry over MQTT and accepts commands
// on a companion topic.
package telemetry

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/sumobot/internal/monitoring"
)

// DefaultConnectTimeout bounds the initial broker connection.
const DefaultConnectTimeout = 10 * time.Second

// Client is the subset of mqtt.Client used here.
type Client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Connect opens a client to broker ("tcp://host:port"). The client keeps
// reconnecting on its own after the first connection.
func Connect(broker string, logf func(format string, args ...interface{})) (mqtt.Client, error) {
	logf = monitoring.Or(logf)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("sumobot-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)
	opts.OnConnect = func(mqtt.Client) {
		logf("telemetry: connected to MQTT broker %s", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logf("telemetry: MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(DefaultConnectTimeout) {
		// With ConnectRetry set the client keeps trying in the background.
		logf("telemetry: MQTT broker %s not reachable yet, retrying in background", broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}
	return client, nil
}

// Topic joins prefix, the robot name and leaf into an MQTT topic. Wildcard
// and separator characters in the name are replaced.
func Topic(prefix, name, leaf string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "_"
	}
	return strings.Trim(prefix, "/") + "/" + name + "/" + leaf
}
