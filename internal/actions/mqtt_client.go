package actions

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mqttClient wraps the Paho client behind the small surface the handler
// needs.
type mqttClient struct {
	client paho.Client
}

func newMQTTClient(brokerURL, clientID string) *mqttClient {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	return &mqttClient{client: paho.NewClient(opts)}
}

// Connect attempts to connect to the broker. Returns an error if connection
// fails, but does not block indefinitely.
func (c *mqttClient) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return &mqttTimeoutError{op: "connect"}
	}
	return token.Error()
}

// Publish sends one payload at QoS 1.
func (c *mqttClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return &mqttTimeoutError{op: "publish", topic: topic}
	}
	return token.Error()
}

type mqttTimeoutError struct {
	op    string
	topic string
}

func (e *mqttTimeoutError) Error() string {
	if e.topic != "" {
		return "mqtt " + e.op + " timeout: " + e.topic
	}
	return "mqtt " + e.op + " timeout"
}
