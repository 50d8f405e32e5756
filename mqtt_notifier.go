package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/orian/configdesk/models"
)

const mqttTimeout = 10 * time.Second

// MQTTConfig holds the commit notification broker settings.
type MQTTConfig struct {
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Enabled reports whether a broker was configured.
func (c MQTTConfig) Enabled() bool {
	return c.URL != ""
}

// mqttPublisher is the part of paho.Client the notifier needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTTNotifier announces commits on <prefix>/<collection>/<config id>.
type MQTTNotifier struct {
	client      paho.Client
	publisher   mqttPublisher
	topicPrefix string
	mu          sync.Mutex
}

// NewMQTTNotifier creates the notifier but does not connect.
func NewMQTTNotifier(cfg MQTTConfig) *MQTTNotifier {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "configdesk"
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	return &MQTTNotifier{
		client:      client,
		publisher:   client,
		topicPrefix: topicPrefixOrDefault(cfg.TopicPrefix),
	}
}

func topicPrefixOrDefault(prefix string) string {
	if prefix == "" {
		return "configdesk/commits"
	}
	return prefix
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

// Connect attempts to connect to the broker without blocking indefinitely.
func (n *MQTTNotifier) Connect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	token := n.client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Topic is where commits of configID in collection are announced.
func (n *MQTTNotifier) Topic(collection, configID string) string {
	return fmt.Sprintf("%s/%s/%s", n.topicPrefix, collection, configID)
}

func (n *MQTTNotifier) Publish(ctx context.Context, collection string, rec *models.VersionRecord) error {
	payload, err := json.Marshal(newCommitEvent(collection, rec))
	if err != nil {
		return err
	}
	topic := n.Topic(collection, rec.ID)

	n.mu.Lock()
	token := n.publisher.Publish(topic, 1, false, payload)
	n.mu.Unlock()

	timeout := mqttTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (n *MQTTNotifier) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client != nil {
		n.client.Disconnect(1000)
	}
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}
