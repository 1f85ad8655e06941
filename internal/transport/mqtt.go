package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/repository"
)

var _ repository.RoomTransport = (*MQTT)(nil)

// MQTTOptions configures an MQTT transport.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix defaults to "desk".
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	// AckTimeout bounds how long a subscribe acknowledgement is awaited
	// before a warning is logged. Defaults to ConnectTimeout.
	AckTimeout time.Duration
	Logger     *slog.Logger
	// NewClient overrides client construction in tests.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

// MQTT is a push transport where each scope is a topic. Joining a scope
// subscribes to its topic; the global topic is subscribed on every
// connect. Sessions are clean, so subscriptions do not survive a
// reconnect.
type MQTT struct {
	opts   MQTTOptions
	logger *slog.Logger

	mu        sync.Mutex
	client    mqtt.Client
	sink      Sink
	connected bool
	connects  int
}

// NewMQTT creates an MQTT transport.
func NewMQTT(opts MQTTOptions) *MQTT {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "desk"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = opts.ConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewClient == nil {
		opts.NewClient = mqtt.NewClient
	}
	return &MQTT{opts: opts, logger: opts.Logger}
}

// Topic returns the topic carrying events for s.
func (m *MQTT) Topic(s scope.Scope) string {
	if s.IsGlobal() {
		return m.opts.TopicPrefix + "/global"
	}
	return fmt.Sprintf("%s/%s/%d", m.opts.TopicPrefix, s.Kind, s.ID)
}

// Run connects and stays connected until ctx is done. Reconnection is
// handled by the client library.
func (m *MQTT) Run(ctx context.Context, sink Sink) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.opts.Broker)
	opts.SetClientID(m.opts.ClientID)
	opts.SetUsername(m.opts.Username)
	opts.SetPassword(m.opts.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(m.opts.ConnectTimeout)
	opts.OnConnect = m.onConnect
	opts.OnConnectionLost = m.onConnectionLost

	client := m.opts.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.sink = sink
	m.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to %s: %w", m.opts.Broker, err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	client.Disconnect(250)
	return ctx.Err()
}

// Join subscribes to the topic of s. It returns once the request is
// queued; the broker acknowledgement is awaited in the background.
func (m *MQTT) Join(_ context.Context, s scope.Scope) error {
	client, err := m.connectedClient()
	if err != nil {
		return err
	}
	topic := m.Topic(s)
	m.settle("subscribe", topic, client.Subscribe(topic, m.opts.QoS, m.onMessage))
	return nil
}

// Leave unsubscribes from the topic of s without waiting for the broker.
func (m *MQTT) Leave(_ context.Context, s scope.Scope) error {
	client, err := m.connectedClient()
	if err != nil {
		return err
	}
	topic := m.Topic(s)
	m.settle("unsubscribe", topic, client.Unsubscribe(topic))
	return nil
}

func (m *MQTT) connectedClient() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || !m.connected {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// settle logs the outcome of a broker request.
func (m *MQTT) settle(op, topic string, token mqtt.Token) {
	go func() {
		timer := time.NewTimer(m.opts.AckTimeout)
		defer timer.Stop()
		select {
		case <-token.Done():
		case <-timer.C:
			m.logger.Warn("broker acknowledgement overdue", "op", op, "topic", topic, "timeout", m.opts.AckTimeout)
			return
		}
		if err := token.Error(); err != nil {
			m.logger.Warn("broker rejected request", "op", op, "topic", topic, "error", err)
			return
		}
		m.logger.Debug("broker acknowledged", "op", op, "topic", topic)
	}()
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.mu.Lock()
	m.connected = true
	m.connects++
	first := m.connects == 1
	sink := m.sink
	m.mu.Unlock()

	global := m.Topic(scope.Global)
	m.settle("subscribe", global, client.Subscribe(global, m.opts.QoS, m.onMessage))
	m.logger.Info("push connected", "broker", m.opts.Broker)
	if sink == nil {
		return
	}
	if first {
		sink.Connection(StateConnected)
	} else {
		sink.Connection(StateReconnected)
	}
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.mu.Lock()
	m.connected = false
	sink := m.sink
	m.mu.Unlock()

	m.logger.Warn("push connection lost", "broker", m.opts.Broker, "error", err)
	if sink != nil {
		sink.Connection(StateDisconnected)
	}
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return
	}

	frame, err := ParseFrame(msg.Payload())
	if err != nil {
		m.logger.Warn("dropping push message", "topic", msg.Topic(), "error", err)
		return
	}
	ev, err := frame.PushEvent(time.Now())
	if err != nil {
		m.logger.Warn("dropping push message", "topic", msg.Topic(), "error", err)
		return
	}
	sink.Push(ev)
}
