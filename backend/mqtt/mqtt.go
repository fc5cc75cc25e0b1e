// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/TheThingsNetwork/ttn/utils/random"
	"github.com/apex/log"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// PublishTimeout is the timeout before returning from publish without checking error
var PublishTimeout = 50 * time.Millisecond

// ConnectTimeout is the maximum time a single connection attempt may take
var ConnectTimeout = 5 * time.Second

// ErrConnectTimeout is returned when a connection attempt takes longer than ConnectTimeout
var ErrConnectTimeout = errors.New("mqtt: connect timed out")

// New returns a new MQTT
func New(config Config, ctx log.Interface) (*MQTT, error) {
	mqtt := new(MQTT)

	mqtt.ctx = ctx.WithField("Connector", "MQTT")
	mqtt.lost = make(chan error, 1)

	mqttOpts := paho.NewClientOptions()
	for _, broker := range config.Brokers {
		mqttOpts.AddBroker(broker)
	}
	if config.TLSConfig != nil {
		mqttOpts.SetTLSConfig(config.TLSConfig)
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("mesh-gateway-%s", random.String(16))
	}
	mqttOpts.SetClientID(clientID)
	mqttOpts.SetUsername(config.Username)
	mqttOpts.SetPassword(config.Password)
	mqttOpts.SetKeepAlive(30 * time.Second)
	mqttOpts.SetPingTimeout(10 * time.Second)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetAutoReconnect(false)
	mqttOpts.SetConnectTimeout(ConnectTimeout)
	mqttOpts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		mqtt.ctx.Warnf("Received unhandled message on MQTT: %v", msg)
	})

	mqtt.subscriptions = make(map[string]*subscription)
	mqttOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		mqtt.ctx.Warnf("Disconnected (%s)", err.Error())
		select {
		case mqtt.lost <- err:
		default:
		}
	})
	mqttOpts.SetOnConnectHandler(func(_ paho.Client) {
		mqtt.ctx.Info("Connected")
	})

	mqtt.client = paho.NewClient(mqttOpts)

	return mqtt, nil
}

// QoS indicates the MQTT Quality of Service level.
// 0: The broker/client will deliver the message once, with no confirmation.
// 1: The broker/client will deliver the message at least once, with confirmation required.
// 2: The broker/client will deliver the message exactly once by using a four step handshake.
var (
	PublishQoS   byte = 0x00
	SubscribeQoS byte = 0x00
)

// BufferSize indicates the maximum number of MQTT messages that should be buffered
var BufferSize = 10

// Config contains configuration for MQTT
type Config struct {
	Brokers   []string
	Username  string
	Password  string
	ClientID  string
	TLSConfig *tls.Config
}

type subscription struct {
	mu       sync.Mutex
	closed   bool
	messages chan *types.BrokerMessage
}

func (s *subscription) deliver(ctx log.Interface, msg *types.BrokerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- msg:
		ctx.WithField("Size", len(msg.Payload)).Debug("Received message")
	default:
		ctx.Warn("Could not handle message: buffer full")
	}
}

func (s *subscription) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
}

// MQTT broker connection
type MQTT struct {
	ctx           log.Interface
	client        paho.Client
	lost          chan error
	subscriptions map[string]*subscription
	mu            sync.Mutex
}

var _ backend.Broker = &MQTT{}

// Connect to MQTT. A single attempt is made.
func (c *MQTT) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("Could not connect to MQTT (%s)", err)
	}
	return nil
}

// Disconnect from MQTT
func (c *MQTT) Disconnect() error {
	c.client.Disconnect(100)
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subscriptions {
		sub.cancel()
		delete(c.subscriptions, topic)
	}
	return nil
}

// IsConnected returns true if the client is connected
func (c *MQTT) IsConnected() bool {
	return c.client.IsConnected()
}

// Lost implements backend.Broker
func (c *MQTT) Lost() <-chan error {
	return c.lost
}

// Publish a message. Errors that take longer than PublishTimeout to surface are only logged.
func (c *MQTT) Publish(topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return backend.ErrNotConnected
	}
	ctx := c.ctx.WithField("Topic", topic)
	token := c.client.Publish(topic, PublishQoS, false, payload)
	if token.WaitTimeout(PublishTimeout) {
		if err := token.Error(); err != nil {
			return err
		}
		ctx.WithField("Size", len(payload)).Debug("Published message")
		return nil
	}
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			ctx.WithError(err).Warn("Could not publish message")
			return
		}
		ctx.WithField("Size", len(payload)).Debug("Published message")
	}()
	return nil
}

// Subscribe to a topic. An existing subscription on the same topic is replaced.
func (c *MQTT) Subscribe(topic string) (<-chan *types.BrokerMessage, error) {
	if !c.client.IsConnected() {
		return nil, backend.ErrNotConnected
	}
	ctx := c.ctx.WithField("Topic", topic)
	sub := &subscription{messages: make(chan *types.BrokerMessage, BufferSize)}

	c.mu.Lock()
	if existing, ok := c.subscriptions[topic]; ok {
		existing.cancel()
	}
	c.subscriptions[topic] = sub
	c.mu.Unlock()

	token := c.client.Subscribe(topic, SubscribeQoS, func(_ paho.Client, msg paho.Message) {
		if msg.Retained() {
			ctx.Debug("Ignore retained message")
			return
		}
		sub.deliver(ctx, &types.BrokerMessage{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.mu.Lock()
		if c.subscriptions[topic] == sub {
			delete(c.subscriptions, topic)
		}
		c.mu.Unlock()
		sub.cancel()
		return nil, err
	}
	return sub.messages, nil
}

// Unsubscribe from a topic and close its channel
func (c *MQTT) Unsubscribe(topic string) error {
	c.mu.Lock()
	if sub, ok := c.subscriptions[topic]; ok {
		sub.cancel()
	}
	delete(c.subscriptions, topic)
	c.mu.Unlock()
	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}
