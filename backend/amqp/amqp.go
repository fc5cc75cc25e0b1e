// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// New returns a new AMQP
func New(config Config, ctx log.Interface) (*AMQP, error) {
	amqp := new(AMQP)

	if config.ExchangeName == "" {
		config.ExchangeName = "amq.topic"
	}

	if config.QueuePrefix == "" {
		config.QueuePrefix = "mesh-gateway"
	}

	if config.ConsumerPrefix == "" {
		config.ConsumerPrefix = "mesh-gateway"
		if user, err := user.Current(); err == nil {
			config.ConsumerPrefix += "-" + user.Username
		}
		if hostname, err := os.Hostname(); err == nil {
			config.ConsumerPrefix += "@" + hostname
		}
	}

	amqp.ctx = ctx.WithField("Connector", "AMQP")
	amqp.config = config
	amqp.lost = make(chan error, 1)
	amqp.subscriptions = make(map[string]*subscription)

	return amqp, nil
}

// BufferSize indicates the maximum number of AMQP messages that should be buffered
var BufferSize = 10

// Config contains configuration for AMQP
type Config struct {
	Address        string
	Username       string
	Password       string
	VHost          string
	ExchangeName   string
	QueuePrefix    string
	ConsumerPrefix string
	TLSConfig      *tls.Config
}

func (c Config) url() (url string) {
	if c.TLSConfig != nil {
		url += "amqps://"
	} else {
		url += "amqp://"
	}
	if c.Username != "" {
		url += c.Username
		if c.Password != "" {
			url += ":" + c.Password
		}
		url += "@"
	}
	url += c.Address
	if c.VHost != "" {
		url += "/" + c.VHost
	}
	return
}

// RoutingKey returns the routing key for an MQTT-style topic
func RoutingKey(topic string) string {
	return strings.NewReplacer("/", ".", "+", "*").Replace(topic)
}

// Topic returns the MQTT-style topic for a routing key
func Topic(routingKey string) string {
	return strings.NewReplacer(".", "/", "*", "+").Replace(routingKey)
}

type subscription struct {
	channel      *amqp.Channel
	queueName    string
	consumerName string
}

// AMQP broker connection
type AMQP struct {
	config Config
	ctx    log.Interface
	lost   chan error

	mu            sync.Mutex
	conn          *amqp.Connection
	publish       *amqp.Channel
	connected     bool
	subscriptions map[string]*subscription
}

var _ backend.Broker = &AMQP{}

// Connect to AMQP. A single attempt is made.
func (c *AMQP) Connect() (err error) {
	var conn *amqp.Connection
	if c.config.TLSConfig != nil {
		conn, err = amqp.DialTLS(c.config.url(), c.config.TLSConfig)
	} else {
		conn, err = amqp.Dial(c.config.url())
	}
	if err != nil {
		return err
	}
	if err := c.setup(conn); err != nil {
		conn.Close()
		return err
	}
	publish, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.publish, c.connected = conn, publish, true
	c.mu.Unlock()

	closed := make(chan *amqp.Error, 1)
	conn.NotifyClose(closed)
	go c.monitor(conn, closed)

	c.ctx.Info("Connected")
	return nil
}

func (c *AMQP) monitor(conn *amqp.Connection, closed chan *amqp.Error) {
	amqpErr, hasErr := <-closed
	c.mu.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn, c.publish = nil, nil
	}
	c.mu.Unlock()
	if !hasErr {
		c.ctx.Info("Connection closed")
		return
	}
	err := errors.New(amqpErr.Error())
	c.ctx.WithError(err).Warn("Connection lost")
	select {
	case c.lost <- err:
	default:
	}
}

func (c *AMQP) setup(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclarePassive(c.config.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		c.ctx.WithError(err).Warnf("Exchange %s does not exist, trying to create...", c.config.ExchangeName)
		// a failed passive declare closes the channel
		ch, err := conn.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		if err := ch.ExchangeDeclare(c.config.ExchangeName, "topic", true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect from AMQP
func (c *AMQP) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn, c.publish, c.connected = nil, nil, false
	subscriptions := c.subscriptions
	c.subscriptions = make(map[string]*subscription)
	c.mu.Unlock()
	for _, sub := range subscriptions {
		sub.channel.Close()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected returns true if the connection is open
func (c *AMQP) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Lost implements backend.Broker
func (c *AMQP) Lost() <-chan error {
	return c.lost
}

// Publish a message to the routing key of the topic
func (c *AMQP) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publish == nil {
		return backend.ErrNotConnected
	}
	routingKey := RoutingKey(topic)
	err := c.publish.Publish(c.config.ExchangeName, routingKey, false, false, amqp.Publishing{
		Timestamp:   time.Now(),
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return err
	}
	c.ctx.WithField("RoutingKey", routingKey).Debug("Published message")
	return nil
}

// Subscribe to the routing key of the topic. An existing subscription on the
// same topic is replaced.
func (c *AMQP) Subscribe(topic string) (<-chan *types.BrokerMessage, error) {
	c.mu.Lock()
	conn := c.conn
	existing := c.subscriptions[topic]
	delete(c.subscriptions, topic)
	c.mu.Unlock()
	if existing != nil {
		existing.channel.Close()
	}
	if conn == nil {
		return nil, backend.ErrNotConnected
	}

	routingKey := RoutingKey(topic)
	ctx := c.ctx.WithField("RoutingKey", routingKey)
	channel, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	sub := &subscription{
		channel:   channel,
		queueName: fmt.Sprintf("%s.%s", c.config.QueuePrefix, routingKey),
	}
	sub.consumerName = c.config.ConsumerPrefix + "-" + sub.queueName
	if _, err := channel.QueueDeclare(sub.queueName, true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	if err := channel.QueueBind(sub.queueName, routingKey, c.config.ExchangeName, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		return nil, err
	}
	deliveries, err := channel.Consume(sub.queueName, sub.consumerName, false, false, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, err
	}

	c.mu.Lock()
	c.subscriptions[topic] = sub
	c.mu.Unlock()

	messages := make(chan *types.BrokerMessage, BufferSize)
	go func() {
		for msg := range deliveries {
			select {
			case messages <- &types.BrokerMessage{Topic: Topic(msg.RoutingKey), Payload: msg.Body}:
				ctx.WithField("Size", len(msg.Body)).Debug("Received message")
			default:
				ctx.Warn("Could not handle message: buffer full")
			}
			msg.Ack(false)
		}
		close(messages)
	}()
	ctx.Info("Subscribed")
	return messages, nil
}

// Unsubscribe from the topic and delete its queue
func (c *AMQP) Unsubscribe(topic string) error {
	c.mu.Lock()
	sub, ok := c.subscriptions[topic]
	delete(c.subscriptions, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	defer sub.channel.Close()
	if err := sub.channel.Cancel(sub.consumerName, false); err != nil {
		return err
	}
	lost, err := sub.channel.QueueDelete(sub.queueName, false, false, false)
	if err != nil {
		return err
	}
	if lost > 0 {
		c.ctx.WithField("NumMessages", lost).Warn("Lost messages in unsubscribe")
	}
	return nil
}
