// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"strings"
	"sync"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
)

// BufferSize indicates the maximum number of dummy messages that should be buffered
var BufferSize = 10

// Dummy backend is an in-memory broker and a client connected to it
type Dummy struct {
	mu            sync.Mutex
	ctx           log.Interface
	connected     bool
	connectErr    error
	lost          chan error
	subscriptions map[string]chan *types.BrokerMessage
}

var _ backend.Broker = &Dummy{}

// New returns a new Dummy backend
func New(ctx log.Interface) *Dummy {
	return &Dummy{
		ctx:           ctx.WithField("Connector", "Dummy"),
		lost:          make(chan error, 1),
		subscriptions: make(map[string]chan *types.BrokerMessage),
	}
}

// SetConnectError makes subsequent calls to Connect fail with err. Pass nil to let them succeed.
func (d *Dummy) SetConnectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// Connect implements backend.Broker
func (d *Dummy) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		d.ctx.WithError(d.connectErr).Debug("Could not connect")
		return d.connectErr
	}
	d.connected = true
	d.ctx.Debug("Connected")
	return nil
}

// Disconnect implements backend.Broker
func (d *Dummy) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.ctx.Debug("Disconnected")
	return nil
}

// Fail drops the connection and reports err on the Lost channel
func (d *Dummy) Fail(err error) {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	d.ctx.WithError(err).Debug("Connection lost")
	select {
	case d.lost <- err:
	default:
	}
}

// IsConnected implements backend.Broker
func (d *Dummy) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Lost implements backend.Broker
func (d *Dummy) Lost() <-chan error {
	return d.lost
}

// Publish implements backend.Broker
func (d *Dummy) Publish(topic string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return backend.ErrNotConnected
	}
	ctx := d.ctx.WithField("Topic", topic)
	for filter, messages := range d.subscriptions {
		if !Match(filter, topic) {
			continue
		}
		select {
		case messages <- &types.BrokerMessage{Topic: topic, Payload: append([]byte(nil), payload...)}:
			ctx.Debug("Published message")
		default:
			ctx.Debug("Did not publish message [buffer full]")
		}
	}
	return nil
}

// Subscribe implements backend.Broker. Subscribing does not require a
// connection, so that tests can observe the broker side.
func (d *Dummy) Subscribe(topic string) (<-chan *types.BrokerMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.subscriptions[topic]; ok {
		close(existing)
	}
	messages := make(chan *types.BrokerMessage, BufferSize)
	d.subscriptions[topic] = messages
	d.ctx.WithField("Topic", topic).Debug("Subscribed")
	return messages, nil
}

// Unsubscribe implements backend.Broker
func (d *Dummy) Unsubscribe(topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.subscriptions[topic]; ok {
		close(existing)
		delete(d.subscriptions, topic)
	}
	d.ctx.WithField("Topic", topic).Debug("Unsubscribed")
	return nil
}

// Match returns true if the topic matches the MQTT topic filter
func Match(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
