// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package backend defines the publish/subscribe brokers the gateway bridges to.
package backend

import (
	"errors"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
)

// ErrNotConnected is returned when publishing or subscribing without a connection
var ErrNotConnected = errors.New("backend: not connected")

// Broker is a publish/subscribe broker. Connect makes a single attempt;
// reconnecting is left to the caller, which is notified through Lost.
type Broker interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	// Lost returns a channel that receives an error when the connection is lost
	Lost() <-chan error
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan *types.BrokerMessage, error)
	Unsubscribe(topic string) error
}
