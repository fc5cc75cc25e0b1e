// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package mesh defines the mesh transport that nodes and gateways are built on.
//
// The transport assigns node identities, maintains the node list and delivers
// unicast and broadcast messages, possibly over multiple hops. Identities are
// only stable for the lifetime of a mesh session: a node that rejoins may get
// a different identifier.
package mesh

import (
	"errors"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
)

// Transport of a single node in the mesh
type Transport interface {
	// NodeID returns the identifier of this node in the current session
	NodeID() uint32
	// Nodes returns a snapshot of the other nodes this node currently knows
	Nodes() []uint32
	// Send a message to a single node
	Send(to uint32, payload []byte) error
	// Broadcast a message to all nodes
	Broadcast(payload []byte) error
	// Receive returns the channel of incoming messages
	Receive() <-chan *types.MeshMessage
	// TopologyChanged returns a channel that fires when connections change
	TopologyChanged() <-chan struct{}
}

// Addresser is implemented by transports that know the station address of the node
type Addresser interface {
	Address() string
}

// Transport errors
var (
	ErrUnreachable = errors.New("mesh: node unreachable")
	ErrClosed      = errors.New("mesh: transport closed")
)
