// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package memory implements an in-memory mesh network. All joined nodes can
// reach each other; multi-hop delivery is not modelled.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
)

// BufferSize indicates the maximum number of messages that should be buffered per node
var BufferSize = 64

// Network of in-memory nodes
type Network struct {
	mu        sync.RWMutex
	ctx       log.Interface
	nodes     map[uint32]*Transport
	duplicate bool
}

// New returns a new in-memory Network
func New(ctx log.Interface) *Network {
	return &Network{
		ctx:   ctx.WithField("Transport", "Memory"),
		nodes: make(map[uint32]*Transport),
	}
}

// Join adds a node with the given ID to the network
func (n *Network) Join(nodeID uint32) (*Transport, error) {
	n.mu.Lock()
	if _, ok := n.nodes[nodeID]; ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("memory: node %d already joined", nodeID)
	}
	t := &Transport{
		network:  n,
		id:       nodeID,
		address:  "127.0.0.1",
		receive:  make(chan *types.MeshMessage, BufferSize),
		topology: make(chan struct{}, 1),
	}
	n.nodes[nodeID] = t
	n.mu.Unlock()
	n.ctx.WithField("NodeID", nodeID).Debug("Node joined")
	n.topologyChanged()
	return t, nil
}

// Leave removes the node from the network
func (n *Network) Leave(nodeID uint32) {
	n.mu.Lock()
	if _, ok := n.nodes[nodeID]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.nodes, nodeID)
	n.mu.Unlock()
	n.ctx.WithField("NodeID", nodeID).Debug("Node left")
	n.topologyChanged()
}

// SetDuplicate makes the network deliver every message twice
func (n *Network) SetDuplicate(duplicate bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.duplicate = duplicate
}

func (n *Network) topologyChanged() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, t := range n.nodes {
		select {
		case t.topology <- struct{}{}:
		default:
		}
	}
}

func (n *Network) get(nodeID uint32) (*Transport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[nodeID]
	return t, ok
}

func (n *Network) ids(except uint32) []uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]uint32, 0, len(n.nodes))
	for id := range n.nodes {
		if id != except {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *Network) deliver(from uint32, to *Transport, payload []byte) {
	n.mu.RLock()
	times := 1
	if n.duplicate {
		times = 2
	}
	n.mu.RUnlock()
	for i := 0; i < times; i++ {
		msg := &types.MeshMessage{From: from, Payload: append([]byte(nil), payload...)}
		select {
		case to.receive <- msg:
		default:
			n.ctx.WithField("NodeID", to.id).Warn("Could not deliver message: buffer full")
		}
	}
}

// Transport of a node in the in-memory Network
type Transport struct {
	network  *Network
	id       uint32
	receive  chan *types.MeshMessage
	topology chan struct{}

	mu        sync.RWMutex
	address   string
	neighbors []uint32
}

var _ mesh.Transport = &Transport{}

// NodeID implements mesh.Transport
func (t *Transport) NodeID() uint32 {
	return t.id
}

// SetNeighbors overrides the node list of this node
func (t *Transport) SetNeighbors(neighbors ...uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.neighbors = neighbors
}

// Nodes implements mesh.Transport
func (t *Transport) Nodes() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.neighbors != nil {
		return append([]uint32(nil), t.neighbors...)
	}
	return t.network.ids(t.id)
}

// SetAddress sets the station address of this node
func (t *Transport) SetAddress(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.address = address
}

// Address implements mesh.Addresser
func (t *Transport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

// Send implements mesh.Transport
func (t *Transport) Send(to uint32, payload []byte) error {
	if to == t.id {
		return mesh.ErrUnreachable
	}
	target, ok := t.network.get(to)
	if !ok {
		return mesh.ErrUnreachable
	}
	t.network.deliver(t.id, target, payload)
	return nil
}

// Broadcast implements mesh.Transport
func (t *Transport) Broadcast(payload []byte) error {
	if _, ok := t.network.get(t.id); !ok {
		return mesh.ErrClosed
	}
	for _, id := range t.network.ids(t.id) {
		if target, ok := t.network.get(id); ok {
			t.network.deliver(t.id, target, payload)
		}
	}
	return nil
}

// Receive implements mesh.Transport
func (t *Transport) Receive() <-chan *types.MeshMessage {
	return t.receive
}

// TopologyChanged implements mesh.Transport
func (t *Transport) TopologyChanged() <-chan struct{} {
	return t.topology
}
