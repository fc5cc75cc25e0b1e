// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package node

import (
	"context"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/reporter"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/sensor"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
)

// Config of a Node
type Config struct {
	ReportInterval time.Duration
	MaxHops        int
}

// DefaultConfig returns the default Node configuration
func DefaultConfig() Config {
	return Config{
		ReportInterval: 30 * time.Second,
		MaxHops:        DefaultMaxHops,
	}
}

// Node is a plain sensor node in the mesh
type Node struct {
	ctx       log.Interface
	transport mesh.Transport
	handler   *Handler
	reporter  *reporter.Reporter
	config    Config

	mu       sync.Mutex
	source   sensor.Source
	interval time.Duration
}

// New returns a new Node on the transport
func New(ctx log.Interface, transport mesh.Transport, config Config) *Node {
	n := &Node{
		ctx:       ctx,
		transport: transport,
		reporter:  reporter.New(ctx, transport),
		config:    config,
	}
	n.handler = NewHandler(ctx, transport, Hooks{
		NonControl: n.nonControl,
		Reply:      n.reply,
	})
	n.handler.MaxHops = config.MaxHops
	return n
}

// RegisterSource registers the source of the periodic sensor readings. It
// must be called before Run.
func (n *Node) RegisterSource(src sensor.Source, interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.source, n.interval = src, interval
}

func (n *Node) nonControl(from uint32, payload []byte, _ *envelope.Envelope) {
	n.ctx.WithField("From", from).WithField("Payload", string(payload)).Debug("Received non-control message")
}

func (n *Node) reply(from uint32, e *envelope.Envelope) {
	n.ctx.WithFields(log.Fields{
		"From": from,
		"Type": e.Type,
		"Seq":  e.Seq,
	}).Info("Received reply")
}

// Handle an event
func (n *Node) Handle(ev types.Event) {
	switch ev := ev.(type) {
	case *types.MeshMessage:
		n.handler.HandleMeshMessage(ev.From, ev.Payload)
	case *types.TopologyEvent:
		n.reporter.TopologyChanged()
	case *types.ReadingEvent:
		n.broadcast(ev.Reading)
	case *types.TimerEvent:
		switch ev.Timer {
		case types.ReadingTimer:
			n.read()
		case types.ReportTimer:
			n.reporter.Report(nil)
		}
	}
}

func (n *Node) read() {
	n.mu.Lock()
	src := n.source
	n.mu.Unlock()
	if src == nil {
		return
	}
	reading, err := src.Read()
	if err != nil {
		n.ctx.WithError(err).Warn("Could not read sensor")
		readingsCounter.WithLabelValues("error").Inc()
		return
	}
	n.broadcast(reading)
}

func (n *Node) broadcast(reading *envelope.Reading) {
	payload, err := envelope.Marshal(&envelope.Envelope{Type: envelope.Data, Reading: reading})
	if err != nil {
		n.ctx.WithError(err).Warn("Could not encode reading")
		readingsCounter.WithLabelValues("error").Inc()
		return
	}
	if err := n.transport.Broadcast(payload); err != nil {
		n.ctx.WithError(err).Warn("Could not broadcast reading")
		sendErrorsCounter.Inc()
		return
	}
	readingsCounter.WithLabelValues("sent").Inc()
	n.ctx.WithField("Payload", string(payload)).Debug("Broadcast reading")
}

// Run the Node until the context is done or the transport is closed
func (n *Node) Run(ctx context.Context) error {
	report := time.NewTicker(n.config.ReportInterval)
	defer report.Stop()

	var readings <-chan time.Time
	n.mu.Lock()
	if n.source != nil && n.interval > 0 {
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()
		readings = ticker.C
	}
	n.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-n.transport.Receive():
			if !ok {
				return mesh.ErrClosed
			}
			n.Handle(msg)
		case <-n.transport.TopologyChanged():
			n.Handle(&types.TopologyEvent{})
		case t := <-readings:
			n.Handle(&types.TimerEvent{Timer: types.ReadingTimer, Time: t})
		case t := <-report.C:
			n.Handle(&types.TimerEvent{Timer: types.ReportTimer, Time: t})
		}
	}
}
