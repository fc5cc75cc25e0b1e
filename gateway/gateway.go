// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/node"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/reporter"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/status/statusserver"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/deckarep/golang-set"
)

// StatusNodeID is the nodeId of the status messages of the gateway
const StatusNodeID = "gateway"

// Config of a Gateway
type Config struct {
	DataRoot      string
	ControlTopic  string
	ResponseTopic string

	StatusInterval    time.Duration
	ReportInterval    time.Duration
	ReconnectInterval time.Duration
	RequestTimeout    time.Duration

	MaxHops int
}

// DefaultConfig returns the default Gateway configuration
func DefaultConfig() Config {
	return Config{
		DataRoot:          "Nodos/datos",
		ControlTopic:      "Nodos/control",
		ResponseTopic:     "Nodos/control/response",
		StatusInterval:    60 * time.Second,
		ReportInterval:    30 * time.Second,
		ReconnectInterval: 5 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxHops:           node.DefaultMaxHops,
	}
}

// DataTopic returns the topic for sensor data of a node
func (c Config) DataTopic(nodeID uint32) string {
	return fmt.Sprintf("%s/%d", c.DataRoot, nodeID)
}

// StatusTopic returns the topic for the status of the gateway
func (c Config) StatusTopic() string {
	return c.DataRoot + "/" + StatusNodeID
}

// State of the broker connection
type State uint8

// Broker connection states
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return "Unknown"
}

// Gateway routes messages between the mesh and the broker.
//
// - Sensor data from the mesh is published to the data topic of the node
// - Control requests from the broker are sent into the mesh
// - Replies from the mesh are published to the response topic
// - The status of the gateway is periodically published
type Gateway struct {
	ctx       log.Interface
	transport mesh.Transport
	broker    backend.Broker
	config    Config

	handler    *node.Handler
	reporter   *reporter.Reporter
	middleware middleware.Chain
	requests   *tracker

	mu    sync.RWMutex
	state State

	retry   *time.Timer
	control <-chan *types.BrokerMessage

	nodes        nodeState
	lastStatus   time.Time
	reconnecting bool
}

// New initializes a new Gateway
func New(ctx log.Interface, transport mesh.Transport, broker backend.Broker, config Config) *Gateway {
	g := &Gateway{
		ctx:       ctx,
		transport: transport,
		broker:    broker,
		config:    config,
		reporter:  reporter.New(ctx, transport),
		requests:  newTracker(config.RequestTimeout),
		retry:     time.NewTimer(config.ReconnectInterval),
		nodes:     mapset.NewSet(),
	}
	g.retry.Stop()
	g.handler = node.NewHandler(ctx, transport, node.Hooks{
		NonControl: g.handleData,
		Reply:      g.handleReply,
	})
	g.handler.MaxHops = config.MaxHops
	return g
}

// SetMiddleware sets the middleware chain for the messages handled by the Gateway
func (g *Gateway) SetMiddleware(chain middleware.Chain) {
	g.middleware = chain
}

// State returns the state of the broker connection
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gateway) setState(state State) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
	if state == Connected {
		brokerConnected.Set(1)
	} else {
		brokerConnected.Set(0)
	}
	statusserver.BrokerConnected(state == Connected)
}

// Handle an event
func (g *Gateway) Handle(ev types.Event) {
	switch ev := ev.(type) {
	case *types.MeshMessage:
		g.handler.HandleMeshMessage(ev.From, ev.Payload)
	case *types.BrokerMessage:
		if ev.Topic == g.config.ControlTopic {
			g.handleControl(ev.Payload)
		}
	case *types.TopologyEvent:
		g.topologyChanged()
	case *types.BrokerLostEvent:
		g.disconnected(ev.Err)
	case *types.ReadingEvent:
		g.publishReading(ev.Reading)
	case *types.TimerEvent:
		switch ev.Timer {
		case types.ReconnectTimer:
			g.reconnect()
		case types.StatusTimer:
			g.publishStatus()
		case types.ReportTimer:
			g.report(ev.Time)
		}
	}
}

// Run the Gateway until the context is done or the transport is closed
func (g *Gateway) Run(ctx context.Context) error {
	status := time.NewTicker(g.config.StatusInterval)
	defer status.Stop()
	report := time.NewTicker(g.config.ReportInterval)
	defer report.Stop()
	defer g.stop()

	g.topologyChanged()
	g.reconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-g.transport.Receive():
			if !ok {
				return mesh.ErrClosed
			}
			g.Handle(msg)
		case <-g.transport.TopologyChanged():
			g.Handle(&types.TopologyEvent{})
		case msg, ok := <-g.control:
			if !ok {
				g.control = nil
				continue
			}
			g.Handle(msg)
		case err := <-g.broker.Lost():
			g.Handle(&types.BrokerLostEvent{Err: err})
		case t := <-g.retry.C:
			g.Handle(&types.TimerEvent{Timer: types.ReconnectTimer, Time: t})
		case t := <-status.C:
			g.Handle(&types.TimerEvent{Timer: types.StatusTimer, Time: t})
		case t := <-report.C:
			g.Handle(&types.TimerEvent{Timer: types.ReportTimer, Time: t})
		}
	}
}

func (g *Gateway) reconnect() {
	if g.State() != Disconnected {
		return
	}
	g.setState(Connecting)
	ctx := g.ctx.WithField("ControlTopic", g.config.ControlTopic)
	if err := g.broker.Connect(); err != nil {
		ctx.WithError(err).Warnf("Could not connect to broker, retrying in %s", g.config.ReconnectInterval)
		g.retryLater()
		return
	}
	control, err := g.broker.Subscribe(g.config.ControlTopic)
	if err != nil {
		ctx.WithError(err).Warnf("Could not subscribe to control topic, retrying in %s", g.config.ReconnectInterval)
		g.broker.Disconnect()
		g.retryLater()
		return
	}
	g.control = control
	g.setState(Connected)
	if g.reconnecting {
		reconnectsCounter.Inc()
		statusserver.Reconnect()
	}
	g.reconnecting = true
	ctx.Info("Connected to broker")
	g.publishStatus()
}

func (g *Gateway) retryLater() {
	g.setState(Disconnected)
	g.retry.Reset(g.config.ReconnectInterval)
}

func (g *Gateway) disconnected(err error) {
	if g.State() != Connected {
		return
	}
	g.ctx.WithError(err).Warnf("Lost connection to broker, reconnecting in %s", g.config.ReconnectInterval)
	if g.broker.IsConnected() {
		g.broker.Disconnect()
	}
	g.control = nil
	g.retryLater()
}

func (g *Gateway) stop() {
	g.retry.Stop()
	if g.State() == Connected {
		if err := g.broker.Unsubscribe(g.config.ControlTopic); err != nil {
			g.ctx.WithError(err).Warn("Could not unsubscribe from control topic")
		}
		g.broker.Disconnect()
	}
	g.control = nil
	g.setState(Disconnected)
	g.ctx.Info("Stopped gateway")
}

// publish to the broker. Messages are dropped when the broker is not connected.
func (g *Gateway) publish(topic string, payload []byte) error {
	if g.State() != Connected {
		droppedCounter.WithLabelValues("disconnected").Inc()
		return backend.ErrNotConnected
	}
	if err := g.broker.Publish(topic, payload); err != nil {
		droppedCounter.WithLabelValues("publish_failed").Inc()
		g.disconnected(err)
		return err
	}
	return nil
}

func (g *Gateway) handleData(from uint32, payload []byte, e *envelope.Envelope) {
	ctx := g.ctx.WithField("NodeID", from)
	msg := &types.DataMessage{NodeID: from, Payload: payload, Envelope: e}
	if err := g.middleware.Execute(middleware.NewContext(), msg); err != nil {
		ctx.WithError(err).Debug("Dropping data")
		droppedCounter.WithLabelValues("middleware").Inc()
		return
	}
	topic := g.config.DataTopic(from)
	if err := g.publish(topic, msg.Payload); err != nil {
		ctx.WithError(err).Warn("Could not publish data")
		return
	}
	handledCounter.WithLabelValues("Data").Inc()
	statusserver.Data()
	ctx.WithField("Topic", topic).Info("Routed data")
}

func (g *Gateway) publishReading(reading *envelope.Reading) {
	payload, err := envelope.Marshal(&envelope.Envelope{Type: envelope.Data, Reading: reading})
	if err != nil {
		g.ctx.WithError(err).Warn("Could not encode reading")
		return
	}
	self := g.transport.NodeID()
	g.handleData(self, payload, &envelope.Envelope{Type: envelope.Data, Reading: reading})
}

func (g *Gateway) handleReply(from uint32, e *envelope.Envelope) {
	ctx := g.ctx.WithFields(log.Fields{
		"NodeID": e.From,
		"Type":   e.Type,
		"Seq":    e.Seq,
	})
	msg := &types.ReplyMessage{NodeID: e.From, Envelope: e}
	if rtt, ok := g.requests.Match(e, time.Now()); ok {
		msg.RTT = rtt
		requestDuration.WithLabelValues(e.Type.String()).Observe(rtt.Seconds())
		ctx = ctx.WithField("RTT", rtt)
	}
	if err := g.middleware.Execute(middleware.NewContext(), msg); err != nil {
		ctx.WithError(err).Debug("Dropping reply")
		droppedCounter.WithLabelValues("middleware").Inc()
		return
	}
	payload, err := envelope.Marshal(msg.Envelope)
	if err != nil {
		ctx.WithError(err).Warn("Could not encode reply")
		return
	}
	if err := g.publish(g.config.ResponseTopic, payload); err != nil {
		ctx.WithError(err).Warn("Could not publish reply")
		return
	}
	handledCounter.WithLabelValues(e.Type.String()).Inc()
	statusserver.Reply()
	ctx.Info("Routed reply")
}

func (g *Gateway) handleControl(payload []byte) {
	e, err := envelope.Unmarshal(payload)
	if err != nil {
		g.ctx.WithError(err).WithField("Payload", string(payload)).Warn("Could not decode control message")
		droppedCounter.WithLabelValues("invalid").Inc()
		return
	}
	ctx := g.ctx.WithFields(log.Fields{
		"Type": e.Type,
		"To":   e.To,
		"Seq":  e.Seq,
	})
	msg := &types.ControlMessage{Payload: payload, Envelope: e}
	if err := g.middleware.Execute(middleware.NewContext(), msg); err != nil {
		ctx.WithError(err).Debug("Dropping control message")
		droppedCounter.WithLabelValues("middleware").Inc()
		return
	}

	self := g.transport.NodeID()
	if e.Type.IsRequest() {
		if e.From == 0 {
			e.From = self
			if msg.Payload, err = envelope.Marshal(e); err != nil {
				ctx.WithError(err).Warn("Could not encode control message")
				return
			}
		}
		g.requests.Add(e, time.Now())
	}

	switch e.To {
	case self:
		g.handler.HandleMeshMessage(self, msg.Payload)
	case 0:
		if err := g.transport.Broadcast(msg.Payload); err != nil {
			ctx.WithError(err).Warn("Could not broadcast control message")
			droppedCounter.WithLabelValues("unreachable").Inc()
			return
		}
	default:
		if err := g.transport.Send(e.To, msg.Payload); err != nil {
			ctx.WithError(err).Warn("Could not send control message")
			droppedCounter.WithLabelValues("unreachable").Inc()
			return
		}
	}
	handledCounter.WithLabelValues("Control").Inc()
	statusserver.Control()
	ctx.Info("Routed control message")
}

func (g *Gateway) statusMessage() *types.StatusMessage {
	report := g.reporter.Snapshot()
	return &types.StatusMessage{
		NodeID:    StatusNodeID,
		GatewayID: report.NodeID,
		IP:        report.Address,
		Nodes:     report.Count(),
	}
}

func (g *Gateway) publishStatus() {
	if g.State() != Connected {
		g.ctx.Debug("Not publishing status while disconnected")
		return
	}
	status := g.statusMessage()
	if status.IP == "" {
		g.ctx.Debug("Not publishing status without address")
		return
	}
	if err := g.middleware.Execute(middleware.NewContext(), status); err != nil {
		g.ctx.WithError(err).Debug("Dropping status")
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		g.ctx.WithError(err).Warn("Could not encode status")
		return
	}
	if err := g.publish(g.config.StatusTopic(), payload); err != nil {
		g.ctx.WithError(err).Warn("Could not publish status")
		return
	}
	g.lastStatus = time.Now()
	handledCounter.WithLabelValues("Status").Inc()
	statusserver.Status()
	g.ctx.WithFields(log.Fields{
		"Address": status.IP,
		"Nodes":   status.Nodes,
	}).Info("Published status")
}

func (g *Gateway) report(now time.Time) {
	fields := log.Fields{
		"Broker":  g.State(),
		"Pending": g.requests.Len(),
	}
	if !g.lastStatus.IsZero() {
		fields["LastStatus"] = g.lastStatus.Format(time.RFC3339)
	}
	g.reporter.Report(fields)
	if expired := g.requests.Expire(now); expired > 0 {
		g.ctx.WithField("Expired", expired).Debug("Expired requests without reply")
	}
}

func (g *Gateway) topologyChanged() {
	report := g.reporter.TopologyChanged()
	current := mapset.NewSet()
	for _, nodeID := range report.Nodes {
		current.Add(nodeID)
	}
	for _, nodeID := range current.Difference(g.knownNodes()).ToSlice() {
		nodeID := nodeID.(uint32)
		g.nodes.Add(nodeID)
		if err := g.middleware.Execute(middleware.NewContext(), &types.JoinMessage{NodeID: nodeID}); err != nil {
			g.ctx.WithField("NodeID", nodeID).WithError(err).Debug("Middleware failed on join")
		}
		g.ctx.WithField("NodeID", nodeID).Info("Node joined")
	}
	for _, nodeID := range g.knownNodes().Difference(current).ToSlice() {
		nodeID := nodeID.(uint32)
		g.nodes.Remove(nodeID)
		if err := g.middleware.Execute(middleware.NewContext(), &types.LeaveMessage{NodeID: nodeID}); err != nil {
			g.ctx.WithField("NodeID", nodeID).WithError(err).Debug("Middleware failed on leave")
		}
		g.ctx.WithField("NodeID", nodeID).Info("Node left")
	}
	meshNodes.Set(float64(report.Count()))
	statusserver.Nodes(report.Count())
}

func (g *Gateway) knownNodes() mapset.Set {
	known := mapset.NewSet()
	for _, nodeID := range g.nodes.ToSlice() {
		known.Add(nodeID)
	}
	return known
}
