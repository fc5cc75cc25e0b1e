// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package node

import (
	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/apex/log"
)

// DefaultMaxHops is the default maximum length of a trace path before it is dropped
var DefaultMaxHops = 32

// Hooks receive the messages that a Handler does not answer itself
type Hooks struct {
	// NonControl is called for sensor data and for messages that could not be
	// decoded. The envelope is nil if decoding failed.
	NonControl func(from uint32, payload []byte, e *envelope.Envelope)
	// Reply is called for PONG, TOPO and TRACE_REPLY envelopes
	Reply func(from uint32, e *envelope.Envelope)
}

// Handler answers control requests for a single node
type Handler struct {
	ctx       log.Interface
	transport mesh.Transport
	hooks     Hooks

	// MaxHops is the maximum length of a trace path that is forwarded. A
	// value of 0 disables the limit.
	MaxHops int
}

// NewHandler returns a new Handler for the node on the transport
func NewHandler(ctx log.Interface, transport mesh.Transport, hooks Hooks) *Handler {
	return &Handler{
		ctx:       ctx,
		transport: transport,
		hooks:     hooks,
		MaxHops:   DefaultMaxHops,
	}
}

// HandleMeshMessage handles a message that the transport delivered from a node
func (h *Handler) HandleMeshMessage(from uint32, payload []byte) {
	e, err := envelope.Unmarshal(payload)
	if err != nil {
		h.ctx.WithField("From", from).WithError(err).Debug("Could not decode message")
		envelopesCounter.WithLabelValues("Invalid").Inc()
		h.nonControl(from, payload, nil)
		return
	}
	envelopesCounter.WithLabelValues(e.Type.String()).Inc()

	self := h.transport.NodeID()
	ctx := h.ctx.WithFields(log.Fields{
		"From": from,
		"Type": e.Type,
		"Seq":  e.Seq,
	})

	switch e.Type {
	case envelope.Ping:
		if e.To != self {
			ctx.WithField("To", e.To).Debug("Ignoring ping for other node")
			return
		}
		h.send(ctx, e.From, e.ReplyTo(self))
	case envelope.TopoReq:
		// answered by whoever holds it, regardless of addressing
		reply := e.ReplyTo(self)
		reply.Neighbors = h.transport.Nodes()
		h.send(ctx, e.From, reply)
	case envelope.Trace:
		e.Hops = append(e.Hops, self)
		if e.To == self {
			h.send(ctx, e.From, e.ReplyTo(self))
			return
		}
		if h.MaxHops > 0 && len(e.Hops) > h.MaxHops {
			ctx.WithField("Hops", len(e.Hops)).Warn("Dropping trace that exceeded maximum hops")
			droppedTracesCounter.Inc()
			return
		}
		h.send(ctx, e.To, e)
	case envelope.Pong, envelope.Topo, envelope.TraceReply:
		if h.hooks.Reply != nil {
			h.hooks.Reply(from, e)
		}
	default:
		h.nonControl(from, payload, e)
	}
}

func (h *Handler) nonControl(from uint32, payload []byte, e *envelope.Envelope) {
	if h.hooks.NonControl != nil {
		h.hooks.NonControl(from, payload, e)
	}
}

// send a message to a node. Messages for the node itself are handled locally.
func (h *Handler) send(ctx log.Interface, to uint32, e *envelope.Envelope) {
	payload, err := envelope.Marshal(e)
	if err != nil {
		ctx.WithError(err).Warn("Could not encode message")
		return
	}
	if to == h.transport.NodeID() {
		h.HandleMeshMessage(to, payload)
		return
	}
	if err := h.transport.Send(to, payload); err != nil {
		ctx.WithField("To", to).WithError(err).Warn("Could not send message")
		sendErrorsCounter.Inc()
		return
	}
	ctx.WithField("To", to).WithField("Reply", e.Type).Debug("Sent message")
}
