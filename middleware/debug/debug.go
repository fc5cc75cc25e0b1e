// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package debug

import (
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/TheThingsNetwork/go-utils/log"
)

// New returns a middleware that debugs traffic
func New() *Debug {
	return &Debug{log: log.Get()}
}

// Debug middleware
type Debug struct {
	log log.Interface
}

// HandleData debugs sensor data
func (d *Debug) HandleData(_ middleware.Context, msg *types.DataMessage) error {
	d.log.WithField("NodeID", msg.NodeID).WithField("Payload", string(msg.Payload)).Debug("Data")
	return nil
}

// HandleControl debugs control messages
func (d *Debug) HandleControl(_ middleware.Context, msg *types.ControlMessage) error {
	ctx := d.log.WithField("Payload", string(msg.Payload))
	if e := msg.Envelope; e != nil {
		ctx = ctx.WithFields(log.Fields{"Type": e.Type.String(), "To": e.To, "From": e.From, "Seq": e.Seq})
	}
	ctx.Debug("Control")
	return nil
}

// HandleReply debugs replies
func (d *Debug) HandleReply(_ middleware.Context, msg *types.ReplyMessage) error {
	ctx := d.log.WithField("NodeID", msg.NodeID).WithField("RTT", msg.RTT)
	if e := msg.Envelope; e != nil {
		ctx = ctx.WithFields(log.Fields{"Type": e.Type.String(), "Seq": e.Seq, "Hops": e.Hops, "Neighbors": e.Neighbors})
	}
	ctx.Debug("Reply")
	return nil
}

// HandleJoin debugs nodes joining the mesh
func (d *Debug) HandleJoin(_ middleware.Context, msg *types.JoinMessage) error {
	d.log.WithField("NodeID", msg.NodeID).Debug("Join")
	return nil
}

// HandleLeave debugs nodes leaving the mesh
func (d *Debug) HandleLeave(_ middleware.Context, msg *types.LeaveMessage) error {
	d.log.WithField("NodeID", msg.NodeID).Debug("Leave")
	return nil
}
