// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
)

// Event is consumed by the dispatch loop of a node or gateway
type Event interface {
	isEvent()
}

// MeshMessage is received from the mesh transport
type MeshMessage struct {
	From    uint32
	Payload []byte
}

// BrokerMessage is received from a broker subscription
type BrokerMessage struct {
	Topic   string
	Payload []byte
}

// Timer identifies a periodic task
type Timer uint8

// Timers of nodes and gateways
const (
	ReadingTimer Timer = iota
	ReportTimer
	StatusTimer
	ReconnectTimer
)

func (t Timer) String() string {
	switch t {
	case ReadingTimer:
		return "Reading"
	case ReportTimer:
		return "Report"
	case StatusTimer:
		return "Status"
	case ReconnectTimer:
		return "Reconnect"
	}
	return "Unknown"
}

// TimerEvent is fired by a periodic task
type TimerEvent struct {
	Timer Timer
	Time  time.Time
}

// TopologyEvent is fired when the mesh transport reports changed connections
type TopologyEvent struct{}

// BrokerLostEvent is fired when the broker connection is lost
type BrokerLostEvent struct {
	Err error
}

// ReadingEvent is fired when a local sensor reading is ready
type ReadingEvent struct {
	Reading *envelope.Reading
}

func (*MeshMessage) isEvent()     {}
func (*BrokerMessage) isEvent()   {}
func (*TimerEvent) isEvent()      {}
func (*TopologyEvent) isEvent()   {}
func (*BrokerLostEvent) isEvent() {}
func (*ReadingEvent) isEvent()    {}

// DataMessage is sensor data received by the gateway
type DataMessage struct {
	NodeID   uint32
	Payload  []byte
	Envelope *envelope.Envelope
}

// ControlMessage is a request received from the broker
type ControlMessage struct {
	Payload  []byte
	Envelope *envelope.Envelope
}

// ReplyMessage is a reply received by the gateway
type ReplyMessage struct {
	NodeID   uint32
	Envelope *envelope.Envelope
	RTT      time.Duration
}

// StatusMessage is periodically published by the gateway
type StatusMessage struct {
	NodeID    string `json:"nodeId"`
	GatewayID uint32 `json:"id"`
	IP        string `json:"ip"`
	Nodes     int    `json:"nodes"`
	Bridge    string `json:"bridge,omitempty"`
}

// JoinMessage is used internally when a node appears in the mesh
type JoinMessage struct {
	NodeID uint32
}

// LeaveMessage is used internally when a node disappears from the mesh
type LeaveMessage struct {
	NodeID uint32
}
