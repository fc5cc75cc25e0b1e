// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package envelope

import "fmt"

// Type of an Envelope
type Type uint8

// Envelope types
const (
	Data Type = iota
	Ping
	Pong
	TopoReq
	Topo
	Trace
	TraceReply
)

var typeNames = map[Type]string{
	Data:       "DATA",
	Ping:       "PING",
	Pong:       "PONG",
	TopoReq:    "TOPO_REQ",
	Topo:       "TOPO",
	Trace:      "TRACE",
	TraceReply: "TRACE_REPLY",
}

var typeValues = func() map[string]Type {
	values := make(map[string]Type, len(typeNames))
	for t, name := range typeNames {
		values[name] = t
	}
	return values
}()

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType returns the Type for the given wire name. Unknown names are DATA.
func ParseType(name string) (t Type, known bool) {
	t, known = typeValues[name]
	return t, known
}

// IsRequest returns true for types that expect a reply
func (t Type) IsRequest() bool {
	return t == Ping || t == TopoReq || t == Trace
}

// IsReply returns true for terminal reply types
func (t Type) IsReply() bool {
	return t == Pong || t == Topo || t == TraceReply
}

// NoData is sent instead of coordinates when a node has no GPS fix
const NoData = "no data"

// Location of a sensor node
type Location struct {
	Lat float64
	Lon float64
	// Fix is false when the node reported "no data" instead of coordinates
	Fix bool
}

// Reading is the payload of a DATA envelope
type Reading struct {
	Fields   map[string]float64
	Location *Location
}

// Envelope is the unit of exchange on the mesh
type Envelope struct {
	Type      Type
	From      uint32
	To        uint32
	Seq       uint32
	Hops      []uint32
	Neighbors []uint32
	Reading   *Reading
}

// ReplyTo builds the reply for a request envelope, sent from self.
// It returns nil for envelopes that are not requests.
func (e *Envelope) ReplyTo(self uint32) *Envelope {
	switch e.Type {
	case Ping:
		return &Envelope{Type: Pong, Seq: e.Seq, From: self}
	case TopoReq:
		return &Envelope{Type: Topo, Seq: e.Seq, From: self}
	case Trace:
		hops := make([]uint32, len(e.Hops))
		copy(hops, e.Hops)
		return &Envelope{Type: TraceReply, Seq: e.Seq, From: self, Hops: hops}
	}
	return nil
}
