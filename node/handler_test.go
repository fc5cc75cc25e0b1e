// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package node

import (
	"bytes"
	"testing"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh/memory"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func encode(e *envelope.Envelope) []byte {
	payload, err := envelope.Marshal(e)
	if err != nil {
		panic(err)
	}
	return payload
}

func receive(t *memory.Transport) (*types.MeshMessage, *envelope.Envelope) {
	select {
	case msg := <-t.Receive():
		e, _ := envelope.Unmarshal(msg.Payload)
		return msg, e
	case <-time.After(time.Second):
		return nil, nil
	}
}

type recorder struct {
	nonControl []*envelope.Envelope
	raw        [][]byte
	replies    []*envelope.Envelope
	repliesBy  []uint32
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		NonControl: func(from uint32, payload []byte, e *envelope.Envelope) {
			r.raw = append(r.raw, payload)
			r.nonControl = append(r.nonControl, e)
		},
		Reply: func(from uint32, e *envelope.Envelope) {
			r.repliesBy = append(r.repliesBy, from)
			r.replies = append(r.replies, e)
		},
	}
}

func TestHandler(t *testing.T) {
	Convey("Given a new Context", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		network := memory.New(ctx)
		client, _ := network.Join(1)
		target, _ := network.Join(42)
		rec := new(recorder)
		h := NewHandler(ctx, target, rec.hooks())

		Convey("When a PING is addressed to the node", func() {
			h.HandleMeshMessage(1, encode(&envelope.Envelope{Type: envelope.Ping, To: 42, From: 1, Seq: 7}))
			Convey("The requester should receive a PONG", func() {
				msg, e := receive(client)
				So(msg, ShouldNotBeNil)
				So(msg.From, ShouldEqual, 42)
				So(string(msg.Payload), ShouldEqual, `{"type":"PONG","seq":7,"from":42}`)
				So(e, ShouldResemble, &envelope.Envelope{Type: envelope.Pong, From: 42, Seq: 7})
			})
		})

		Convey("When the same PING is delivered twice", func() {
			ping := encode(&envelope.Envelope{Type: envelope.Ping, To: 42, From: 1, Seq: 8})
			h.HandleMeshMessage(1, ping)
			h.HandleMeshMessage(1, ping)
			Convey("Both PONGs should be identical", func() {
				first, _ := receive(client)
				second, _ := receive(client)
				So(first, ShouldNotBeNil)
				So(second, ShouldNotBeNil)
				So(second.Payload, ShouldResemble, first.Payload)
			})
		})

		Convey("When the same TRACE is delivered twice to a relay", func() {
			relay, _ := network.Join(17)
			hr := NewHandler(ctx, relay, Hooks{})
			trace := encode(&envelope.Envelope{Type: envelope.Trace, To: 42, From: 1, Seq: 10, Hops: []uint32{1}})
			hr.HandleMeshMessage(1, trace)
			hr.HandleMeshMessage(1, trace)
			Convey("Each forward should carry exactly one added hop", func() {
				first, e1 := receive(target)
				second, e2 := receive(target)
				So(first, ShouldNotBeNil)
				So(second, ShouldNotBeNil)
				So(e1.Hops, ShouldResemble, []uint32{1, 17})
				So(e2.Hops, ShouldResemble, []uint32{1, 17})
				So(second.Payload, ShouldResemble, first.Payload)
			})
		})

		Convey("When the same TRACE is delivered twice to its destination", func() {
			trace := encode(&envelope.Envelope{Type: envelope.Trace, To: 42, From: 1, Seq: 11, Hops: []uint32{1, 17}})
			h.HandleMeshMessage(17, trace)
			h.HandleMeshMessage(17, trace)
			Convey("Both TRACE_REPLYs should be identical", func() {
				first, e := receive(client)
				second, _ := receive(client)
				So(first, ShouldNotBeNil)
				So(second, ShouldNotBeNil)
				So(e, ShouldResemble, &envelope.Envelope{Type: envelope.TraceReply, From: 42, Seq: 11, Hops: []uint32{1, 17, 42}})
				So(second.Payload, ShouldResemble, first.Payload)
			})
		})

		Convey("When a PING is addressed to another node", func() {
			h.HandleMeshMessage(1, encode(&envelope.Envelope{Type: envelope.Ping, To: 43, From: 1, Seq: 7}))
			Convey("It should be discarded silently", func() {
				So(len(client.Receive()), ShouldEqual, 0)
				So(rec.raw, ShouldBeEmpty)
				So(rec.replies, ShouldBeEmpty)
			})
		})

		Convey("When a TOPO_REQ is received", func() {
			target.SetNeighbors(2, 5, 9)
			h.HandleMeshMessage(1, encode(&envelope.Envelope{Type: envelope.TopoReq, To: 0, From: 1, Seq: 3}))
			Convey("The requester should receive the neighbor set", func() {
				_, e := receive(client)
				So(e, ShouldNotBeNil)
				So(e.Type, ShouldEqual, envelope.Topo)
				So(e.From, ShouldEqual, 42)
				So(e.Seq, ShouldEqual, 3)
				So(e.Neighbors, ShouldResemble, []uint32{2, 5, 9})
			})
		})

		Convey("When a TOPO_REQ is addressed to another node", func() {
			h.HandleMeshMessage(1, encode(&envelope.Envelope{Type: envelope.TopoReq, To: 77, From: 1}))
			Convey("It should still be answered", func() {
				_, e := receive(client)
				So(e, ShouldNotBeNil)
				So(e.Type, ShouldEqual, envelope.Topo)
				So(e.Neighbors, ShouldResemble, []uint32{1})
			})
		})

		Convey("When a TRACE passes through a chain of nodes", func() {
			b, _ := network.Join(17)
			cc, _ := network.Join(23)
			hb := NewHandler(ctx, b, Hooks{})
			hc := NewHandler(ctx, cc, Hooks{})

			hb.HandleMeshMessage(1, encode(&envelope.Envelope{Type: envelope.Trace, To: 42, From: 1, Seq: 9, Hops: []uint32{1}}))
			msg, e := receive(target)
			So(e, ShouldNotBeNil)
			So(e.Hops, ShouldResemble, []uint32{1, 17})
			hc.HandleMeshMessage(17, msg.Payload)
			msg, e = receive(target)
			So(e, ShouldNotBeNil)
			So(e.Hops, ShouldResemble, []uint32{1, 17, 23})
			h.HandleMeshMessage(23, msg.Payload)

			Convey("The originator should receive the full path", func() {
				_, e := receive(client)
				So(e, ShouldResemble, &envelope.Envelope{Type: envelope.TraceReply, From: 42, Seq: 9, Hops: []uint32{1, 17, 23, 42}})
			})
		})

		Convey("When a TRACE exceeds the maximum hops", func() {
			relay, _ := network.Join(17)
			hr := NewHandler(ctx, relay, Hooks{})
			hr.MaxHops = 3
			trace := encode(&envelope.Envelope{Type: envelope.Trace, To: 42, From: 1, Hops: []uint32{1, 2, 3}})
			hr.HandleMeshMessage(1, trace)
			Convey("It should be dropped", func() {
				So(len(target.Receive()), ShouldEqual, 0)
			})
			Convey("Without a limit it should be forwarded", func() {
				hr.MaxHops = 0
				hr.HandleMeshMessage(1, trace)
				_, e := receive(target)
				So(e, ShouldNotBeNil)
				So(e.Hops, ShouldResemble, []uint32{1, 2, 3, 17})
			})
		})

		Convey("When replies are received", func() {
			h.HandleMeshMessage(5, encode(&envelope.Envelope{Type: envelope.Pong, From: 5, Seq: 1}))
			h.HandleMeshMessage(5, encode(&envelope.Envelope{Type: envelope.Topo, From: 5, Seq: 2}))
			h.HandleMeshMessage(5, encode(&envelope.Envelope{Type: envelope.TraceReply, From: 5, Seq: 3, Hops: []uint32{5}}))
			Convey("They should be passed to the reply hook only", func() {
				So(rec.replies, ShouldHaveLength, 3)
				So(rec.repliesBy, ShouldResemble, []uint32{5, 5, 5})
				So(rec.raw, ShouldBeEmpty)
				So(len(client.Receive()), ShouldEqual, 0)
			})
		})

		Convey("When sensor data is received", func() {
			payload := []byte(`{"temperatura":21.5,"lat":"no data","lon":"no data"}`)
			h.HandleMeshMessage(12, payload)
			Convey("It should be passed to the non-control hook", func() {
				So(rec.raw, ShouldResemble, [][]byte{payload})
				So(rec.nonControl[0].Type, ShouldEqual, envelope.Data)
				So(rec.nonControl[0].Reading.Fields["temperatura"], ShouldEqual, 21.5)
			})
		})

		Convey("When an undecodable message is received", func() {
			h.HandleMeshMessage(12, []byte("hello mesh"))
			Convey("The raw bytes should be passed to the non-control hook", func() {
				So(rec.raw, ShouldResemble, [][]byte{[]byte("hello mesh")})
				So(rec.nonControl[0], ShouldBeNil)
			})
		})

		Convey("When a request originates from the node itself", func() {
			h.HandleMeshMessage(42, encode(&envelope.Envelope{Type: envelope.Ping, To: 42, From: 42, Seq: 4}))
			Convey("The reply should be handled locally", func() {
				So(rec.replies, ShouldHaveLength, 1)
				So(rec.replies[0], ShouldResemble, &envelope.Envelope{Type: envelope.Pong, From: 42, Seq: 4})
			})
		})

		Convey("When the requester is unreachable", func() {
			h.HandleMeshMessage(99, encode(&envelope.Envelope{Type: envelope.Ping, To: 42, From: 99, Seq: 1}))
			Convey("The failure should be logged", func() {
				So(logs.String(), ShouldContainSubstring, "Could not send message")
			})
		})
	})
}
