// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"testing"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTracker(t *testing.T) {
	Convey("Given a new tracker", t, func(c C) {
		requests := newTracker(30 * time.Second)
		now := time.Now()

		Convey("When adding a unicast ping", func() {
			requests.Add(&envelope.Envelope{Type: envelope.Ping, To: 42, From: 1, Seq: 7}, now)

			Convey("A pong from that node should match", func() {
				rtt, ok := requests.Match(&envelope.Envelope{Type: envelope.Pong, From: 42, Seq: 7}, now.Add(120*time.Millisecond))
				So(ok, ShouldBeTrue)
				So(rtt, ShouldEqual, 120*time.Millisecond)
				So(requests.Len(), ShouldEqual, 0)
			})

			Convey("A pong from another node should not match", func() {
				_, ok := requests.Match(&envelope.Envelope{Type: envelope.Pong, From: 43, Seq: 7}, now)
				So(ok, ShouldBeFalse)
			})

			Convey("A pong with another sequence number should not match", func() {
				_, ok := requests.Match(&envelope.Envelope{Type: envelope.Pong, From: 42, Seq: 8}, now)
				So(ok, ShouldBeFalse)
			})

			Convey("A trace reply should not match", func() {
				_, ok := requests.Match(&envelope.Envelope{Type: envelope.TraceReply, From: 42, Seq: 7}, now)
				So(ok, ShouldBeFalse)
			})

			Convey("A late pong should not match", func() {
				_, ok := requests.Match(&envelope.Envelope{Type: envelope.Pong, From: 42, Seq: 7}, now.Add(time.Minute))
				So(ok, ShouldBeFalse)
			})

			Convey("When expiring", func() {
				So(requests.Expire(now.Add(time.Second)), ShouldEqual, 0)
				So(requests.Expire(now.Add(time.Minute)), ShouldEqual, 1)
				So(requests.Len(), ShouldEqual, 0)
			})
		})

		Convey("When adding a broadcast topology request", func() {
			requests.Add(&envelope.Envelope{Type: envelope.TopoReq, From: 1, Seq: 8}, now)
			Convey("Every reply should match", func() {
				_, ok := requests.Match(&envelope.Envelope{Type: envelope.Topo, From: 42, Seq: 8}, now)
				So(ok, ShouldBeTrue)
				_, ok = requests.Match(&envelope.Envelope{Type: envelope.Topo, From: 43, Seq: 8}, now)
				So(ok, ShouldBeTrue)
				So(requests.Len(), ShouldEqual, 1)
			})
		})

		Convey("When adding something that is not a request", func() {
			requests.Add(&envelope.Envelope{Type: envelope.Pong, From: 1, Seq: 8}, now)
			So(requests.Len(), ShouldEqual, 0)
		})

		Convey("When adding more than the maximum number of requests", func() {
			for i := 0; i <= MaxPendingRequests; i++ {
				requests.Add(&envelope.Envelope{Type: envelope.Ping, To: 42, Seq: uint32(i)}, now)
			}
			Convey("The oldest request should have been removed", func() {
				So(requests.Len(), ShouldEqual, MaxPendingRequests)
				_, ok := requests.Match(&envelope.Envelope{Type: envelope.Pong, From: 42, Seq: 0}, now)
				So(ok, ShouldBeFalse)
			})
		})
	})
}
