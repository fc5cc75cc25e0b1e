// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package reporter

import (
	"testing"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh/memory"
	"github.com/apex/log"
	logmemory "github.com/apex/log/handlers/memory"
	. "github.com/smartystreets/goconvey/convey"
)

func TestReporter(t *testing.T) {
	Convey("Given a new Context", t, func(c C) {

		logs := logmemory.New()
		ctx := &log.Logger{
			Handler: logs,
			Level:   log.InfoLevel,
		}

		Convey("Given a Reporter on a mesh with three nodes", func() {
			network := memory.New(ctx)
			self, _ := network.Join(1)
			network.Join(7)
			network.Join(3)
			self.SetAddress("10.0.0.2")
			r := New(ctx, self)

			Convey("A snapshot should describe the mesh", func() {
				report := r.Snapshot()
				So(report.NodeID, ShouldEqual, 1)
				So(report.Nodes, ShouldResemble, []uint32{3, 7})
				So(report.Count(), ShouldEqual, 2)
				So(report.Address, ShouldEqual, "10.0.0.2")
				So(report.Time.IsZero(), ShouldBeFalse)
			})

			Convey("Taking snapshots should not log", func() {
				logs.Entries = nil
				r.Snapshot()
				So(logs.Entries, ShouldBeEmpty)
			})

			Convey("A report should be logged", func() {
				logs.Entries = nil
				r.Report(log.Fields{"Broker": "Connected"})
				So(logs.Entries, ShouldHaveLength, 1)
				So(logs.Entries[0].Message, ShouldEqual, "Mesh status")
				So(logs.Entries[0].Fields["Broker"], ShouldEqual, "Connected")
				So(logs.Entries[0].Fields["Nodes"], ShouldEqual, 2)
			})

			Convey("A topology change should log the node list", func() {
				logs.Entries = nil
				network.Leave(7)
				report := r.TopologyChanged()
				So(report.Nodes, ShouldResemble, []uint32{3})
				So(logs.Entries, ShouldHaveLength, 1)
				So(logs.Entries[0].Message, ShouldEqual, "Mesh topology changed")
				So(logs.Entries[0].Fields["NodeList"], ShouldResemble, []uint32{3})
			})
		})
	})
}
