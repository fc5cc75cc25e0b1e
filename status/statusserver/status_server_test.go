// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package statusserver

import (
	"context"
	"net"
	"testing"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/status"
	"github.com/golang/protobuf/ptypes/empty"
	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

func TestStatusServer(t *testing.T) {
	Convey("Given an empty default StatusServer", t, func(c C) {

		global = newStatusServer()

		// Set up the status server
		lis, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic("Could not start StatusServer")
		}
		srv := grpc.NewServer()
		Register(srv)
		go srv.Serve(lis)
		defer srv.Stop()

		Convey("Given a StatusClient", func() {
			conn, err := grpc.Dial(lis.Addr().String(), grpc.WithBlock(), grpc.WithInsecure())
			if err != nil {
				panic(err)
			}
			defer conn.Close()
			cli := status.NewStatusClient(conn)

			Convey("When requesting the status", func() {
				res, err := cli.GetStatus(context.Background(), &empty.Empty{})
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("Rates should be empty", func() {
					for _, meter := range []string{"data", "control", "reply", "status"} {
						rates := res.Fields[meter].GetStructValue()
						So(rates, ShouldNotBeNil)
						So(rates.Fields["rate1"].GetNumberValue(), ShouldEqual, 0)
						So(rates.Fields["count"].GetNumberValue(), ShouldEqual, 0)
					}
					So(res.Fields["reconnects"].GetNumberValue(), ShouldEqual, 0)
					So(res.Fields["nodes"].GetNumberValue(), ShouldEqual, 0)
					So(res.Fields["broker_connected"].GetBoolValue(), ShouldBeFalse)
				})
			})

			Convey("When the gateway has been active", func() {
				Data()
				Data()
				Reconnect()
				Nodes(3)
				BrokerConnected(true)
				res, err := cli.GetStatus(context.Background(), &empty.Empty{})
				So(err, ShouldBeNil)
				Convey("The status should reflect it", func() {
					So(res.Fields["data"].GetStructValue().Fields["count"].GetNumberValue(), ShouldEqual, 2)
					So(res.Fields["reconnects"].GetNumberValue(), ShouldEqual, 1)
					So(res.Fields["nodes"].GetNumberValue(), ShouldEqual, 3)
					So(res.Fields["broker_connected"].GetBoolValue(), ShouldBeTrue)
				})
			})

			Convey("When access keys are configured", func() {
				AddAccessKey("secret")
				Convey("Requesting without a key should fail", func() {
					_, err := cli.GetStatus(context.Background(), &empty.Empty{})
					So(err, ShouldNotBeNil)
				})
				Convey("Requesting with a wrong key should be unauthenticated", func() {
					ctx := metadata.AppendToOutgoingContext(context.Background(), "key", "wrong")
					_, err := cli.GetStatus(ctx, &empty.Empty{})
					So(grpcstatus.Code(err), ShouldEqual, codes.Unauthenticated)
				})
				Convey("Requesting with the right key should succeed", func() {
					ctx := metadata.AppendToOutgoingContext(context.Background(), "key", "secret")
					_, err := cli.GetStatus(ctx, &empty.Empty{})
					So(err, ShouldBeNil)
				})
			})
		})

		Convey("When calling Control", func() {
			Control()
			Convey("Then the Count should have increased", func() {
				So(global.control.Count(), ShouldEqual, 1)
			})
		})

		Convey("When calling Reply", func() {
			Reply()
			Convey("Then the Count should have increased", func() {
				So(global.reply.Count(), ShouldEqual, 1)
			})
		})

		Convey("When calling Status", func() {
			Status()
			Convey("Then the Count should have increased", func() {
				So(global.status.Count(), ShouldEqual, 1)
			})
		})

		Convey("When the broker disconnects", func() {
			BrokerConnected(true)
			BrokerConnected(false)
			Convey("Then the gauge should be reset", func() {
				So(global.brokerConnected.Value(), ShouldEqual, 0)
			})
		})
	})
}
