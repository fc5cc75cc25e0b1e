// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package inject

import (
	"testing"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInject(t *testing.T) {
	Convey("Given a new Inject", t, func(c C) {
		i := NewInject(Fields{
			Bridge: "mesh-gateway-bridge v1.0.0",
			Broker: "MQTT",
		})

		Convey("When sending a StatusMessage", func() {
			status := &types.StatusMessage{NodeID: "gateway", GatewayID: 1}
			err := i.HandleStatus(middleware.NewContext(), status)
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("The StatusMessage should contain the injected fields", func() {
				So(status.Bridge, ShouldEqual, "mesh-gateway-bridge v1.0.0 MQTT Broker")
			})
		})

		Convey("When sending a StatusMessage that already has the field", func() {
			status := &types.StatusMessage{Bridge: "other"}
			i.HandleStatus(middleware.NewContext(), status)
			Convey("The field should not be overwritten", func() {
				So(status.Bridge, ShouldEqual, "other")
			})
		})
	})
}
