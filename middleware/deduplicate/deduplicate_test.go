// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package deduplicate

import (
	"testing"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeduplicate(t *testing.T) {
	Convey("Given a new Deduplicate", t, func(c C) {
		i := NewDeduplicate(time.Minute)

		data := &types.DataMessage{NodeID: 42, Payload: []byte(`{"temperatura":21.5}`)}
		dataDup := &types.DataMessage{NodeID: 42, Payload: []byte(`{"temperatura":21.5}`)}
		nextData := &types.DataMessage{NodeID: 42, Payload: []byte(`{"temperatura":21.6}`)}
		otherNode := &types.DataMessage{NodeID: 43, Payload: []byte(`{"temperatura":21.5}`)}

		Convey("When sending a DataMessage", func() {
			Reset(func() {
				i.HandleLeave(middleware.NewContext(), &types.LeaveMessage{NodeID: 42})
			})
			err := i.HandleData(middleware.NewContext(), data)
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("When sending a duplicate of that DataMessage", func() {
				err := i.HandleData(middleware.NewContext(), dataDup)
				Convey("There should be an error", func() {
					So(err, ShouldEqual, ErrDuplicateMessage)
				})
			})
			Convey("When sending another DataMessage", func() {
				err := i.HandleData(middleware.NewContext(), nextData)
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
			Convey("When another node sends the same payload", func() {
				err := i.HandleData(middleware.NewContext(), otherNode)
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
			Convey("When the node leaves and sends the payload again", func() {
				i.HandleLeave(middleware.NewContext(), &types.LeaveMessage{NodeID: 42})
				err := i.HandleData(middleware.NewContext(), dataDup)
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
		})

		Convey("When the window has passed", func() {
			i := NewDeduplicate(time.Millisecond)
			i.HandleData(middleware.NewContext(), data)
			time.Sleep(5 * time.Millisecond)
			err := i.HandleData(middleware.NewContext(), dataDup)
			Convey("The repeated payload should be accepted", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}
