// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package node

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh/memory"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/sensor"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNode(t *testing.T) {
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
		gateway, _ := network.Join(1)
		transport, _ := network.Join(12)
		n := New(ctx, transport, DefaultConfig())

		reading := &envelope.Reading{Fields: map[string]float64{"soil_moisture": 37}, Location: &envelope.Location{}}

		Convey("When a reading source is registered", func() {
			n.RegisterSource(sensor.SourceFunc(func() (*envelope.Reading, error) {
				return reading, nil
			}), time.Minute)
			n.Handle(&types.TimerEvent{Timer: types.ReadingTimer, Time: time.Now()})
			Convey("The reading should be broadcast as DATA", func() {
				msg, e := receive(gateway)
				So(msg, ShouldNotBeNil)
				So(msg.From, ShouldEqual, 12)
				So(string(msg.Payload), ShouldEqual, `{"lat":"no data","lon":"no data","soil_moisture":37}`)
				So(e.Reading, ShouldResemble, reading)
			})
		})

		Convey("When the source fails", func() {
			n.RegisterSource(sensor.SourceFunc(func() (*envelope.Reading, error) {
				return nil, errors.New("sensor unplugged")
			}), time.Minute)
			n.Handle(&types.TimerEvent{Timer: types.ReadingTimer, Time: time.Now()})
			Convey("Nothing should be broadcast", func() {
				So(len(gateway.Receive()), ShouldEqual, 0)
				So(logs.String(), ShouldContainSubstring, "sensor unplugged")
			})
		})

		Convey("When a reading event is handled", func() {
			n.Handle(&types.ReadingEvent{Reading: reading})
			Convey("The reading should be broadcast", func() {
				msg, _ := receive(gateway)
				So(msg, ShouldNotBeNil)
			})
		})

		Convey("When running the Node", func() {
			n.RegisterSource(sensor.SourceFunc(func() (*envelope.Reading, error) {
				return reading, nil
			}), 10*time.Millisecond)
			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error)
			go func() { done <- n.Run(runCtx) }()

			Convey("It should answer requests and broadcast readings", func() {
				gateway.Send(12, encode(&envelope.Envelope{Type: envelope.Ping, To: 12, From: 1, Seq: 5}))
				var pong, data bool
				deadline := time.After(time.Second)
				for !(pong && data) {
					select {
					case msg := <-gateway.Receive():
						e, err := envelope.Unmarshal(msg.Payload)
						So(err, ShouldBeNil)
						switch e.Type {
						case envelope.Pong:
							pong = true
						case envelope.Data:
							data = true
						}
					case <-deadline:
						So("Timeout Exceeded", ShouldBeFalse)
						return
					}
				}
				cancel()
				So(<-done, ShouldEqual, context.Canceled)
			})
		})
	})
}
