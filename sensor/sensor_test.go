// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package sensor

import (
	"math/rand"
	"testing"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSimulate(t *testing.T) {
	Convey("Given a random source", t, func(c C) {
		rnd := rand.New(rand.NewSource(42))

		Convey("Unknown kinds should be rejected", func() {
			_, err := Simulate(Kind("pressure"), rnd)
			So(err, ShouldNotBeNil)
		})

		Convey("Every kind should produce readings within bounds", func() {
			for _, kind := range Kinds {
				src, err := Simulate(kind, rnd)
				So(err, ShouldBeNil)
				for i := 0; i < 100; i++ {
					reading, err := src.Read()
					So(err, ShouldBeNil)
					So(reading.Location, ShouldBeNil)
					switch kind {
					case Light:
						So(reading.Fields["light"], ShouldBeBetweenOrEqual, 0, LightMax)
						So(reading.Fields["percentage"], ShouldBeBetweenOrEqual, 0, 100)
					case Temperature:
						So(reading.Fields["temperatura"], ShouldBeBetweenOrEqual, -10, 45)
					default:
						So(reading.Fields[string(kind)], ShouldBeBetweenOrEqual, 0, 100)
					}
				}
			}
		})

		Convey("Readings should encode as DATA envelopes", func() {
			src, _ := Simulate(Temperature, rnd)
			src = WithGPS(src, &GPS{Lat: 4.66, Lon: -74.06, FixRate: 1})
			reading, _ := src.Read()
			So(reading.Location.Fix, ShouldBeTrue)
			So(reading.Location.Lat, ShouldAlmostEqual, 4.66, 0.001)
			_, err := envelope.Marshal(&envelope.Envelope{Type: envelope.Data, Reading: reading})
			So(err, ShouldBeNil)
		})

		Convey("A GPS without fix should report no data", func() {
			src, _ := Simulate(SoilMoisture, rnd)
			src = WithGPS(src, &GPS{FixRate: 0})
			reading, _ := src.Read()
			So(reading.Location, ShouldResemble, &envelope.Location{})
		})

		Convey("GPS can be added to any Source", func() {
			src := WithGPS(SourceFunc(func() (*envelope.Reading, error) {
				return &envelope.Reading{Fields: map[string]float64{"x": 1}}, nil
			}), &GPS{FixRate: 1})
			reading, err := src.Read()
			So(err, ShouldBeNil)
			So(reading.Location.Fix, ShouldBeTrue)
		})

		Convey("Sources can be combined", func() {
			temperature, _ := Simulate(Temperature, rnd)
			humidity, _ := Simulate(Humidity, rnd)
			src := Combine(WithGPS(temperature, &GPS{FixRate: 0}), humidity)
			reading, err := src.Read()
			So(err, ShouldBeNil)
			So(reading.Fields, ShouldContainKey, "temperatura")
			So(reading.Fields, ShouldContainKey, "humedad")
			So(reading.Location, ShouldResemble, &envelope.Location{})

			Convey("A failing source should fail the combination", func() {
				_, err := Combine(humidity, SourceFunc(func() (*envelope.Reading, error) {
					return nil, ErrNoReading
				})).Read()
				So(err, ShouldEqual, ErrNoReading)
			})
		})
	})
}
