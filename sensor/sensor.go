// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package sensor provides the reading sources of mesh nodes.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
)

// Source produces sensor readings
type Source interface {
	Read() (*envelope.Reading, error)
}

// SourceFunc is a function that implements Source
type SourceFunc func() (*envelope.Reading, error)

// Read implements Source
func (f SourceFunc) Read() (*envelope.Reading, error) {
	return f()
}

// ErrNoReading is returned when a sensor could not be read
var ErrNoReading = errors.New("sensor: no reading")

// Kind of sensor
type Kind string

// Supported sensor kinds, named by the reading they produce
const (
	Temperature  Kind = "temperatura"
	Humidity     Kind = "humedad"
	Light        Kind = "light"
	SoilMoisture Kind = "soil_moisture"
)

// Kinds lists all supported sensor kinds
var Kinds = []Kind{Temperature, Humidity, Light, SoilMoisture}

// LightMax is the raw value of a fully lit light sensor
const LightMax = 4095

type walk struct {
	value, min, max, step float64
}

func (w *walk) next(rnd *rand.Rand) float64 {
	w.value += (rnd.Float64()*2 - 1) * w.step
	w.value = math.Max(w.min, math.Min(w.max, w.value))
	return w.value
}

var walks = map[Kind]walk{
	Temperature:  {value: 21, min: -10, max: 45, step: 0.5},
	Humidity:     {value: 60, min: 0, max: 100, step: 2},
	Light:        {value: 2048, min: 0, max: LightMax, step: 200},
	SoilMoisture: {value: 40, min: 0, max: 100, step: 3},
}

type simulated struct {
	mu   sync.Mutex
	rnd  *rand.Rand
	kind Kind
	walk walk
	gps  *GPS
}

// Simulate returns a Source that produces random-walk readings of the given kind
func Simulate(kind Kind, rnd *rand.Rand) (Source, error) {
	w, ok := walks[kind]
	if !ok {
		return nil, fmt.Errorf("sensor: unknown kind %q", kind)
	}
	return &simulated{rnd: rnd, kind: kind, walk: w}, nil
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func (s *simulated) Read() (*envelope.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.walk.next(s.rnd)
	reading := &envelope.Reading{Fields: make(map[string]float64)}
	switch s.kind {
	case Light:
		raw := math.Round(v)
		reading.Fields["light"] = raw
		reading.Fields["percentage"] = math.Round(raw * 100 / LightMax)
	case SoilMoisture:
		reading.Fields[string(s.kind)] = math.Round(v)
	default:
		reading.Fields[string(s.kind)] = round(v, 1)
	}
	if s.gps != nil {
		reading.Location = s.gps.locate(s.rnd)
	}
	return reading, nil
}

// GPS simulates a GPS receiver around a fixed position
type GPS struct {
	Lat, Lon float64
	// FixRate is the probability that a reading has a position fix
	FixRate float64
}

func (g *GPS) locate(rnd *rand.Rand) *envelope.Location {
	if rnd.Float64() >= g.FixRate {
		return &envelope.Location{}
	}
	return &envelope.Location{
		Lat: round(g.Lat+(rnd.Float64()*2-1)*0.0001, 6),
		Lon: round(g.Lon+(rnd.Float64()*2-1)*0.0001, 6),
		Fix: true,
	}
}

// WithGPS adds a location to the readings of a simulated Source
func WithGPS(src Source, gps *GPS) Source {
	if s, ok := src.(*simulated); ok {
		s.mu.Lock()
		s.gps = gps
		s.mu.Unlock()
		return s
	}
	return SourceFunc(func() (*envelope.Reading, error) {
		reading, err := src.Read()
		if err != nil {
			return nil, err
		}
		reading.Location = gps.locate(rand.New(rand.NewSource(rand.Int63())))
		return reading, nil
	})
}

// Combine returns a Source that merges the readings of all sources into one.
// The first location wins. Combine fails if any of the sources fails.
func Combine(sources ...Source) Source {
	return SourceFunc(func() (*envelope.Reading, error) {
		combined := &envelope.Reading{Fields: make(map[string]float64)}
		for _, src := range sources {
			reading, err := src.Read()
			if err != nil {
				return nil, err
			}
			for k, v := range reading.Fields {
				combined.Fields[k] = v
			}
			if combined.Location == nil {
				combined.Location = reading.Location
			}
		}
		return combined, nil
	})
}
