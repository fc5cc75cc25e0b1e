// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError is returned when bytes can not be decoded as an Envelope
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("envelope: invalid field %q: %s", e.Field, e.Err)
	}
	return fmt.Sprintf("envelope: %s", e.Err)
}

// Codec errors
var (
	ErrNotAnObject   = errors.New("not a JSON object")
	ErrUnknownType   = errors.New("envelope: unknown type")
	ErrReservedField = errors.New("envelope: reading uses a reserved field name")
)

// Field names on the wire
const (
	fieldType      = "type"
	fieldFrom      = "from"
	fieldTo        = "to"
	fieldSeq       = "seq"
	fieldHops      = "hops"
	fieldNeighbors = "neighbors"
	fieldLat       = "lat"
	fieldLon       = "lon"
)

var reserved = map[string]bool{
	fieldType: true, fieldFrom: true, fieldTo: true, fieldSeq: true,
	fieldHops: true, fieldNeighbors: true, fieldLat: true, fieldLon: true,
}

type required struct {
	to, from, seq, hops, neighbors bool
}

var requiredFields = map[Type]required{
	Ping:       {to: true, from: true, seq: true},
	Pong:       {from: true, seq: true},
	TopoReq:    {to: true, from: true, seq: true},
	Topo:       {from: true, seq: true, neighbors: true},
	Trace:      {to: true, from: true, seq: true, hops: true},
	TraceReply: {from: true, seq: true, hops: true},
}

// field order on the wire follows the struct order
type wireEnvelope struct {
	Type      string    `json:"type"`
	To        *uint32   `json:"to,omitempty"`
	From      *uint32   `json:"from,omitempty"`
	Seq       *uint32   `json:"seq,omitempty"`
	Hops      *[]uint32 `json:"hops,omitempty"`
	Neighbors *[]uint32 `json:"neighbors,omitempty"`
}

// replies put seq before from, as the node firmware does
type wireReply struct {
	Type      string    `json:"type"`
	Seq       *uint32   `json:"seq,omitempty"`
	From      *uint32   `json:"from,omitempty"`
	To        *uint32   `json:"to,omitempty"`
	Hops      *[]uint32 `json:"hops,omitempty"`
	Neighbors *[]uint32 `json:"neighbors,omitempty"`
}

func scalar(v uint32, force bool) *uint32 {
	if v == 0 && !force {
		return nil
	}
	return &v
}

func list(v []uint32, force bool) *[]uint32 {
	if len(v) == 0 && !force {
		return nil
	}
	if v == nil {
		v = []uint32{}
	}
	return &v
}

// Marshal encodes the Envelope
func Marshal(e *Envelope) ([]byte, error) {
	if e.Type == Data {
		return marshalData(e)
	}
	name, ok := typeNames[e.Type]
	if !ok {
		return nil, ErrUnknownType
	}
	req := requiredFields[e.Type]
	if e.Type.IsReply() {
		return json.Marshal(wireReply{
			Type:      name,
			Seq:       scalar(e.Seq, req.seq),
			From:      scalar(e.From, req.from),
			To:        scalar(e.To, req.to),
			Hops:      list(e.Hops, req.hops),
			Neighbors: list(e.Neighbors, req.neighbors),
		})
	}
	return json.Marshal(wireEnvelope{
		Type:      name,
		To:        scalar(e.To, req.to),
		From:      scalar(e.From, req.from),
		Seq:       scalar(e.Seq, req.seq),
		Hops:      list(e.Hops, req.hops),
		Neighbors: list(e.Neighbors, req.neighbors),
	})
}

func marshalData(e *Envelope) ([]byte, error) {
	obj := make(map[string]interface{})
	if e.Reading != nil {
		for k, v := range e.Reading.Fields {
			if reserved[k] {
				return nil, ErrReservedField
			}
			obj[k] = v
		}
		if loc := e.Reading.Location; loc != nil {
			if loc.Fix {
				obj[fieldLat], obj[fieldLon] = loc.Lat, loc.Lon
			} else {
				obj[fieldLat], obj[fieldLon] = NoData, NoData
			}
		}
	}
	if e.From != 0 {
		obj[fieldFrom] = e.From
	}
	if e.To != 0 {
		obj[fieldTo] = e.To
	}
	if e.Seq != 0 {
		obj[fieldSeq] = e.Seq
	}
	if len(e.Hops) > 0 {
		obj[fieldHops] = e.Hops
	}
	if len(e.Neighbors) > 0 {
		obj[fieldNeighbors] = e.Neighbors
	}
	return json.Marshal(obj)
}

// Unmarshal decodes an Envelope. It returns a *DecodeError if the data is not
// a valid envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Err: ErrNotAnObject}
	}

	e := new(Envelope)
	if raw, ok := fields[fieldType]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, &DecodeError{Field: fieldType, Err: err}
		}
		e.Type, _ = ParseType(name)
	}

	for _, f := range []struct {
		name string
		dst  *uint32
	}{{fieldFrom, &e.From}, {fieldTo, &e.To}, {fieldSeq, &e.Seq}} {
		if raw, ok := fields[f.name]; ok {
			if err := json.Unmarshal(raw, f.dst); err != nil {
				return nil, &DecodeError{Field: f.name, Err: err}
			}
		}
	}

	for _, f := range []struct {
		name string
		dst  *[]uint32
	}{{fieldHops, &e.Hops}, {fieldNeighbors, &e.Neighbors}} {
		if raw, ok := fields[f.name]; ok {
			if err := json.Unmarshal(raw, f.dst); err != nil {
				return nil, &DecodeError{Field: f.name, Err: err}
			}
			if len(*f.dst) == 0 {
				*f.dst = nil
			}
		}
	}

	if e.Type == Data {
		reading, err := unmarshalReading(fields)
		if err != nil {
			return nil, err
		}
		e.Reading = reading
	}

	return e, nil
}

func unmarshalReading(fields map[string]json.RawMessage) (*Reading, error) {
	reading := new(Reading)
	for k, raw := range fields {
		if reserved[k] {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue // not a numeric reading
		}
		if reading.Fields == nil {
			reading.Fields = make(map[string]float64)
		}
		reading.Fields[k] = v
	}

	rawLat, hasLat := fields[fieldLat]
	rawLon, hasLon := fields[fieldLon]
	if hasLat && hasLon {
		loc, err := unmarshalLocation(rawLat, rawLon)
		if err != nil {
			return nil, err
		}
		reading.Location = loc
	}

	if reading.Fields == nil && reading.Location == nil {
		return nil, nil
	}
	return reading, nil
}

func unmarshalLocation(rawLat, rawLon json.RawMessage) (*Location, error) {
	var latStr, lonStr string
	if json.Unmarshal(rawLat, &latStr) == nil || json.Unmarshal(rawLon, &lonStr) == nil {
		if latStr != NoData && lonStr != NoData {
			return nil, &DecodeError{Field: fieldLat, Err: fmt.Errorf("expected coordinates or %q", NoData)}
		}
		return &Location{}, nil
	}
	loc := &Location{Fix: true}
	if err := json.Unmarshal(rawLat, &loc.Lat); err != nil {
		return nil, &DecodeError{Field: fieldLat, Err: err}
	}
	if err := json.Unmarshal(rawLon, &loc.Lon); err != nil {
		return nil, &DecodeError{Field: fieldLon, Err: err}
	}
	return loc, nil
}
