// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package envelope implements the messages that are exchanged over the sensor
// mesh and mirrored onto the broker.
//
// Envelopes are encoded as compact JSON objects. Control envelopes carry a
// "type" field (PING, PONG, TOPO_REQ, TOPO, TRACE, TRACE_REPLY):
//
//   {"type":"PING","to":42,"from":1,"seq":7}
//   {"type":"PONG","seq":7,"from":42}
//   {"type":"TOPO","seq":8,"from":42,"neighbors":[2,5,9]}
//   {"type":"TRACE","to":42,"from":1,"seq":9,"hops":[1,17]}
//
// Sensor data is sent exactly the way sensor nodes put it on the air: a flat
// object of numeric readings without a "type" field, optionally with a
// location. A location without GPS fix uses the string "no data":
//
//   {"temperatura":21.4,"lat":4.660753,"lon":-74.059945}
//   {"soil_moisture":37,"lat":"no data","lon":"no data"}
//
// Objects without a "type", or with a type that is not known, decode as DATA.
// Unknown fields are ignored.
package envelope
