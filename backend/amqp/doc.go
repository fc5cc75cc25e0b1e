// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package amqp connects to an AMQP server on behalf of the mesh gateway.
//
// Topics are mapped to routing keys on a topic exchange ("amq.topic" by
// default) by replacing "/" with "." and "+" with "*". Sensor data of node
// 42 is therefore published with routing key "Nodos.datos.42" and control
// messages are consumed from "Nodos.control".
//
// As with the MQTT client, a single connection attempt is made by `Connect()`
// and a lost connection is reported on the channel returned by `Lost()`.
package amqp
