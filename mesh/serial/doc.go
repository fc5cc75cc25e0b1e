// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package serial implements a mesh transport over a serial link to a mesh radio.
//
// Frames are JSON objects, one per line. The radio sends:
//
//     {"ev":"id","node":2345}
//     {"ev":"ip","ip":"192.168.1.20"}
//     {"ev":"nodes","nodes":[11,42]}
//     {"ev":"rx","from":42,"msg":"{\"type\":\"PONG\",\"seq\":7,\"from\":42}"}
//
// The host sends:
//
//     {"cmd":"hello"}
//     {"cmd":"send","to":42,"msg":"..."}
//     {"cmd":"bcast","msg":"..."}
//
// The radio answers hello with its id, ip and nodes events. It sends a nodes
// event whenever its connections change. Lines longer than MaxLineSize are
// discarded.
package serial
