// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package mqtt connects to an MQTT broker on behalf of the mesh gateway.
//
// The client does not reconnect by itself. When the connection drops, the
// error is delivered on the channel returned by `Lost()` and the owner of the
// client decides when to call `Connect()` again. Subscriptions do not survive
// a lost connection (the session is clean), so they must be made again after
// reconnecting.
//
// Payloads are passed through unchanged. The gateway publishes sensor data on
// "[data-root]/[node-id]", its status on "[data-root]/gateway" and replies on
// the response topic, and subscribes to the control topic.
package mqtt
