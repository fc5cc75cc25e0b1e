// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

/*
Package gateway bridges the mesh to a publish/subscribe broker.

The Gateway uses the following topics, relative to its Config:

	Nodos/datos/<nodeId>      gateway -> broker   sensor data of a node, as received
	Nodos/datos/gateway       gateway -> broker   periodic status of the gateway
	Nodos/control             broker -> gateway   control requests for the mesh
	Nodos/control/response    gateway -> broker   PONG, TOPO and TRACE_REPLY envelopes

The status is a JSON object of the form:

	{"nodeId":"gateway","id":1,"ip":"192.168.1.17","nodes":3}

Control requests without a "from" field (or with "from":0) are sent into the mesh
with the node ID of the gateway, so that replies return to the gateway. A request
with "to":0 is broadcast, a request for the gateway itself is answered locally.

When the broker connection is lost, messages for the broker are dropped until the
Gateway reconnects. Nothing is buffered.
*/
package gateway
