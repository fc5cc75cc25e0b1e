// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import "github.com/TheThingsNetwork/mesh-gateway-bridge/types"

// WithServer is a Dummy backend that exposes published messages on
// a http page with websockets
type WithServer struct {
	*Dummy
	server *Server
}

// WithHTTPServer returns the Dummy that also has a HTTP server exposing the messages on addr
func (d *Dummy) WithHTTPServer(addr string) *WithServer {
	ctx := d.ctx.WithField("Connector", "HTTP Debug")
	s, err := NewServer(ctx, addr)
	if err != nil {
		ctx.WithError(err).Fatal("Could not add server to Dummy backend")
		return nil
	}
	go s.Listen()
	return &WithServer{
		Dummy:  d,
		server: s,
	}
}

// Publish implements backend.Broker
func (d *WithServer) Publish(topic string, payload []byte) error {
	if err := d.Dummy.Publish(topic, payload); err != nil {
		return err
	}
	d.server.Message(&types.BrokerMessage{Topic: topic, Payload: payload})
	return nil
}
