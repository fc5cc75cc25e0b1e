// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package reporter reports the view a node has of the mesh.
package reporter

import (
	"net"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/apex/log"
)

// Report is a snapshot of the mesh as seen by a node
type Report struct {
	NodeID  uint32
	Nodes   []uint32
	Address string
	Time    time.Time
}

// Count returns the number of other nodes in the Report
func (r *Report) Count() int {
	return len(r.Nodes)
}

// Reporter builds Reports from a mesh transport
type Reporter struct {
	ctx       log.Interface
	transport mesh.Transport
	// Address returns the station address of the node
	Address func() string
}

// New returns a new Reporter for the transport
func New(ctx log.Interface, transport mesh.Transport) *Reporter {
	r := &Reporter{
		ctx:       ctx,
		transport: transport,
		Address:   localAddress,
	}
	if a, ok := transport.(mesh.Addresser); ok {
		r.Address = a.Address
	}
	return r
}

// Snapshot returns the current Report without logging it
func (r *Reporter) Snapshot() *Report {
	return &Report{
		NodeID:  r.transport.NodeID(),
		Nodes:   r.transport.Nodes(),
		Address: r.Address(),
		Time:    time.Now(),
	}
}

// Report logs the current Report with the additional fields
func (r *Reporter) Report(fields log.Fields) *Report {
	report := r.Snapshot()
	ctx := r.ctx.WithFields(fields).WithFields(log.Fields{
		"NodeID":  report.NodeID,
		"Nodes":   report.Count(),
		"Address": report.Address,
	})
	ctx.Info("Mesh status")
	return report
}

// TopologyChanged logs the node list after a change in connections
func (r *Reporter) TopologyChanged() *Report {
	report := r.Snapshot()
	r.ctx.WithFields(log.Fields{
		"NodeID":   report.NodeID,
		"Nodes":    report.Count(),
		"NodeList": report.Nodes,
	}).Info("Mesh topology changed")
	return report
}

// localAddress returns the first non-loopback IPv4 address of the host
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip := ipnet.IP.To4(); ip != nil {
				return ip.String()
			}
		}
	}
	return ""
}
