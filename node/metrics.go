// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package node

import "github.com/prometheus/client_golang/prometheus"

var envelopesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "node",
		Name:      "envelopes_handled_total",
		Help:      "Total number of mesh messages handled, by envelope type.",
	}, []string{"type"},
)

var sendErrorsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "node",
		Name:      "send_errors_total",
		Help:      "Total number of messages that could not be sent.",
	},
)

var droppedTracesCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "node",
		Name:      "traces_dropped_total",
		Help:      "Total number of traces dropped because their path was too long.",
	},
)

var readingsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "node",
		Name:      "readings_total",
		Help:      "Total number of sensor readings, by result.",
	}, []string{"result"},
)

func init() {
	prometheus.MustRegister(envelopesCounter)
	prometheus.MustRegister(sendErrorsCounter)
	prometheus.MustRegister(droppedTracesCounter)
	prometheus.MustRegister(readingsCounter)
}
