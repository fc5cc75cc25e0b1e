// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var brokerConnected = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "mesh",
		Subsystem: "gateway",
		Name:      "broker_connected",
		Help:      "Whether the gateway is connected to the broker.",
	},
)

var meshNodes = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "mesh",
		Subsystem: "gateway",
		Name:      "mesh_nodes",
		Help:      "Number of nodes in the mesh.",
	},
)

var reconnectsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "gateway",
		Name:      "broker_reconnects_total",
		Help:      "Total number of reconnections to the broker.",
	},
)

var handledCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "gateway",
		Name:      "messages_handled_total",
		Help:      "Total number of messages handled.",
	}, []string{"message_type"},
)

var droppedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "gateway",
		Name:      "messages_dropped_total",
		Help:      "Total number of messages dropped.",
	}, []string{"reason"},
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "mesh",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Time between a control request and its reply.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"reply_type"},
)

func init() {
	prometheus.MustRegister(brokerConnected)
	prometheus.MustRegister(meshNodes)
	prometheus.MustRegister(reconnectsCounter)
	prometheus.MustRegister(handledCounter)
	prometheus.MustRegister(droppedCounter)
	prometheus.MustRegister(requestDuration)
}
