// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package serial

import "github.com/prometheus/client_golang/prometheus"

var oversizedLinesCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "mesh",
		Subsystem: "serial",
		Name:      "oversized_lines_total",
		Help:      "Total number of lines from the radio that were discarded because they were too long.",
	},
)

func init() {
	prometheus.MustRegister(oversizedLinesCounter)
}
