// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"math/rand"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh/memory"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/node"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/sensor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SimulateCmd bridges a simulated mesh of sensor nodes
var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Bridge a simulated mesh of sensor nodes",
	Long:  `simulate runs the gateway on an in-memory mesh with simulated temperature, light and soil moisture nodes`,
	Run:   runSimulate,
}

func simulatedSource(i int, rnd *rand.Rand) sensor.Source {
	gps := &sensor.GPS{
		Lat:     config.GetFloat64("simulate-lat"),
		Lon:     config.GetFloat64("simulate-lon"),
		FixRate: config.GetFloat64("simulate-fix-rate"),
	}
	switch i % 3 {
	case 0:
		temperature, _ := sensor.Simulate(sensor.Temperature, rnd)
		humidity, _ := sensor.Simulate(sensor.Humidity, rnd)
		return sensor.Combine(sensor.WithGPS(temperature, gps), humidity)
	case 1:
		light, _ := sensor.Simulate(sensor.Light, rnd)
		return light
	default:
		soil, _ := sensor.Simulate(sensor.SoilMoisture, rnd)
		return sensor.WithGPS(soil, gps)
	}
}

func runSimulate(cmd *cobra.Command, args []string) {
	seed := config.GetInt64("simulate-seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	network := memory.New(ctx.WithField("Mesh", "Memory"))
	if config.GetBool("simulate-duplicates") {
		network.SetDuplicate(true)
	}

	gatewayID := uint32(config.GetInt("simulate-gateway-id"))
	transport, err := network.Join(gatewayID)
	if err != nil {
		ctx.WithError(err).Fatal("Could not join simulated mesh")
	}

	nodeConfig := node.DefaultConfig()
	nodeConfig.ReportInterval = config.GetDuration("report-interval")
	nodeConfig.MaxHops = config.GetInt("max-hops")

	var runners []func(context.Context) error
	for i := 0; i < config.GetInt("simulate-nodes"); i++ {
		nodeID := rnd.Uint32()
		if nodeID == 0 || nodeID == gatewayID {
			i--
			continue
		}
		nodeTransport, err := network.Join(nodeID)
		if err != nil {
			i--
			continue
		}
		n := node.New(ctx.WithField("NodeID", nodeID), nodeTransport, nodeConfig)
		n.RegisterSource(simulatedSource(i, rand.New(rand.NewSource(rnd.Int63()))), config.GetDuration("simulate-interval"))
		runners = append(runners, n.Run)
		ctx.WithField("NodeID", nodeID).Info("Added simulated node")
	}

	runBridge(transport, runners...)
}

func init() {
	GatewayCmd.AddCommand(SimulateCmd)

	SimulateCmd.Flags().Int("simulate-gateway-id", 1, "Node ID of the gateway in the simulated mesh")
	SimulateCmd.Flags().Int("simulate-nodes", 3, "Number of simulated sensor nodes")
	SimulateCmd.Flags().Duration("simulate-interval", 10*time.Second, "Interval of simulated sensor readings")
	SimulateCmd.Flags().Int64("simulate-seed", 0, "Seed of the simulation (0 for random)")
	SimulateCmd.Flags().Bool("simulate-duplicates", false, "Deliver every mesh message twice")
	SimulateCmd.Flags().Float64("simulate-lat", 4.660753, "Latitude of the simulated GPS")
	SimulateCmd.Flags().Float64("simulate-lon", -74.059945, "Longitude of the simulated GPS")
	SimulateCmd.Flags().Float64("simulate-fix-rate", 0.8, "Probability of a GPS fix")

	viper.BindPFlags(SimulateCmd.Flags())
}
