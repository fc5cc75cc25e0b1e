// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/TheThingsNetwork/go-utils/handlers/cli"
	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/log/apex"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/gateway"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh/serial"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/node"
	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// GatewayCmd is the main command that is executed when running mesh-gateway-bridge
var GatewayCmd = &cobra.Command{
	Use:   "mesh-gateway-bridge",
	Short: "Bridge between a sensor mesh and an MQTT or AMQP broker",
	Long:  `mesh-gateway-bridge connects to the root radio of a sensor mesh over serial and bridges sensor data and diagnostics to a broker`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logHandlers []log.Handler

		logHandlers = append(logHandlers, cli.New(os.Stdout))

		if logFileLocation := config.GetString("log-file"); logFileLocation != "" {
			absLogFileLocation, err := filepath.Abs(logFileLocation)
			if err != nil {
				panic(err)
			}
			logFile = &lumberjack.Logger{
				Filename:   absLogFileLocation,
				MaxSize:    config.GetInt("log-max-size"),
				MaxBackups: config.GetInt("log-max-backups"),
				MaxAge:     config.GetInt("log-max-age"),
			}
			logHandlers = append(logHandlers, json.New(logFile))
		}

		level := log.InfoLevel
		if config.GetBool("debug") {
			level = log.DebugLevel
		}

		ctx = &log.Logger{
			Level:   level,
			Handler: multi.New(logHandlers...),
		}
		ttnlog.Set(apex.Wrap(ctx))
	},
	Run: runGateway,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			time.Sleep(100 * time.Millisecond)
			logFile.Close()
		}
	},
}

func runGateway(cmd *cobra.Command, args []string) {
	port := config.GetString("serial-port")
	ctx.WithField("Port", port).Info("Opening mesh radio")
	transport, err := serial.Open(serial.Config{
		Port:     port,
		BaudRate: config.GetInt("serial-baud-rate"),
	}, ctx)
	if err != nil {
		ctx.WithError(err).Fatal("Could not open mesh radio")
	}
	defer transport.Close()

	select {
	case <-transport.Ready():
		ctx.WithField("NodeID", transport.NodeID()).Info("Mesh radio ready")
	case <-time.After(config.GetDuration("serial-timeout")):
		ctx.Fatal("Mesh radio did not report its node ID in time")
	}

	runBridge(transport)
}

func gatewayConfig() gateway.Config {
	conf := gateway.DefaultConfig()
	conf.DataRoot = config.GetString("data-root")
	conf.ControlTopic = config.GetString("control-topic")
	conf.ResponseTopic = config.GetString("response-topic")
	conf.StatusInterval = config.GetDuration("status-interval")
	conf.ReportInterval = config.GetDuration("report-interval")
	conf.ReconnectInterval = config.GetDuration("reconnect-interval")
	conf.RequestTimeout = config.GetDuration("request-timeout")
	conf.MaxHops = config.GetInt("max-hops")
	return conf
}

func init() {
	defaults := gateway.DefaultConfig()

	GatewayCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Location of the config file")

	GatewayCmd.PersistentFlags().Bool("debug", false, "Print debug logs")
	GatewayCmd.PersistentFlags().String("log-file", "", "Location of the log file")
	GatewayCmd.PersistentFlags().Int("log-max-size", 100, "Maximum size of the log file in megabytes before it is rotated")
	GatewayCmd.PersistentFlags().Int("log-max-backups", 3, "Maximum number of rotated log files to keep")
	GatewayCmd.PersistentFlags().Int("log-max-age", 28, "Maximum number of days to keep rotated log files")

	GatewayCmd.PersistentFlags().String("bridge-id", "", "Identifier of this bridge that is added to routed messages (default mesh-gateway@hostname)")
	GatewayCmd.PersistentFlags().String("broker", "mqtt", "Broker to bridge to (mqtt, amqp or dummy)")
	GatewayCmd.PersistentFlags().String("mqtt", "guest:guest@localhost:1883", "MQTT Broker to connect to (user:pass@host:port)")
	GatewayCmd.PersistentFlags().String("amqp", "guest:guest@localhost:5672", "AMQP Broker to connect to (user:pass@host:port)")
	GatewayCmd.PersistentFlags().String("amqp-exchange", "amq.topic", "AMQP topic exchange")
	GatewayCmd.PersistentFlags().String("dummy-http", "", "Address of the HTTP debug monitor of the dummy broker")

	GatewayCmd.PersistentFlags().String("data-root", defaults.DataRoot, "Topic under which sensor data and status are published")
	GatewayCmd.PersistentFlags().String("control-topic", defaults.ControlTopic, "Topic on which control requests are received")
	GatewayCmd.PersistentFlags().String("response-topic", defaults.ResponseTopic, "Topic on which replies are published")
	GatewayCmd.PersistentFlags().Duration("status-interval", defaults.StatusInterval, "Interval of status messages")
	GatewayCmd.PersistentFlags().Duration("report-interval", defaults.ReportInterval, "Interval of local status logs")
	GatewayCmd.PersistentFlags().Duration("reconnect-interval", defaults.ReconnectInterval, "Time to wait before reconnecting to the broker")
	GatewayCmd.PersistentFlags().Duration("request-timeout", defaults.RequestTimeout, "Time to wait for replies to control requests")
	GatewayCmd.PersistentFlags().Int("max-hops", node.DefaultMaxHops, "Maximum length of a trace before it is dropped (0 for no limit)")

	GatewayCmd.PersistentFlags().Bool("redis", false, "Use Redis for node state and rate limits")
	GatewayCmd.PersistentFlags().String("redis-address", "localhost:6379", "Redis host and port")
	GatewayCmd.PersistentFlags().String("redis-password", "", "Redis password")
	GatewayCmd.PersistentFlags().Int("redis-db", 0, "Redis database")
	GatewayCmd.PersistentFlags().String("redis-state-key", "", "Redis key of the node state")

	GatewayCmd.PersistentFlags().StringSlice("blocklist", nil, "Files or URLs of node blocklists")
	GatewayCmd.PersistentFlags().Duration("blocklist-refresh", time.Hour, "Interval for fetching remote blocklists")
	GatewayCmd.PersistentFlags().Bool("deduplicate", false, "Drop sensor data that was delivered twice by the mesh")
	GatewayCmd.PersistentFlags().Duration("deduplicate-window", time.Second, "Time in which repeated sensor data is a duplicate")
	GatewayCmd.PersistentFlags().Int("ratelimit-data", 0, "Sensor data per node per minute (0 for no limit)")
	GatewayCmd.PersistentFlags().Int("ratelimit-control", 0, "Control requests per node per minute (0 for no limit)")
	GatewayCmd.PersistentFlags().Int("ratelimit-reply", 0, "Replies per node per minute (0 for no limit)")

	GatewayCmd.PersistentFlags().String("status-address", "", "Address of the gRPC status server")
	GatewayCmd.PersistentFlags().StringSlice("status-access-keys", nil, "Access keys for the gRPC status server")
	GatewayCmd.PersistentFlags().String("http-address", "", "Address of the HTTP server for Prometheus metrics")

	GatewayCmd.Flags().String("serial-port", "/dev/ttyUSB0", "Serial port of the mesh radio")
	GatewayCmd.Flags().Int("serial-baud-rate", serial.DefaultBaudRate, "Baud rate of the mesh radio")
	GatewayCmd.Flags().Duration("serial-timeout", 10*time.Second, "Time to wait for the mesh radio")

	viper.BindPFlags(GatewayCmd.PersistentFlags())
	viper.BindPFlags(GatewayCmd.Flags())
}
