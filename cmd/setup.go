// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend/amqp"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend/dummy"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/gateway"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware/blocklist"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware/debug"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware/deduplicate"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware/inject"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware/ratelimit"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/status/statusserver"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	redis "gopkg.in/redis.v5"
)

// user:pass@host:port
var brokerRegexp = regexp.MustCompile(`^(?:([0-9a-z_-]+)(?::([0-9A-Za-z-!"#$%&'()*+,.:;<=>?@[\]^_{|}~]+))?@)?([0-9a-z.-]+:[0-9]+)$`)

// runBridge runs a Gateway on the transport, together with the other runners, until a signal is received
func runBridge(transport mesh.Transport, runners ...func(context.Context) error) {
	gw := gateway.New(ctx, transport, newBroker(), gatewayConfig())

	redisClient := newRedisClient()
	if redisClient != nil {
		ctx.Info("Initializing Redis node state")
		nodeIDs, err := gw.InitRedisState(redisClient, config.GetString("redis-state-key"))
		if err != nil {
			ctx.WithError(err).Warn("Could not restore node state, continuing without Redis node state")
		} else {
			ctx.WithField("Nodes", len(nodeIDs)).Info("Restored node state")
		}
	}

	chain, stop := newMiddleware(redisClient)
	defer stop()
	gw.SetMiddleware(chain)

	serveStatus()
	serveMetrics()

	runUntilSignal(append(runners, gw.Run)...)
}

func newBroker() backend.Broker {
	switch broker := config.GetString("broker"); broker {
	case "mqtt":
		parts := brokerRegexp.FindStringSubmatch(config.GetString("mqtt"))
		if parts == nil {
			ctx.Fatal("Invalid MQTT broker, expected user:pass@host:port")
		}
		ctx.WithField("Username", parts[1]).WithField("Address", parts[3]).Info("Initializing MQTT")
		mqtt, err := mqtt.New(mqtt.Config{
			Brokers:  []string{"tcp://" + parts[3]},
			Username: parts[1],
			Password: parts[2],
		}, ctx)
		if err != nil {
			ctx.WithError(err).Fatal("Could not initialize MQTT")
		}
		return mqtt
	case "amqp":
		parts := brokerRegexp.FindStringSubmatch(config.GetString("amqp"))
		if parts == nil {
			ctx.Fatal("Invalid AMQP broker, expected user:pass@host:port")
		}
		ctx.WithField("Username", parts[1]).WithField("Address", parts[3]).Info("Initializing AMQP")
		amqp, err := amqp.New(amqp.Config{
			Address:      parts[3],
			Username:     parts[1],
			Password:     parts[2],
			ExchangeName: config.GetString("amqp-exchange"),
		}, ctx)
		if err != nil {
			ctx.WithError(err).Fatal("Could not initialize AMQP")
		}
		return amqp
	case "dummy":
		dummy := dummy.New(ctx)
		if addr := config.GetString("dummy-http"); addr != "" {
			ctx.WithField("Address", addr).Info("Starting dummy broker monitor")
			return dummy.WithHTTPServer(addr)
		}
		return dummy
	default:
		ctx.WithField("Broker", broker).Fatal("Unknown broker")
	}
	return nil
}

func newRedisClient() *redis.Client {
	if !config.GetBool("redis") {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     config.GetString("redis-address"),
		Password: config.GetString("redis-password"),
		DB:       config.GetInt("redis-db"),
	})
}

func newMiddleware(redisClient *redis.Client) (chain middleware.Chain, stop func()) {
	var stops []func()
	stop = func() {
		for _, stop := range stops {
			stop()
		}
	}

	if config.GetBool("debug") {
		chain = append(chain, debug.New())
	}

	if lists := config.GetStringSlice("blocklist"); len(lists) > 0 {
		b, err := blocklist.NewBlocklist(lists...)
		if err != nil {
			ctx.WithError(err).Fatal("Could not load blocklists")
		}
		refresh := time.NewTicker(config.GetDuration("blocklist-refresh"))
		go func() {
			for range refresh.C {
				if err := b.FetchRemotes(); err != nil {
					ctx.WithError(err).Warn("Could not fetch remote blocklists")
				}
			}
		}()
		stops = append(stops, refresh.Stop, b.Close)
		chain = append(chain, b)
	}

	if config.GetBool("deduplicate") {
		chain = append(chain, deduplicate.NewDeduplicate(config.GetDuration("deduplicate-window")))
	}

	limits := ratelimit.Limits{
		Data:    config.GetInt("ratelimit-data"),
		Control: config.GetInt("ratelimit-control"),
		Reply:   config.GetInt("ratelimit-reply"),
	}
	if limits.Data > 0 || limits.Control > 0 || limits.Reply > 0 {
		if redisClient != nil {
			chain = append(chain, ratelimit.NewRedisRateLimit(redisClient, limits))
		} else {
			chain = append(chain, ratelimit.NewRateLimit(limits))
		}
	}

	chain = append(chain, inject.NewInject(inject.Fields{
		Bridge: config.GetString("bridge-id"),
		Broker: config.GetString("broker"),
	}))

	return chain, stop
}

func serveStatus() {
	addr := config.GetString("status-address")
	if addr == "" {
		return
	}
	for _, key := range config.GetStringSlice("status-access-keys") {
		statusserver.AddAccessKey(key)
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		ctx.WithError(err).Fatal("Could not start status server")
	}
	srv := grpc.NewServer()
	statusserver.Register(srv)
	go srv.Serve(lis)
	ctx.WithField("Address", addr).Info("Started status server")
}

func serveMetrics() {
	addr := config.GetString("http-address")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			ctx.WithError(err).Error("Metrics server stopped")
		}
	}()
	ctx.WithField("Address", addr).Info("Started metrics server")
}

func runUntilSignal(runners ...func(context.Context) error) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		time.Sleep(100 * time.Millisecond)
	}()

	errs := make(chan error, len(runners))
	for _, run := range runners {
		go func(run func(context.Context) error) {
			errs <- run(runCtx)
		}(run)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		ctx.WithField("signal", sig).Info("signal received")
	case err := <-errs:
		ctx.WithError(err).Error("Stopped unexpectedly")
	}
}
