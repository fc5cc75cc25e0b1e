// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package statusserver

import (
	"context"
	"runtime"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/status"
	"github.com/TheThingsNetwork/go-utils/grpc/ttnctx"
	"github.com/golang/protobuf/ptypes/empty"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/rcrowley/go-metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

var global = newStatusServer()

func newStatusServer() *statusServer {
	return &statusServer{
		started:         time.Now(),
		data:            metrics.NewMeter(),
		control:         metrics.NewMeter(),
		reply:           metrics.NewMeter(),
		status:          metrics.NewMeter(),
		reconnects:      metrics.NewCounter(),
		nodes:           metrics.NewGauge(),
		brokerConnected: metrics.NewGauge(),
	}
}

type statusServer struct {
	accessKeys []string
	started    time.Time

	data            metrics.Meter
	control         metrics.Meter
	reply           metrics.Meter
	status          metrics.Meter
	reconnects      metrics.Counter
	nodes           metrics.Gauge
	brokerConnected metrics.Gauge
}

func (s *statusServer) AddAccessKey(key string) {
	s.accessKeys = append(s.accessKeys, key)
}

// AddAccessKey adds an access key for a client
func AddAccessKey(key string) {
	global.AddAccessKey(key)
}

// Data registers a published data message in the default status server
func Data() {
	global.data.Mark(1)
}

// Control registers a control message in the default status server
func Control() {
	global.control.Mark(1)
}

// Reply registers a published reply in the default status server
func Reply() {
	global.reply.Mark(1)
}

// Status registers a published gateway status in the default status server
func Status() {
	global.status.Mark(1)
}

// Reconnect registers a broker reconnection in the default status server
func Reconnect() {
	global.reconnects.Inc(1)
}

// BrokerConnected registers the broker connection state in the default status server
func BrokerConnected(connected bool) {
	if connected {
		global.brokerConnected.Update(1)
	} else {
		global.brokerConnected.Update(0)
	}
}

// Nodes registers the number of known mesh nodes in the default status server
func Nodes(n int) {
	global.nodes.Update(int64(n))
}

func number(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func rates(m metrics.Meter) *structpb.Value {
	snapshot := m.Snapshot()
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"rate1":  number(snapshot.Rate1()),
			"rate5":  number(snapshot.Rate5()),
			"rate15": number(snapshot.Rate15()),
			"count":  number(float64(snapshot.Count())),
		},
	}}}
}

func (s *statusServer) getStatus() *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"data":             rates(s.data),
			"control":          rates(s.control),
			"reply":            rates(s.reply),
			"status":           rates(s.status),
			"reconnects":       number(float64(s.reconnects.Snapshot().Count())),
			"nodes":            number(float64(s.nodes.Snapshot().Value())),
			"broker_connected": {Kind: &structpb.Value_BoolValue{BoolValue: s.brokerConnected.Snapshot().Value() == 1}},
			"goroutines":       number(float64(runtime.NumGoroutine())),
			"uptime_seconds":   number(time.Since(s.started).Seconds()),
		},
	}
}

func (s *statusServer) GetStatus(ctx context.Context, _ *empty.Empty) (*structpb.Struct, error) {
	if len(s.accessKeys) != 0 {
		key, err := ttnctx.KeyFromIncomingContext(ctx)
		if err != nil {
			return nil, err
		}
		for _, allowed := range s.accessKeys {
			if key == allowed {
				return s.getStatus(), nil
			}
		}
		return nil, grpc.Errorf(codes.Unauthenticated, "Not authenticated")
	}
	return s.getStatus(), nil
}

func (s *statusServer) Register(srv *grpc.Server) {
	status.RegisterStatusServer(srv, s)
}

// Register the default status server
func Register(srv *grpc.Server) {
	global.Register(srv)
}
