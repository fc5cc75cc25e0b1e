// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	redis "gopkg.in/redis.v5"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/rate"
)

// Limits per minute
type Limits struct {
	Data    int
	Control int
	Reply   int
}

// NewRateLimit returns a middleware that rate-limits data, control and reply messages per node
func NewRateLimit(conf Limits) *RateLimit {
	return &RateLimit{
		log:    log.Get(),
		limits: conf,
		nodes:  make(map[uint32]*limits),
	}
}

// NewRedisRateLimit returns a middleware that rate-limits data, control and reply messages per node
func NewRedisRateLimit(client *redis.Client, conf Limits) *RateLimit {
	l := NewRateLimit(conf)
	l.client = client
	return l
}

// RateLimit data, control and reply messages per node
type RateLimit struct {
	log    log.Interface
	limits Limits
	client *redis.Client

	mu    sync.RWMutex
	nodes map[uint32]*limits
}

func (l *RateLimit) newLimiter(nodeID uint32, kind string, perMinute int) rate.Limiter {
	if perMinute == 0 {
		return nil
	}
	var counter rate.Counter
	if l.client != nil {
		counter = rate.NewRedisCounter(l.client, fmt.Sprintf("ratelimit:%d:%s", nodeID, kind), time.Second, time.Minute)
	} else {
		counter = rate.NewCounter(time.Second, time.Minute)
	}
	return rate.NewLimiter(counter, time.Minute, uint64(perMinute))
}

func (l *RateLimit) newLimits(nodeID uint32) *limits {
	return &limits{
		data:    l.newLimiter(nodeID, "data", l.limits.Data),
		control: l.newLimiter(nodeID, "control", l.limits.Control),
		reply:   l.newLimiter(nodeID, "reply", l.limits.Reply),
	}
}

type limits struct {
	data    rate.Limiter
	control rate.Limiter
	reply   rate.Limiter
}

// HandleJoin initializes the rate limiter
func (l *RateLimit) HandleJoin(ctx middleware.Context, msg *types.JoinMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[msg.NodeID] = l.newLimits(msg.NodeID)
	return nil
}

// HandleLeave cleans up
func (l *RateLimit) HandleLeave(ctx middleware.Context, msg *types.LeaveMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.nodes, msg.NodeID)
	return nil
}

// get the limits of a node. Limits are created for nodes that were not seen joining.
func (l *RateLimit) get(nodeID uint32) *limits {
	l.mu.RLock()
	limits, ok := l.nodes[nodeID]
	l.mu.RUnlock()
	if ok {
		return limits
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limits, ok := l.nodes[nodeID]; ok {
		return limits
	}
	limits = l.newLimits(nodeID)
	l.nodes[nodeID] = limits
	return limits
}

// ErrRateLimited is returned if the rate limit has been reached
var ErrRateLimited = errors.New("rate limit reached")

func check(limiter rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	limit, err := limiter.Limit()
	if err != nil {
		return err
	}
	if limit {
		return ErrRateLimited
	}
	return nil
}

// HandleData rate-limits data messages
func (l *RateLimit) HandleData(ctx middleware.Context, msg *types.DataMessage) error {
	return check(l.get(msg.NodeID).data)
}

// HandleControl rate-limits control messages per target node. Broadcasts are counted on node 0.
func (l *RateLimit) HandleControl(ctx middleware.Context, msg *types.ControlMessage) error {
	var to uint32
	if msg.Envelope != nil {
		to = msg.Envelope.To
	}
	return check(l.get(to).control)
}

// HandleReply rate-limits reply messages
func (l *RateLimit) HandleReply(ctx middleware.Context, msg *types.ReplyMessage) error {
	return check(l.get(msg.NodeID).reply)
}
