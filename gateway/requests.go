// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"sync"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/envelope"
)

// MaxPendingRequests is the maximum number of requests that are tracked
var MaxPendingRequests = 1024

type request struct {
	reply envelope.Type
	to    uint32
	seq   uint32
	sent  time.Time
}

// tracker keeps the control requests that were sent into the mesh, so that
// the round-trip time of their replies can be measured. A broadcast request
// may be answered by many nodes and is kept until it expires.
type tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	pending []*request
}

func newTracker(timeout time.Duration) *tracker {
	return &tracker{timeout: timeout}
}

func (t *tracker) Add(e *envelope.Envelope, now time.Time) {
	reply := e.ReplyTo(0)
	if reply == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) >= MaxPendingRequests {
		t.pending = t.pending[1:]
	}
	t.pending = append(t.pending, &request{
		reply: reply.Type,
		to:    e.To,
		seq:   e.Seq,
		sent:  now,
	})
}

// Match returns the round-trip time of the reply
func (t *tracker) Match(e *envelope.Envelope, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, req := range t.pending {
		if req.reply != e.Type || req.seq != e.Seq {
			continue
		}
		if req.to != 0 && req.to != e.From {
			continue
		}
		if t.timeout > 0 && now.Sub(req.sent) > t.timeout {
			continue
		}
		if req.to != 0 {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
		}
		return now.Sub(req.sent), true
	}
	return 0, false
}

// Expire removes the requests that are older than the timeout and returns how many were removed
func (t *tracker) Expire(now time.Time) (expired int) {
	if t.timeout <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.pending[:0]
	for _, req := range t.pending {
		if now.Sub(req.sent) > t.timeout {
			expired++
			continue
		}
		pending = append(pending, req)
	}
	t.pending = pending
	return
}

func (t *tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
