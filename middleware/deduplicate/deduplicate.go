// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package deduplicate

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/TheThingsNetwork/go-utils/log"
)

// DefaultWindow is the default time in which a repeated payload is considered a duplicate
var DefaultWindow = time.Second

type lastMessage struct {
	payload []byte
	time    time.Time
}

// NewDeduplicate returns a middleware that drops sensor data that a node
// delivered more than once within the window
func NewDeduplicate(window time.Duration) *Deduplicate {
	return &Deduplicate{
		log:         log.Get(),
		window:      window,
		lastMessage: make(map[uint32]lastMessage),
	}
}

// Deduplicate middleware
type Deduplicate struct {
	log         log.Interface
	window      time.Duration
	mu          sync.RWMutex
	lastMessage map[uint32]lastMessage
}

// HandleLeave cleans up
func (d *Deduplicate) HandleLeave(ctx middleware.Context, msg *types.LeaveMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastMessage, msg.NodeID)
	return nil
}

// ErrDuplicateMessage is returned when a data message is received multiple times
var ErrDuplicateMessage = errors.New("deduplicate: already handled this message")

// HandleData blocks duplicate messages
func (d *Deduplicate) HandleData(_ middleware.Context, msg *types.DataMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if last, ok := d.lastMessage[msg.NodeID]; ok {
		if now.Sub(last.time) < d.window && bytes.Equal(msg.Payload, last.payload) {
			return ErrDuplicateMessage
		}
	}
	d.lastMessage[msg.NodeID] = lastMessage{payload: msg.Payload, time: now}
	return nil
}
