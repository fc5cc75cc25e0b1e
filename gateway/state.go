// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"strconv"

	redis "gopkg.in/redis.v5"
)

type nodeState interface {
	// Adds an element to the set. Returns whether
	// the item was added.
	Add(i interface{}) bool

	// Returns whether the given items
	// are all in the set.
	Contains(i ...interface{}) bool

	// Remove a single element from the set.
	Remove(i interface{})

	// Returns the members of the set as a slice.
	ToSlice() []interface{}
}

// defaultRedisStateKey is used as key when no key is given
var defaultRedisStateKey = "meshnodes"

// InitRedisState initializes Redis-backed node state for the gateway and returns the nodes stored in the database.
// The stored nodes are known to the gateway, so that nodes that left while it was down are detected.
// If the stored nodes can not be read, the gateway keeps its in-memory state and the error is returned.
func (g *Gateway) InitRedisState(client *redis.Client, key string) (nodeIDs []uint32, err error) {
	if key == "" {
		key = defaultRedisStateKey
	}
	members, err := client.SMembers(key).Result()
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		nodeID, err := strconv.ParseUint(member, 10, 32)
		if err != nil {
			continue
		}
		g.nodes.Add(uint32(nodeID))
		nodeIDs = append(nodeIDs, uint32(nodeID))
	}
	g.nodes = &nodeStateWithRedisPersistence{
		nodeState: g.nodes,
		client:    client,
		key:       key,
	}
	return
}

type nodeStateWithRedisPersistence struct {
	key    string
	client *redis.Client
	nodeState
}

func member(i interface{}) string {
	if nodeID, ok := i.(uint32); ok {
		return strconv.FormatUint(uint64(nodeID), 10)
	}
	return ""
}

func (s *nodeStateWithRedisPersistence) Add(i interface{}) bool {
	added := s.nodeState.Add(i)
	if added {
		go s.client.SAdd(s.key, member(i)).Result()
	}
	return added
}

func (s *nodeStateWithRedisPersistence) Remove(i interface{}) {
	s.nodeState.Remove(i)
	go s.client.SRem(s.key, member(i)).Result()
}
