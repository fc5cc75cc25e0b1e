// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package blocklist drops traffic from and to blocked mesh nodes. Lists are
// YAML files (watched for changes) or remote URLs:
//
//     - node: 2345
//       reason: flooding the mesh
package blocklist

import (
	"errors"
	"io/ioutil"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type blockedItem struct {
	Node   uint32 `yaml:"node"`
	Reason string `yaml:"reason"`
}

// NewBlocklist returns a middleware that filters traffic of blocked nodes
func NewBlocklist(lists ...string) (b *Blocklist, err error) {
	b = &Blocklist{
		lists:      make(map[string][]blockedItem),
		nodeLookup: make(map[uint32]bool),
	}
	b.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, location := range lists {
		if err := b.addList(location); err != nil {
			b.watcher.Close()
			return nil, err
		}
	}
	b.FetchRemotes()
	go func() {
		for e := range b.watcher.Events {
			if e.Op&fsnotify.Write == fsnotify.Write {
				b.read(e.Name) // keep the previous list if the new one is invalid
			}
		}
	}()
	return b, nil
}

// Blocklist middleware
type Blocklist struct {
	watcher *fsnotify.Watcher
	urls    []string

	mu         sync.RWMutex
	lists      map[string][]blockedItem
	nodeLookup map[uint32]bool
}

func (b *Blocklist) addList(location string) error {
	url, err := url.Parse(location)
	if err != nil {
		return err
	}
	switch url.Scheme {
	case "", "file":
		return b.addFile(url.Path)
	case "http", "https":
		return b.addURL(url)
	}
	return errors.New("blocklist: unknown list type")
}

func (b *Blocklist) addFile(filename string) (err error) {
	filename, err = filepath.Abs(filename)
	if err != nil {
		return err
	}
	if err = b.watcher.Add(filename); err != nil {
		return err
	}
	return b.read(filename)
}

func (b *Blocklist) addURL(url *url.URL) error {
	b.urls = append(b.urls, url.String())
	return nil
}

// FetchRemotes fetches remote blocklists. The first error is returned after all lists were tried.
func (b *Blocklist) FetchRemotes() (err error) {
	for _, url := range b.urls {
		if fetchErr := b.fetch(url); fetchErr != nil && err == nil {
			err = fetchErr
		}
	}
	return err
}

// Close the blocklist watcher
func (b *Blocklist) Close() {
	b.watcher.Close()
}

func (b *Blocklist) read(filename string) error {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return b.set(filename, contents)
}

func (b *Blocklist) fetch(location string) error {
	resp, err := http.Get(location)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return b.set(location, body)
}

func (b *Blocklist) set(location string, contents []byte) error {
	var list []blockedItem
	if err := yaml.Unmarshal(contents, &list); err != nil {
		return err
	}
	b.mu.Lock()
	b.lists[location] = list
	b.updateLookup()
	b.mu.Unlock()
	return nil
}

func (b *Blocklist) updateLookup() {
	var n int
	for _, list := range b.lists {
		n += len(list)
	}
	b.nodeLookup = make(map[uint32]bool, n)
	for _, list := range b.lists {
		for _, item := range list {
			if item.Node != 0 {
				b.nodeLookup[item.Node] = true
			}
		}
	}
}

// ErrBlockedNode is returned for traffic of a blocked node
var ErrBlockedNode = errors.New("blocklist: node is blocked")

// Blocked returns true if the node is blocked
func (b *Blocklist) Blocked(nodeID uint32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodeLookup[nodeID]
}

func (b *Blocklist) check(nodeID uint32) error {
	if b.Blocked(nodeID) {
		return ErrBlockedNode
	}
	return nil
}

// HandleData blocks data from blocked nodes
func (b *Blocklist) HandleData(_ middleware.Context, msg *types.DataMessage) error {
	return b.check(msg.NodeID)
}

// HandleControl blocks requests addressed to blocked nodes
func (b *Blocklist) HandleControl(_ middleware.Context, msg *types.ControlMessage) error {
	if msg.Envelope == nil {
		return nil
	}
	return b.check(msg.Envelope.To)
}

// HandleReply blocks replies from blocked nodes
func (b *Blocklist) HandleReply(_ middleware.Context, msg *types.ReplyMessage) error {
	return b.check(msg.NodeID)
}
