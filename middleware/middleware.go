// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package middleware filters and decorates the messages handled by the gateway.
// Middleware implements one or more of the Data, Control, Reply, Status, Join
// and Leave interfaces; returning an error drops the message.
package middleware

import (
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
)

// Context for middleware
type Context interface {
	Set(k, v interface{})
	Get(k interface{}) interface{}
}

// NewContext returns a new middleware context
func NewContext() Context {
	return &context{
		data: make(map[interface{}]interface{}),
	}
}

type context struct {
	data map[interface{}]interface{}
}

func (c *context) Set(k, v interface{}) {
	c.data[k] = v
}

func (c *context) Get(k interface{}) interface{} {
	if v, ok := c.data[k]; ok {
		return v
	}
	return nil
}

// Chain of middleware
type Chain []interface{}

// Execute the chain
func (c Chain) Execute(ctx Context, msg interface{}) error {
	switch msg := msg.(type) {
	case *types.DataMessage:
		return c.filterData().Execute(ctx, msg)
	case *types.ControlMessage:
		return c.filterControl().Execute(ctx, msg)
	case *types.ReplyMessage:
		return c.filterReply().Execute(ctx, msg)
	case *types.StatusMessage:
		return c.filterStatus().Execute(ctx, msg)
	case *types.JoinMessage:
		return c.filterJoin().Execute(ctx, msg)
	case *types.LeaveMessage:
		return c.filterLeave().Execute(ctx, msg)
	}
	return nil
}

// Data middleware
type Data interface {
	HandleData(Context, *types.DataMessage) error
}

type dataChain []Data

func (c dataChain) Execute(ctx Context, msg *types.DataMessage) error {
	for _, middleware := range c {
		err := middleware.HandleData(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterData() (filtered dataChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Data); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Control middleware
type Control interface {
	HandleControl(Context, *types.ControlMessage) error
}

type controlChain []Control

func (c controlChain) Execute(ctx Context, msg *types.ControlMessage) error {
	for _, middleware := range c {
		err := middleware.HandleControl(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterControl() (filtered controlChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Control); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Reply middleware
type Reply interface {
	HandleReply(Context, *types.ReplyMessage) error
}

type replyChain []Reply

func (c replyChain) Execute(ctx Context, msg *types.ReplyMessage) error {
	for _, middleware := range c {
		err := middleware.HandleReply(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterReply() (filtered replyChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Reply); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Status middleware
type Status interface {
	HandleStatus(Context, *types.StatusMessage) error
}

type statusChain []Status

func (c statusChain) Execute(ctx Context, msg *types.StatusMessage) error {
	for _, middleware := range c {
		err := middleware.HandleStatus(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterStatus() (filtered statusChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Status); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Join middleware
type Join interface {
	HandleJoin(Context, *types.JoinMessage) error
}

type joinChain []Join

func (c joinChain) Execute(ctx Context, msg *types.JoinMessage) error {
	for _, middleware := range c {
		err := middleware.HandleJoin(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterJoin() (filtered joinChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Join); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Leave middleware
type Leave interface {
	HandleLeave(Context, *types.LeaveMessage) error
}

type leaveChain []Leave

func (c leaveChain) Execute(ctx Context, msg *types.LeaveMessage) error {
	for _, middleware := range c {
		err := middleware.HandleLeave(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterLeave() (filtered leaveChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Leave); ok {
			filtered = append(filtered, c)
		}
	}
	return
}
