// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ctx     *log.Logger
	logFile *lumberjack.Logger
)

// Execute runs the gateway command. It is called by main.go.
func Execute() {
	defer func() {
		thePanic := recover()
		if thePanic == nil || ctx == nil {
			return
		}
		stack := make([]byte, 1<<16)
		stack = stack[:runtime.Stack(stack, false)]
		ctx.WithField("panic", thePanic).WithField("stack", string(stack)).Fatal("Stopping because of panic")
	}()

	if err := GatewayCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}
