// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hbus-daq starts a TDAQ server soaking a HyperBus controller.
//
// Usage: hbus-daq [TDAQ-OPTIONS] CTL
//
// The controller CTL is looked up in the CSR map named by $HBUS_CSR, or
// simulated when $HBUS_SIM is set.
// The physical memory device is taken from $HBUS_DEV_MEM (default: /dev/mem).
package main // import "github.com/go-lpc/hbus/cmd/hbus-daq"

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/hbus/daq"
	"github.com/go-lpc/hbus/hyperbus"
	"github.com/go-lpc/hbus/hyperbus/hbsim"
)

func main() {
	cmd := flags.New()

	name := "hyperbus0"
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
	}

	dev, err := open(name, os.Getenv)
	if err != nil {
		log.Panicf("could not open controller %q: %+v", name, err)
	}
	defer dev.Close()

	seed := int64(1234)
	if v := os.Getenv("HBUS_SEED"); v != "" {
		seed, err = strconv.ParseInt(v, 0, 64)
		if err != nil {
			log.Panicf("could not parse seed %q: %+v", v, err)
		}
	}

	srv := tdaq.New(cmd, os.Stdout)
	bind(srv, daq.New(dev, seed))

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func bind(srv *tdaq.Server, hbus *daq.Server) {
	srv.CmdHandle("/config", hbus.OnConfig)
	srv.CmdHandle("/init", hbus.OnInit)
	srv.CmdHandle("/reset", hbus.OnReset)
	srv.CmdHandle("/start", hbus.OnStart)
	srv.CmdHandle("/stop", hbus.OnStop)
	srv.CmdHandle("/quit", hbus.OnQuit)

	srv.OutputHandle("/words", hbus.Words)

	srv.RunHandle(hbus.Loop)
}

func open(name string, getenv func(string) string) (*hyperbus.Device, error) {
	msg := log.New(os.Stdout, name+": ", 0)

	if getenv("HBUS_SIM") != "" {
		ctl := hbsim.New()
		return hyperbus.New(ctl, ctl.Window(), hyperbus.WithLogger(msg)), nil
	}

	devmem := getenv("HBUS_DEV_MEM")
	if devmem == "" {
		devmem = "/dev/mem"
	}

	opts := []hyperbus.Option{hyperbus.WithLogger(msg)}
	if fname := getenv("HBUS_CSR"); fname != "" {
		csr, err := hyperbus.LoadCSRFile(fname)
		if err != nil {
			return nil, err
		}
		ctl, err := csr.Controller(name)
		if err != nil {
			return nil, fmt.Errorf("could not find controller: %w", err)
		}
		opts = append(opts, ctl.Options()...)
	}

	return hyperbus.Open(devmem, opts...)
}
