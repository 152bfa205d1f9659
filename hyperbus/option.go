// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"log"
	"os"
	"time"
)

type config struct {
	msg *log.Logger

	base int64 // physical address of the register block
	win  struct {
		base int64
		size int64
	}

	latency Latency

	poll struct {
		timeout time.Duration
		limit   int
		observe func(tx Transaction, spins int)
	}
}

func newConfig() config {
	var cfg config
	cfg.msg = log.New(os.Stdout, "hyperbus: ", 0)
	cfg.base = RegBase
	cfg.win.base = WinBase
	cfg.win.size = WinSpan
	cfg.latency = DefaultLatency
	return cfg
}

// Option configures a Device.
type Option func(*config)

// WithLogger sets the logger used to report device operations.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithBase sets the physical address of the register block.
func WithBase(addr int64) Option {
	return func(cfg *config) {
		cfg.base = addr
	}
}

// WithWindow sets the physical range of the direct-mapped window.
func WithWindow(addr, size int64) Option {
	return func(cfg *config) {
		cfg.win.base = addr
		cfg.win.size = size
	}
}

// WithLatency sets the latency assumed to be programmed on both the
// controller and the device when the handle is created.
func WithLatency(n Latency) Option {
	return func(cfg *config) {
		cfg.latency = n
	}
}

// WithPollTimeout bounds the time spent waiting for a transaction to
// complete. A zero duration (the default) waits forever.
func WithPollTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll.timeout = d
	}
}

// WithPollLimit bounds the number of status reads performed while waiting
// for a transaction to complete. Zero (the default) means no bound.
func WithPollLimit(n int) Option {
	return func(cfg *config) {
		cfg.poll.limit = n
	}
}

// WithPollObserver registers a function called after each transaction
// with the number of status reads that found the controller busy.
func WithPollObserver(f func(tx Transaction, spins int)) Option {
	return func(cfg *config) {
		cfg.poll.observe = f
	}
}
