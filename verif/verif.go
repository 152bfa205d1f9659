// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package verif holds the HyperBus controller verification programs.
//
// Scenarios exercise a controller through the hyperbus driver only, and
// detect failures by comparing data after each transaction: the hardware
// does not report errors.
package verif // import "github.com/go-lpc/hbus/verif"

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/hbus/hyperbus"
)

var errNoImage = errors.New("verif: no image to execute")

// Scenario names.
const (
	ScnID       = "id"
	ScnRegRW    = "reg-rw"
	ScnMMapRead = "mmap-read"
	ScnMMapRW   = "mmap-rw"
	ScnBurst    = "burst"
	ScnLatency  = "latency"
	ScnXIP      = "xip"
)

// Result is the outcome of one scenario.
type Result struct {
	Name    string
	Err     error
	Spins   int // busy status reads during the scenario
	Elapsed time.Duration
}

func (res Result) OK() bool { return res.Err == nil }

func (res Result) String() string {
	status := "ok"
	if res.Err != nil {
		status = "FAIL: " + res.Err.Error()
	}
	return fmt.Sprintf("%-10s %v (spins=%d, %v)", res.Name, status, res.Spins, res.Elapsed)
}

// Probe collects the poll spins of the transactions issued to a device.
// Its Observe method is meant to be given to hyperbus.WithPollObserver.
type Probe struct {
	mu      sync.Mutex
	total   int
	samples []int
}

func (p *Probe) Observe(tx hyperbus.Transaction, spins int) {
	p.mu.Lock()
	p.total += spins
	p.samples = append(p.samples, spins)
	p.mu.Unlock()
}

// Total returns the number of busy status reads observed so far.
func (p *Probe) Total() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Samples returns the spin count of each observed transaction.
func (p *Probe) Samples() []int {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.samples...)
}

// Suite runs the verification scenarios on one controller.
type Suite struct {
	Dev   *hyperbus.Device
	CPU   hyperbus.CPU // optional, enables the xip scenario
	Probe *Probe       // optional
	Rand  *rand.Rand
	Msg   *log.Logger

	FailFast  bool
	DeviceID  uint16
	Latencies []hyperbus.Latency
	Image     []byte // image booted by the xip scenario
}

// New returns a suite over dev, with stimulus drawn from seed.
func New(dev *hyperbus.Device, seed int64) *Suite {
	return &Suite{
		Dev:       dev,
		Rand:      rand.New(rand.NewSource(seed)),
		Msg:       log.New(os.Stdout, "verif: ", 0),
		DeviceID:  hyperbus.DeviceID,
		Latencies: []hyperbus.Latency{6, 5, 4},
	}
}

type scenario struct {
	name string
	run  func() error
}

func (s *Suite) scenarios() []scenario {
	scns := []scenario{
		{ScnID, s.checkID},
		{ScnRegRW, s.regRW},
		{ScnMMapRead, s.mmapRead},
		{ScnMMapRW, s.mmapRW},
		{ScnBurst, s.burst},
		{ScnLatency, s.latency},
	}
	if s.CPU != nil {
		scns = append(scns, scenario{ScnXIP, s.xip})
	}
	return scns
}

// Run runs all scenarios in order. The returned error summarizes the
// failed scenarios, if any.
func (s *Suite) Run() ([]Result, error) {
	var (
		res    []Result
		failed []string
	)
	for _, scn := range s.scenarios() {
		r := s.run(scn)
		res = append(res, r)
		s.Msg.Printf("%v", r)
		if r.Err == nil {
			continue
		}
		failed = append(failed, scn.name)
		if s.FailFast {
			break
		}
	}

	if len(failed) > 0 {
		return res, fmt.Errorf(
			"verif: %d/%d scenario(s) failed: %s",
			len(failed), len(res), strings.Join(failed, ", "),
		)
	}
	return res, nil
}

func (s *Suite) run(scn scenario) Result {
	var (
		spins = s.Probe.Total()
		start = time.Now()
		err   = scn.run()
	)
	return Result{
		Name:    scn.name,
		Err:     err,
		Spins:   s.Probe.Total() - spins,
		Elapsed: time.Since(start),
	}
}

func (s *Suite) checkID() error {
	err := s.Dev.SetLatency(hyperbus.DefaultLatency)
	if err != nil {
		return err
	}
	return s.Dev.CheckID(s.DeviceID)
}

func (s *Suite) regRW() error {
	const (
		addr = 0x0
		want = 0x1234abcf
	)
	err := s.Dev.Write(addr, want)
	if err != nil {
		return err
	}
	got, err := s.Dev.Read(addr)
	if err != nil {
		return err
	}
	return hyperbus.Verify(addr, got, want)
}

func (s *Suite) mmapRead() error {
	const (
		off  = 0x0
		want = 0xcfab3412 // word written by reg-rw, window byte order
	)
	err := s.Dev.Configure(false)
	if err != nil {
		return err
	}
	win := s.Dev.Window()
	got, err := win.Load(off)
	if err != nil {
		return err
	}
	return hyperbus.Verify(win.Addr(off), got, want)
}

func (s *Suite) mmapRW() error {
	const (
		off  = 0x10
		want = 0xab22de01
	)
	err := s.Dev.Configure(false)
	if err != nil {
		return err
	}
	win := s.Dev.Window()
	err = win.Store(off, want)
	if err != nil {
		return err
	}
	got, err := win.Load(off)
	if err != nil {
		return err
	}
	return hyperbus.Verify(win.Addr(off), got, want)
}

func (s *Suite) burst() error {
	words := []struct {
		off uint32
		v   uint32
	}{
		{0x40, 0xb3829dea},
		{0x44, 0x0391bcef},
		{0x48, 0x94751efa},
		{0x4c, 0xabe5910d},
	}

	err := s.Dev.Configure(false)
	if err != nil {
		return err
	}
	win := s.Dev.Window()
	for _, w := range words {
		err := win.Store(w.off, w.v)
		if err != nil {
			return err
		}
	}

	for _, w := range words {
		got, err := win.Load(w.off)
		if err != nil {
			return err
		}
		err = hyperbus.Verify(win.Addr(w.off), got, w.v)
		if err != nil {
			return err
		}
	}
	return nil
}

// latency reprograms both latency layers and checks a random word at a
// distinct address for each latency.
func (s *Suite) latency() error {
	const base = 0x100
	for i, n := range s.Latencies {
		err := s.Dev.SetLatency(n)
		if err != nil {
			return err
		}

		var (
			addr = uint32(base + 4*i)
			want = s.Rand.Uint32()
		)
		err = s.Dev.Write(addr, want)
		if err != nil {
			return err
		}
		got, err := s.Dev.Read(addr)
		if err != nil {
			return err
		}
		err = hyperbus.Verify(addr, got, want)
		if err != nil {
			return fmt.Errorf("verif: latency=%d: %w", n, err)
		}
	}
	return nil
}

func (s *Suite) xip() error {
	if len(s.Image) == 0 {
		return errNoImage
	}
	err := s.Dev.Configure(false)
	if err != nil {
		return err
	}
	return s.Dev.Window().Exec(s.Image, s.CPU)
}
