// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"fmt"
	"time"
)

// State is the position of a Device in the transaction sequence.
type State uint8

const (
	Idle State = iota
	Resetting
	Configuring
	Issuing
	Polling
	Complete
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Resetting:
		return "resetting"
	case Configuring:
		return "configuring"
	case Issuing:
		return "issuing"
	case Polling:
		return "polling"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Transaction describes one register-level HyperBus transaction.
// It is consumed by a single call to Device.Do.
type Transaction struct {
	Dir     Dir
	Area    Area
	Addr    uint32
	Latency Latency // controller-side latency count
	Wide    bool    // 16-bit data elements
	Data    uint32  // payload, for writes
	Phases  Control // phases to assert; CtrlStart is added by Do
}

func (tx Transaction) String() string {
	return fmt.Sprintf(
		"%v %v @0x%08x (latency=%d, phases=%v)",
		tx.Dir, tx.Area, tx.Addr, tx.Latency, tx.Phases,
	)
}

// State returns the last state reached by the device.
func (dev *Device) State() State {
	return dev.state
}

// Do runs exactly one reset, configure, issue, poll sequence for tx.
// For reads, the word received from the device is returned.
//
// Phases are not validated: selecting the phase set the target expects is
// the caller's responsibility. Do never retries.
func (dev *Device) Do(tx Transaction) (uint32, error) {
	dev.reset()
	dev.configure(tx.Latency, tx.Wide)
	dev.issue(tx)

	spins, err := dev.poll()
	if f := dev.cfg.poll.observe; f != nil {
		f(tx, spins)
	}
	if err != nil {
		return 0, fmt.Errorf("hyperbus: could not complete %v: %w", tx, err)
	}

	var v uint32
	if tx.Dir == Read {
		v = dev.regs.rxtx.r()
	}
	if dev.err != nil {
		return 0, fmt.Errorf("hyperbus: could not run %v: %w", tx, dev.err)
	}
	dev.state = Complete

	if verbose {
		dev.msg.Printf("%v -> 0x%08x (spins=%d)", tx, v, spins)
	}
	return v, nil
}

func (dev *Device) reset() {
	dev.state = Resetting
	dev.regs.ctrl.w(uint32(CtrlReset))
}

func (dev *Device) configure(n Latency, wide bool) {
	dev.state = Configuring
	dev.regs.cfg.w(Config{
		Enable:       true,
		Variable:     false,
		Wide:         wide,
		LatencyCount: uint8(n),
	}.Uint32())
}

func (dev *Device) issue(tx Transaction) {
	dev.state = Issuing
	dev.regs.cmd.w(uint32(NewCommand(tx.Dir, tx.Area)))
	dev.regs.adr.w(tx.Addr)
	if tx.Dir == Write {
		dev.regs.rxtx.w(tx.Data)
	}
	dev.regs.ctrl.w(uint32(tx.Phases | CtrlStart))
}

// poll spins on the busy flag and returns the number of status reads
// that found the controller busy.
func (dev *Device) poll() (int, error) {
	dev.state = Polling

	var (
		n        = 0
		limit    = dev.cfg.poll.limit
		deadline time.Time
	)
	if dev.cfg.poll.timeout > 0 {
		deadline = time.Now().Add(dev.cfg.poll.timeout)
	}

	for Status(dev.regs.status.r()).Busy() {
		n++
		if limit > 0 && n >= limit {
			return n, fmt.Errorf("controller busy after %d polls: %w", n, ErrTimeout)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return n, fmt.Errorf(
				"controller busy after %v: %w",
				dev.cfg.poll.timeout, ErrTimeout,
			)
		}
	}
	return n, dev.err
}

// Configure writes the controller configuration with the current latency.
// It must be called before using the direct-mapped window, and whenever the
// access mode changes, since the configuration is shared by both paths.
func (dev *Device) Configure(wide bool) error {
	dev.configure(dev.lat, wide)
	if dev.err != nil {
		return fmt.Errorf("hyperbus: could not configure controller: %w", dev.err)
	}
	dev.state = Idle
	return nil
}

// ReadID reads the device identification register.
func (dev *Device) ReadID() (uint16, error) {
	v, err := dev.Do(Transaction{
		Dir:     Read,
		Area:    RegisterSpace,
		Addr:    0,
		Latency: dev.lat,
		Phases:  PhasesIDRead,
	})
	if err != nil {
		return 0, fmt.Errorf("hyperbus: could not read device ID: %w", err)
	}
	return uint16(v), nil
}

// CheckID reads the device identification register and compares it with
// want.
func (dev *Device) CheckID(want uint16) error {
	id, err := dev.ReadID()
	if err != nil {
		return err
	}
	if id != want {
		return &IDMismatchError{Got: id, Want: want}
	}
	return nil
}

// Read reads the memory-space word at addr.
func (dev *Device) Read(addr uint32) (uint32, error) {
	v, err := dev.Do(Transaction{
		Dir:     Read,
		Area:    MemorySpace,
		Addr:    addr,
		Latency: dev.lat,
		Wide:    true,
		Phases:  PhasesMemRead,
	})
	if err != nil {
		return 0, fmt.Errorf("hyperbus: could not read 0x%08x: %w", addr, err)
	}
	return v, nil
}

// Write writes v to the memory-space word at addr.
func (dev *Device) Write(addr, v uint32) error {
	_, err := dev.Do(Transaction{
		Dir:     Write,
		Area:    MemorySpace,
		Addr:    addr,
		Latency: dev.lat,
		Wide:    true,
		Data:    v,
		Phases:  PhasesMemWrite,
	})
	if err != nil {
		return fmt.Errorf("hyperbus: could not write 0x%08x: %w", addr, err)
	}
	return nil
}

// WriteReg writes v to the device register at addr.
// Register writes have no latency phase.
func (dev *Device) WriteReg(addr, v uint32) error {
	_, err := dev.Do(Transaction{
		Dir:     Write,
		Area:    RegisterSpace,
		Addr:    addr,
		Latency: dev.lat,
		Data:    v,
		Phases:  PhasesRegWrite,
	})
	if err != nil {
		return fmt.Errorf("hyperbus: could not write register 0x%08x: %w", addr, err)
	}
	return nil
}
