// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Bus is a word-addressable view of a physical range.
// Offsets are relative to the start of the range.
type Bus interface {
	io.ReaderAt
	io.WriterAt
}

// register offsets, relative to the register block base.
const (
	offMMAPDummy     = 0x00
	offCS            = 0x04
	offRxTx          = 0x08
	offReserved      = 0x0c
	offConfig        = 0x10
	offCmd           = 0x14
	offAdr           = 0x18
	offCtrl          = 0x1c
	offStatus        = 0x20
	offLatencyCycles = 0x24
)

// config register fields.
const (
	cfgEnable          = 1 << 0
	cfgLatencyVariable = 1 << 1
	cfgDataSize        = 1 << 2

	shiftLatencyCount = 16
	maskLatencyCount  = 0xf

	maskLatencyCycles = 0xf
)

// Config is the decoded content of the controller config register.
type Config struct {
	Enable       bool
	Variable     bool  // variable latency
	Wide         bool  // 16-bit data elements (data-size)
	LatencyCount uint8 // 4 bits
}

func (cfg Config) Uint32() uint32 {
	var v uint32
	if cfg.Enable {
		v |= cfgEnable
	}
	if cfg.Variable {
		v |= cfgLatencyVariable
	}
	if cfg.Wide {
		v |= cfgDataSize
	}
	v |= (uint32(cfg.LatencyCount) & maskLatencyCount) << shiftLatencyCount
	return v
}

func ConfigFrom(v uint32) Config {
	return Config{
		Enable:       v&cfgEnable != 0,
		Variable:     v&cfgLatencyVariable != 0,
		Wide:         v&cfgDataSize != 0,
		LatencyCount: uint8((v >> shiftLatencyCount) & maskLatencyCount),
	}
}

func (cfg Config) String() string {
	return fmt.Sprintf(
		"Config{enable=%v, variable=%v, wide=%v, latency=%d}",
		cfg.Enable, cfg.Variable, cfg.Wide, cfg.LatencyCount,
	)
}

// Control is a value of the write-only ctrl register.
// It is always written whole: fields not set are cleared.
type Control uint32

const (
	CtrlStart        Control = 1 << 0
	CtrlReset        Control = 1 << 1
	CtrlAddrPhase    Control = 1 << 8
	CtrlLatencyPhase Control = 1 << 9
	CtrlReadPhase    Control = 1 << 10
	CtrlWritePhase   Control = 1 << 11
)

// Phase sets per kind of operation.
const (
	PhasesIDRead   = CtrlAddrPhase | CtrlLatencyPhase | CtrlReadPhase
	PhasesMemRead  = CtrlAddrPhase | CtrlLatencyPhase | CtrlReadPhase
	PhasesMemWrite = CtrlAddrPhase | CtrlLatencyPhase | CtrlWritePhase
	PhasesRegWrite = CtrlAddrPhase | CtrlWritePhase
)

func (ctrl Control) String() string {
	var names []string
	for _, f := range []struct {
		bit  Control
		name string
	}{
		{CtrlStart, "start"},
		{CtrlReset, "reset"},
		{CtrlAddrPhase, "adr"},
		{CtrlLatencyPhase, "latency"},
		{CtrlReadPhase, "read"},
		{CtrlWritePhase, "write"},
	} {
		if ctrl&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return "{" + strings.Join(names, "|") + "}"
}

// Status is a value of the read-only status register.
type Status uint32

const (
	StatusIdle Status = 1 << 0
	StatusBusy Status = 1 << 1
)

func (st Status) Idle() bool { return st&StatusIdle != 0 }
func (st Status) Busy() bool { return st&StatusBusy != 0 }

func (st Status) String() string {
	return fmt.Sprintf("Status{idle=%v, busy=%v}", st.Idle(), st.Busy())
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(dev *Device, rw Bus, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return dev.readU32(rw, offset)
		},
		w: func(v uint32) {
			dev.writeU32(rw, offset, v)
		},
	}
}

type registers struct {
	dummy   reg32
	cs      reg32
	rxtx    reg32
	cfg     reg32
	cmd     reg32
	adr     reg32
	ctrl    reg32
	status  reg32
	latency reg32
}

func (dev *Device) bind(rw Bus) {
	dev.regs.dummy = newReg32(dev, rw, offMMAPDummy)
	dev.regs.cs = newReg32(dev, rw, offCS)
	dev.regs.rxtx = newReg32(dev, rw, offRxTx)
	dev.regs.cfg = newReg32(dev, rw, offConfig)
	dev.regs.cmd = newReg32(dev, rw, offCmd)
	dev.regs.adr = newReg32(dev, rw, offAdr)
	dev.regs.ctrl = newReg32(dev, rw, offCtrl)
	dev.regs.status = newReg32(dev, rw, offStatus)
	dev.regs.latency = newReg32(dev, rw, offLatencyCycles)
}

func (dev *Device) readU32(r io.ReaderAt, off int64) uint32 {
	if dev.err != nil {
		return 0
	}
	_, dev.err = r.ReadAt(dev.xbuf[:4], off)
	if dev.err != nil {
		dev.err = fmt.Errorf("hyperbus: could not read register 0x%x: %w", off, dev.err)
		return 0
	}
	return binary.LittleEndian.Uint32(dev.xbuf[:4])
}

func (dev *Device) writeU32(w io.WriterAt, off int64, v uint32) {
	if dev.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(dev.xbuf[:4], v)
	_, dev.err = w.WriteAt(dev.xbuf[:4], off)
	if dev.err != nil {
		dev.err = fmt.Errorf("hyperbus: could not write register 0x%x: %w", off, dev.err)
		return
	}
}
