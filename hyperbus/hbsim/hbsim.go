// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hbsim simulates a HyperBus controller with an attached HyperRAM.
//
// The simulated controller exposes the same register block and
// direct-mapped window as the hardware, through io.ReaderAt/io.WriterAt
// values that can be handed to hyperbus.New.
package hbsim // import "github.com/go-lpc/hbus/hyperbus/hbsim"

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
)

const (
	DeviceID   = 0x8f1f
	CR0Addr    = 0x01000000
	WindowSize = 0x10000000

	cr0Reset = 0x8f2f // 7 cycles of latency

	regSpan = 0x28
)

// register offsets.
const (
	offDummy   = 0x00
	offCS      = 0x04
	offRxTx    = 0x08
	offConfig  = 0x10
	offCmd     = 0x14
	offAdr     = 0x18
	offCtrl    = 0x1c
	offStatus  = 0x20
	offLatency = 0x24
)

const (
	cfgEnable = 1 << 0

	ctrlStart    = 1 << 0
	ctrlReset    = 1 << 1
	ctrlAddr     = 1 << 8
	ctrlLatency  = 1 << 9
	ctrlRead     = 1 << 10
	ctrlWrite    = 1 << 11
	ctrlPhases   = ctrlAddr | ctrlLatency | ctrlRead | ctrlWrite
	statusIdle   = 1 << 0
	statusBusy   = 1 << 1
	cmdRead      = 0x8000
	cmdRegister  = 0x4000
	garbageBase  = 0xdead0000
	garbageWin   = 0xdeaddead
	resetLatency = 7
)

// Txn is a transaction issued to the simulated controller.
type Txn struct {
	Cmd     uint16
	Adr     uint32
	Data    uint32 // written or read word
	Ctrl    uint32 // value written to ctrl
	Config  uint32 // config register when the transaction started
	Latency uint8  // latency count of the controller
	OK      bool   // transaction reached the device correctly
}

func (tx Txn) String() string {
	dir := "write"
	if tx.Cmd&cmdRead != 0 {
		dir = "read"
	}
	area := "mem"
	if tx.Cmd&cmdRegister != 0 {
		area = "reg"
	}
	return fmt.Sprintf(
		"%s %s @0x%08x data=0x%08x ctrl=0x%03x latency=%d ok=%v",
		dir, area, tx.Adr, tx.Data, tx.Ctrl, tx.Latency, tx.OK,
	)
}

type config struct {
	busy  int
	stuck bool
	id    uint16
}

// Option configures a simulated controller.
type Option func(*config)

// WithBusyReads sets the number of status reads that report busy after
// a transaction is started.
func WithBusyReads(n int) Option {
	return func(cfg *config) {
		cfg.busy = n
	}
}

// WithStuck makes the controller report busy forever once a transaction
// was started.
func WithStuck() Option {
	return func(cfg *config) {
		cfg.stuck = true
	}
}

// WithDeviceID sets the identification value of the simulated HyperRAM.
func WithDeviceID(id uint16) Option {
	return func(cfg *config) {
		cfg.id = id
	}
}

// Controller is a simulated HyperBus controller.
// It implements io.ReaderAt and io.WriterAt over its register block.
type Controller struct {
	mu  sync.Mutex
	cfg config

	regs    [regSpan / 4]uint32
	busy    int
	started bool

	dev struct {
		id  uint16
		cr0 uint32
		mem map[uint32]uint32
	}

	log []Txn
	win Window
}

// New creates a simulated controller in its reset state.
func New(opts ...Option) *Controller {
	cfg := config{
		busy: 1,
		id:   DeviceID,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctl := &Controller{cfg: cfg}
	ctl.regs[offConfig/4] = resetLatency << 16
	ctl.regs[offLatency/4] = resetLatency
	ctl.dev.id = cfg.id
	ctl.dev.cr0 = cr0Reset
	ctl.dev.mem = make(map[uint32]uint32)
	ctl.win.ctl = ctl
	return ctl
}

// Window returns the direct-mapped window of the controller.
func (ctl *Controller) Window() *Window {
	return &ctl.win
}

// Log returns the transactions issued so far.
func (ctl *Controller) Log() []Txn {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return append([]Txn(nil), ctl.log...)
}

// Mem returns the memory word at addr, as stored by the device.
func (ctl *Controller) Mem(addr uint32) uint32 {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.dev.mem[addr]
}

// CR0 returns the device configuration register 0.
func (ctl *Controller) CR0() uint32 {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.dev.cr0
}

// DeviceLatency returns the latency programmed on the device.
func (ctl *Controller) DeviceLatency() uint8 {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.devLatency()
}

func (ctl *Controller) devLatency() uint8 {
	code := (ctl.dev.cr0 >> 4) & 0xf
	return uint8((code + 16 - 11) & 0xf)
}

func checkAccess(p []byte, off, span int64) error {
	if len(p) != 4 || off&0x3 != 0 || off < 0 || off+4 > span {
		return fmt.Errorf("hbsim: invalid access (off=0x%x, len=%d)", off, len(p))
	}
	return nil
}

func (ctl *Controller) ReadAt(p []byte, off int64) (int, error) {
	err := checkAccess(p, off, regSpan)
	if err != nil {
		return 0, err
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	var v uint32
	switch off {
	case offCtrl:
		// write-only.
	case offStatus:
		v = ctl.status()
	default:
		v = ctl.regs[off/4]
	}
	binary.LittleEndian.PutUint32(p, v)
	return len(p), nil
}

func (ctl *Controller) WriteAt(p []byte, off int64) (int, error) {
	err := checkAccess(p, off, regSpan)
	if err != nil {
		return 0, err
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	v := binary.LittleEndian.Uint32(p)
	switch off {
	case offStatus:
		// read-only.
	case offCtrl:
		ctl.control(v)
	case offLatency:
		ctl.regs[off/4] = v & 0xf
	default:
		ctl.regs[off/4] = v
	}
	return len(p), nil
}

func (ctl *Controller) status() uint32 {
	switch {
	case ctl.started && ctl.cfg.stuck:
		return statusBusy
	case ctl.busy > 0:
		ctl.busy--
		return statusBusy
	}
	return statusIdle
}

func (ctl *Controller) control(v uint32) {
	if v&ctrlReset != 0 {
		ctl.busy = 0
		ctl.started = false
	}
	if v&ctrlStart == 0 {
		return
	}
	ctl.started = true
	ctl.busy = ctl.cfg.busy
	ctl.exec(v)
}

// exec runs the transaction described by the controller registers.
func (ctl *Controller) exec(ctrl uint32) {
	var (
		cfg  = ctl.regs[offConfig/4]
		cmd  = uint16(ctl.regs[offCmd/4])
		adr  = ctl.regs[offAdr/4]
		lat  = uint8((cfg >> 16) & 0xf)
		read = cmd&cmdRead != 0
		reg  = cmd&cmdRegister != 0
	)

	want := uint32(ctrlAddr)
	if read || !reg {
		want |= ctrlLatency
	}
	if read {
		want |= ctrlRead
	} else {
		want |= ctrlWrite
	}

	tx := Txn{
		Cmd:     cmd,
		Adr:     adr,
		Ctrl:    ctrl,
		Config:  cfg,
		Latency: lat,
	}

	devLat := ctl.devLatency()
	tx.OK = cfg&cfgEnable != 0 && ctrl&ctrlPhases == want
	if tx.OK && want&ctrlLatency != 0 && lat != devLat {
		tx.OK = false
	}

	switch {
	case read && tx.OK:
		tx.Data = ctl.load(reg, adr)
		ctl.regs[offRxTx/4] = tx.Data
	case read:
		tx.Data = garbageBase | uint32(devLat)<<4 | uint32(lat)
		ctl.regs[offRxTx/4] = tx.Data
	default:
		tx.Data = ctl.regs[offRxTx/4]
		if tx.OK {
			ctl.store(reg, adr, tx.Data)
		}
	}
	ctl.log = append(ctl.log, tx)
}

func (ctl *Controller) load(reg bool, adr uint32) uint32 {
	if !reg {
		return ctl.dev.mem[adr]
	}
	switch adr {
	case 0:
		return uint32(ctl.dev.id)
	case CR0Addr:
		return ctl.dev.cr0
	}
	return 0
}

func (ctl *Controller) store(reg bool, adr, v uint32) {
	if !reg {
		ctl.dev.mem[adr] = v
		return
	}
	if adr == CR0Addr {
		ctl.dev.cr0 = v & 0xffff
	}
}

// Window is the direct-mapped window of a simulated controller.
// Offsets are relative to the window base; a word offset off addresses
// memory word off/4. Data appear byte-swapped with respect to the
// register-level data path.
type Window struct {
	ctl *Controller
}

func (win *Window) ready() bool {
	ctl := win.ctl
	return ctl.regs[offConfig/4]&cfgEnable != 0 &&
		uint8(ctl.regs[offLatency/4]) == ctl.devLatency()
}

func (win *Window) ReadAt(p []byte, off int64) (int, error) {
	err := checkAccess(p, off, WindowSize)
	if err != nil {
		return 0, err
	}

	ctl := win.ctl
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	v := uint32(garbageWin)
	if win.ready() {
		v = bits.ReverseBytes32(ctl.dev.mem[uint32(off/4)])
	}
	binary.LittleEndian.PutUint32(p, v)
	return len(p), nil
}

func (win *Window) WriteAt(p []byte, off int64) (int, error) {
	err := checkAccess(p, off, WindowSize)
	if err != nil {
		return 0, err
	}

	ctl := win.ctl
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if win.ready() {
		ctl.dev.mem[uint32(off/4)] = bits.ReverseBytes32(binary.LittleEndian.Uint32(p))
	}
	return len(p), nil
}
