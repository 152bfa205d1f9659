// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/hbus/internal/mmap"
)

const (
	verbose = false
)

// Device is a handle over one HyperBus controller.
type Device struct {
	msg *log.Logger
	cfg config
	mem struct {
		fd  *os.File
		csr *mmap.Handle
		win *mmap.Handle
	}

	regs registers
	win  *Window

	state State
	lat   Latency // controller-side latency used for config writes

	err  error // first transport error, sticky
	xbuf [4]byte
}

// Open maps the register block and the direct-mapped window of a controller
// from devmem (usually /dev/mem).
func Open(devmem string, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	fd, err := os.OpenFile(devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("hyperbus: could not open %q: %w", devmem, err)
	}
	defer func() {
		if err != nil {
			_ = fd.Close()
		}
	}()

	csr, err := mmap.Map(fd, cfg.base, RegSpan)
	if err != nil {
		return nil, fmt.Errorf("hyperbus: could not map register block: %w", err)
	}
	defer func() {
		if err != nil {
			_ = csr.Close()
		}
	}()

	win, err := mmap.Map(fd, cfg.win.base, cfg.win.size)
	if err != nil {
		return nil, fmt.Errorf("hyperbus: could not map direct window: %w", err)
	}

	dev := newDevice(csr, win, cfg)
	dev.mem.fd = fd
	dev.mem.csr = csr
	dev.mem.win = win

	dev.msg.Printf(
		"opened controller regs=0x%08x window=[0x%08x, 0x%08x)",
		cfg.base, cfg.win.base, cfg.win.base+cfg.win.size,
	)
	return dev, nil
}

// New creates a handle over an already mapped register block and window.
// Physical addresses given through options are only used for reporting.
func New(csr, win Bus, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newDevice(csr, win, cfg)
}

func newDevice(csr, win Bus, cfg config) *Device {
	dev := &Device{
		msg:   cfg.msg,
		cfg:   cfg,
		state: Idle,
		lat:   cfg.latency,
	}
	dev.bind(csr)
	dev.win = newWindow(win, uint32(cfg.win.base), uint32(cfg.win.size))
	return dev
}

// Window returns the direct-mapped window of the controller.
func (dev *Device) Window() *Window {
	return dev.win
}

// Latency returns the controller-side latency currently in use.
func (dev *Device) Latency() Latency {
	return dev.lat
}

// Status reads the status register.
func (dev *Device) Status() (Status, error) {
	st := Status(dev.regs.status.r())
	if dev.err != nil {
		return 0, fmt.Errorf("hyperbus: could not read status: %w", dev.err)
	}
	return st, nil
}

// Err returns the first transport error encountered by the device, if any.
func (dev *Device) Err() error {
	return dev.err
}

func (dev *Device) Close() error {
	if dev.mem.fd == nil {
		return nil
	}

	var (
		errCSR = dev.mem.csr.Close()
		errWin = dev.mem.win.Close()
		errMem = dev.mem.fd.Close()
	)

	dev.mem.fd = nil
	dev.mem.csr = nil
	dev.mem.win = nil

	if errMem != nil {
		return fmt.Errorf("hyperbus: could not close device mem file: %w", errMem)
	}

	if errCSR != nil {
		return fmt.Errorf("hyperbus: could not unmap register block: %w", errCSR)
	}

	if errWin != nil {
		return fmt.Errorf("hyperbus: could not unmap direct window: %w", errWin)
	}

	return nil
}

// DumpRegisters writes the readable registers of the controller to w.
// rxtx is not read: reading it consumes received data.
func (dev *Device) DumpRegisters(w io.Writer) error {
	cfg := dev.regs.cfg.r()
	cmd := dev.regs.cmd.r()
	fmt.Fprintf(w, "cs=             0x%08x\n", dev.regs.cs.r())
	fmt.Fprintf(w, "config=         0x%08x %v\n", cfg, ConfigFrom(cfg))
	fmt.Fprintf(w, "cmd=            0x%08x (%v|%v)\n", cmd,
		Command(cmd).Dir(), Command(cmd).Area(),
	)
	fmt.Fprintf(w, "adr=            0x%08x\n", dev.regs.adr.r())
	fmt.Fprintf(w, "status=         %v\n", Status(dev.regs.status.r()))
	fmt.Fprintf(w, "latency_cycles= %d\n", dev.regs.latency.r()&maskLatencyCycles)
	fmt.Fprintf(w, "state=          %v\n", dev.state)
	return dev.err
}
