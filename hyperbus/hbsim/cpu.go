// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hbsim

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// XIPMagic is the first word of an image runnable by CPU.
const XIPMagic = 0x50495848 // "HXIP"

// CPU is a soft CPU fetching code from the window of a simulated
// controller.
//
// An image is a sequence of little-endian words: XIPMagic, the exit code
// the image leaves in a0 when it reaches wfi, then an optional payload.
type CPU struct {
	win  *Window
	base uint32 // physical address of the window

	mu    sync.Mutex
	jumps []uint32
}

// NewCPU returns a CPU executing from the window of ctl, mapped at base.
func NewCPU(ctl *Controller, base uint32) *CPU {
	return &CPU{win: ctl.Window(), base: base}
}

// Jump runs the image at pc and returns its exit code.
func (cpu *CPU) Jump(pc uint32) (int, error) {
	cpu.mu.Lock()
	cpu.jumps = append(cpu.jumps, pc)
	cpu.mu.Unlock()

	if pc < cpu.base || pc-cpu.base >= WindowSize {
		return 0, fmt.Errorf("hbsim: instruction fetch fault at pc=0x%08x", pc)
	}
	off := int64(pc - cpu.base)

	insn, err := cpu.fetch(off)
	if err != nil {
		return 0, err
	}
	if insn != XIPMagic {
		return 0, fmt.Errorf("hbsim: illegal instruction 0x%08x at pc=0x%08x", insn, pc)
	}

	a0, err := cpu.fetch(off + 4)
	if err != nil {
		return 0, err
	}
	return int(int32(a0)), nil
}

func (cpu *CPU) fetch(off int64) (uint32, error) {
	var buf [4]byte
	_, err := cpu.win.ReadAt(buf[:], off)
	if err != nil {
		return 0, fmt.Errorf("hbsim: instruction fetch fault at 0x%08x: %w", cpu.base+uint32(off), err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Jumps returns the addresses the CPU jumped to.
func (cpu *CPU) Jumps() []uint32 {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	return append([]uint32(nil), cpu.jumps...)
}

// Image returns an image exiting with code, followed by payload.
func Image(code int32, payload ...uint32) []byte {
	buf := make([]byte, 0, 4*(2+len(payload)))
	buf = binary.LittleEndian.AppendUint32(buf, XIPMagic)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(code))
	for _, w := range payload {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}
