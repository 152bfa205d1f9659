// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hyperbus drives the memory-mapped HyperBus memory/register
// controller of the frosty-ferret SoC.
//
// The controller is reached through two physical ranges: a small block of
// 32-bit control/status registers used to issue explicit transactions, and
// a direct-mapped window whose loads and stores the hardware converts into
// memory-space transactions on its own.
//
// A Device is a handle over one controller. It is not safe for concurrent
// use: the controller holds a single shared configuration and cannot save
// an in-flight transaction.
package hyperbus // import "github.com/go-lpc/hbus/hyperbus"

import "fmt"

// Physical layout of hyperbus0 on frosty-ferret.
const (
	RegBase = 0xf0001000 // control/status register block
	RegSpan = 0x28

	WinBase = 0x30000000 // direct-mapped window
	WinSpan = 0x10000000
)

// Device-side constants of the attached HyperRAM.
const (
	DeviceID = 0x8f1f     // identification register 0 signature
	CR0Addr  = 0x01000000 // configuration register 0, register space
)

// Dir is the direction bit of a HyperBus command.
type Dir uint16

const (
	Write Dir = 0x0000
	Read  Dir = 0x8000
)

func (dir Dir) String() string {
	switch dir {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("Dir(0x%04x)", uint16(dir))
}

// Area selects the device address space targeted by a command.
type Area uint16

const (
	MemorySpace   Area = 0x0000
	RegisterSpace Area = 0x4000
)

func (area Area) String() string {
	switch area {
	case MemorySpace:
		return "mem"
	case RegisterSpace:
		return "reg"
	}
	return fmt.Sprintf("Area(0x%04x)", uint16(area))
}

// Command is the 16-bit value written to the cmd register.
type Command uint16

func NewCommand(dir Dir, area Area) Command {
	return Command(uint16(dir) | uint16(area))
}

func (cmd Command) Dir() Dir   { return Dir(uint16(cmd) & uint16(Read)) }
func (cmd Command) Area() Area { return Area(uint16(cmd) & uint16(RegisterSpace)) }
