// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"encoding/binary"
	"fmt"
)

// Window is the direct-mapped access window of a controller.
//
// Loads and stores are turned into memory-space transactions by the
// hardware, using the configuration last written to the controller.
// Only word-aligned 32-bit accesses are supported; each access completes
// before the next one is issued.
type Window struct {
	rw   Bus
	base uint32
	size uint32
	xip  bool // an image was started from the window
	buf  [4]byte
}

func newWindow(rw Bus, base, size uint32) *Window {
	return &Window{rw: rw, base: base, size: size}
}

// Base returns the physical address of the window.
func (win *Window) Base() uint32 { return win.base }

// Size returns the size of the window in bytes.
func (win *Window) Size() uint32 { return win.size }

// Addr returns the physical address of the window offset off.
func (win *Window) Addr(off uint32) uint32 { return win.base + off }

func (win *Window) check(off uint32) error {
	if off&0x3 != 0 {
		return fmt.Errorf("hyperbus: offset 0x%x: %w", off, ErrUnaligned)
	}
	if off >= win.size || win.size-off < 4 {
		return fmt.Errorf("hyperbus: offset 0x%x (size=0x%x): %w", off, win.size, ErrOutOfRange)
	}
	return nil
}

// Load reads the word at offset off.
func (win *Window) Load(off uint32) (uint32, error) {
	err := win.check(off)
	if err != nil {
		return 0, err
	}
	_, err = win.rw.ReadAt(win.buf[:], int64(off))
	if err != nil {
		return 0, fmt.Errorf("hyperbus: could not load 0x%08x: %w", win.Addr(off), err)
	}
	return binary.LittleEndian.Uint32(win.buf[:]), nil
}

// Store writes v at offset off.
func (win *Window) Store(off, v uint32) error {
	err := win.check(off)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(win.buf[:], v)
	_, err = win.rw.WriteAt(win.buf[:], int64(off))
	if err != nil {
		return fmt.Errorf("hyperbus: could not store 0x%08x: %w", win.Addr(off), err)
	}
	return nil
}
