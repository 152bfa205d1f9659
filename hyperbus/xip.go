// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CPU transfers control to code held in the direct-mapped window.
//
// On hardware, Jump does not return: the original control flow is lost.
// Simulated CPUs return the exit code the image signaled when it stopped
// (a0 at wfi, zero meaning success).
type CPU interface {
	Jump(pc uint32) (code int, err error)
}

// Copy copies image word by word to the start of the window.
// A trailing partial word is padded with zeros.
func (win *Window) Copy(image []byte) error {
	if len(image) == 0 {
		return errors.New("hyperbus: empty image")
	}
	if uint64(len(image)) > uint64(win.size) {
		return fmt.Errorf(
			"hyperbus: image too large (%d bytes, window=%d): %w",
			len(image), win.size, ErrOutOfRange,
		)
	}

	var w [4]byte
	for off := 0; off < len(image); off += 4 {
		w = [4]byte{}
		copy(w[:], image[off:])
		err := win.Store(uint32(off), binary.LittleEndian.Uint32(w[:]))
		if err != nil {
			return fmt.Errorf("hyperbus: could not copy image: %w", err)
		}
	}
	return nil
}

// Exec copies image to the window and transfers control to its base.
// The controller configuration (latency, enable) must already be set up
// for the code that will run from the window.
//
// Exec is one-shot: once control was transferred, the window cannot be
// reused for another image.
func (win *Window) Exec(image []byte, cpu CPU) error {
	if win.xip {
		return ErrXIPActive
	}
	if cpu == nil {
		return errors.New("hyperbus: no CPU to transfer control to")
	}

	err := win.Copy(image)
	if err != nil {
		return err
	}

	win.xip = true
	code, err := cpu.Jump(win.base)
	if err != nil {
		return fmt.Errorf("hyperbus: could not execute image at 0x%08x: %w", win.base, err)
	}
	if code != 0 {
		return &ExitError{PC: win.base, Code: code}
	}
	return nil
}
