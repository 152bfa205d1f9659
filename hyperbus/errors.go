// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout    = errors.New("hyperbus: transaction timeout")
	ErrLatency    = errors.New("hyperbus: invalid latency")
	ErrUnaligned  = errors.New("hyperbus: unaligned window access")
	ErrOutOfRange = errors.New("hyperbus: window access out of range")
	ErrXIPActive  = errors.New("hyperbus: window already executing an image")
)

// The hardware never signals failures: the errors below are detected by
// comparing data after a transaction completed.

// IDMismatchError reports an unexpected device identification value.
type IDMismatchError struct {
	Got  uint16
	Want uint16
}

func (err *IDMismatchError) Error() string {
	return fmt.Sprintf(
		"hyperbus: device ID mismatch: got=0x%04x, want=0x%04x",
		err.Got, err.Want,
	)
}

// CorruptionError reports a word that was not read back as written.
// A latency mismatch between controller and device shows up this way.
type CorruptionError struct {
	Addr uint32
	Got  uint32
	Want uint32
}

func (err *CorruptionError) Error() string {
	return fmt.Sprintf(
		"hyperbus: data corruption at 0x%08x: got=0x%08x, want=0x%08x",
		err.Addr, err.Got, err.Want,
	)
}

// Verify returns a *CorruptionError if got differs from want.
func Verify(addr, got, want uint32) error {
	if got == want {
		return nil
	}
	return &CorruptionError{Addr: addr, Got: got, Want: want}
}

// ExitError reports a non-zero code signaled by an image executed in place.
type ExitError struct {
	PC   uint32
	Code int
}

func (err *ExitError) Error() string {
	return fmt.Sprintf("hyperbus: image at 0x%08x exited with code %d", err.PC, err.Code)
}
