// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import "fmt"

// Latency is a fixed number of wait cycles between the command/address
// phase and the data phase.
type Latency uint8

const (
	MinLatency     Latency = 3
	MaxLatency     Latency = 7
	DefaultLatency Latency = 7 // device and controller reset value
)

// CR0 layout: the initial latency field holds N-5 modulo 16.
const (
	cr0Base         = 0x8f0f
	cr0LatencyShift = 4
	cr0LatencyMask  = 0xf
	cr0LatencyBias  = 11
)

// Valid reports whether the device can be programmed with n.
func (n Latency) Valid() bool {
	return MinLatency <= n && n <= MaxLatency
}

// ParseLatency converts a latency received as a wider integer (a command
// argument, a run-control payload) without narrowing it first.
func ParseLatency(v uint64) (Latency, error) {
	if v < uint64(MinLatency) || v > uint64(MaxLatency) {
		return 0, fmt.Errorf(
			"hyperbus: invalid latency %d (want %d..%d): %w",
			v, MinLatency, MaxLatency, ErrLatency,
		)
	}
	return Latency(v), nil
}

// DeviceCR0 returns the value of the device configuration register 0
// selecting a fixed latency of n cycles.
func DeviceCR0(n Latency) (uint32, error) {
	if !n.Valid() {
		return 0, fmt.Errorf(
			"hyperbus: invalid latency %d (want %d..%d): %w",
			n, MinLatency, MaxLatency, ErrLatency,
		)
	}
	code := (uint32(n) + cr0LatencyBias) & cr0LatencyMask
	return cr0Base | code<<cr0LatencyShift, nil
}

// LatencyFromCR0 decodes the latency programmed by a CR0 value.
func LatencyFromCR0(cr0 uint32) (Latency, error) {
	code := (cr0 >> cr0LatencyShift) & cr0LatencyMask
	n := Latency((code + 16 - cr0LatencyBias) & cr0LatencyMask)
	if !n.Valid() {
		return 0, fmt.Errorf(
			"hyperbus: CR0=0x%04x encodes invalid latency code 0x%x: %w",
			cr0, code, ErrLatency,
		)
	}
	return n, nil
}

// SetLatency programs n cycles of latency on the device (CR0) and on the
// controller (latency_cycles and the latency-count used by subsequent
// configuration writes). Both layers are always updated together.
func (dev *Device) SetLatency(n Latency) error {
	cr0, err := DeviceCR0(n)
	if err != nil {
		return err
	}

	err = dev.WriteReg(CR0Addr, cr0)
	if err != nil {
		return fmt.Errorf("hyperbus: could not program device latency %d: %w", n, err)
	}

	dev.regs.latency.w(uint32(n) & maskLatencyCycles)
	if dev.err != nil {
		return fmt.Errorf("hyperbus: could not program controller latency %d: %w", n, dev.err)
	}
	dev.lat = n

	dev.msg.Printf("latency=%d cycles (cr0=0x%04x)", n, cr0)
	return nil
}
