// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hbsim

import (
	"encoding/binary"
	"fmt"
	"testing"
)

func w32(t *testing.T, ctl *Controller, off int64, v uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := ctl.WriteAt(buf[:], off)
	if err != nil {
		t.Fatalf("could not write 0x%x: %+v", off, err)
	}
}

func r32(t *testing.T, ctl *Controller, off int64) uint32 {
	t.Helper()
	var buf [4]byte
	_, err := ctl.ReadAt(buf[:], off)
	if err != nil {
		t.Fatalf("could not read 0x%x: %+v", off, err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// issue runs a transaction the way the firmware does.
func issue(t *testing.T, ctl *Controller, cmd, adr, data, cfg, phases uint32) uint32 {
	t.Helper()
	w32(t, ctl, offCtrl, ctrlReset)
	w32(t, ctl, offConfig, cfg)
	w32(t, ctl, offCmd, cmd)
	w32(t, ctl, offAdr, adr)
	if cmd&cmdRead == 0 {
		w32(t, ctl, offRxTx, data)
	}
	w32(t, ctl, offCtrl, phases|ctrlStart)
	for i := 0; r32(t, ctl, offStatus)&statusBusy != 0; i++ {
		if i > 10 {
			t.Fatalf("controller stuck")
		}
	}
	return r32(t, ctl, offRxTx)
}

const (
	cfg7 = cfgEnable | 7<<16
	cfg4 = cfgEnable | 4<<16

	phasesRead     = ctrlAddr | ctrlLatency | ctrlRead
	phasesWrite    = ctrlAddr | ctrlLatency | ctrlWrite
	phasesRegWrite = ctrlAddr | ctrlWrite
)

func TestReset(t *testing.T) {
	ctl := New()
	if got, want := r32(t, ctl, offConfig), uint32(7<<16); got != want {
		t.Fatalf("invalid config: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := r32(t, ctl, offLatency), uint32(7); got != want {
		t.Fatalf("invalid latency_cycles: got=%d, want=%d", got, want)
	}
	if got, want := r32(t, ctl, offStatus), uint32(statusIdle); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
	}
	if got, want := ctl.CR0(), uint32(0x8f2f); got != want {
		t.Fatalf("invalid cr0: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := ctl.DeviceLatency(), uint8(7); got != want {
		t.Fatalf("invalid device latency: got=%d, want=%d", got, want)
	}
}

func TestInvalidAccess(t *testing.T) {
	ctl := New()
	for _, tc := range []struct {
		name string
		off  int64
		n    int
	}{
		{"unaligned", 2, 4},
		{"short", 0, 2},
		{"long", 0, 8},
		{"beyond", regSpan, 4},
		{"negative", -4, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, tc.n)
			_, err := ctl.ReadAt(buf, tc.off)
			if err == nil {
				t.Fatalf("expected a read error")
			}
			_, err = ctl.WriteAt(buf, tc.off)
			if err == nil {
				t.Fatalf("expected a write error")
			}
		})
	}
}

func TestTransactions(t *testing.T) {
	ctl := New()

	id := issue(t, ctl, cmdRead|cmdRegister, 0, 0, cfg7, phasesRead)
	if id != DeviceID {
		t.Fatalf("invalid ID: got=0x%x, want=0x%x", id, DeviceID)
	}

	_ = issue(t, ctl, 0, 0x10, 0x1234abcf, cfg7, phasesWrite)
	if got, want := ctl.Mem(0x10), uint32(0x1234abcf); got != want {
		t.Fatalf("invalid mem: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := issue(t, ctl, cmdRead, 0x10, 0, cfg7, phasesRead), uint32(0x1234abcf); got != want {
		t.Fatalf("invalid read: got=0x%08x, want=0x%08x", got, want)
	}

	log := ctl.Log()
	if got, want := len(log), 3; got != want {
		t.Fatalf("invalid log size: got=%d, want=%d", got, want)
	}
	for i, tx := range log {
		if !tx.OK {
			t.Fatalf("transaction %d failed: %v", i, tx)
		}
	}
}

func TestCorruption(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cmd    uint32
		cfg    uint32
		phases uint32
	}{
		{"disabled-read", cmdRead, 7 << 16, phasesRead},
		{"disabled-write", 0, 7 << 16, phasesWrite},
		{"latency-read", cmdRead, cfg4, phasesRead},
		{"latency-write", 0, cfg4, phasesWrite},
		{"missing-latency-phase", cmdRead, cfg7, ctrlAddr | ctrlRead},
		{"reg-write-with-latency", cmdRegister, cfg7, phasesWrite},
		{"read-write-phases", cmdRead, cfg7, phasesWrite},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctl := New()
			_ = issue(t, ctl, 0, 0x20, 0xcafe, cfg7, phasesWrite)

			got := issue(t, ctl, tc.cmd, 0x20, 0xbeef, tc.cfg, tc.phases)
			if tc.cmd&cmdRead != 0 && got == 0xcafe {
				t.Fatalf("corrupted read returned device data")
			}
			if v := ctl.Mem(0x20); v != 0xcafe {
				t.Fatalf("corrupted write reached memory: got=0x%x", v)
			}
			if v := ctl.CR0(); v != cr0Reset {
				t.Fatalf("corrupted write reached cr0: got=0x%x", v)
			}
			log := ctl.Log()
			if log[len(log)-1].OK {
				t.Fatalf("transaction should have failed")
			}
		})
	}
}

func TestLatency(t *testing.T) {
	for _, n := range []uint32{3, 4, 5, 6, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ctl := New()
			cr0 := uint32(0x8f0f) | ((n+11)&0xf)<<4
			_ = issue(t, ctl, cmdRegister, CR0Addr, cr0, cfg7, phasesRegWrite)
			if got, want := ctl.DeviceLatency(), uint8(n); got != want {
				t.Fatalf("invalid device latency: got=%d, want=%d", got, want)
			}

			cfg := uint32(cfgEnable) | n<<16
			got := issue(t, ctl, cmdRead|cmdRegister, CR0Addr, 0, cfg, phasesRead)
			if got != cr0 {
				t.Fatalf("invalid cr0: got=0x%x, want=0x%x", got, cr0)
			}

			_ = issue(t, ctl, 0, 0x30, 0x5a5a1234, cfg, phasesWrite)
			if got, want := issue(t, ctl, cmdRead, 0x30, 0, cfg, phasesRead), uint32(0x5a5a1234); got != want {
				t.Fatalf("invalid read: got=0x%08x, want=0x%08x", got, want)
			}
		})
	}
}

func TestBusy(t *testing.T) {
	t.Run("busy-reads", func(t *testing.T) {
		ctl := New(WithBusyReads(3))
		w32(t, ctl, offConfig, cfg7)
		w32(t, ctl, offCmd, cmdRead)
		w32(t, ctl, offCtrl, phasesRead|ctrlStart)
		for i := 0; i < 3; i++ {
			if r32(t, ctl, offStatus)&statusBusy == 0 {
				t.Fatalf("read %d: controller should be busy", i)
			}
		}
		if r32(t, ctl, offStatus) != statusIdle {
			t.Fatalf("controller should be idle")
		}
	})

	t.Run("stuck", func(t *testing.T) {
		ctl := New(WithStuck())
		if r32(t, ctl, offStatus) != statusIdle {
			t.Fatalf("controller should be idle before start")
		}
		w32(t, ctl, offConfig, cfg7)
		w32(t, ctl, offCtrl, phasesRead|ctrlStart)
		for i := 0; i < 100; i++ {
			if r32(t, ctl, offStatus)&statusBusy == 0 {
				t.Fatalf("read %d: controller should be busy", i)
			}
		}
		w32(t, ctl, offCtrl, ctrlReset)
		if r32(t, ctl, offStatus) != statusIdle {
			t.Fatalf("controller should be idle after reset")
		}
	})

	t.Run("ctrl-write-only", func(t *testing.T) {
		ctl := New()
		w32(t, ctl, offCtrl, ctrlAddr)
		if got := r32(t, ctl, offCtrl); got != 0 {
			t.Fatalf("ctrl should read as zero: got=0x%x", got)
		}
	})
}

func TestWindow(t *testing.T) {
	ctl := New()
	win := ctl.Window()

	var buf [4]byte
	load := func(off int64) uint32 {
		t.Helper()
		_, err := win.ReadAt(buf[:], off)
		if err != nil {
			t.Fatalf("could not load 0x%x: %+v", off, err)
		}
		return binary.LittleEndian.Uint32(buf[:])
	}
	store := func(off int64, v uint32) {
		t.Helper()
		binary.LittleEndian.PutUint32(buf[:], v)
		_, err := win.WriteAt(buf[:], off)
		if err != nil {
			t.Fatalf("could not store 0x%x: %+v", off, err)
		}
	}

	_ = issue(t, ctl, 0, 0, 0x1234abcf, cfg7, phasesWrite)

	// controller left enabled by the last transaction.
	if got, want := load(0), uint32(0xcfab3412); got != want {
		t.Fatalf("invalid window load: got=0x%08x, want=0x%08x", got, want)
	}

	store(0x10, 0xab22de01)
	if got, want := load(0x10), uint32(0xab22de01); got != want {
		t.Fatalf("invalid window load: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := ctl.Mem(4), uint32(0x01de22ab); got != want {
		t.Fatalf("invalid mem: got=0x%08x, want=0x%08x", got, want)
	}

	w32(t, ctl, offLatency, 4)
	if got := load(0x10); got != garbageWin {
		t.Fatalf("window should be corrupted: got=0x%08x", got)
	}
	store(0x10, 0)
	w32(t, ctl, offLatency, 7)
	if got, want := load(0x10), uint32(0xab22de01); got != want {
		t.Fatalf("stale window store reached memory: got=0x%08x, want=0x%08x", got, want)
	}

	w32(t, ctl, offConfig, 7<<16)
	if got := load(0x10); got != garbageWin {
		t.Fatalf("disabled window should be corrupted: got=0x%08x", got)
	}

	_, err := win.ReadAt(buf[:], 2)
	if err == nil {
		t.Fatalf("expected an error on unaligned access")
	}
	_, err = win.WriteAt(buf[:], WindowSize)
	if err == nil {
		t.Fatalf("expected an error on out-of-range access")
	}
}

func TestCPU(t *testing.T) {
	const base = 0x30000000
	for _, tc := range []struct {
		name  string
		image []byte
		pc    uint32
		code  int
		err   bool
	}{
		{name: "ok", image: Image(0), pc: base},
		{name: "exit-code", image: Image(-2, 0x13), pc: base, code: -2},
		{name: "no-magic", image: []byte{1, 2, 3, 4, 0, 0, 0, 0}, pc: base, err: true},
		{name: "below-window", image: Image(0), pc: base - 4, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctl := New()
			w32(t, ctl, offConfig, cfg7)

			win := ctl.Window()
			for i := 0; i < len(tc.image); i += 4 {
				_, err := win.WriteAt(tc.image[i:i+4], int64(i))
				if err != nil {
					t.Fatalf("could not copy image: %+v", err)
				}
			}

			cpu := NewCPU(ctl, base)
			code, err := cpu.Jump(tc.pc)
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not run image: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error")
			}
			if code != tc.code {
				t.Fatalf("invalid exit code: got=%d, want=%d", code, tc.code)
			}
			if got := cpu.Jumps(); len(got) != 1 || got[0] != tc.pc {
				t.Fatalf("invalid jumps: got=%#x", got)
			}
		})
	}

	t.Run("stale-latency", func(t *testing.T) {
		ctl := New()
		w32(t, ctl, offConfig, cfg7)
		_, _ = ctl.Window().WriteAt(Image(0)[:4], 0)
		_, _ = ctl.Window().WriteAt(Image(0)[4:], 4)
		w32(t, ctl, offLatency, 4)

		_, err := NewCPU(ctl, base).Jump(base)
		if err == nil {
			t.Fatalf("expected an illegal instruction")
		}
	})
}
