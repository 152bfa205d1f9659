// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/go-lpc/hbus/hyperbus/hbsim"
)

func newSim(opts []Option, sopts ...hbsim.Option) (*Device, *hbsim.Controller) {
	ctl := hbsim.New(sopts...)
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return New(ctl, ctl.Window(), opts...), ctl
}

func TestConfig(t *testing.T) {
	for _, tc := range []struct {
		cfg  Config
		want uint32
	}{
		{Config{}, 0},
		{Config{Enable: true}, 0x1},
		{Config{Enable: true, Variable: true}, 0x3},
		{Config{Enable: true, Wide: true, LatencyCount: 7}, 0x00070005},
		{Config{Enable: true, LatencyCount: 4}, 0x00040001},
		{Config{LatencyCount: 0xf}, 0x000f0000},
	} {
		t.Run(tc.cfg.String(), func(t *testing.T) {
			got := tc.cfg.Uint32()
			if got != tc.want {
				t.Fatalf("invalid encoding: got=0x%08x, want=0x%08x", got, tc.want)
			}
			if back := ConfigFrom(got); back != tc.cfg {
				t.Fatalf("invalid decoding: got=%v, want=%v", back, tc.cfg)
			}
		})
	}

	if got, want := (Config{LatencyCount: 0x1f}).Uint32(), uint32(0x000f0000); got != want {
		t.Fatalf("latency count should be masked: got=0x%08x, want=0x%08x", got, want)
	}
}

func TestControl(t *testing.T) {
	for _, tc := range []struct {
		ctrl Control
		want uint32
		str  string
	}{
		{CtrlReset, 0x002, "{reset}"},
		{PhasesIDRead | CtrlStart, 0x701, "{start|adr|latency|read}"},
		{PhasesMemWrite | CtrlStart, 0xb01, "{start|adr|latency|write}"},
		{PhasesRegWrite | CtrlStart, 0x901, "{start|adr|write}"},
		{0, 0, "{}"},
	} {
		t.Run(tc.str, func(t *testing.T) {
			if got := uint32(tc.ctrl); got != tc.want {
				t.Fatalf("invalid value: got=0x%03x, want=0x%03x", got, tc.want)
			}
			if got := tc.ctrl.String(); got != tc.str {
				t.Fatalf("invalid string: got=%q, want=%q", got, tc.str)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	for _, tc := range []struct {
		dir  Dir
		area Area
		want uint16
	}{
		{Read, RegisterSpace, 0xc000},
		{Read, MemorySpace, 0x8000},
		{Write, RegisterSpace, 0x4000},
		{Write, MemorySpace, 0x0000},
	} {
		t.Run(tc.dir.String()+"-"+tc.area.String(), func(t *testing.T) {
			cmd := NewCommand(tc.dir, tc.area)
			if got := uint16(cmd); got != tc.want {
				t.Fatalf("invalid command: got=0x%04x, want=0x%04x", got, tc.want)
			}
			if cmd.Dir() != tc.dir {
				t.Fatalf("invalid dir: got=%v, want=%v", cmd.Dir(), tc.dir)
			}
			if cmd.Area() != tc.area {
				t.Fatalf("invalid area: got=%v, want=%v", cmd.Area(), tc.area)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	for _, tc := range []struct {
		st   Status
		idle bool
		busy bool
	}{
		{0, false, false},
		{StatusIdle, true, false},
		{StatusBusy, false, true},
	} {
		t.Run(tc.st.String(), func(t *testing.T) {
			if got := tc.st.Idle(); got != tc.idle {
				t.Fatalf("invalid idle: got=%v, want=%v", got, tc.idle)
			}
			if got := tc.st.Busy(); got != tc.busy {
				t.Fatalf("invalid busy: got=%v, want=%v", got, tc.busy)
			}
		})
	}

	dev, _ := newSim(nil)
	st, err := dev.Status()
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if !st.Idle() {
		t.Fatalf("controller should be idle: %v", st)
	}
}

type failBus struct {
	n   int // number of successful accesses left
	err error
}

func (bus *failBus) ReadAt(p []byte, off int64) (int, error) {
	if bus.n <= 0 {
		return 0, bus.err
	}
	bus.n--
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (bus *failBus) WriteAt(p []byte, off int64) (int, error) {
	if bus.n <= 0 {
		return 0, bus.err
	}
	bus.n--
	return len(p), nil
}

func TestStickyError(t *testing.T) {
	errBus := errors.New("bus error")
	bus := &failBus{n: 3, err: errBus}
	dev := New(bus, bus, WithLogger(log.New(io.Discard, "", 0)))

	_, err := dev.Read(0)
	if !errors.Is(err, errBus) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, errBus)
	}
	if !errors.Is(dev.Err(), errBus) {
		t.Fatalf("error should be sticky: got=%+v", dev.Err())
	}

	bus.n = 100
	err = dev.Write(0, 1)
	if !errors.Is(err, errBus) {
		t.Fatalf("error should be sticky: got=%+v", err)
	}
	_, err = dev.Status()
	if !errors.Is(err, errBus) {
		t.Fatalf("error should be sticky: got=%+v", err)
	}
}
