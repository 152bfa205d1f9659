// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen(t *testing.T) {
	tmp, err := os.MkdirTemp("", "hbus-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	var (
		page  = int64(os.Getpagesize())
		fname = filepath.Join(tmp, "mem")
		regs  = 2 * page
		win   = 4 * page
	)

	err = os.WriteFile(fname, make([]byte, 8*page), 0644)
	if err != nil {
		t.Fatalf("could not create fake device memory: %+v", err)
	}

	_, err = Open(filepath.Join(tmp, "not-there"))
	if err == nil {
		t.Fatalf("expected an error")
	}

	dev, err := Open(fname,
		WithLogger(log.New(io.Discard, "", 0)),
		WithBase(regs),
		WithWindow(win, page),
	)
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}
	defer dev.Close()

	// plain memory: the controller never reports busy.
	err = dev.Write(0x42, 0xcafe)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	err = dev.Window().Store(0x8, 0x12345678)
	if err != nil {
		t.Fatalf("could not store: %+v", err)
	}

	var o bytes.Buffer
	err = dev.DumpRegisters(&o)
	if err != nil {
		t.Fatalf("could not dump registers: %+v", err)
	}
	for _, want := range []string{
		"config=         0x00070005 Config{enable=true, variable=false, wide=true, latency=7}",
		"cmd=            0x00000000 (write|mem)",
		"adr=            0x00000042",
		"state=          complete",
	} {
		if !strings.Contains(o.String(), want) {
			t.Fatalf("missing %q in register dump:\n%s", want, o.String())
		}
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device twice: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back fake device memory: %+v", err)
	}
	for _, tc := range []struct {
		name string
		off  int64
		want uint32
	}{
		{"ctrl", regs + offCtrl, uint32(PhasesMemWrite | CtrlStart)},
		{"rxtx", regs + offRxTx, 0xcafe},
		{"window", win + 0x8, 0x12345678},
	} {
		got := binary.LittleEndian.Uint32(raw[tc.off:])
		if got != tc.want {
			t.Fatalf("invalid %s word: got=0x%08x, want=0x%08x", tc.name, got, tc.want)
		}
	}
}
