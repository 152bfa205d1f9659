// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/hbus/hyperbus"
	"github.com/go-lpc/hbus/verif"
)

func TestRunSim(t *testing.T) {
	var (
		dir  = t.TempDir()
		hist = filepath.Join(dir, "spins.yoda")
		out  = new(strings.Builder)
	)

	err := run(config{
		sim:    true,
		n:      3,
		seed:   1234,
		hist:   hist,
		stdout: out,
	})
	if err != nil {
		t.Fatalf("could not run verification: %+v\noutput:\n%s", err, out.String())
	}

	if got, want := out.String(), "3 controller(s): ok\n"; !strings.HasSuffix(got, want) {
		t.Fatalf("invalid output:\ngot:\n%s\nwant suffix: %q", got, want)
	}

	raw, err := os.ReadFile(hist)
	if err != nil {
		t.Fatalf("could not read histograms: %+v", err)
	}
	for _, name := range []string{"spins-hyperbus0", "spins-hyperbus1", "spins-hyperbus2"} {
		if !strings.Contains(string(raw), name) {
			t.Fatalf("missing histogram %q in:\n%s", name, raw)
		}
	}
	if !strings.Contains(string(raw), "YODA_HISTO1D") {
		t.Fatalf("invalid YODA content:\n%s", raw)
	}
}

func TestRunSimLatency(t *testing.T) {
	out := new(strings.Builder)
	err := run(config{
		sim:     true,
		n:       1,
		seed:    42,
		latency: 3,
		stdout:  out,
	})
	if err != nil {
		t.Fatalf("could not run verification: %+v\noutput:\n%s", err, out.String())
	}

	for _, lat := range []uint{12, 0x106, 263} {
		err = run(config{
			sim:     true,
			n:       1,
			latency: lat,
			stdout:  out,
		})
		if !errors.Is(err, hyperbus.ErrLatency) {
			t.Fatalf("invalid error for latency %d: got=%+v, want=%+v", lat, err, hyperbus.ErrLatency)
		}
		want := fmt.Sprintf("could not parse -latency: hyperbus: invalid latency %d (want 3..7)", lat)
		if got := err.Error(); !strings.HasPrefix(got, want) {
			t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
		}
	}
}

func TestSummary(t *testing.T) {
	tgts := []*target{
		{
			name: "hyperbus1",
			res: []verif.Result{
				{Name: verif.ScnID},
				{Name: verif.ScnRegRW, Err: errors.New("boom")},
			},
			err: errors.New("verif: 1/2 scenario(s) failed: reg-rw"),
		},
		{
			name: "hyperbus0",
			res:  []verif.Result{{Name: verif.ScnID}},
		},
	}

	got := summary(tgts)
	for _, want := range []string{
		"== hyperbus0: ok\n",
		"== hyperbus1: verif: 1/2 scenario(s) failed: reg-rw\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in summary:\n%s", want, got)
		}
	}
	if i, j := strings.Index(got, "hyperbus0"), strings.Index(got, "hyperbus1"); i > j {
		t.Fatalf("summary not sorted:\n%s", got)
	}

	msg := alertMsg(tgts)
	if got, want := msg.GetHeader("Subject"), []string{"[hbus-verif] verification failed: hyperbus1"}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("invalid subject: got=%q, want=%q", got, want)
	}
}

func TestAppendLatency(t *testing.T) {
	lats := appendLatency(nil, 6)
	lats = appendLatency(lats, 5)
	lats = appendLatency(lats, 6)
	if got, want := len(lats), 2; got != want {
		t.Fatalf("invalid latencies: got=%v", lats)
	}
}
