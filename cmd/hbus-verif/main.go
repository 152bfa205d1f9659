// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hbus-verif runs the HyperBus verification programs on one or
// more controllers.
//
// Usage: hbus-verif [OPTIONS]
//
// Example:
//
//	$> hbus-verif -csr ./build/csr.csv
//	$> hbus-verif -sim -n 4 -hist spins.yoda
package main // import "github.com/go-lpc/hbus/cmd/hbus-verif"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/hbus"
	"github.com/go-lpc/hbus/hbdb"
	"github.com/go-lpc/hbus/hyperbus"
	"github.com/go-lpc/hbus/hyperbus/hbsim"
	"github.com/go-lpc/hbus/verif"
	"golang.org/x/sync/errgroup"
)

func main() {
	var cfg config

	flag.StringVar(&cfg.devmem, "dev-mem", "/dev/mem", "physical memory device")
	flag.StringVar(&cfg.csr, "csr", "", "path to the LiteX CSR map (csr.csv) listing controllers")
	flag.Uint64Var(&cfg.base, "base", hyperbus.RegBase, "physical address of the register block")
	flag.Uint64Var(&cfg.win, "win", hyperbus.WinBase, "physical address of the direct-mapped window")
	flag.Uint64Var(&cfg.winSize, "win-size", hyperbus.WinSpan, "size of the direct-mapped window")
	flag.UintVar(&cfg.latency, "latency", 0, "latency (cycles) to verify instead of the default sweep")
	flag.Int64Var(&cfg.seed, "seed", 1234, "seed for the pseudo-random stimulus")
	flag.DurationVar(&cfg.timeout, "timeout", 0, "bound on the wait for a transaction (0: wait forever)")
	flag.BoolVar(&cfg.failFast, "fail-fast", false, "stop at the first failed scenario")
	flag.BoolVar(&cfg.sim, "sim", false, "run against simulated controllers")
	flag.IntVar(&cfg.n, "n", 1, "number of controllers to verify concurrently (0: all from CSR map)")
	flag.StringVar(&cfg.db, "db", "", "name of the database where to record results")
	flag.BoolVar(&cfg.mail, "mail", false, "send a mail alert on failure")
	flag.StringVar(&cfg.hist, "hist", "", "path to a YODA file where to write poll-spin histograms")
	version := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	log.SetPrefix("hbus-verif: ")
	log.SetFlags(0)

	if *version {
		v, sum := hbus.Version()
		fmt.Printf("hbus-verif %s %s\n", v, sum)
		return
	}

	err := run(cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type config struct {
	devmem  string
	csr     string
	base    uint64
	win     uint64
	winSize uint64
	latency uint
	seed    int64
	timeout time.Duration

	failFast bool
	sim      bool
	n        int
	db       string
	mail     bool
	hist     string

	stdout io.Writer
}

// target is one controller under verification.
type target struct {
	name  string
	dev   *hyperbus.Device
	cpu   hyperbus.CPU
	probe *verif.Probe
	start time.Time

	res []verif.Result
	err error
}

func run(cfg config) error {
	if cfg.stdout == nil {
		cfg.stdout = os.Stdout
	}

	if cfg.latency != 0 {
		_, err := hyperbus.ParseLatency(uint64(cfg.latency))
		if err != nil {
			return fmt.Errorf("could not parse -latency: %w", err)
		}
	}

	tgts, err := targets(cfg)
	if err != nil {
		return fmt.Errorf("could not setup controllers: %w", err)
	}
	defer func() {
		for _, tgt := range tgts {
			_ = tgt.dev.Close()
		}
	}()

	var db *hbdb.DB
	if cfg.db != "" {
		db, err = hbdb.Open(cfg.db)
		if err != nil {
			return fmt.Errorf("could not open results db: %w", err)
		}
		defer db.Close()
	}

	var (
		ctx = context.Background()
		grp errgroup.Group
	)
	for i := range tgts {
		tgt := tgts[i]
		grp.Go(func() error {
			return verify(ctx, cfg, db, tgt)
		})
	}
	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run verification: %w", err)
	}

	if cfg.hist != "" {
		err = writeHists(cfg.hist, tgts)
		if err != nil {
			return fmt.Errorf("could not write histograms: %w", err)
		}
	}

	if db != nil {
		for _, tgt := range tgts {
			id, err := db.RecordRun(ctx, hbdb.Run{
				Board:   tgt.name,
				Seed:    cfg.seed,
				Start:   tgt.start,
				Results: tgt.res,
			})
			if err != nil {
				return fmt.Errorf("could not record run for %q: %w", tgt.name, err)
			}
			log.Printf("%s: recorded run %d", tgt.name, id)
		}
	}

	var failed []string
	for _, tgt := range tgts {
		if tgt.err != nil {
			failed = append(failed, tgt.name)
		}
	}
	if len(failed) == 0 {
		fmt.Fprintf(cfg.stdout, "%d controller(s): ok\n", len(tgts))
		return nil
	}

	if cfg.mail {
		alertMail(tgts)
	}
	return fmt.Errorf("verification failed for %s", strings.Join(failed, ", "))
}

func targets(cfg config) ([]*target, error) {
	var tgts []*target

	switch {
	case cfg.sim:
		n := cfg.n
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			var (
				name = fmt.Sprintf("hyperbus%d", i)
				ctl  = hbsim.New(hbsim.WithBusyReads(1 + i%4))
				tgt  = &target{name: name, probe: new(verif.Probe)}
			)
			tgt.dev = hyperbus.New(ctl, ctl.Window(), devOptions(cfg, tgt)...)
			tgt.cpu = hbsim.NewCPU(ctl, hyperbus.WinBase)
			tgts = append(tgts, tgt)
		}

	case cfg.csr != "":
		csr, err := hyperbus.LoadCSRFile(cfg.csr)
		if err != nil {
			return nil, err
		}
		ctls := csr.Controllers()
		if len(ctls) == 0 {
			return nil, fmt.Errorf("no HyperBus controller in %q", cfg.csr)
		}
		if cfg.n > 0 && cfg.n < len(ctls) {
			ctls = ctls[:cfg.n]
		}
		for _, ctl := range ctls {
			tgt := &target{name: ctl.Name, probe: new(verif.Probe)}
			opts := append(ctl.Options(), devOptions(cfg, tgt)...)
			tgt.dev, err = hyperbus.Open(cfg.devmem, opts...)
			if err != nil {
				closeAll(tgts)
				return nil, err
			}
			tgts = append(tgts, tgt)
		}

	default:
		var (
			tgt = &target{name: "hyperbus0", probe: new(verif.Probe)}
			err error
		)
		opts := append([]hyperbus.Option{
			hyperbus.WithBase(int64(cfg.base)),
			hyperbus.WithWindow(int64(cfg.win), int64(cfg.winSize)),
		}, devOptions(cfg, tgt)...)
		tgt.dev, err = hyperbus.Open(cfg.devmem, opts...)
		if err != nil {
			return nil, err
		}
		tgts = append(tgts, tgt)
	}

	return tgts, nil
}

func closeAll(tgts []*target) {
	for _, tgt := range tgts {
		_ = tgt.dev.Close()
	}
}

func devOptions(cfg config, tgt *target) []hyperbus.Option {
	opts := []hyperbus.Option{
		hyperbus.WithLogger(log.New(lockedWriter{cfg.stdout}, tgt.name+": ", 0)),
		hyperbus.WithPollObserver(tgt.probe.Observe),
	}
	if cfg.timeout > 0 {
		opts = append(opts, hyperbus.WithPollTimeout(cfg.timeout))
	}
	return opts
}

var stdoutMu sync.Mutex

func verify(ctx context.Context, cfg config, db *hbdb.DB, tgt *target) error {
	s := verif.New(tgt.dev, cfg.seed)
	s.Msg = log.New(lockedWriter{cfg.stdout}, tgt.name+": ", 0)
	s.CPU = tgt.cpu
	s.Probe = tgt.probe
	s.FailFast = cfg.failFast
	s.Image = hbsim.Image(0)
	if cfg.latency != 0 {
		lat, err := hyperbus.ParseLatency(uint64(cfg.latency))
		if err != nil {
			return err
		}
		s.Latencies = []hyperbus.Latency{lat}
	}

	if db != nil {
		bcfg, err := db.BoardConfig(ctx, tgt.name)
		if err != nil {
			return fmt.Errorf("could not retrieve configuration of %q: %w", tgt.name, err)
		}
		s.DeviceID = bcfg.DeviceID
		s.Latencies = appendLatency(s.Latencies, bcfg.Latency)
	}

	tgt.start = time.Now().UTC()
	tgt.res, tgt.err = s.Run()
	return nil
}

func appendLatency(lats []hyperbus.Latency, n hyperbus.Latency) []hyperbus.Latency {
	for _, v := range lats {
		if v == n {
			return lats
		}
	}
	return append(lats, n)
}

type lockedWriter struct {
	w io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	return lw.w.Write(p)
}

// summary returns a plain-text report of the verification of tgts.
func summary(tgts []*target) string {
	sort.Slice(tgts, func(i, j int) bool {
		return tgts[i].name < tgts[j].name
	})

	o := new(strings.Builder)
	for _, tgt := range tgts {
		status := "ok"
		if tgt.err != nil {
			status = tgt.err.Error()
		}
		fmt.Fprintf(o, "== %s: %s\n", tgt.name, status)
		for _, res := range tgt.res {
			fmt.Fprintf(o, "   %v\n", res)
		}
	}
	return o.String()
}
