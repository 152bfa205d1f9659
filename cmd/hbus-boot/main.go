// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hbus-boot (re)starts one hbus-daq process per HyperBus controller.
//
// Usage: hbus-boot [OPTIONS]
//
// Example:
//
//	$> hbus-boot -csr ./build/csr.csv -pmon
//	$> hbus-boot -sim -n 4 -daq-args="-lvl=debug"
package main // import "github.com/go-lpc/hbus/cmd/hbus-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-lpc/hbus/hyperbus"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var stop = make(chan os.Signal, 1)

func main() {
	var (
		bin     = flag.String("daq", "hbus-daq", "path to the hbus-daq executable")
		daqArgs = flag.String("daq-args", "", "extra arguments passed to each hbus-daq process")
		devmem  = flag.String("dev-mem", "/dev/mem", "physical memory device")
		csr     = flag.String("csr", "", "path to the LiteX CSR map (csr.csv) listing controllers")
		sim     = flag.Bool("sim", false, "start processes driving simulated controllers")
		n       = flag.Int("n", 1, "number of simulated controllers")
		dir     = flag.String("dir", os.Getenv("HBUS_LOGDIR"), "directory where to write logs")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
	)

	flag.Parse()

	log.SetPrefix("hbus-boot: ")
	log.SetFlags(0)

	names, err := controllers(*csr, *sim, *n)
	if err != nil {
		log.Fatalf("could not list controllers: %+v", err)
	}

	killStale(*bin)

	env := []string{"HBUS_DEV_MEM=" + *devmem}
	switch {
	case *sim:
		env = append(env, "HBUS_SIM=1")
	case *csr != "":
		env = append(env, "HBUS_CSR="+*csr)
	}

	procs := make([]proc, len(names))
	for i, name := range names {
		args := append(strings.Fields(*daqArgs), name)
		cmd := exec.Command(*bin, args...)
		cmd.Env = append(os.Environ(), env...)
		procs[i] = proc{name: "hbus-daq-" + name, cmd: cmd}
	}

	err = run(*doMon, *doFreq, procs, *dir, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// proc is a named child process.
type proc struct {
	name string
	cmd  *exec.Cmd
}

func controllers(csr string, sim bool, n int) ([]string, error) {
	switch {
	case sim:
		if n <= 0 {
			n = 1
		}
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("hyperbus%d", i)
		}
		return names, nil

	case csr != "":
		m, err := hyperbus.LoadCSRFile(csr)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, ctl := range m.Controllers() {
			names = append(names, ctl.Name)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no HyperBus controller in %q", csr)
		}
		return names, nil

	default:
		return []string{"hyperbus0"}, nil
	}
}

func killStale(bin string) {
	name := filepath.Base(bin)
	kill := exec.Command("killall", name)
	kill.Stderr = os.Stderr
	kill.Stdout = os.Stdout
	err := kill.Run()
	if err != nil {
		log.Printf("could not kill %q: %+v", name, err)
	}
}

func run(doMon bool, freq time.Duration, procs []proc, dir string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	if dir == "" {
		dir = "/var/log/hbus"
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for i := range procs {
		p := procs[i]
		grp.Go(func() error {
			return start(p, dir, kill, doMon, freq)
		})
	}

	go func() {
		<-stop
		close(kill)
	}()

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot hbus-daq processes: %w", err)
	}
	return nil
}

func start(p proc, dir string, kill chan int, doMon bool, freq time.Duration) error {
	var (
		name = p.name
		cmd  = p.cmd
	)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		mon, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+".pmon"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file for %q: %w", name, err)
		}
		defer f.Close()
		mon.W = f
		mon.Freq = freq

		go func() {
			err := mon.Run()
			if err != nil {
				log.Printf("could not monitor %q: %+v", name, err)
			}
		}()

		defer func() {
			err := mon.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		err = cmd.Process.Kill()
		if err != nil {
			return fmt.Errorf("could not kill %q: %w", name, err)
		}
		<-errch
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	log.Printf("%q done", name)
	return nil
}
