// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hbus-ctl is an interactive shell driving a HyperBus controller.
//
// Usage: hbus-ctl [OPTIONS]
//
// Example:
//
//	$> hbus-ctl -sim
//	hbus> id
//	id=0x8f1f
//	hbus> write 0x10 0xcafe
//	hbus> read 0x10
//	0x00000010: 0x0000cafe
package main // import "github.com/go-lpc/hbus/cmd/hbus-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/hbus/hyperbus"
	"github.com/go-lpc/hbus/hyperbus/hbsim"
	"github.com/peterh/liner"
)

func main() {
	var (
		devmem = flag.String("dev-mem", "/dev/mem", "physical memory device")
		csr    = flag.String("csr", "", "path to the LiteX CSR map (csr.csv)")
		name   = flag.String("ctl", "hyperbus0", "name of the controller in the CSR map")
		sim    = flag.Bool("sim", false, "drive a simulated controller")
	)

	flag.Parse()

	log.SetPrefix("hbus-ctl: ")
	log.SetFlags(0)

	dev, err := open(*devmem, *csr, *name, *sim)
	if err != nil {
		log.Fatalf("could not open controller: %+v", err)
	}
	defer dev.Close()

	err = xmain(dev)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func open(devmem, csr, name string, sim bool) (*hyperbus.Device, error) {
	msg := log.New(os.Stdout, "hyperbus: ", 0)
	switch {
	case sim:
		ctl := hbsim.New()
		return hyperbus.New(ctl, ctl.Window(), hyperbus.WithLogger(msg)), nil
	case csr != "":
		m, err := hyperbus.LoadCSRFile(csr)
		if err != nil {
			return nil, err
		}
		ctl, err := m.Controller(name)
		if err != nil {
			return nil, err
		}
		opts := append(ctl.Options(), hyperbus.WithLogger(msg))
		return hyperbus.Open(devmem, opts...)
	default:
		return hyperbus.Open(devmem, hyperbus.WithLogger(msg))
	}
}

func xmain(dev *hyperbus.Device) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	hist := filepath.Join(os.TempDir(), ".hbus-ctl.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	sh := newShell(dev, os.Stdout)
	for {
		line, err := term.Prompt("hbus> ")
		switch {
		case err == nil:
			// ok.
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}

func complete(line string) []string {
	var out []string
	for _, cmd := range cmds {
		if strings.HasPrefix(cmd.name, strings.ToLower(line)) {
			out = append(out, cmd.name)
		}
	}
	return out
}
