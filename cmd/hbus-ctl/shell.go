// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-lpc/hbus/hyperbus"
)

var errQuit = errors.New("hbus-ctl: quit")

type command struct {
	name string
	args string
	help string
	narg int
	run  func(sh *shell, args []uint32) error
}

var cmds []command

func init() {
	cmds = []command{
		{"id", "", "read and check the device identifier", 0, (*shell).id},
		{"read", "ADDR", "read a memory word", 1, (*shell).read},
		{"write", "ADDR VAL", "write a memory word", 2, (*shell).write},
		{"wreg", "ADDR VAL", "write a device register", 2, (*shell).wreg},
		{"latency", "[N]", "display or program the latency", -1, (*shell).latency},
		{"enable", "", "enable the direct-mapped window", 0, (*shell).enable},
		{"peek", "OFF", "load a word from the direct-mapped window", 1, (*shell).peek},
		{"poke", "OFF VAL", "store a word to the direct-mapped window", 2, (*shell).poke},
		{"status", "", "display the controller status", 0, (*shell).status},
		{"regs", "", "dump the controller registers", 0, (*shell).regs},
		{"help", "", "display this help message", 0, (*shell).help},
		{"quit", "", "exit the shell", 0, (*shell).quit},
	}
}

type shell struct {
	dev *hyperbus.Device
	w   io.Writer
}

func newShell(dev *hyperbus.Device, w io.Writer) *shell {
	return &shell{dev: dev, w: w}
}

// exec parses and runs one command line.
func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name := strings.ToLower(toks[0])
	for _, cmd := range cmds {
		if cmd.name != name {
			continue
		}
		if cmd.narg >= 0 && len(toks)-1 != cmd.narg {
			return fmt.Errorf("hbus-ctl: invalid number of arguments for %q (usage: %s %s)", name, name, cmd.args)
		}
		args := make([]uint32, 0, len(toks)-1)
		for _, tok := range toks[1:] {
			v, err := strconv.ParseUint(tok, 0, 32)
			if err != nil {
				return fmt.Errorf("hbus-ctl: invalid argument %q: %w", tok, err)
			}
			args = append(args, uint32(v))
		}
		return cmd.run(sh, args)
	}
	return fmt.Errorf("hbus-ctl: unknown command %q", name)
}

func (sh *shell) id(args []uint32) error {
	id, err := sh.dev.ReadID()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "id=0x%04x\n", id)
	return sh.dev.CheckID(hyperbus.DeviceID)
}

func (sh *shell) read(args []uint32) error {
	v, err := sh.dev.Read(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "0x%08x: 0x%08x\n", args[0], v)
	return nil
}

func (sh *shell) write(args []uint32) error {
	return sh.dev.Write(args[0], args[1])
}

func (sh *shell) wreg(args []uint32) error {
	return sh.dev.WriteReg(args[0], args[1])
}

func (sh *shell) latency(args []uint32) error {
	switch len(args) {
	case 0:
		fmt.Fprintf(sh.w, "latency=%d\n", sh.dev.Latency())
		return nil
	case 1:
		n, err := hyperbus.ParseLatency(uint64(args[0]))
		if err != nil {
			return err
		}
		return sh.dev.SetLatency(n)
	default:
		return fmt.Errorf("hbus-ctl: invalid number of arguments for \"latency\" (usage: latency [N])")
	}
}

func (sh *shell) enable(args []uint32) error {
	return sh.dev.Configure(false)
}

func (sh *shell) peek(args []uint32) error {
	win := sh.dev.Window()
	v, err := win.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "0x%08x: 0x%08x\n", win.Addr(args[0]), v)
	return nil
}

func (sh *shell) poke(args []uint32) error {
	return sh.dev.Window().Store(args[0], args[1])
}

func (sh *shell) status(args []uint32) error {
	st, err := sh.dev.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "status=%v state=%v\n", st, sh.dev.State())
	return nil
}

func (sh *shell) regs(args []uint32) error {
	return sh.dev.DumpRegisters(sh.w)
}

func (sh *shell) help(args []uint32) error {
	for _, cmd := range cmds {
		fmt.Fprintf(sh.w, "  %-18s %s\n", strings.TrimSpace(cmd.name+" "+cmd.args), cmd.help)
	}
	return nil
}

func (sh *shell) quit(args []uint32) error {
	return errQuit
}
