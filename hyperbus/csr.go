// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hyperbus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// CSRMap is the SoC address map generated by LiteX (build/csr.csv).
type CSRMap struct {
	Bases     map[string]uint32   // csr_base rows
	Registers map[string]Register // csr_register rows
	Regions   map[string]Region   // memory_region rows
	Constants map[string]string   // constant rows
}

// Register is a CSR register entry.
type Register struct {
	Addr   uint32
	Size   int // in 32-bit words
	Access string
}

// Region is a memory region entry.
type Region struct {
	Origin uint32
	Size   uint32
	Type   string
}

// Controller locates one HyperBus controller in a CSR map.
type Controller struct {
	Name   string // memory region name, e.g. "hyperbus0"
	Base   uint32 // register block
	Window Region
}

// Options returns the device options selecting this controller.
func (ctl Controller) Options() []Option {
	return []Option{
		WithBase(int64(ctl.Base)),
		WithWindow(int64(ctl.Window.Origin), int64(ctl.Window.Size)),
	}
}

// LoadCSRFile loads a CSR map from the named file.
func LoadCSRFile(fname string) (CSRMap, error) {
	f, err := os.Open(fname)
	if err != nil {
		return CSRMap{}, fmt.Errorf("hyperbus: could not open CSR map: %w", err)
	}
	defer f.Close()

	csr, err := LoadCSR(f)
	if err != nil {
		return csr, fmt.Errorf("hyperbus: could not load CSR map %q: %w", fname, err)
	}
	return csr, nil
}

// LoadCSR parses a LiteX csr.csv file.
func LoadCSR(r io.Reader) (CSRMap, error) {
	csr := CSRMap{
		Bases:     make(map[string]uint32),
		Registers: make(map[string]Register),
		Regions:   make(map[string]Region),
		Constants: make(map[string]string),
	}

	rr := csv.NewReader(r)
	rr.Comment = '#'
	rr.FieldsPerRecord = -1
	rr.TrimLeadingSpace = true

	for {
		rec, err := rr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return csr, fmt.Errorf("hyperbus: could not read CSR map: %w", err)
		}
		line, _ := rr.FieldPos(0)
		if len(rec) < 3 {
			return csr, fmt.Errorf("hyperbus: invalid CSR map line %d: %q", line, rec)
		}

		var (
			kind = rec[0]
			name = rec[1]
		)
		switch kind {
		case "csr_base":
			addr, err := parseAddr(rec[2])
			if err != nil {
				return csr, fmt.Errorf("hyperbus: invalid csr_base %q line %d: %w", name, line, err)
			}
			csr.Bases[name] = addr

		case "csr_register":
			if len(rec) < 5 {
				return csr, fmt.Errorf("hyperbus: invalid csr_register line %d: %q", line, rec)
			}
			addr, err := parseAddr(rec[2])
			if err != nil {
				return csr, fmt.Errorf("hyperbus: invalid csr_register %q line %d: %w", name, line, err)
			}
			size, err := strconv.Atoi(rec[3])
			if err != nil {
				return csr, fmt.Errorf("hyperbus: invalid csr_register %q size line %d: %w", name, line, err)
			}
			csr.Registers[name] = Register{Addr: addr, Size: size, Access: rec[4]}

		case "memory_region":
			if len(rec) < 4 {
				return csr, fmt.Errorf("hyperbus: invalid memory_region line %d: %q", line, rec)
			}
			origin, err := parseAddr(rec[2])
			if err != nil {
				return csr, fmt.Errorf("hyperbus: invalid memory_region %q line %d: %w", name, line, err)
			}
			size, err := parseAddr(rec[3])
			if err != nil {
				return csr, fmt.Errorf("hyperbus: invalid memory_region %q size line %d: %w", name, line, err)
			}
			reg := Region{Origin: origin, Size: size}
			if len(rec) > 4 {
				reg.Type = rec[4]
			}
			csr.Regions[name] = reg

		case "constant":
			csr.Constants[name] = rec[2]

		default:
			// LiteX adds new row kinds from time to time.
		}
	}

	return csr, nil
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// Controllers returns the HyperBus controllers found in the map: each
// "<name>_core" CSR base paired with a "<name>" memory region, sorted by
// name.
func (csr CSRMap) Controllers() []Controller {
	var ctls []Controller
	for name, base := range csr.Bases {
		if !strings.HasPrefix(name, "hyperbus") || !strings.HasSuffix(name, "_core") {
			continue
		}
		rname := strings.TrimSuffix(name, "_core")
		win, ok := csr.Regions[rname]
		if !ok {
			continue
		}
		ctls = append(ctls, Controller{Name: rname, Base: base, Window: win})
	}
	sort.Slice(ctls, func(i, j int) bool {
		return ctls[i].Name < ctls[j].Name
	})
	return ctls
}

// Controller returns the named HyperBus controller.
func (csr CSRMap) Controller(name string) (Controller, error) {
	for _, ctl := range csr.Controllers() {
		if ctl.Name == name {
			return ctl, nil
		}
	}
	return Controller{}, fmt.Errorf("hyperbus: no controller %q in CSR map", name)
}
