// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"go-hep.org/x/hep/hbook"
)

const (
	spinBins = 64
	spinMax  = 64
)

// spinsHist returns the distribution of the busy status reads per
// transaction of tgt. Overflows land in the last bin.
func spinsHist(tgt *target) *hbook.H1D {
	h := hbook.NewH1D(spinBins, 0, spinMax)
	h.Annotation()["name"] = "spins-" + tgt.name
	h.Annotation()["title"] = "busy polls per transaction (" + tgt.name + ")"
	for _, n := range tgt.probe.Samples() {
		x := float64(n)
		if x >= spinMax {
			x = spinMax - 0.5
		}
		h.Fill(x, 1)
	}
	return h
}

func writeHists(fname string, tgts []*target) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create histograms file: %w", err)
	}
	defer f.Close()

	for _, tgt := range tgts {
		raw, err := spinsHist(tgt).MarshalYODA()
		if err != nil {
			return fmt.Errorf("could not marshal histogram of %q: %w", tgt.name, err)
		}
		_, err = f.Write(raw)
		if err != nil {
			return fmt.Errorf("could not write histogram of %q: %w", tgt.name, err)
		}
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close histograms file: %w", err)
	}
	return nil
}
