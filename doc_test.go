// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hbus

import (
	"runtime/debug"
	"testing"
)

func TestVersion(t *testing.T) {
	const root = "github.com/go-lpc/hbus"
	for _, tc := range []struct {
		name    string
		b       *debug.BuildInfo
		version string
		sum     string
	}{
		{name: "nil"},
		{
			name:    "main",
			b:       &debug.BuildInfo{Main: debug.Module{Path: root, Version: "v0.1.0", Sum: "h1:main"}},
			version: "v0.1.0",
			sum:     "h1:main",
		},
		{
			name: "dep",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "golang.org/x/sys", Version: "v0.7.0"},
				{Path: root, Version: "v0.2.0", Sum: "h1:dep"},
			}},
			version: "v0.2.0",
			sum:     "h1:dep",
		},
		{
			name: "replace-path-version",
			b: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: root, Version: "v0.2.0",
				Replace: &debug.Module{Path: "example.com/hbus", Version: "v0.3.0", Sum: "h1:r"},
			}}},
			version: "example.com/hbus v0.3.0",
			sum:     "h1:r",
		},
		{
			name: "replace-local",
			b: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: root, Version: "v0.2.0",
				Replace: &debug.Module{},
			}}},
			version: "v0.2.0*",
		},
		{
			name: "missing",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "golang.org/x/sys", Version: "v0.7.0"},
			}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			version, sum := versionOf(tc.b)
			if version != tc.version {
				t.Fatalf("invalid version: got=%q, want=%q", version, tc.version)
			}
			if sum != tc.sum {
				t.Fatalf("invalid sum: got=%q, want=%q", sum, tc.sum)
			}
		})
	}
}
