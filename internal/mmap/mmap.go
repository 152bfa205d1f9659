// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap maps ranges of physical memory (typically through /dev/mem)
// and exposes them as io.ReaderAt and io.WriterAt.
package mmap // import "github.com/go-lpc/hbus/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped physical range.
// Offsets given to ReadAt and WriteAt are relative to the start of the
// requested range, not to the start of the underlying page.
type Handle struct {
	page []byte // page-aligned mapping, as returned by mmap
	data []byte // requested range, a sub-slice of page
}

// Map maps size bytes of f starting at the physical address base.
// base does not need to be page aligned.
func Map(f *os.File, base, size int64) (*Handle, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}
	var (
		psz  = int64(os.Getpagesize())
		beg  = base &^ (psz - 1)
		skip = base - beg
		span = (skip + size + psz - 1) &^ (psz - 1)
	)

	page, err := unix.Mmap(
		int(f.Fd()), beg, int(span),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map [0x%x, 0x%x): %w", base, base+size, err)
	}
	if int64(len(page)) != span {
		_ = unix.Munmap(page)
		return nil, fmt.Errorf("mmap: invalid mmap'd length: got=%d, want=%d", len(page), span)
	}

	h := &Handle{page: page, data: page[skip : skip+size]}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// Close unmaps the handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	page := h.page
	h.page = nil
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(page)
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
