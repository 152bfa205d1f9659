// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq exposes a HyperBus controller as a TDAQ data source.
//
// While running, the server writes pseudo-random words to successive
// offsets of the direct-mapped window, reads them back and publishes one
// record per word on its output.
package daq // import "github.com/go-lpc/hbus/daq"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/hbus/hyperbus"
)

const (
	recSize = 12 // addr, want, got

	defaultSpan  = 0x1000
	defaultBatch = 64
)

var errRunning = errors.New("daq: run in progress")

// Record is the outcome of one soak word.
type Record struct {
	Addr uint32 // physical address
	Want uint32
	Got  uint32
}

func (rec Record) OK() bool { return rec.Want == rec.Got }

// DecodeRecords decodes the body of an output frame.
func DecodeRecords(p []byte) ([]Record, error) {
	if len(p)%recSize != 0 {
		return nil, fmt.Errorf("daq: invalid records payload size %d", len(p))
	}
	recs := make([]Record, 0, len(p)/recSize)
	for i := 0; i < len(p); i += recSize {
		recs = append(recs, Record{
			Addr: binary.LittleEndian.Uint32(p[i:]),
			Want: binary.LittleEndian.Uint32(p[i+4:]),
			Got:  binary.LittleEndian.Uint32(p[i+8:]),
		})
	}
	return recs, nil
}

// Server holds the TDAQ handlers driving one controller.
type Server struct {
	dev  *hyperbus.Device
	seed int64

	span  uint32 // window bytes swept by the soak loop
	batch int    // records per output frame
	freq  time.Duration

	mu   sync.Mutex // guards the fields below
	run  bool       // between /start and /stop
	rnd  *rand.Rand
	off  uint32
	data chan []byte
	n    int // soak words
	bad  int // mismatched soak words
}

// New returns a server over dev, with soak values drawn from seed.
func New(dev *hyperbus.Device, seed int64) *Server {
	srv := &Server{
		dev:   dev,
		seed:  seed,
		span:  defaultSpan,
		batch: defaultBatch,
		freq:  10 * time.Millisecond,
	}
	srv.reset()
	return srv
}

// Stats returns the number of soak words and of mismatched ones.
func (srv *Server) Stats() (n, bad int) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.n, srv.bad
}

func (srv *Server) reset() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.clear()
}

// clear rewinds the soak stimulus and counters. srv.mu must be held.
func (srv *Server) clear() {
	srv.rnd = rand.New(rand.NewSource(srv.seed))
	srv.data = make(chan []byte, 1024)
	srv.off = 0
	srv.n = 0
	srv.bad = 0
}

// output returns the channel of encoded records of the current run.
func (srv *Server) output() chan []byte {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.data
}

func (srv *Server) start() {
	srv.mu.Lock()
	srv.run = true
	srv.mu.Unlock()
}

func (srv *Server) stop() {
	srv.mu.Lock()
	srv.run = false
	srv.mu.Unlock()
}

// rewind resets the soak stimulus and counters, outside of a run.
func (srv *Server) rewind() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.run {
		return errRunning
	}
	srv.clear()
	return nil
}

func (srv *Server) configure(body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("daq: invalid /config payload (len=%d)", len(body))
	}
	dec := tdaq.NewDecoder(bytes.NewReader(body))
	lat, err := hyperbus.ParseLatency(uint64(dec.ReadU32()))
	if err != nil {
		return fmt.Errorf("daq: could not decode /config payload: %w", err)
	}

	err = srv.dev.SetLatency(lat)
	if err != nil {
		return fmt.Errorf("daq: could not configure latency %d: %w", lat, err)
	}
	return nil
}

func (srv *Server) initialize() error {
	err := srv.dev.CheckID(hyperbus.DeviceID)
	if err != nil {
		return fmt.Errorf("daq: could not check device: %w", err)
	}

	err = srv.dev.Configure(false)
	if err != nil {
		return fmt.Errorf("daq: could not enable window: %w", err)
	}

	srv.reset()
	return nil
}

// soak runs n soak words and returns their encoded records and the
// number of mismatched words.
func (srv *Server) soak(n int) ([]byte, int, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var (
		win = srv.dev.Window()
		buf = make([]byte, 0, n*recSize)
		bad = 0
	)
	for i := 0; i < n; i++ {
		off := srv.off
		want := srv.rnd.Uint32()

		err := win.Store(off, want)
		if err != nil {
			return nil, bad, fmt.Errorf("daq: could not store soak word: %w", err)
		}
		got, err := win.Load(off)
		if err != nil {
			return nil, bad, fmt.Errorf("daq: could not load soak word: %w", err)
		}
		if got != want {
			bad++
		}

		buf = binary.LittleEndian.AppendUint32(buf, win.Addr(off))
		buf = binary.LittleEndian.AppendUint32(buf, want)
		buf = binary.LittleEndian.AppendUint32(buf, got)

		srv.off += 4
		if srv.off >= srv.span || srv.off >= win.Size() {
			srv.off = 0
		}
	}

	srv.n += n
	srv.bad += bad

	return buf, bad, nil
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure controller: %+v", err)
		return err
	}
	ctx.Msg.Infof("latency: %d cycles", srv.dev.Latency())
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.initialize()
	if err != nil {
		ctx.Msg.Errorf("could not initialize controller: %+v", err)
		return err
	}
	ctx.Msg.Infof("controller: OK")
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.rewind()
	if err != nil {
		ctx.Msg.Errorf("could not reset: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	srv.start()
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.stop()
	n, bad := srv.Stats()
	ctx.Msg.Debugf("received /stop command... -> n=%d, bad=%d", n, bad)
	if bad > 0 {
		ctx.Msg.Errorf("%d/%d corrupted soak words", bad, n)
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return nil
}

// Words is the output handler publishing soak records.
func (srv *Server) Words(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.output():
		dst.Body = data
	}
	return nil
}

// Loop is the run handler of the server.
func (srv *Server) Loop(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			raw, bad, err := srv.soak(srv.batch)
			if err != nil {
				ctx.Msg.Errorf("could not run soak loop: %+v", err)
				return err
			}
			if bad > 0 {
				ctx.Msg.Errorf("%d/%d corrupted soak words", bad, srv.batch)
			}
			select {
			case srv.output() <- raw:
			default:
			}
		}
		time.Sleep(srv.freq)
	}
}
