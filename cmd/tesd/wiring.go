/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tesdaq/tesd/config"
	"github.com/tesdaq/tesd/ring"
)

// devRing wraps an in-memory backend with a synthetic pollable
// descriptor, standing in for a real netmap device when no cached
// geometry is available (development and CI, mainly). A ticker writes
// to one end of a pipe to make the other end's poll() wake up the
// coordinator the same way a NIC's interrupt would; a drain goroutine
// keeps the pipe from filling, since nothing else ever reads from it.
type devRing struct {
	*ring.MemBackend
	r, w *os.File
	stop chan struct{}
}

func newDevRing(cfg config.RingConfig) (*devRing, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("tesd: open wakeup pipe: %w", err)
	}

	d := &devRing{
		MemBackend: ring.NewMemBackend(cfg.NumRings, cfg.NumSlots, cfg.SlotCap),
		r:          r,
		w:          w,
		stop:       make(chan struct{}),
	}

	go d.pump()
	go d.drain()
	return d, nil
}

func (d *devRing) pump() {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			d.w.Write([]byte{0})
		}
	}
}

func (d *devRing) drain() {
	buf := make([]byte, 1)
	for {
		if _, err := d.r.Read(buf); err != nil {
			return
		}
	}
}

func (d *devRing) Fd() int { return int(d.r.Fd()) }

func (d *devRing) Close() error {
	close(d.stop)
	d.w.Close()
	d.r.Close()
	return d.MemBackend.Close()
}

// setupRingBackend opens the real netmap device when cached geometry is
// on disk for ifname, falling back to devRing otherwise.
func setupRingBackend(flags *config.Flags, ringCfg config.RingConfig) (ring.Backend, int, error) {
	backend, fd, err := openNetmap(flags.ConfDir, flags.IfName)
	if err != nil {
		return nil, -1, fmt.Errorf("tesd: open netmap %s: %w", flags.IfName, err)
	}
	if backend != nil {
		return backend, fd, nil
	}

	dev, err := newDevRing(ringCfg)
	if err != nil {
		return nil, -1, err
	}
	return dev, dev.Fd(), nil
}
