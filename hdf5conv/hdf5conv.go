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

// Package hdf5conv describes the boundary between a finished capture
// job and HDF5 post-processing: the request struct a capture job
// builds, the status codes a converter reports back, and a worker
// pool for running conversions without blocking the task that
// requested them. The converter itself (opening an actual HDF5 file,
// creating groups and datasets) is an external collaborator — this
// package only owns the handoff.
package hdf5conv

import (
	"time"

	"github.com/tesdaq/tesd/concurrency/gopool"
)

// Status codes a Converter reports, from
// original_source/include/hdf5conv.h's HDF5CONV_REQ_* constants.
const (
	StatusOK     = 0 // accepted (async) or all OK (non-async)
	StatusEInval = 1 // malformed request
	StatusEAbort = 2 // file/group exists and not overwriting
	StatusEInit  = 3 // error initializing
	StatusEConv  = 4 // error while converting
	StatusEFin   = 5 // error deleting data files
)

// DatasetDesc describes one HDF5 dataset to create from a data file's
// (or in-memory buffer's) bytes. Exactly one of Filename and Buffer
// must be set. A negative Offset is taken relative to EOF; a negative
// Length means "copy to EOF".
type DatasetDesc struct {
	Name     string
	Filename string
	Buffer   []byte
	Offset   int64
	Length   int64
}

// Request is the structural (not wire) handoff from a finished
// capture job to HDF5 conversion, grounded on struct hdf5_conv_req_t.
type Request struct {
	Filename    string // /path/to/<hdf5file>
	Group       string // group name under the root group "capture"
	Dsets       []DatasetDesc
	UseExisting bool // insert group into an existing file
	Overwrite   bool // otherwise abort if the group already exists
	Backup      bool // rename file/group aside instead of overwriting
	Async       bool // return once accepted; convert in the background
}

// Converter performs one conversion request, returning one of the
// Status* codes. A synchronous call blocks until conversion (or
// rejection) completes; Pool.Submit is how an Async request is run in
// the background instead.
type Converter interface {
	Convert(req Request) (int, error)
}

// Pool runs conversions in the background so the capture task's
// request handler never blocks on HDF5 I/O, built on the corpus's
// general-purpose background-task pool.
type Pool struct {
	conv Converter
	gp   *gopool.GoPool
}

// NewPool creates a conversion pool backed by conv. name identifies
// the pool in panic-handler logs.
func NewPool(name string, conv Converter) *Pool {
	return &Pool{conv: conv, gp: gopool.NewGoPool(name, nil)}
}

// Submit runs req in the background and invokes done with its
// outcome. For a synchronous (non-Async) request, call Convert
// directly instead — Submit is only for Request.Async == true.
func (p *Pool) Submit(req Request, done func(status int, err error)) {
	p.gp.Go(func() {
		status, err := p.conv.Convert(req)
		if done != nil {
			done(status, err)
		}
	})
}

// Run performs req, dispatching to the background pool if req.Async
// is set (returning StatusOK immediately once accepted) or running
// synchronously otherwise.
func (p *Pool) Run(req Request) (int, error) {
	if !req.Async {
		return p.conv.Convert(req)
	}
	p.Submit(req, nil)
	return StatusOK, nil
}

// staticConverter returns a fixed status without doing any I/O; used
// where no real HDF5 library is wired and the caller only needs the
// handoff boundary exercised (tests, or deployments that run
// conversion out-of-process and poll capture's status query instead).
type staticConverter struct {
	status int
	err    error
	delay  time.Duration
}

// NewStaticConverter returns a Converter that reports status (and err)
// for every request after an optional delay, useful for exercising the
// Async path in tests without a real HDF5 backend.
func NewStaticConverter(status int, err error, delay time.Duration) Converter {
	return staticConverter{status: status, err: err, delay: delay}
}

func (c staticConverter) Convert(req Request) (int, error) {
	if req.Filename == "" || req.Group == "" || len(req.Dsets) == 0 {
		return StatusEInval, nil
	}
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		<-t.C
	}
	return c.status, c.err
}
