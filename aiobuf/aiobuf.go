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

// Package aiobuf implements the capture task's async double-buffered
// writer: one fixed-capacity in-memory staging buffer per data/index
// file, staged into and submitted as batched positioned writes
// (pwrite) so the hot dispatch path
// never blocks on disk beyond the bound this package enforces.
package aiobuf

import (
	"errors"
	"fmt"
	"os"

	"github.com/bytedance/gopkg/lang/mcache"
	"golang.org/x/sys/unix"
)

// Capacity is the default size of a buffer's backing region (~10 MB),
// matching the original capture task's BUFSIZE.
const Capacity = 10 << 20

// MTU bounds the largest single staged write; stage() guarantees this
// much headroom is always available when it returns.
const MTU = 1496

// MinBatch is the soft minimum size of a submitted write batch: try_submit
// will not submit fewer bytes than this unless a wrap is imminent or the
// caller is forcing a flush.
const MinBatch = 500 << 10

var (
	// ErrShortWrite is returned when a completed write moved fewer
	// bytes than were enqueued.
	ErrShortWrite = errors.New("aiobuf: short write")
)

// state is the aiobuf's submission-pipeline state machine, replacing the
// original's blocking aio_suspend/goto retry loop.
type state int

const (
	idle state = iota
	inFlight
	retrying
)

// Writer is one capture stream's async double-buffered writer. All
// methods are only ever called from the capture task's own goroutine;
// Writer performs no internal locking on the hot path, only around the
// background completion notification.
type Writer struct {
	f    *os.File
	path string

	buf      []byte // staged bytes awaiting submission, from mcache
	base     int    // always 0: buf[0] is the logical base
	tail     int    // offset of oldest byte not yet confirmed written
	cursor   int    // offset of next byte to stage
	ceil     int    // len(buf): one past the last valid offset
	waiting  int64  // bytes staged since last submit
	enqueued int64  // bytes in the currently submitted write

	size int64 // total bytes ever accepted by stage()

	st        state
	inflight  []byte // the exact slice being written, for retry
	inflightN int64
	done      chan writeResult
}

type writeResult struct {
	n   int
	err error
}

// Open creates (or opens) path for writing and allocates its staging
// buffer. overwrite controls whether a pre-existing file is unlinked
// first (sidestepping permission/symlink issues) or causes an error.
func Open(path string, overwrite bool) (*Writer, error) {
	if overwrite {
		_ = os.Remove(path)
	}
	flags := os.O_CREATE | os.O_RDWR
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aiobuf: open %s: %w", path, err)
	}
	if err := f.Truncate(Capacity); err != nil {
		f.Close()
		return nil, fmt.Errorf("aiobuf: truncate %s: %w", path, err)
	}
	buf := mcache.Malloc(Capacity)
	return &Writer{
		f:    f,
		path: path,
		buf:  buf,
		ceil: Capacity,
		done: make(chan writeResult, 1),
	}, nil
}

// Size returns the number of bytes accepted by Stage so far (the
// stream's logical length, independent of how much has actually hit
// disk).
func (w *Writer) Size() int64 { return w.size }

// Stage copies p into the buffer at the current cursor, wrapping at
// ceil, and advances cursor. If too little room remains after copying
// to guarantee the next MTU-sized stage will fit, Stage blocks on
// forced submits until space is available, so it never fails for lack
// of room. It returns an error only when p is larger than the buffer
// or a submitted write fails.
func (w *Writer) Stage(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if len(p) > w.ceil {
		return fmt.Errorf("aiobuf: payload %d exceeds capacity %d", len(p), w.ceil)
	}

	reserve := len(p) - (w.ceil - w.cursor)
	if reserve > 0 {
		// wrap: write the tail portion, then the head portion
		copy(w.buf[w.cursor:w.ceil], p[:w.ceil-w.cursor])
		copy(w.buf[0:reserve], p[w.ceil-w.cursor:])
		w.cursor = reserve
	} else {
		copy(w.buf[w.cursor:w.cursor+len(p)], p)
		w.cursor += len(p)
	}
	w.waiting += int64(len(p))
	w.size += int64(len(p))

	// Force submits, soft-min-batch aside, until an MTU of headroom
	// is guaranteed for the next stage call.
	for w.enqueued+w.waiting > int64(w.ceil)-MTU {
		if _, err := w.trySubmit(true); err != nil {
			return err
		}
	}

	// Opportunistic submit once the soft minimum batch is reached, or
	// a wrap just happened (reserve > 0 means cursor wrapped this
	// call).
	if w.waiting >= MinBatch || reserve > 0 {
		if _, err := w.trySubmit(false); err != nil && !errors.Is(err, errInProgress) {
			return err
		}
	}
	return nil
}

var errInProgress = errors.New("aiobuf: write in progress")

// trySubmit is the state machine step used by Stage and Flush.
// force=false returns errInProgress immediately if a previous write
// hasn't completed; force=true waits for it.
func (w *Writer) trySubmit(force bool) (int64, error) {
	switch w.st {
	case inFlight, retrying:
		res, ok := w.poll(force)
		if !ok {
			return 0, errInProgress
		}
		if err := w.handleCompletion(res); err != nil {
			return 0, err
		}
	}

	if w.waiting == 0 || w.enqueued > 0 {
		return 0, nil
	}

	n := w.ceil - w.tail
	if int64(n) > w.waiting {
		n = int(w.waiting)
	}
	// Bytes move from waiting to enqueued the moment they're handed to
	// submit, not when the write eventually completes — otherwise
	// they'd be double-counted as both in-flight and still waiting
	// until the next completion arrives.
	w.waiting -= int64(n)
	w.submit(w.tail, n)
	if force {
		res := <-w.done
		if err := w.handleCompletion(res); err != nil {
			return 0, err
		}
		return int64(res.n), nil
	}
	return 0, nil
}

// poll checks (force=false) or waits for (force=true) the in-flight
// write's completion.
func (w *Writer) poll(force bool) (writeResult, bool) {
	if force {
		res := <-w.done
		return res, true
	}
	select {
	case res := <-w.done:
		return res, true
	default:
		return writeResult{}, false
	}
}

func (w *Writer) submit(off, n int) {
	w.st = inFlight
	w.enqueued = int64(n)
	w.inflight = w.buf[off : off+n]
	w.inflightN = int64(n)
	go func(f *os.File, b []byte, off int) {
		written, err := unix.Pwrite(int(f.Fd()), b, int64(off))
		w.done <- writeResult{n: written, err: err}
	}(w.f, w.inflight, off)
}

func (w *Writer) handleCompletion(res writeResult) error {
	if errors.Is(res.err, unix.EAGAIN) {
		w.st = retrying
		w.submit(w.tail, int(w.inflightN))
		return nil
	}
	if res.err != nil {
		w.st = idle
		return fmt.Errorf("aiobuf: write %s: %w", w.path, res.err)
	}
	if int64(res.n) != w.enqueued {
		w.st = idle
		return fmt.Errorf("%w: wrote %d of %d to %s", ErrShortWrite, res.n, w.enqueued, w.path)
	}

	w.tail += res.n
	if w.tail == w.ceil {
		w.tail = 0
	}
	// waiting was already debited when these bytes were submitted, not
	// now that they've completed — see trySubmit.
	w.enqueued = 0
	w.st = idle
	return nil
}

// Flush repeatedly force-submits until every staged byte has been
// confirmed written.
func (w *Writer) Flush() error {
	for w.waiting > 0 || w.enqueued > 0 {
		if _, err := w.trySubmit(true); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes remaining data, truncates the file to its real written
// size, and releases the staging buffer back to the pool.
func (w *Writer) Close() error {
	ferr := w.Flush()
	if err := w.f.Truncate(w.size); err != nil && ferr == nil {
		ferr = err
	}
	if err := w.f.Close(); err != nil && ferr == nil {
		ferr = err
	}
	mcache.Free(w.buf)
	w.buf = nil
	return ferr
}
