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

// Package ring gives an opaque, typed view over a kernel-bypass NIC's
// receive rings: fixed-size circular buffer sets with head/cursor/tail
// indices under mod num_slots. Only a Manager may move head or cursor;
// everyone else gets read-only Views and index-ordering predicates.
package ring

import (
	"errors"
	"fmt"
)

// ErrCursorWouldHang is returned by SetCursor when the requested position
// would place the cursor strictly between head and tail, which would make
// the underlying poll() block forever: the tail can never reach a cursor
// that sits behind it without passing through head first.
var ErrCursorWouldHang = errors.New("ring: cursor would be placed between head and tail")

// ErrNoSuchRing is returned for an out-of-range ring index.
var ErrNoSuchRing = errors.New("ring: no such ring index")

// RingLayout describes one receive ring's placement within a mapped
// netmap memory region: the header's offset, where its slot array
// begins, and how many slots it holds. Kept platform-independent (no
// build tag) so callers outside this package, such as config's cached
// netmap geometry, can reference it regardless of target OS.
type RingLayout struct {
	HeaderOff uint32
	SlotsOff  uint32
	NumSlots  uint32
}

// View is a snapshot of one ring's three indices, all already reduced
// mod NumSlots. It is a value type: copying it is always safe, and taking
// one does not block the coordinator.
type View struct {
	Head     uint32
	Cursor   uint32
	Tail     uint32
	NumSlots uint32
}

// Pending is the number of slots between Cursor and Tail: populated, not
// yet past the cursor driving the next wakeup.
func (v View) Pending() uint32 {
	return v.sub(v.Tail, v.Cursor)
}

// Done is the number of slots between Head and Cursor: already woken up
// on, not yet reclaimed.
func (v View) Done() uint32 {
	return v.sub(v.Cursor, v.Head)
}

// Total is the number of slots between Head and Tail: everything not yet
// reclaimed by the manager.
func (v View) Total() uint32 {
	return v.sub(v.Tail, v.Head)
}

func (v View) sub(a, b uint32) uint32 {
	if v.NumSlots == 0 {
		return 0
	}
	return (a - b + v.NumSlots) % v.NumSlots
}

// EarlierID reports whether slot id a was populated before slot id b,
// using v.Head as the reference point: ids on the same side of Head are
// ordered directly, ids on opposite sides are ordered in reverse (the one
// further from wrapping is earlier).
func (v View) EarlierID(a, b uint32) bool {
	return earlierID(v.Head, a, b, v.NumSlots)
}

// LaterID reports whether slot id a was populated after b: true when b
// is earlier than a, false when the ids are equal.
func (v View) LaterID(a, b uint32) bool {
	return !v.EarlierID(a, b) && a != b
}

func earlierID(head, a, b, numSlots uint32) bool {
	if a == b {
		return false
	}
	aSide := a >= head
	bSide := b >= head
	if aSide == bSide {
		return a < b
	}
	return a > b
}

// Backend is the one module in the core allowed to understand the
// underlying kernel-bypass driver. It supplies raw ring geometry and
// buffer access; Manager builds the safe, opaque API on top of it.
type Backend interface {
	// NumRings returns how many receive rings this interface exposes.
	NumRings() int
	// NumSlots returns the slot count of ring r (constant for the
	// lifetime of the descriptor).
	NumSlots(r int) uint32
	// Indices returns the raw head/cursor/tail of ring r as currently
	// published by the driver.
	Indices(r int) (head, cursor, tail uint32)
	// SetHead moves ring r's head to idx (mod NumSlots); it never
	// validates against tail/cursor — callers go through Manager for
	// that.
	SetHead(r int, idx uint32)
	// SetCursor moves ring r's cursor to idx, unblocking poll up to
	// that slot.
	SetCursor(r int, idx uint32)
	// Slot returns the populated byte slice for ring r, buffer index
	// idx. The slice aliases driver memory and is only valid until the
	// slot is reclaimed (head advances past it).
	Slot(r int, idx uint32) []byte
	// SlotCap returns the capacity in bytes of ring r's buffer slots.
	SlotCap(r int) uint32
	// Close releases any OS resources (mmap regions, descriptors).
	Close() error
}

// Manager is the ring substrate adapter: the only module that may move a
// ring's head or cursor. Everyone else reads through View/Slot.
type Manager struct {
	backend Backend
}

// NewManager wraps backend with the safe adapter API.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// NumRings returns the number of receive rings.
func (m *Manager) NumRings() int {
	return m.backend.NumRings()
}

// View returns a snapshot of ring r's indices.
func (m *Manager) View(r int) (View, error) {
	if r < 0 || r >= m.backend.NumRings() {
		return View{}, fmt.Errorf("%w: %d", ErrNoSuchRing, r)
	}
	head, cursor, tail := m.backend.Indices(r)
	return View{
		Head:     head,
		Cursor:   cursor,
		Tail:     tail,
		NumSlots: m.backend.NumSlots(r),
	}, nil
}

// Slot returns the frame bytes at buffer index idx of ring r. The
// returned slice is only valid until idx is reclaimed.
func (m *Manager) Slot(r int, idx uint32) ([]byte, error) {
	if r < 0 || r >= m.backend.NumRings() {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchRing, r)
	}
	return m.backend.Slot(r, idx), nil
}

// SlotCap returns the slot capacity in bytes for ring r.
func (m *Manager) SlotCap(r int) (uint32, error) {
	if r < 0 || r >= m.backend.NumRings() {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchRing, r)
	}
	return m.backend.SlotCap(r), nil
}

// Following returns the next buffer index after idx on ring r, wrapping
// at NumSlots.
func (m *Manager) Following(r int, idx uint32) (uint32, error) {
	n := m.backend.NumSlots(r)
	if n == 0 {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchRing, r)
	}
	idx++
	if idx == n {
		idx = 0
	}
	return idx, nil
}

// SetHead reclaims every slot before idx on ring r. Only the coordinator
// calls this, once per wakeup cycle, after every active task has reported
// its own private head.
func (m *Manager) SetHead(r int, idx uint32) error {
	if r < 0 || r >= m.backend.NumRings() {
		return fmt.Errorf("%w: %d", ErrNoSuchRing, r)
	}
	m.backend.SetHead(r, idx)
	return nil
}

// SetCursor moves ring r's cursor, refusing any value that would place it
// strictly between head and tail (which would hang poll forever).
func (m *Manager) SetCursor(r int, idx uint32) error {
	v, err := m.View(r)
	if err != nil {
		return err
	}
	if v.Head != v.Tail {
		// cursor must not land in (head, tail) exclusive-exclusive,
		// measured the same head-relative way as Pending/Done.
		doneAtIdx := v.sub(idx, v.Head)
		total := v.Total()
		if doneAtIdx > 0 && doneAtIdx < total {
			return fmt.Errorf("%w: ring %d idx %d head %d tail %d",
				ErrCursorWouldHang, r, idx, v.Head, v.Tail)
		}
	}
	m.backend.SetCursor(r, idx)
	return nil
}

// Close releases the backend's OS resources.
func (m *Manager) Close() error {
	return m.backend.Close()
}
