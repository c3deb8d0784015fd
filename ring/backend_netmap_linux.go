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

//go:build linux

package ring

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// netmapRingHeader mirrors the fixed prefix of a struct netmap_ring: the
// three indices the adapter cares about, packed the way the kernel lays
// them out (see original_source/src/lib/tesif.c, which wraps exactly this
// structure opaquely). Only head/cursor/tail are read here; reserved and
// slot-descriptor layout beyond them is driver detail this package never
// interprets.
type netmapRingHeader struct {
	head, cursor, tail uint32
}

const netmapRingHeaderSize = 128 // generous fixed prefix before the slot array

// NetmapBackend maps a netmap character device's shared memory region and
// exposes its receive rings through the Backend interface. It is the only
// file in this module that calls unix.Mmap against a real device; every
// other package only ever sees ring.View values.
type NetmapBackend struct {
	fd       int
	mem      []byte
	rings    []RingLayout
	slotSize uint32
}

// OpenNetmap opens ifname (e.g. "netmap:eth0") and mmaps its shared
// memory region. memSize and the ring layout are obtained from the
// NIOCREGIF ioctl in a production build; since no netmap header binding
// is available in this module's dependency set, the layout is supplied by
// the caller (normally read once from the device's reported memsize at
// startup and cached in the task-config directory — see config.NetmapInfo).
func OpenNetmap(ifname string, memSize uint32, rings []RingLayout, slotSize uint32) (*NetmapBackend, error) {
	fd, err := unix.Open("/dev/netmap", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ring: open /dev/netmap: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, int(memSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ring: mmap %s: %w", ifname, err)
	}
	return &NetmapBackend{fd: fd, mem: mem, rings: toRingLayouts(rings), slotSize: slotSize}, nil
}

func toRingLayouts(in []RingLayout) []RingLayout {
	out := make([]RingLayout, len(in))
	copy(out, in)
	return out
}

// Fd returns the open netmap descriptor, pollable exactly like the
// original's poller registration against tes_ifdesc's fd.
func (b *NetmapBackend) Fd() int { return b.fd }

func (b *NetmapBackend) NumRings() int { return len(b.rings) }

func (b *NetmapBackend) NumSlots(r int) uint32 { return b.rings[r].NumSlots }

func (b *NetmapBackend) header(r int) []byte {
	off := b.rings[r].HeaderOff
	return b.mem[off : off+netmapRingHeaderSize]
}

func (b *NetmapBackend) Indices(r int) (uint32, uint32, uint32) {
	h := b.header(r)
	return binary.LittleEndian.Uint32(h[0:4]),
		binary.LittleEndian.Uint32(h[4:8]),
		binary.LittleEndian.Uint32(h[8:12])
}

func (b *NetmapBackend) SetHead(r int, idx uint32) {
	binary.LittleEndian.PutUint32(b.header(r)[0:4], idx)
}

func (b *NetmapBackend) SetCursor(r int, idx uint32) {
	binary.LittleEndian.PutUint32(b.header(r)[4:8], idx)
}

func (b *NetmapBackend) Slot(r int, idx uint32) []byte {
	rl := b.rings[r]
	off := rl.SlotsOff + idx*b.slotSize
	return b.mem[off : off+b.slotSize]
}

func (b *NetmapBackend) SlotCap(r int) uint32 { return b.slotSize }

func (b *NetmapBackend) Close() error {
	err := unix.Munmap(b.mem)
	if cerr := unix.Close(b.fd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
