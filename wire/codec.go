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

// Package wire implements the byte-level envelope every REQ/REP and
// publish endpoint speaks. The original used ZeroMQ REQ/REP and XPUB
// sockets with libzmq's own multipart framing; no ZeroMQ binding is
// available here, so every endpoint is a plain TCP listener and this
// package supplies the header-then-payload split that libzmq framing
// would otherwise have given for free — modeled on the
// decode-then-fields approach used by length-prefixed wire protocols
// like ttheader.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder writes little-endian primitive and length-prefixed fields to
// an underlying io.Writer, one field at a time, matching the PIC-derived
// struct field lists in original_source/include/api.h.
type Encoder struct {
	w   io.Writer
	err error
	tmp [8]byte
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// Err returns the first error encountered by any Write* call.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

// WriteUint8 writes a single byte.
func (e *Encoder) WriteUint8(v uint8) *Encoder {
	e.tmp[0] = v
	e.write(e.tmp[:1])
	return e
}

// WriteUint32 writes a little-endian uint32.
func (e *Encoder) WriteUint32(v uint32) *Encoder {
	binary.LittleEndian.PutUint32(e.tmp[:4], v)
	e.write(e.tmp[:4])
	return e
}

// WriteUint64 writes a little-endian uint64.
func (e *Encoder) WriteUint64(v uint64) *Encoder {
	binary.LittleEndian.PutUint64(e.tmp[:8], v)
	e.write(e.tmp[:8])
	return e
}

// WriteString writes s as a uint32 length prefix followed by its bytes.
func (e *Encoder) WriteString(s string) *Encoder {
	e.WriteUint32(uint32(len(s)))
	e.write([]byte(s))
	return e
}

// WriteBytes writes b as a uint32 length prefix followed by its bytes.
func (e *Encoder) WriteBytes(b []byte) *Encoder {
	e.WriteUint32(uint32(len(b)))
	e.write(b)
	return e
}

// Decoder is the read-side counterpart of Encoder.
type Decoder struct {
	r   io.Reader
	err error
	tmp [8]byte
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// Err returns the first error encountered by any Read* call.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	if _, err := io.ReadFull(d.r, d.tmp[:n]); err != nil {
		d.err = err
		return nil
	}
	return d.tmp[:n]
}

// ReadUint8 reads a single byte.
func (d *Decoder) ReadUint8() uint8 {
	b := d.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadUint32 reads a little-endian uint32.
func (d *Decoder) ReadUint32() uint32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadUint64 reads a little-endian uint64.
func (d *Decoder) ReadUint64() uint64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// MaxFieldLen bounds any length-prefixed field this package will ever
// allocate for, guarding against a malformed request claiming an
// absurd length.
const MaxFieldLen = 1 << 20

// ErrFieldTooLong is returned by ReadString/ReadBytes when a
// length-prefix exceeds MaxFieldLen.
var ErrFieldTooLong = fmt.Errorf("wire: length-prefixed field exceeds %d bytes", MaxFieldLen)

// ReadString reads a uint32 length prefix and that many bytes as a
// string.
func (d *Decoder) ReadString() string {
	b := d.ReadBytes()
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadBytes reads a uint32 length prefix and that many raw bytes into a
// freshly allocated slice owned by the caller.
func (d *Decoder) ReadBytes() []byte {
	if d.err != nil {
		return nil
	}
	n := d.ReadUint32()
	if d.err != nil {
		return nil
	}
	if n > MaxFieldLen {
		d.err = ErrFieldTooLong
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.err = err
		return nil
	}
	return buf
}
