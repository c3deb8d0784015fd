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

package tespkt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTick builds a minimal valid tick frame: 24-byte header + 24-byte
// tick body (esize=3 8-byte units -> 24 bytes).
func buildTick(fseq, pseq uint16) []byte {
	b := make([]byte, HdrLen+TickHdrLen)
	binary.BigEndian.PutUint16(b[12:14], EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 3) // esize
	b[23] = 1 << 1                             // T bit set
	return b
}

func buildPeak(fseq, pseq uint16) []byte {
	b := make([]byte, HdrLen+PeakHdrLen)
	binary.BigEndian.PutUint16(b[12:14], EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 1) // esize
	// PKT=TypePeak(0), T=0 -> byte23 all zero
	return b
}

func TestFrameHeaderFields(t *testing.T) {
	b := buildTick(42, 0)
	f := New(b)
	require.EqualValues(t, len(b), f.FLen())
	require.EqualValues(t, 42, f.FSeq())
	require.True(t, f.IsHeader())
	require.True(t, f.IsEvent())
	require.True(t, f.IsTick())
	require.False(t, f.IsMCA())
}

func TestPeakPredicates(t *testing.T) {
	f := New(buildPeak(1, 0))
	require.True(t, f.IsPeak())
	require.False(t, f.IsTick())
	require.False(t, f.IsTrace())
}

func TestValidateTick(t *testing.T) {
	f := New(buildTick(1, 0))
	require.Zero(t, Validate(f, MCASizeFromLastBin))
}

func TestValidateBadEtherType(t *testing.T) {
	b := buildTick(1, 0)
	binary.BigEndian.PutUint16(b[12:14], 0x1234)
	f := New(b)
	require.NotZero(t, Validate(f, MCASizeFromLastBin)&EEthType)
}

func TestValidateBadEventSize(t *testing.T) {
	b := buildTick(1, 0)
	binary.LittleEndian.PutUint16(b[20:22], 5) // wrong esize for tick
	f := New(b)
	require.NotZero(t, Validate(f, MCASizeFromLastBin)&EEvtSize)
}

func TestErrStrings(t *testing.T) {
	e := EEthType | EMCABins
	ss := e.Strings()
	require.Len(t, ss, 2)
	require.Contains(t, ss, "invalid ether type")
	require.Contains(t, ss, "invalid bin number in histogram")
}
