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

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEarlierID(t *testing.T) {
	v := View{Head: 10, NumSlots: 16}
	require.True(t, v.EarlierID(10, 12))
	require.False(t, v.EarlierID(12, 10))
	// opposite sides of head: wrapped id (5, before head) is later than
	// a non-wrapped id (14) unless reversed by the "different sides"
	// rule, which inverts comparison.
	require.True(t, v.EarlierID(14, 5))
	require.False(t, v.EarlierID(5, 14))
	require.False(t, v.EarlierID(7, 7))
}

func TestPendingDoneTotal(t *testing.T) {
	v := View{Head: 2, Cursor: 5, Tail: 9, NumSlots: 16}
	require.EqualValues(t, 4, v.Pending())
	require.EqualValues(t, 3, v.Done())
	require.EqualValues(t, 7, v.Total())
}

func TestSetCursorRejectsHang(t *testing.T) {
	b := NewMemBackend(1, 16, 64)
	m := NewManager(b)
	b.SetHead(0, 2)
	b.SetCursor(0, 2)
	b.tail[0] = 9

	require.NoError(t, m.SetCursor(0, 2))
	require.NoError(t, m.SetCursor(0, 9))
	require.Error(t, m.SetCursor(0, 5))
}

func TestFollowingWraps(t *testing.T) {
	b := NewMemBackend(1, 4, 64)
	m := NewManager(b)
	next, err := m.Following(0, 3)
	require.NoError(t, err)
	require.EqualValues(t, 0, next)
}
