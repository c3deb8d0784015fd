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

package daemonize

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveTimeoutDefaultsToThreeSeconds(t *testing.T) {
	require.Equal(t, 3*time.Second, resolveTimeout(0))
}

func TestResolveTimeoutNegativeMeansForever(t *testing.T) {
	require.Equal(t, -time.Second, resolveTimeout(-time.Second))
}

func TestResolveTimeoutHonorsConfiguredValue(t *testing.T) {
	require.Equal(t, 5*time.Second, resolveTimeout(5*time.Second))
}

func TestWritePIDFileWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tesd.pid")
	err := writePIDFile(path)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(contents))
}

func TestWritePIDFileSkippedWhenPathEmpty(t *testing.T) {
	require.NoError(t, writePIDFile(""))
}

func TestNotifyWithoutParentIsANoOp(t *testing.T) {
	require.NotPanics(t, func() {
		Notify(nil)
	})
}
