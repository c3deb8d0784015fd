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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	f, err := ParseFlags("tesd", nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfDir, f.ConfDir)
	require.Equal(t, DefaultPIDFile, f.PIDFile)
	require.Equal(t, DefaultIfName, f.IfName)
	require.False(t, f.Foreground)
	require.Equal(t, time.Duration(0), f.StatPeriod)
}

func TestParseFlagsForegroundDefaultsStatPeriod(t *testing.T) {
	f, err := ParseFlags("tesd", []string{"-f"})
	require.NoError(t, err)
	require.True(t, f.Foreground)
	require.Equal(t, DefaultStatPeriod, f.StatPeriod)
}

func TestParseFlagsExplicitStatPeriodOverrides(t *testing.T) {
	f, err := ParseFlags("tesd", []string{"-U", "30"})
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, f.StatPeriod)
}

func TestParseFlagsNormalizesConfDirTrailingSlash(t *testing.T) {
	f, err := ParseFlags("tesd", []string{"-c", "/tmp/tescfg"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/tescfg/", f.ConfDir)
}

func TestParseFlagsEmptyPIDFileDisablesIt(t *testing.T) {
	f, err := ParseFlags("tesd", []string{"-p", ""})
	require.NoError(t, err)
	require.Empty(t, f.PIDFile)
}

func TestValidateRejectsNegativeUID(t *testing.T) {
	f := &Flags{ConfDir: "/x/", UID: -1}
	require.Error(t, f.Validate())
}

func TestValidateAcceptsZeroValues(t *testing.T) {
	f := &Flags{ConfDir: "/x/"}
	require.NoError(t, f.Validate())
}
