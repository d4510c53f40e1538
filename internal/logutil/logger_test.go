// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"bytes"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in       string
		expected logger.LogLevel
	}{
		{"debug", logger.DEBUG},
		{"INFO", logger.INFO},
		{"warn", logger.WARNING},
		{"Warning", logger.WARNING},
		{"error", logger.ERROR},
	}
	for _, c := range testCases {
		t.Run(c.in, func(t *testing.T) {
			lvl, err := ParseLevel(c.in)
			require.NoError(t, err)
			require.Equal(t, c.expected, lvl)
		})
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestLineLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	l := CreateLogger("hv")
	l.Debugf("hidden %d", 1)
	require.Empty(t, buf.String())

	l.Warningf("shown %d", 2)
	require.Contains(t, buf.String(), "WARN  | hv         | shown 2")

	buf.Reset()
	l.SetLevel(logger.ERROR)
	l.Infof("hidden")
	l.Warningf("hidden")
	require.Empty(t, buf.String())
	l.Errorf("boom")
	require.Contains(t, buf.String(), "ERROR | hv         | boom")
}
