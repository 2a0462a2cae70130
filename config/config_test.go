// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
listeners:
  - name: http-in
    address: ":8080"
    protocol: http1
    output_count: 1
    read_timeout: 30s
    idle_timeout: 2m
upstreams:
  - name: backend
    address: "10.0.0.1:8080"
    max_streams: 4
    idle_timeout: 90s
`

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Listeners, 1)
	read, _, idle, err := cfg.Listeners[0].Durations()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, read)
	require.Equal(t, 2*time.Minute, idle)

	require.Len(t, cfg.Upstreams, 1)
	upIdle, err := cfg.Upstreams[0].IdleDuration()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, upIdle)
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	e := &Engine{
		Listeners: []ListenerConfig{
			{Name: "dup", Address: ":1"},
			{Name: "dup", Address: ":2"},
		},
	}
	err := e.Validate()
	require.Error(t, err)
}

func TestValidateRejectsBadDuration(t *testing.T) {
	e := &Engine{
		Listeners: []ListenerConfig{
			{Name: "bad", Address: ":1", ReadTimeout: "not-a-duration"},
		},
	}
	err := e.Validate()
	require.Error(t, err)
}
