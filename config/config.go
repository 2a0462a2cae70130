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

// Package config is the engine's external-facing configuration surface:
// named listeners (one per bound address, paired with a protocol
// and demux behavior) and named upstreams (one per proxied destination,
// paired with mux pooling behavior). It loads through confengine's
// go-ucfg wrapper, exactly as cmd/agent.go loads the collector's config,
// then normalizes the duration fields go-ucfg hands back as strings.
package config

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/confengine"
)

// ListenerConfig describes one bound address the engine accepts inbound
// connections on.
type ListenerConfig struct {
	Name     string `config:"name"`
	Address  string `config:"address"`
	Protocol string `config:"protocol"`

	// OutputCount is the expected response count per inbound message,
	// forwarded to muxio.DemuxConfig.OutputCount. Most request/response
	// protocols leave this at 1 (the default when omitted and non-negative).
	OutputCount int `config:"output_count"`
	WaitOutput  bool `config:"wait_output"`

	ReadTimeout  string `config:"read_timeout"`
	WriteTimeout string `config:"write_timeout"`
	IdleTimeout  string `config:"idle_timeout"`
}

// Durations parses the listener's string timeout fields, defaulting an
// empty string to 0 (disabled).
func (l ListenerConfig) Durations() (read, write, idle time.Duration, err error) {
	var merr *multierror.Error
	read, e := parseDuration(l.ReadTimeout)
	if e != nil {
		merr = multierror.Append(merr, errors.Wrapf(e, "listener %s: read_timeout", l.Name))
	}
	write, e = parseDuration(l.WriteTimeout)
	if e != nil {
		merr = multierror.Append(merr, errors.Wrapf(e, "listener %s: write_timeout", l.Name))
	}
	idle, e = parseDuration(l.IdleTimeout)
	if e != nil {
		merr = multierror.Append(merr, errors.Wrapf(e, "listener %s: idle_timeout", l.Name))
	}
	return read, write, idle, merr.ErrorOrNil()
}

// UpstreamConfig describes one pooled destination the engine multiplexes
// outbound requests onto.
type UpstreamConfig struct {
	Name        string `config:"name"`
	Address     string `config:"address"`
	Protocol    string `config:"protocol"`
	Group       string `config:"group"`
	MaxStreams  int    `config:"max_streams"`
	IdleTimeout string `config:"idle_timeout"`
}

// IdleDuration parses the upstream's idle_timeout field.
func (u UpstreamConfig) IdleDuration() (time.Duration, error) {
	return parseDuration(u.IdleTimeout)
}

// Engine is the root of the engine's configuration tree.
type Engine struct {
	Listeners []ListenerConfig `config:"listeners"`
	Upstreams []UpstreamConfig `config:"upstreams"`
}

// Load reads and unpacks the engine configuration from a YAML file at
// path, identically to confengine.LoadConfigPath + Unpack elsewhere in
// the tree.
func Load(path string) (*Engine, error) {
	c, err := confengine.LoadConfigPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: load %s", path)
	}
	var e Engine
	if err := c.Unpack(&e); err != nil {
		return nil, errors.Wrap(err, "config: unpack")
	}
	return &e, nil
}

// Validate checks every listener/upstream's duration fields parse and
// that names are unique, aggregating every problem found rather than
// stopping at the first.
func (e *Engine) Validate() error {
	var merr *multierror.Error
	seen := make(map[string]bool, len(e.Listeners))
	for _, l := range e.Listeners {
		if seen[l.Name] {
			merr = multierror.Append(merr, errors.Errorf("duplicate listener name %q", l.Name))
		}
		seen[l.Name] = true
		if _, _, _, err := l.Durations(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	seen = make(map[string]bool, len(e.Upstreams))
	for _, u := range e.Upstreams {
		if seen[u.Name] {
			merr = multierror.Append(merr, errors.Errorf("duplicate upstream name %q", u.Name))
		}
		seen[u.Name] = true
		if _, err := u.IdleDuration(); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "upstream %s: idle_timeout", u.Name))
		}
	}
	return merr.ErrorOrNil()
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
