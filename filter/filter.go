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

// Package filter implements the filter contract, pipeline chaining, and
// sub-pipeline instantiation described by the engine's dataflow model.
// It plays the role processor/processor.go plays for *common.Record, but
// for event.Event, with an explicit PipelineLayout blueprint/Pipeline
// instance split to support nesting a processor chain inside another.
package filter

import (
	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/event"
)

// Receiver is anything that can accept an Event — the next filter's
// input, or an externally supplied consumer at the tail of a Pipeline.
type Receiver interface {
	Accept(e event.Event)
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(e event.Event)

func (f ReceiverFunc) Accept(e event.Event) { f(e) }

// Filter is a stateful unit that consumes events on its input and emits
// events on its output. Implementations must never emit events after
// receiving a StreamEnd on the same logical stream, and must never panic
// across the filter boundary — report failures as event.StreamEnd instead.
type Filter interface {
	// Accept processes one inbound event, emitting zero or more events to
	// out. ctx gives access to the owning Pipeline for sub-pipeline
	// lookups and shared state.
	Accept(ctx *Context, e event.Event, out Receiver)

	// Reset is called when the owning Pipeline is returned to a pool for
	// reuse. Implementations must ensure no pending callback outlives
	// Reset and must drop any held references to input events.
	Reset()
}

// Prototype creates a fresh Filter instance; PipelineLayout clones its
// prototypes through this factory once per live Pipeline.
type Prototype func() Filter

// ErrResetWhilePending is returned by Pipeline.Reset when a filter claims
// it still has a pending async callback outstanding — a reset-contract
// violation.
var ErrResetWhilePending = errors.New("filter: reset requested while a callback is still pending")

// Pending is optionally implemented by a Filter that wants Pipeline.Reset
// to fail loudly instead of silently resetting mid-flight state.
type Pending interface {
	HasPendingCallback() bool
}
