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

// Package muxio implements the multiplexer/demultiplexer machinery:
// packing many logical streams onto one transport (Mux, client side)
// and dispatching one transport's inbound messages to per-message
// sub-pipelines while preserving strict response order
// (Demux, server side). It generalizes a connection pool's FIFO
// request/response matching idiom (there, matching one request to one
// response; here, queuing N in-flight and draining in order), with
// session-pool idle sweeps driven by internal/ticker instead of a
// dedicated TTL cache.
package muxio

import (
	"container/list"
	"sync"

	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

// DemuxConfig configures a Demux instance.
type DemuxConfig struct {
	// OutputCount is how many complete response messages a request is
	// expected to produce; 0 means fire-and-forget. Ignored if
	// OutputCountFunc is set.
	OutputCount int
	// OutputCountFunc overrides OutputCount per request, inspecting the
	// inbound MessageStart head.
	OutputCountFunc func(head *event.Head) int
	// WaitOutput defers accepting the next inbound message until the
	// current one has finished responding (degenerate serialization),
	// re-expressing the source's negative-output_count convention.
	WaitOutput bool
	// MaxQueue bounds in-flight receivers; 0 means unbounded.
	MaxQueue int
}

// CreateSubPipeline instantiates a fresh sub-pipeline per inbound message,
// wiring its output to the given Receiver (the Demux's own collection
// sink for that receiver).
type CreateSubPipeline func(head *event.Head, out filter.Receiver) *filter.Pipeline

// receiver is the per-inbound-message bookkeeping record: which
// sub-pipeline to forward to, how many responses are still owed, and a
// buffer of already-produced-but-not-yet-forwardable events.
type receiver struct {
	pipeline    *filter.Pipeline
	outputCount int
	waitOutput  bool
	buffered    []event.Event
	ended       bool // inbound MessageEnd observed (transport side done writing to it)
}

// Demux accepts a sequence of inbound messages on a single transport and
// dispatches each to a newly instantiated sub-pipeline, forwarding
// outbound responses from those sub-pipelines back onto the transport in
// strict inbound order.
type Demux struct {
	cfg    DemuxConfig
	create CreateSubPipeline
	out    filter.Receiver

	mu      sync.Mutex
	queue   *list.List // of *receiver, FIFO, head = oldest still-owed
	current *receiver  // receiver currently receiving inbound Data/MessageEnd
	tapOpen bool

	upgraded   bool
	upgradeOut filter.Receiver
}

// New creates a Demux forwarding completed responses to out.
func New(cfg DemuxConfig, create CreateSubPipeline, out filter.Receiver) *Demux {
	return &Demux{cfg: cfg, create: create, out: out, queue: list.New(), tapOpen: true}
}

// TapOpen reports whether the Demux is currently accepting new inbound
// MessageStart events (false while WaitOutput is blocking on a
// still-in-flight head-of-queue receiver, or the queue is at MaxQueue).
func (d *Demux) TapOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tapOpen
}

// Accept feeds one inbound event from the transport into the Demux.
func (d *Demux) Accept(e event.Event) {
	d.mu.Lock()
	if d.upgraded {
		out := d.upgradeOut
		d.mu.Unlock()
		out.Accept(e)
		return
	}

	switch e.Kind {
	case event.KindMessageStart:
		r := &receiver{outputCount: d.outputCountFor(e.Head), waitOutput: d.cfg.WaitOutput}
		elem := d.queue.PushBack(r)
		if r.outputCount <= 0 && d.queue.Front() == elem {
			// fire-and-forget at the head owes nothing; don't let it
			// hold up the receivers queued behind it
			d.queue.Remove(elem)
		}
		d.current = r
		d.updateTapLocked()
		d.mu.Unlock()

		rElem := elem
		r.pipeline = d.create(e.Head, receiverSink{d: d, elem: rElem})
		r.pipeline.Accept(e)
		return

	case event.KindData, event.KindMessageEnd:
		cur := d.current
		if e.Kind == event.KindMessageEnd {
			d.current = nil
		}
		d.mu.Unlock()
		if cur != nil && cur.pipeline != nil {
			cur.pipeline.Accept(e)
		}
		return

	case event.KindStreamEnd:
		d.mu.Unlock()
		d.out.Accept(e)
		return
	}
	d.mu.Unlock()
}

func (d *Demux) outputCountFor(head *event.Head) int {
	if d.cfg.OutputCountFunc != nil {
		return d.cfg.OutputCountFunc(head)
	}
	return d.cfg.OutputCount
}

// updateTapLocked recomputes whether new inbound MessageStart events
// should be accepted, per WaitOutput and MaxQueue.
func (d *Demux) updateTapLocked() {
	open := true
	if d.cfg.MaxQueue > 0 && d.queue.Len() >= d.cfg.MaxQueue {
		open = false
	}
	if d.cfg.WaitOutput && d.queue.Len() > 0 {
		// a request is still owed its responses; hold the next one
		open = false
	}
	d.tapOpen = open
}

// receiverSink is the Receiver a sub-pipeline's output chain terminates
// in; it routes the sub-pipeline's emitted events back into the Demux's
// ordering machinery.
type receiverSink struct {
	d    *Demux
	elem *list.Element
}

func (s receiverSink) Accept(e event.Event) {
	s.d.onSubOutput(s.elem, e)
}

// onSubOutput handles one event emitted by a sub-pipeline: forward
// immediately if this receiver is at the head of the queue, otherwise
// buffer it until earlier receivers drain.
func (d *Demux) onSubOutput(elem *list.Element, e event.Event) {
	d.mu.Lock()
	r := elem.Value.(*receiver)

	if e.Kind == event.KindMessageEnd {
		r.outputCount--
	}

	atHead := d.queue.Front() == elem
	if !atHead {
		r.buffered = append(r.buffered, e)
		d.mu.Unlock()
		return
	}

	// At head: forward this event now, then drain as many complete
	// trailing receivers as have become forwardable.
	toForward := []event.Event{e}
	if r.outputCount <= 0 && e.Kind == event.KindMessageEnd {
		d.queue.Remove(elem)
		toForward = append(toForward, d.drainHeadLocked()...)
		d.updateTapLocked()
	}
	d.mu.Unlock()

	for _, out := range toForward {
		d.out.Accept(out)
	}
}

// drainHeadLocked pops and flushes every subsequent receiver's buffered
// events for as long as they are themselves already complete
// (outputCount<=0), returning the flattened event list in order. Must be
// called with d.mu held; the caller forwards the returned events after
// releasing the lock.
func (d *Demux) drainHeadLocked() []event.Event {
	var out []event.Event
	for {
		front := d.queue.Front()
		if front == nil {
			return out
		}
		r := front.Value.(*receiver)
		if r.outputCount > 0 {
			// still owed more responses; flush what's buffered so far
			// but leave it at the head, where its later events are
			// forwarded as they arrive.
			out = append(out, r.buffered...)
			r.buffered = nil
			return out
		}
		out = append(out, r.buffered...)
		r.buffered = nil
		d.queue.Remove(front)
	}
}

// Upgrade dedicates the transport to a single sub-pipeline from this
// point forward (tunnel/protocol-upgrade mode): all queueing and
// ordering machinery is retired and subsequent events flow transparently.
func (d *Demux) Upgrade(out filter.Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upgraded = true
	d.upgradeOut = out
	d.queue.Init()
	d.current = nil
}

// QueueDepth reports the number of in-flight receivers, mostly for tests
// and metrics.
func (d *Demux) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}
