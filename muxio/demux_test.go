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

package muxio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

// collector records events handed to it, in arrival order.
type collector struct {
	events []event.Event
}

func (c *collector) Accept(e event.Event) { c.events = append(c.events, e) }

// swallowFilter consumes every inbound event without re-emitting it, so a
// sub-pipeline built from it never echoes the request back as if it were
// a response; the test drives responses itself via the receiver sink.
type swallowFilter struct{}

func (swallowFilter) Accept(_ *filter.Context, _ event.Event, _ filter.Receiver) {}
func (swallowFilter) Reset()                                                    {}

func swallowLayout() *filter.PipelineLayout {
	return filter.NewLayout("swallow").Append(func() filter.Filter { return swallowFilter{} })
}

// manualSub lets a test answer a sub-pipeline's inbound message on its own
// schedule, independent of request arrival order.
type manualSub struct {
	out filter.Receiver
}

func (m *manualSub) finish(streamID uint32) {
	m.out.Accept(event.MessageStart(streamID, &event.Head{Protocol: "test"}))
	m.out.Accept(event.MessageEnd(streamID, nil))
}

// TestDemuxPreservesStrictInboundOrder is scenario #4 from the ordering
// contract: three requests arrive back-to-back; the third's sub-pipeline
// answers first, the second answers last. Demux must still emit responses
// in request order 1, 2, 3.
func TestDemuxPreservesStrictInboundOrder(t *testing.T) {
	out := &collector{}
	var subs []*manualSub

	create := func(head *event.Head, sink filter.Receiver) *filter.Pipeline {
		p := swallowLayout().Instantiate(sink)
		subs = append(subs, &manualSub{out: sink})
		return p
	}

	d := New(DemuxConfig{OutputCount: 1}, create, out)

	for i := uint32(1); i <= 3; i++ {
		d.Accept(event.MessageStart(0, &event.Head{Protocol: "test"}))
		d.Accept(event.MessageEnd(0, nil))
	}
	require.Len(t, subs, 3)
	require.Equal(t, 3, d.QueueDepth())

	// Answer out of order: 3rd, then 1st, then 2nd.
	subs[2].finish(3)
	subs[0].finish(1)
	subs[1].finish(2)

	require.Equal(t, 0, d.QueueDepth())
	require.Len(t, out.events, 6)
	require.Equal(t, uint32(1), out.events[0].StreamID)
	require.Equal(t, uint32(1), out.events[1].StreamID)
	require.Equal(t, uint32(2), out.events[2].StreamID)
	require.Equal(t, uint32(2), out.events[3].StreamID)
	require.Equal(t, uint32(3), out.events[4].StreamID)
	require.Equal(t, uint32(3), out.events[5].StreamID)
}

// TestDemuxHeadOfQueueForwardsImmediately checks that the head-of-queue
// receiver's events reach out() as soon as they're produced rather than
// waiting for the whole response to complete.
func TestDemuxHeadOfQueueForwardsImmediately(t *testing.T) {
	out := &collector{}
	create := func(head *event.Head, sink filter.Receiver) *filter.Pipeline {
		return swallowLayout().Instantiate(sink)
	}
	d := New(DemuxConfig{OutputCount: 1}, create, out)

	d.Accept(event.MessageStart(0, &event.Head{Protocol: "test"}))
	d.Accept(event.MessageEnd(0, nil))
	require.Equal(t, 1, d.QueueDepth())

	front := d.queue.Front()
	sink := receiverSink{d: d, elem: front}
	sink.Accept(event.MessageStart(1, &event.Head{}))
	require.Len(t, out.events, 1, "head-of-queue event forwarded immediately, not buffered")
	require.Equal(t, 1, d.QueueDepth(), "receiver still owed one MessageEnd")
}

// TestDemuxWaitOutputClosesTap checks that WaitOutput stops admitting new
// MessageStart events until the in-flight one finishes.
func TestDemuxWaitOutputClosesTap(t *testing.T) {
	out := &collector{}
	create := func(head *event.Head, sink filter.Receiver) *filter.Pipeline {
		return swallowLayout().Instantiate(sink)
	}
	d := New(DemuxConfig{OutputCount: 1, WaitOutput: true}, create, out)

	d.Accept(event.MessageStart(0, &event.Head{Protocol: "test"}))
	d.Accept(event.MessageEnd(0, nil))
	require.False(t, d.TapOpen(), "an in-flight request closes the tap")

	d.Accept(event.MessageStart(0, &event.Head{Protocol: "test"}))
	d.Accept(event.MessageEnd(0, nil))
	require.False(t, d.TapOpen(), "a second in-flight request closes the tap")
}
