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

package filter

import (
	"sync"

	"github.com/fluxgate/fluxd/event"
)

// ChildRef identifies a sub-pipeline layout a filter requested via
// Context.SubPipeline(index, share). Filters reference their children by
// small integer index, assigned in the order they're declared.
type ChildRef struct {
	Layout *PipelineLayout
	Share  bool
}

// PipelineLayout is a blueprint: an ordered list of filter prototypes plus
// a set of child layouts, mirroring pipeline/pipeline.go's Config{Name,
// Processors} shape but holding live Prototype funcs instead of string
// names resolved through a registry lookup at Range time — the engine
// resolves registration once, at layout-build time, not per event.
type PipelineLayout struct {
	Name       string
	prototypes []Prototype
	children   []*PipelineLayout
}

// NewLayout creates an empty, named PipelineLayout.
func NewLayout(name string) *PipelineLayout {
	return &PipelineLayout{Name: name}
}

// Append adds a filter prototype to the end of the chain.
func (l *PipelineLayout) Append(p Prototype) *PipelineLayout {
	l.prototypes = append(l.prototypes, p)
	return l
}

// AddChild registers a sub-pipeline layout and returns its index, to be
// passed to Context.SubPipeline by filters instantiated from l.
func (l *PipelineLayout) AddChild(child *PipelineLayout) int {
	l.children = append(l.children, child)
	return len(l.children) - 1
}

// Instantiate builds a live Pipeline from the blueprint, chaining each
// filter's output to the next filter's input, with tail output routed to
// out.
func (l *PipelineLayout) Instantiate(out Receiver) *Pipeline {
	p := &Pipeline{layout: l, tail: out}
	p.filters = make([]Filter, len(l.prototypes))
	for i, proto := range l.prototypes {
		p.filters[i] = proto()
	}
	return p
}

// Context is the back-pointer a live Pipeline hands to each Filter.Accept
// call, giving access to sub-pipeline instantiation and shared context
// values. It is a raw, non-owning reference (filter -> pipeline is a
// back-pointer, not a retained owner).
type Context struct {
	pipeline *Pipeline
}

// SubPipeline instantiates (or reuses, if share=true) the child layout at
// index, wiring its output to out. With share=false a fresh child is
// built on every call; with share=true the same child instance is
// returned across calls from any filter in this pipeline requesting that
// index — the index+out pairing isn't tracked per-caller, so sharing is
// keyed purely on index.
func (c *Context) SubPipeline(index int, share bool, out Receiver) *Pipeline {
	return c.pipeline.subPipeline(index, share, out)
}

// Values lets filters stash/retrieve small pieces of shared state keyed
// by string, scoped to the pipeline instance (e.g. a TLS SNI value read by
// an early filter and consumed by a later one).
func (c *Context) Values() *sync.Map {
	return &c.pipeline.values
}

// Pipeline is a live instance of a filter chain sharing one Context. It
// has exactly one input sink (Accept) and a tail Receiver that the last
// filter's output is ultimately routed to once every intermediate filter
// has had a chance to observe and re-emit it.
type Pipeline struct {
	layout  *PipelineLayout
	filters []Filter
	tail    Receiver
	ctx     Context

	mu       sync.Mutex
	children map[int]*Pipeline // only populated for share=true children
	values   sync.Map
}

func (p *Pipeline) subPipeline(index int, share bool, out Receiver) *Pipeline {
	if index < 0 || index >= len(p.layout.children) {
		return nil
	}
	childLayout := p.layout.children[index]

	if !share {
		return childLayout.Instantiate(out)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.children == nil {
		p.children = make(map[int]*Pipeline)
	}
	if existing, ok := p.children[index]; ok {
		return existing
	}
	child := childLayout.Instantiate(out)
	p.children[index] = child
	return child
}

// Accept delivers one event to the head of the chain. Events observed by
// filter i are, by construction, observed by filter i+1 in the same
// relative order they were emitted, since each filter's Accept call
// synchronously drives the next filter's Accept before returning — no
// preemption, a filter runs to completion within one event delivery.
func (p *Pipeline) Accept(e event.Event) {
	p.ctx.pipeline = p
	p.dispatch(0, e)
}

func (p *Pipeline) dispatch(from int, e event.Event) {
	if from >= len(p.filters) {
		p.tail.Accept(e)
		return
	}
	next := chainReceiver{p: p, idx: from + 1}
	p.filters[from].Accept(&p.ctx, e, next)
}

// chainReceiver routes a filter's output into the next filter in the
// chain (or the pipeline's tail, once the chain is exhausted).
type chainReceiver struct {
	p   *Pipeline
	idx int
}

func (r chainReceiver) Accept(e event.Event) {
	r.p.dispatch(r.idx, e)
}

// Reset returns every filter in the chain (and any shared children) to
// its initial state, for pool reuse. It fails if any filter reports a
// pending async callback still outstanding.
func (p *Pipeline) Reset() error {
	for _, f := range p.filters {
		if pend, ok := f.(Pending); ok && pend.HasPendingCallback() {
			return ErrResetWhilePending
		}
	}
	for _, f := range p.filters {
		f.Reset()
	}
	p.mu.Lock()
	children := p.children
	p.children = nil
	p.mu.Unlock()
	for _, child := range children {
		if err := child.Reset(); err != nil {
			return err
		}
	}
	p.values = sync.Map{}
	return nil
}
