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
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
	"github.com/fluxgate/fluxd/internal/scarce"
	"github.com/fluxgate/fluxd/internal/ticker"
)

// ErrSessionClosed is returned by a Session method after Close.
var ErrSessionClosed = errors.New("muxio: session closed")

// Transport is the minimum a Session needs from the underlying connection:
// a place to hand outbound events and a dial-once lifecycle. netio.Conn
// moves bytes, not events, so it does not satisfy this by itself; the
// engine pairs it with a protocol Encoder to build one.
type Transport interface {
	filter.Receiver
	Close() error
}

// Session owns one Transport and packs an arbitrary number of logical
// streams onto it, tagging each outbound event with a StreamID and
// routing inbound events back to the stream that owns that id.
// Protocols that can't genuinely interleave streams on one transport
// (HTTP/1 without pipelining) still use a Session with exactly one stream
// open at a time; the accounting is identical either way.
type Session struct {
	transport Transport

	mu        sync.Mutex
	nextID    uint32
	streams   *scarce.Table // StreamID -> filter.Receiver (inbound sink for that stream)
	closed    bool
	activeAt  time.Time
	createdAt time.Time
}

// NewSession wraps transport in a Session ready to open streams.
func NewSession(transport Transport) *Session {
	now := time.Now()
	return &Session{
		transport: transport,
		streams:   scarce.NewTable(),
		createdAt: now,
		activeAt:  now,
	}
}

// OpenStream allocates a fresh StreamID, registers recv as the sink for
// inbound events tagged with that id, and returns a filter.Receiver the
// caller writes outbound events to (each is stamped with the StreamID
// before reaching the transport).
func (s *Session) OpenStream(recv filter.Receiver) (filter.Receiver, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, ErrSessionClosed
	}
	s.nextID++
	id := s.nextID
	s.streams.Set(id, recv)
	return streamWriter{s: s, id: id}, id, nil
}

// CloseStream releases a stream's inbound routing entry without touching
// the underlying transport.
func (s *Session) CloseStream(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams.Delete(id)
}

// Dispatch routes one inbound event (already decoded off the transport) to
// the stream it's tagged for. Unroutable events (unknown StreamID, or a
// StreamEnd with id 0 meaning "whole session") are handled per protocol
// convention by the caller before reaching Dispatch.
func (s *Session) Dispatch(e event.Event) {
	s.mu.Lock()
	s.activeAt = time.Now()
	v, ok := s.streams.Get(e.StreamID)
	s.mu.Unlock()
	if !ok {
		return
	}
	v.(filter.Receiver).Accept(e)
}

// ActiveAt reports the last time this session observed inbound traffic,
// for idle-sweep eviction.
func (s *Session) ActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAt
}

// OpenStreamCount reports how many streams currently have a registered
// inbound sink.
func (s *Session) OpenStreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams.Len()
}

// Close tears down the session's transport and clears its stream table.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.streams = scarce.NewTable()
	s.mu.Unlock()
	return s.transport.Close()
}

// streamWriter stamps every outbound event with its owning stream's id
// before handing it to the session's transport.
type streamWriter struct {
	s  *Session
	id uint32
}

func (w streamWriter) Accept(e event.Event) {
	e.StreamID = w.id
	w.s.mu.Lock()
	closed := w.s.closed
	w.s.mu.Unlock()
	if closed {
		return
	}
	w.s.transport.Accept(e)
}

// Key identifies a pool of interchangeable sessions: a destination address
// plus an optional grouping value (e.g. an HTTP/2 ALPN class, or a Dubbo
// service group) that must match for two requests to share a session.
type Key struct {
	Addr  string
	Group string
}

// Dial creates a new Transport for addr, to be wrapped in a Session. The
// caller supplies this (the engine's dialUpstream, which wraps netio.Dial)
// so muxio stays transport-agnostic.
type Dial func(addr string) (Transport, error)

// Muxer pools Sessions keyed by Key: possibly many logical streams
// share one pooled outbound Session keyed by destination+group, with
// idle sessions swept via internal/ticker instead of a dedicated sweep
// goroutine per pool.
type Muxer struct {
	dial        Dial
	maxStreams  int
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[Key][]*Session
}

// NewMuxer creates a Muxer. maxStreams bounds how many concurrently open
// streams a single Session may carry before the Muxer dials a fresh one
// for the same Key; 0 means unbounded (one Session per Key).
func NewMuxer(dial Dial, maxStreams int, idleTimeout time.Duration, t *ticker.Ticker) *Muxer {
	m := &Muxer{
		dial:        dial,
		maxStreams:  maxStreams,
		idleTimeout: idleTimeout,
		sessions:    make(map[Key][]*Session),
	}
	if t != nil && idleTimeout > 0 {
		t.Register(ticker.WatcherFunc(m.sweep))
	}
	return m
}

// Acquire returns a Session for key, reusing a pooled one with headroom if
// available, otherwise dialing a new one.
func (m *Muxer) Acquire(key Key) (*Session, error) {
	m.mu.Lock()
	for _, s := range m.sessions[key] {
		if m.maxStreams <= 0 || s.OpenStreamCount() < m.maxStreams {
			m.mu.Unlock()
			return s, nil
		}
	}
	m.mu.Unlock()

	transport, err := m.dial(key.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "muxio: dial %s", key.Addr)
	}
	s := NewSession(transport)

	m.mu.Lock()
	m.sessions[key] = append(m.sessions[key], s)
	m.mu.Unlock()
	return s, nil
}

// sweep closes and evicts sessions idle longer than idleTimeout, called on
// every Ticker tick this Muxer is registered with.
func (m *Muxer) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sessions := range m.sessions {
		kept := sessions[:0]
		for _, s := range sessions {
			if now.Sub(s.ActiveAt()) > m.idleTimeout && s.OpenStreamCount() == 0 {
				_ = s.Close()
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(m.sessions, key)
		} else {
			m.sessions[key] = kept
		}
	}
}

// Close closes every pooled session.
func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sessions := range m.sessions {
		for _, s := range sessions {
			_ = s.Close()
		}
	}
	m.sessions = make(map[Key][]*Session)
	return nil
}
