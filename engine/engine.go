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

// Package engine turns a config.Engine into live sockets: one accept
// loop per configured listener, decoding inbound bytes with the
// protocol named in ListenerConfig.Protocol and routing the resulting
// events through a muxio.Demux into the engine's sink, and one
// muxio.Muxer per configured upstream, ready to dial out and encode
// events onto a pooled, multiplexed connection. This is the thing
// cmd/agent.go starts and stops: bind listeners, pick a codec by name,
// drive it off a real net.Conn.
package engine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/config"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
	"github.com/fluxgate/fluxd/internal/rescue"
	"github.com/fluxgate/fluxd/internal/ticker"
	"github.com/fluxgate/fluxd/logger"
	"github.com/fluxgate/fluxd/muxio"
	"github.com/fluxgate/fluxd/netio"
	"github.com/fluxgate/fluxd/protocol"
)

// defaultLayout is the pipeline every inbound message is instantiated
// against when no business filters are configured: zero filters, so
// filter.Pipeline.Accept forwards straight to its tail. Callers that
// need real per-message processing build their own Sink (e.g. a
// ReceiverFunc wrapping a richer PipelineLayout) rather than a raw
// channel or logger, so this stays the only layout engine needs.
var defaultLayout = filter.NewLayout("passthrough")

// Sink is where a listener's fully demultiplexed output, and an
// upstream's decoded responses, end up.
type Sink = filter.Receiver

// Engine runs every configured listener and keeps a Muxer ready per
// configured upstream.
type Engine struct {
	cfg config.Engine
	out Sink

	ticker *ticker.Ticker

	mu        sync.Mutex
	listeners []net.Listener
	muxers    map[string]*muxio.Muxer
	closed    bool
}

// New prepares an Engine from cfg. Call Start to bind listeners and
// prepare upstream muxers.
func New(cfg config.Engine, out Sink) *Engine {
	return &Engine{
		cfg:    cfg,
		out:    out,
		ticker: ticker.New(time.Second),
		muxers: make(map[string]*muxio.Muxer),
	}
}

// Start binds every configured listener and builds every configured
// upstream's Muxer. Each listener's accept loop runs in its own
// goroutine; Start returns once every listener is bound.
func (e *Engine) Start() error {
	for _, uc := range e.cfg.Upstreams {
		idle, err := uc.IdleDuration()
		if err != nil {
			return errors.Wrapf(err, "engine: upstream %s", uc.Name)
		}
		uc := uc
		dial := func(addr string) (muxio.Transport, error) {
			return e.dialUpstream(uc, addr)
		}
		e.muxers[uc.Name] = muxio.NewMuxer(dial, uc.MaxStreams, idle, e.ticker)
	}

	for _, lc := range e.cfg.Listeners {
		if err := e.startListener(lc); err != nil {
			return errors.Wrapf(err, "engine: listener %s", lc.Name)
		}
	}
	return nil
}

// Stop closes every bound listener and pooled upstream connection.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.closed = true
	listeners := e.listeners
	e.listeners = nil
	e.mu.Unlock()

	var merr *multierror.Error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	for name, m := range e.muxers {
		if err := m.Close(); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "upstream %s", name))
		}
	}
	e.ticker.Stop()
	return merr.ErrorOrNil()
}

// Upstream returns the pooled Muxer for a configured upstream by name,
// for business filters that need to proxy a decoded request onward.
func (e *Engine) Upstream(name string) (*muxio.Muxer, bool) {
	m, ok := e.muxers[name]
	return m, ok
}

func (e *Engine) startListener(lc config.ListenerConfig) error {
	ln, err := net.Listen("tcp", lc.Address)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, ln)
	e.mu.Unlock()

	logger.Infof("engine: listener %s bound on %s (protocol=%s)", lc.Name, lc.Address, lc.Protocol)
	go e.acceptLoop(lc, ln)
	return nil
}

func (e *Engine) acceptLoop(lc config.ListenerConfig, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			logger.Errorf("engine: listener %s accept error: %v", lc.Name, err)
			continue
		}
		go e.handleConn(lc, nc)
	}
}

// handleConn wires one accepted socket to its protocol codec: decoded
// messages are demultiplexed per lc.OutputCount/WaitOutput, instantiate
// defaultLayout per inbound message, and forward to e.out.
func (e *Engine) handleConn(lc config.ListenerConfig, nc net.Conn) {
	defer rescue.HandleCrash()

	read, write, idle, err := lc.Durations()
	if err != nil {
		logger.Errorf("engine: listener %s: %v", lc.Name, err)
		_ = nc.Close()
		return
	}

	outputCount := lc.OutputCount
	if outputCount == 0 {
		outputCount = 1
	}
	create := func(_ *event.Head, out filter.Receiver) *filter.Pipeline {
		return defaultLayout.Instantiate(out)
	}
	demux := muxio.New(muxio.DemuxConfig{
		OutputCount: outputCount,
		WaitOutput:  lc.WaitOutput,
	}, create, e.out)

	w := newConnWriter()
	feeder, err := protocol.New(lc.Protocol, w, demux, func(err error) {
		logger.Debugf("engine: listener %s codec error: %v", lc.Name, err)
	})
	if err != nil {
		logger.Errorf("engine: listener %s: %v", lc.Name, err)
		_ = nc.Close()
		return
	}

	onClose := func(kind event.ErrorKind) {
		logger.Debugf("engine: listener %s connection from %s closed: %s", lc.Name, nc.RemoteAddr(), kind)
	}
	conn := netio.New(nc, feeder, netio.Options{ReadTimeout: read, WriteTimeout: write, IdleTimeout: idle}, onClose)
	w.set(conn)
	conn.Watch(e.ticker)
}

// dialUpstream is the muxio.Dial this Engine hands every Muxer it
// builds: it dials addr, wires the named protocol's Encoder as the
// outbound side and its Decoder as the inbound side, and returns a
// Transport the Muxer wraps in a Session.
//
// Decoded responses are forwarded straight to e.out rather than routed
// back through the owning Session's per-stream Dispatch table: doing
// that correctly needs the Decoder's sink to hold a reference to the
// Session that wraps the very Transport being constructed here, and
// muxio.Dial's signature (addr in, Transport out) gives the dialer no
// hook to learn that Session once Muxer.Acquire builds it. Everything
// upstream of e.out still sees the decoded events; it just isn't
// correlated back to whichever OpenStream call on this Session
// triggered it.
func (e *Engine) dialUpstream(uc config.UpstreamConfig, addr string) (muxio.Transport, error) {
	w := newConnWriter()
	enc, err := protocol.NewEncoder(uc.Protocol, w, func(err error) {
		logger.Debugf("engine: upstream %s write error: %v", uc.Name, err)
	})
	if err != nil {
		return nil, err
	}
	dec, err := protocol.New(uc.Protocol, w, e.out, nil)
	if err != nil {
		return nil, err
	}

	idle, err := uc.IdleDuration()
	if err != nil {
		return nil, err
	}
	onClose := func(kind event.ErrorKind) {
		logger.Debugf("engine: upstream %s connection to %s closed: %s", uc.Name, addr, kind)
	}
	conn, err := netio.Dial(context.Background(), addr, dec, netio.Options{IdleTimeout: idle}, onClose)
	if err != nil {
		return nil, err
	}
	w.set(conn)
	conn.Watch(e.ticker)

	return &upstreamTransport{enc: enc, conn: conn}, nil
}

// upstreamTransport adapts a netio.Conn plus its protocol Encoder to
// muxio.Transport: Accept serializes an outbound event through the
// codec, Close tears down the socket.
type upstreamTransport struct {
	enc  filter.Receiver
	conn *netio.Conn
}

func (t *upstreamTransport) Accept(e event.Event) { t.enc.Accept(e) }
func (t *upstreamTransport) Close() error         { return t.conn.Close() }

// connWriter adapts a *netio.Conn, not yet constructed, to the Writer a
// protocol codec needs at construction time: netio.New needs a Feeder
// before it can exist, and some codecs (HTTP/2) need a Writer before
// their Decoder can exist, so construction order is circular. connWriter
// breaks the cycle by blocking any write attempted before set is called,
// which happens immediately after netio.New/Dial returns.
type connWriter struct {
	ready chan struct{}
	conn  *netio.Conn
}

func newConnWriter() *connWriter {
	return &connWriter{ready: make(chan struct{})}
}

func (w *connWriter) set(c *netio.Conn) {
	w.conn = c
	close(w.ready)
}

func (w *connWriter) Write(p []byte) error {
	<-w.ready
	return w.conn.Write(p)
}
