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

// Package netio owns the one concrete socket per logical connection: a
// read pump that turns net.Conn bytes into Deframer feeds, a write pump
// that serializes outbound byte chunks, a tap-based congestion controller
// that pauses reading when downstream can't keep up, and three
// independently tracked timeouts (read/write/idle) driven off one shared
// internal/ticker.Ticker.
package netio

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/internal/ticker"
	"github.com/fluxgate/fluxd/logger"
)

// ReadWriteBlockSize is the default chunk size a Conn's read pump asks the
// kernel for per syscall.
const ReadWriteBlockSize = 4096

// Feeder is what a protocol codec's decode side looks like from netio's
// perspective: a sink for raw inbound bytes, fed as they arrive off the
// wire (deframer.Deframer.Feed satisfies this once wrapped in a
// databuf.Data).
type Feeder interface {
	Feed(d databuf.Data) error
}

// Options configures timeouts and buffering for a Conn.
type Options struct {
	ReadTimeout  time.Duration // 0 disables
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	WriteQueue   int // outbound channel depth; 0 defaults to 64
}

// Conn owns one net.Conn, pumping inbound bytes to a Feeder and outbound
// byte chunks from a channel, with read/write/idle timeouts enforced by a
// shared Ticker rather than net.Conn.SetDeadline (so one goroutine per
// timeout type isn't needed and timeout checks batch across every Conn
// registered with the same Ticker).
type Conn struct {
	nc   net.Conn
	feed Feeder
	opts Options

	writeCh chan []byte
	done    chan struct{}
	closeOnce sync.Once
	closeErr  event.ErrorKind

	lastRead  atomic.Int64 // unix nanos
	lastWrite atomic.Int64
	lastAny   atomic.Int64

	tap *Tap

	onClose func(kind event.ErrorKind)

	tickHandle atomic.Value // func() unregistering c from its Ticker, set by Watch
}

// New wraps nc, starting its read and write pumps. The Feeder begins
// receiving inbound data immediately; onClose is invoked exactly once,
// with the reason the connection ended, from whichever goroutine closes
// the connection; it does not wait for the pumps to return.
func New(nc net.Conn, feed Feeder, opts Options, onClose func(event.ErrorKind)) *Conn {
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = 64
	}
	now := time.Now().UnixNano()
	c := &Conn{
		nc:      nc,
		feed:    feed,
		opts:    opts,
		writeCh: make(chan []byte, opts.WriteQueue),
		done:    make(chan struct{}),
		tap:     NewTap(),
		onClose: onClose,
	}
	c.lastRead.Store(now)
	c.lastWrite.Store(now)
	c.lastAny.Store(now)
	go c.readPump()
	go c.writePump()
	return c
}

// RemoteAddr exposes the underlying socket's peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Tap returns the congestion controller gating the read pump.
func (c *Conn) Tap() *Tap { return c.tap }

func (c *Conn) readPump() {
	buf := make([]byte, ReadWriteBlockSize)
	for {
		c.tap.Wait()
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.nc.Read(buf)
		now := time.Now().UnixNano()
		c.lastRead.Store(now)
		c.lastAny.Store(now)
		if n > 0 {
			d := databuf.FromBytes(append([]byte(nil), buf[:n]...))
			if ferr := c.feed.Feed(d); ferr != nil {
				logger.Debugf("netio: feed rejected inbound bytes: %v", ferr)
				c.closeWith(event.ErrProtocolError)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.closeWith(event.ErrConnectionReset)
			} else {
				c.closeWith(event.ErrReadError)
			}
			return
		}
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case p, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := c.nc.Write(p); err != nil {
				c.closeWith(event.ErrWriteError)
				return
			}
			now := time.Now().UnixNano()
			c.lastWrite.Store(now)
			c.lastAny.Store(now)
		}
	}
}

// Write enqueues p for the write pump. It never blocks the caller longer
// than the write queue staying full; a full queue is itself a congestion
// signal callers can watch via QueueDepth.
func (c *Conn) Write(p []byte) error {
	select {
	case <-c.done:
		return errors.New("netio: conn closed")
	case c.writeCh <- p:
		return nil
	}
}

// QueueDepth reports how many outbound chunks are buffered ahead of the
// write pump, for backpressure decisions upstream.
func (c *Conn) QueueDepth() int {
	return len(c.writeCh)
}

// OnTick implements ticker.Watcher: it's where the three independent
// timeouts are actually enforced, each compared against its own
// last-activity mark rather than the ticker tracking per-Conn deadlines.
func (c *Conn) OnTick(now time.Time) {
	nowNano := now.UnixNano()
	if c.opts.ReadTimeout > 0 && nowNano-c.lastRead.Load() > int64(c.opts.ReadTimeout) {
		c.closeWith(event.ErrReadTimeout)
		return
	}
	if c.opts.WriteTimeout > 0 && nowNano-c.lastWrite.Load() > int64(c.opts.WriteTimeout) {
		c.closeWith(event.ErrWriteTimeout)
		return
	}
	if c.opts.IdleTimeout > 0 && nowNano-c.lastAny.Load() > int64(c.opts.IdleTimeout) {
		c.closeWith(event.ErrIdleTimeout)
		return
	}
}

// Watch registers c with t so OnTick enforces its timeouts; closing c
// unregisters it from t.
func (c *Conn) Watch(t *ticker.Ticker) {
	h := t.Register(c)
	c.tickHandle.Store(func() { t.Unregister(h) })
	select {
	case <-c.done:
		t.Unregister(h)
	default:
	}
}

func (c *Conn) closeWith(kind event.ErrorKind) {
	c.closeOnce.Do(func() {
		c.closeErr = kind
		close(c.done)
		if unwatch, ok := c.tickHandle.Load().(func()); ok {
			unwatch()
		}
		close(c.writeCh)
		_ = c.nc.Close()
		if c.onClose != nil {
			c.onClose(kind)
		}
	})
}

// Close closes the connection without attributing an error kind.
func (c *Conn) Close() error {
	c.closeWith(event.ErrNone)
	return nil
}
