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

package phttp2

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
	"github.com/fluxgate/fluxd/internal/scarce"
)

var (
	errInvalidBytes   = newError("invalid bytes")
	errInvalidPadding = newError("invalid padding")
	errFrameTooLarge  = newError("frame exceeds max_frame_size")
)

const (
	stateFrameHeader = iota
	stateFramePayload
)

// Peer is the write-side companion a Decoder drives whenever an inbound
// frame demands an immediate reply: a SETTINGS/PING ack, a WINDOW_UPDATE
// once a receive window has drained past half its max, or an
// RST_STREAM/GOAWAY on a protocol violation. *Encoder satisfies Peer.
type Peer interface {
	// FlushAfterCredit is called after a stream's (or, for streamID 0,
	// every stream's) send window has just been credited, so an Encoder
	// can retry whatever it had queued while blocked on flow control.
	FlushAfterCredit(streamID uint32) error
	SendWindowUpdate(streamID uint32, increment uint32) error
	SendRSTStream(streamID uint32, code uint32) error
	SendGoAway(lastStreamID uint32, code uint32) error
	SendSettingsAck() error
	SendPingAck(payload [8]byte) error
	SetPeerMaxFrameSize(v uint32)
	SetPeerHeaderTableSize(v uint32)
}

// Decoder turns one HTTP/2 connection's inbound byte stream into
// event.Event values, driving deframer.Deframer the way the original
// streamDecoder drove its own hand-rolled state field, generalized from
// "accumulate one Request or Response, archive, reset" to "keep N
// concurrent streams open, forwarding MessageStart/Data/MessageEnd per
// stream as their frames complete."
type Decoder struct {
	cfg  Config
	out  filter.Receiver
	peer Peer

	df   *deframer.Deframer
	hdec *HeaderDecoder
	conn *connFlow

	// mu guards conn and every *streamState reachable from streams; it is
	// the same mutex the paired Encoder locks in Accept, so the two
	// directions never race over shared flow-control state regardless of
	// which goroutine drives which. Peer methods are always called with
	// mu already held by dispatch, and must not lock it themselves.
	mu                 *sync.Mutex
	streams            *scarce.Table // uint32 -> *streamState, shared with the Encoder
	maxStreamID        uint32
	peerInitialWindow  int64
	localInitialWindow int64
	peerMaxConcurrent  uint32

	hdrBuf [headerLength]byte
	fh     frameHeader
}

// NewDecoder constructs a Decoder for one connection. out receives the
// decoded event.Event stream; peer is the Encoder sharing this
// connection, used for control-frame replies; streams, conn and mu are
// the per-stream table, connection-level flow-control window and guard
// mutex shared with that same Encoder so a stream's send and receive
// windows live in one place, safely, regardless of which direction
// touches them.
func NewDecoder(cfg Config, out filter.Receiver, peer Peer, streams *scarce.Table, conn *connFlow, mu *sync.Mutex) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{
		cfg:                cfg,
		out:                out,
		peer:               peer,
		hdec:               NewHeaderDecoder(uint32(cfg.MaxHeaderListSize)),
		conn:               conn,
		mu:                 mu,
		streams:            streams,
		peerInitialWindow:  defaultInitialWindowSize,
		localInitialWindow: int64(cfg.StreamWindowSize),
	}
	d.df = deframer.New(d)
	d.df.RequestFillBuffer(headerLength, d.hdrBuf[:])
	return d
}

// Feed satisfies netio.Feeder, handing inbound bytes to the Deframer. A
// fatal decode error sends GOAWAY naming the highest stream id this
// connection began processing before the caller tears the socket down —
// the Deframer/netio.Conn layers only close the connection, they don't
// know how to say goodbye in-protocol.
func (d *Decoder) Feed(in databuf.Data) error {
	err := d.df.Feed(in)
	if err != nil {
		d.mu.Lock()
		lastStreamID := d.maxStreamID
		_ = d.peer.SendGoAway(lastStreamID, errCodeForDecodeError(err))
		d.mu.Unlock()
	}
	return err
}

// errCodeForDecodeError maps an internal decode failure to the RFC 7540
// §7 error code closest to its cause.
func errCodeForDecodeError(err error) uint32 {
	switch err {
	case errFrameTooLarge:
		return errCodeFrameSizeError
	case errInvalidPadding, errInvalidBytes, errInvalidStreamID:
		return errCodeProtocolError
	default:
		return errCodeInternalError
	}
}

// OnState implements deframer.Hooks, alternating between the 9-byte
// frame header and its payload.
func (d *Decoder) OnState(state int, _ int) (int, error) {
	switch state {
	case stateFrameHeader:
		d.fh = parseFrameHeader(d.hdrBuf[:])
		if d.fh.length > uint32(d.cfg.MaxFrameSize) {
			return deframer.StateDone, errFrameTooLarge
		}
		if d.fh.length == 0 {
			if err := d.dispatch(databuf.Data{}); err != nil {
				return deframer.StateDone, err
			}
			d.df.RequestFillBuffer(headerLength, d.hdrBuf[:])
			return stateFrameHeader, nil
		}
		d.df.RequestFillData(int(d.fh.length))
		return stateFramePayload, nil

	case stateFramePayload:
		payload := d.df.TakeFillData()
		err := d.dispatch(payload)
		d.df.RequestFillBuffer(headerLength, d.hdrBuf[:])
		if err != nil {
			return deframer.StateDone, err
		}
		return stateFrameHeader, nil
	}
	return deframer.StateDone, errInvalidBytes
}

// OnPass is unused — every frame is read through RequestFillData.
func (d *Decoder) OnPass(data databuf.Data) error { data.Close(); return nil }

// OnStreamEnd reports every still-open stream as ending mid-message.
func (d *Decoder) OnStreamEnd() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams.Range(func(id uint32, v any) bool {
		d.out.Accept(event.StreamEnd(id, event.ErrProtocolError))
		return true
	})
}

func (d *Decoder) dispatch(payload databuf.Data) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fh := d.fh
	switch fh.typ {
	case frameData:
		return d.decodeData(fh, payload)
	case frameHeaders:
		return d.decodeHeaders(fh, payload)
	case frameContinuation:
		return d.decodeContinuation(fh, payload)
	case framePriority:
		payload.Close()
		return nil
	case frameRSTStream:
		return d.decodeRSTStream(fh, payload)
	case frameSettings:
		return d.decodeSettings(fh, payload)
	case framePushPromise:
		return d.decodePushPromise(fh, payload)
	case framePing:
		return d.decodePing(fh, payload)
	case frameGoAway:
		payload.Close()
		return nil
	case frameWindowUpdate:
		return d.decodeWindowUpdate(fh, payload)
	default:
		payload.Close()
		return nil
	}
}

func (d *Decoder) getStream(id uint32) (*streamState, bool) {
	v, ok := d.streams.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*streamState), true
}

func (d *Decoder) getOrCreateStream(id uint32) *streamState {
	if s, ok := d.getStream(id); ok {
		return s
	}
	d.evictIfFull()
	s := newStreamState(id, d.localInitialWindow, d.peerInitialWindow)
	d.streams.Set(id, s)
	if id > d.maxStreamID {
		d.maxStreamID = id
	}
	return s
}

// evictIfFull drops the lowest-numbered stream once the table reaches
// MaxConcurrentStreams, matching the original decoder's defensive
// cleanup for streams that never observed a terminal frame.
func (d *Decoder) evictIfFull() {
	if d.streams.Len() < d.cfg.MaxConcurrentStreams {
		return
	}
	minID := uint32(math.MaxUint32)
	d.streams.Range(func(id uint32, _ any) bool {
		if id < minID {
			minID = id
		}
		return true
	})
	d.streams.Delete(minID)
}

func (d *Decoder) closeStream(id uint32) {
	d.streams.Delete(id)
}

func stripPadded(data databuf.Data, flags uint8) (databuf.Data, error) {
	if flags&flagPadded == 0 {
		return data, nil
	}
	if data.Len() < 1 {
		data.Close()
		return databuf.Data{}, errInvalidPadding
	}
	padLen := int(data.At(0))
	if padLen >= data.Len() {
		data.Close()
		return databuf.Data{}, errInvalidPadding
	}
	body := data.Range(1, data.Len()-padLen)
	data.Close()
	return body, nil
}

func stripPriority(body databuf.Data, flags uint8) (databuf.Data, error) {
	if flags&flagPriority == 0 {
		return body, nil
	}
	if body.Len() < 5 {
		body.Close()
		return databuf.Data{}, errInvalidBytes
	}
	rest := body.Range(5, body.Len())
	body.Close()
	return rest, nil
}

func (d *Decoder) decodeData(fh frameHeader, payload databuf.Data) error {
	s := d.getOrCreateStream(fh.streamID)

	n := int64(payload.Len())
	d.conn.recvWindow -= n
	s.debitRecv(n)

	body, err := stripPadded(payload, fh.flags)
	if err != nil {
		return err
	}

	endStream := fh.flags&flagEndStream != 0
	if !body.Empty() || endStream {
		d.out.Accept(event.DataEvent(fh.streamID, body))
	} else {
		body.Close()
	}

	if delta, ok := shouldCredit(d.conn.recvWindow, d.conn.max); ok {
		d.conn.creditRecvBy(delta)
		if err := d.peer.SendWindowUpdate(0, delta); err != nil {
			return err
		}
	}
	if delta, ok := shouldCredit(s.recvWindow, d.localInitialWindow); ok {
		s.creditRecv(int64(delta))
		if err := d.peer.SendWindowUpdate(fh.streamID, delta); err != nil {
			return err
		}
	}

	if endStream {
		s.endStream = true
		d.out.Accept(event.MessageEnd(fh.streamID, nil))
		d.closeStream(fh.streamID)
	}
	return nil
}

func (d *Decoder) decodeHeaders(fh frameHeader, payload databuf.Data) error {
	s := d.getOrCreateStream(fh.streamID)
	s.pendingEnd = fh.flags&flagEndStream != 0

	body, err := stripPadded(payload, fh.flags)
	if err != nil {
		return err
	}
	body, err = stripPriority(body, fh.flags)
	if err != nil {
		return err
	}
	s.headerBuf.Write(body.Bytes())
	body.Close()

	if fh.flags&flagEndHeaders == 0 {
		return nil // remainder arrives via CONTINUATION frame(s)
	}
	return d.finishHeaderBlock(fh.streamID, s)
}

func (d *Decoder) decodeContinuation(fh frameHeader, payload databuf.Data) error {
	s, ok := d.getStream(fh.streamID)
	if !ok {
		payload.Close()
		return errInvalidStreamID
	}
	s.headerBuf.Write(payload.Bytes())
	payload.Close()
	if fh.flags&flagEndHeaders == 0 {
		return nil
	}
	return d.finishHeaderBlock(fh.streamID, s)
}

var errInvalidStreamID = newError("continuation for unknown stream")

func (d *Decoder) finishHeaderBlock(streamID uint32, s *streamState) error {
	block := append([]byte(nil), s.headerBuf.Bytes()...)
	s.headerBuf.Reset()

	fields, err := d.hdec.Decode(block)
	if err != nil {
		return err
	}

	head := buildHead(fields)
	if !s.sawHeaders {
		s.sawHeaders = true
		d.out.Accept(event.MessageStart(streamID, head))
		if s.pendingEnd {
			s.endStream = true
			d.out.Accept(event.MessageEnd(streamID, nil))
			d.closeStream(streamID)
		}
		return nil
	}

	// A second header block on an already-opened stream is trailers.
	tail := &event.Tail{Attrs: head.Attrs, Extra: head.Extra}
	d.out.Accept(event.MessageEnd(streamID, tail))
	d.closeStream(streamID)
	return nil
}

// buildHead assembles an event.Head from a decoded field list: pseudo
// headers and regular headers are both kept in Attrs (last value wins,
// as with any header map) and the full ordered field list — including
// duplicates — rides along in Extra so an Encoder can reproduce the
// exact wire representation for a round trip.
func buildHead(fields []HeaderField) *event.Head {
	attrs := make(map[string]string, len(fields))
	for _, f := range fields {
		attrs[f.Name] = f.Value
	}
	return &event.Head{Protocol: PROTO, Attrs: attrs, Extra: fields}
}

func (d *Decoder) decodeRSTStream(fh frameHeader, payload databuf.Data) error {
	defer payload.Close()
	if payload.Len() < 4 {
		return errInvalidBytes
	}
	d.out.Accept(event.StreamEnd(fh.streamID, event.ErrConnectionReset))
	d.closeStream(fh.streamID)
	return nil
}

func (d *Decoder) decodeSettings(fh frameHeader, payload databuf.Data) error {
	defer payload.Close()
	if fh.flags&flagAck != 0 {
		return nil
	}
	b := payload.Bytes()
	if len(b)%6 != 0 {
		return errInvalidBytes
	}
	for i := 0; i+6 <= len(b); i += 6 {
		id := uint16(b[i])<<8 | uint16(b[i+1])
		val := binary.BigEndian.Uint32(b[i+2 : i+6])
		switch id {
		case settingsHeaderTableSize:
			d.peer.SetPeerHeaderTableSize(val)
		case settingsInitialWindowSize:
			delta := int64(val) - d.peerInitialWindow
			d.peerInitialWindow = int64(val)
			d.streams.Range(func(_ uint32, v any) bool {
				v.(*streamState).creditSend(delta)
				return true
			})
			if err := d.peer.FlushAfterCredit(0); err != nil {
				return err
			}
		case settingsMaxFrameSize:
			d.peer.SetPeerMaxFrameSize(val)
		case settingsMaxConcurrentStreams:
			d.peerMaxConcurrent = val
		}
	}
	return d.peer.SendSettingsAck()
}

func (d *Decoder) decodePushPromise(fh frameHeader, payload databuf.Data) error {
	// The engine never requests server push; a received PUSH_PROMISE is
	// discarded and no state is kept for the promised stream.
	payload.Close()
	return nil
}

func (d *Decoder) decodePing(fh frameHeader, payload databuf.Data) error {
	defer payload.Close()
	if fh.flags&flagAck != 0 {
		return nil
	}
	var buf [8]byte
	b := payload.Bytes()
	copy(buf[:], b)
	return d.peer.SendPingAck(buf)
}

func (d *Decoder) decodeWindowUpdate(fh frameHeader, payload databuf.Data) error {
	defer payload.Close()
	if payload.Len() != 4 {
		return errInvalidBytes
	}
	increment := binary.BigEndian.Uint32(payload.Bytes()) & headerMask
	if fh.streamID == 0 {
		d.conn.creditSend(int64(increment))
		return d.peer.FlushAfterCredit(0)
	}
	if s, ok := d.getStream(fh.streamID); ok {
		s.creditSend(int64(increment))
	}
	return d.peer.FlushAfterCredit(fh.streamID)
}

func (f *connFlow) creditRecvBy(delta uint32) { f.recvWindow += int64(delta) }

// creditSend applies a connection-level WINDOW_UPDATE increment.
func (f *connFlow) creditSend(n int64) { f.sendWindow += n }
