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
	"strings"
	"sync"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/internal/scarce"
)

// Writer is the byte sink an Encoder serializes frames into — satisfied
// by *netio.Conn, kept as a narrow interface so tests can substitute an
// in-memory buffer instead of a real socket.
type Writer interface {
	Write(p []byte) error
}

// Encoder turns outbound event.Event values into HTTP/2 frames, the
// direction the original packet-sniffing decoder never implemented (it
// only ever read traffic off the wire). It shares its connection's
// stream table, connection-level flow-control window and guard mutex
// with the paired Decoder (see NewDecoder) so the two directions never
// keep divergent views of a stream's send/receive windows, and it
// satisfies Peer for that Decoder's control-frame replies.
type Encoder struct {
	cfg Config
	w   Writer

	mu      *sync.Mutex // shared with the paired Decoder; see Decoder.mu
	henc    *HeaderEncoder
	streams *scarce.Table
	conn    *connFlow

	peerMaxFrameSize uint32

	// onError reports a write failure or outbound protocol violation;
	// the caller tears the connection down the same way a Decoder error
	// would. May be nil in tests that don't care.
	onError func(error)
}

// NewEncoder constructs an Encoder for one connection. w is the
// connection's byte sink; streams, conn and mu must be the same values
// passed to that connection's NewDecoder.
func NewEncoder(cfg Config, w Writer, streams *scarce.Table, conn *connFlow, mu *sync.Mutex, onError func(error)) *Encoder {
	cfg = cfg.withDefaults()
	return &Encoder{
		cfg:              cfg,
		w:                w,
		mu:               mu,
		henc:             NewHeaderEncoder(),
		streams:          streams,
		conn:             conn,
		peerMaxFrameSize: uint32(cfg.MaxFrameSize),
		onError:          onError,
	}
}

// Accept implements filter.Receiver, consuming one outbound Event and
// turning it into frames (or, when flow control is exhausted, queuing
// the remainder on the stream to resume later via FlushAfterCredit).
func (en *Encoder) Accept(e event.Event) {
	en.mu.Lock()
	defer en.mu.Unlock()

	var err error
	switch e.Kind {
	case event.KindMessageStart:
		err = en.sendHeaders(e.StreamID, e.Head)
	case event.KindData:
		err = en.queueData(e.StreamID, e.Data)
	case event.KindMessageEnd:
		err = en.endMessage(e.StreamID, e.Tail)
	case event.KindStreamEnd:
		err = en.sendRSTStream(e.StreamID, mapErrorKind(e.Err))
		en.closeStreamLocked(e.StreamID)
	}
	if err != nil && en.onError != nil {
		en.onError(err)
	}
}

func (en *Encoder) getStream(id uint32) (*streamState, bool) {
	v, ok := en.streams.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*streamState), true
}

// getOrCreateStream only fires when an outbound event addresses a stream
// the Decoder hasn't seen yet — a locally-initiated stream. Its windows
// start at the RFC 7540 default and get corrected once the peer's
// SETTINGS or the Decoder's own bookkeeping catches up; ordinarily the
// Decoder has already created the shared streamState first.
func (en *Encoder) getOrCreateStream(id uint32) *streamState {
	if s, ok := en.getStream(id); ok {
		return s
	}
	s := newStreamState(id, defaultInitialWindowSize, defaultInitialWindowSize)
	en.streams.Set(id, s)
	return s
}

func (en *Encoder) closeStreamLocked(id uint32) {
	en.streams.Delete(id)
}

func (en *Encoder) maxFrameSize() int {
	if en.peerMaxFrameSize == 0 {
		return maxPayloadSize
	}
	return int(en.peerMaxFrameSize)
}

// splitFields separates a Head/Tail's attributes into HTTP/2 pseudo and
// regular header fields. When Extra carries the ordered []HeaderField a
// Decoder originally produced (the common round-trip case), that order
// — including any duplicates — is preserved; otherwise fields are
// derived from the flat Attrs map.
func splitFields(attrs map[string]string, extra any) (pseudo map[string]string, regular []HeaderField) {
	pseudo = make(map[string]string)
	if fields, ok := extra.([]HeaderField); ok {
		for _, f := range fields {
			if strings.HasPrefix(f.Name, ":") {
				pseudo[f.Name] = f.Value
			} else {
				regular = append(regular, f)
			}
		}
		return pseudo, regular
	}
	for k, v := range attrs {
		if strings.HasPrefix(k, ":") {
			pseudo[k] = v
		} else {
			regular = append(regular, HeaderField{Name: k, Value: v})
		}
	}
	return pseudo, regular
}

// sendHeaders encodes and writes the HEADERS frame (plus CONTINUATION
// frames if the compressed block exceeds one frame's max size) opening
// a message.
func (en *Encoder) sendHeaders(streamID uint32, head *event.Head) error {
	var attrs map[string]string
	var extra any
	if head != nil {
		attrs, extra = head.Attrs, head.Extra
	}
	pseudo, regular := splitFields(attrs, extra)
	block, err := en.henc.Encode(pseudo, regular)
	if err != nil {
		return err
	}
	return en.writeHeaderBlock(streamID, block, false)
}

func (en *Encoder) writeHeaderBlock(streamID uint32, block []byte, endStream bool) error {
	max := en.maxFrameSize()
	first := block
	rest := []byte(nil)
	if len(first) > max {
		first, rest = block[:max], block[max:]
	}
	flags := uint8(0)
	if len(rest) == 0 {
		flags |= flagEndHeaders
	}
	if endStream {
		flags |= flagEndStream
	}
	if err := en.writeFrame(frameHeaders, flags, streamID, first); err != nil {
		return err
	}
	for len(rest) > 0 {
		chunk := rest
		last := len(chunk) <= max
		if !last {
			chunk = rest[:max]
		}
		cflags := uint8(0)
		if last {
			cflags |= flagEndHeaders
		}
		if err := en.writeFrame(frameContinuation, cflags, streamID, chunk); err != nil {
			return err
		}
		rest = rest[len(chunk):]
	}
	return nil
}

// queueData appends d to the stream's outbound queue and flushes as much
// of it as the current flow-control windows allow.
func (en *Encoder) queueData(streamID uint32, d databuf.Data) error {
	s := en.getOrCreateStream(streamID)
	s.queued.Push(d)
	return en.flushStream(streamID, s)
}

// endMessage records that no more Data will follow for this message: a
// nil tail means the final DATA frame (possibly empty) carries
// END_STREAM; a non-nil tail means a trailing HEADERS block does,
// emitted only once any already-queued body has fully drained.
func (en *Encoder) endMessage(streamID uint32, tail *event.Tail) error {
	s := en.getOrCreateStream(streamID)
	if tail != nil {
		s.trailPending = tail
	} else {
		s.endPending = true
	}
	return en.flushStream(streamID, s)
}

// flushStream emits as many DATA frames as the connection and stream
// send windows currently allow, stopping (with the remainder left on
// s.queued) the moment either window is exhausted. Once the queue
// drains, it emits whatever terminal action was requested: an
// END_STREAM DATA frame, or a trailers HEADERS block. Called with mu
// already held — it is both Accept's worker and FlushAfterCredit's.
func (en *Encoder) flushStream(streamID uint32, s *streamState) error {
	max := en.maxFrameSize()
	for s.queued.Len() > 0 {
		want := s.queued.Len()
		if want > max {
			want = max
		}
		send, _ := maxSendChunk(want, en.conn.sendWindow, s.sendWindow)
		if send <= 0 {
			return nil // blocked on flow control; resumes via FlushAfterCredit
		}
		chunk := s.queued.Shift(send)
		en.conn.sendWindow -= int64(send)
		s.debitSend(int64(send))
		endStream := s.queued.Len() == 0 && s.endPending && s.trailPending == nil
		if err := en.writeDataFrame(streamID, chunk, endStream); err != nil {
			return err
		}
		if endStream {
			s.endPending = false
		}
	}
	if s.endPending && s.trailPending == nil {
		if err := en.writeDataFrame(streamID, databuf.Data{}, true); err != nil {
			return err
		}
		s.endPending = false
	}
	if s.trailPending != nil {
		tail := s.trailPending
		s.trailPending = nil
		pseudo, regular := splitFields(tail.Attrs, tail.Extra)
		block, err := en.henc.Encode(pseudo, regular)
		if err != nil {
			return err
		}
		if err := en.writeHeaderBlock(streamID, block, true); err != nil {
			return err
		}
	}
	return nil
}

func (en *Encoder) writeDataFrame(streamID uint32, body databuf.Data, endStream bool) error {
	defer body.Close()
	flags := uint8(0)
	if endStream {
		flags |= flagEndStream
	}
	var hdr [headerLength]byte
	putFrameHeader(hdr[:], uint32(body.Len()), frameData, flags, streamID)
	if err := en.w.Write(hdr[:]); err != nil {
		return err
	}
	if body.Len() == 0 {
		return nil
	}
	return en.w.Write(body.Bytes())
}

func (en *Encoder) writeFrame(typ uint8, flags uint8, streamID uint32, payload []byte) error {
	var hdr [headerLength]byte
	putFrameHeader(hdr[:], uint32(len(payload)), typ, flags, streamID)
	if err := en.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return en.w.Write(payload)
}

// mapErrorKind translates the engine's transport-agnostic ErrorKind into
// an RFC 7540 §7 error code for RST_STREAM/GOAWAY.
func mapErrorKind(k event.ErrorKind) uint32 {
	switch k {
	case event.ErrNone:
		return errCodeNoError
	case event.ErrProtocolError:
		return errCodeProtocolError
	case event.ErrBufferOverflow:
		return errCodeFlowControlError
	case event.ErrConnectionCanceled:
		return errCodeCancel
	case event.ErrUnauthorizedError:
		return errCodeRefusedStream
	case event.ErrInternalError, event.ErrReadError, event.ErrWriteError:
		return errCodeInternalError
	default:
		return errCodeCancel
	}
}

// Peer implementation — these methods are always called by a Decoder
// that already holds mu (see Decoder.dispatch), so none of them locks.

// FlushAfterCredit retries whatever is parked on a stream's (or, for
// streamID 0, every stream's) outbound queue after its send window was
// just credited.
func (en *Encoder) FlushAfterCredit(streamID uint32) error {
	if streamID != 0 {
		if s, ok := en.getStream(streamID); ok {
			return en.flushStream(streamID, s)
		}
		return nil
	}
	var firstErr error
	en.streams.Range(func(id uint32, v any) bool {
		if err := en.flushStream(id, v.(*streamState)); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// SendWindowUpdate writes a WINDOW_UPDATE frame (streamID 0 for the
// connection-level window).
func (en *Encoder) SendWindowUpdate(streamID uint32, increment uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], increment&headerMask)
	return en.writeFrame(frameWindowUpdate, 0, streamID, payload[:])
}

// SendRSTStream writes an RST_STREAM frame with the given error code.
func (en *Encoder) SendRSTStream(streamID uint32, code uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], code)
	return en.writeFrame(frameRSTStream, 0, streamID, payload[:])
}

func (en *Encoder) sendRSTStream(streamID uint32, code uint32) error {
	if streamID == 0 {
		return nil
	}
	return en.SendRSTStream(streamID, code)
}

// SendGoAway writes a GOAWAY frame naming the last stream ID this
// connection promises to still process.
func (en *Encoder) SendGoAway(lastStreamID uint32, code uint32) error {
	var payload [8]byte
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&headerMask)
	binary.BigEndian.PutUint32(payload[4:8], code)
	return en.writeFrame(frameGoAway, 0, 0, payload[:])
}

// SendSettingsAck acknowledges a peer SETTINGS frame.
func (en *Encoder) SendSettingsAck() error {
	return en.writeFrame(frameSettings, flagAck, 0, nil)
}

// SendPingAck echoes a PING frame's payload back with the ACK flag set.
func (en *Encoder) SendPingAck(payload [8]byte) error {
	return en.writeFrame(framePing, flagAck, 0, payload[:])
}

// SetPeerMaxFrameSize applies the peer's advertised
// SETTINGS_MAX_FRAME_SIZE, bounding how large a frame this Encoder may
// emit.
func (en *Encoder) SetPeerMaxFrameSize(v uint32) { en.peerMaxFrameSize = v }

// SetPeerHeaderTableSize applies the peer's advertised
// SETTINGS_HEADER_TABLE_SIZE to this Encoder's HPACK dynamic table.
func (en *Encoder) SetPeerHeaderTableSize(v uint32) { en.henc.SetMaxDynamicTableSize(v) }
