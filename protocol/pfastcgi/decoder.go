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

package pfastcgi

import (
	"encoding/binary"
	"strconv"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

const (
	stateHeaderFilled = iota
	stateContentFilled
	statePaddingFilled
)

const maxFillChunk = 64 * 1024

// Decoder turns a stream of FastCGI records into event.Event values,
// one MessageStart..Data?..MessageEnd span per record. Records for the
// same request ID share a StreamID, mirroring how a single FastCGI
// request's STDIN/PARAMS/STDOUT/STDERR records interleave on one
// connection.
type Decoder struct {
	cfg Config
	out filter.Receiver
	df  *deframer.Deframer

	hdr [headerLength]byte
	pad [0x100]byte

	contentLen int
	remaining  int
	content    databuf.Data
}

// NewDecoder constructs a Decoder that emits events to out.
func NewDecoder(cfg Config, out filter.Receiver) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{cfg: cfg, out: out}
	d.df = deframer.New(d)
	d.df.RequestFillBuffer(headerLength, d.hdr[:])
	return d
}

// Feed drives the decoder with the next span of inbound bytes.
func (d *Decoder) Feed(in databuf.Data) error {
	return d.df.Feed(in)
}

func (d *Decoder) OnPass(data databuf.Data) error {
	data.Close()
	return nil
}

func (d *Decoder) OnStreamEnd() {
	d.out.Accept(event.StreamEnd(0, event.ErrProtocolError))
}

func (d *Decoder) OnState(state int, b int) (int, error) {
	switch state {
	case stateHeaderFilled:
		return d.onHeaderFilled()
	case stateContentFilled:
		return d.onContentFilled()
	case statePaddingFilled:
		return d.onPaddingFilled()
	default:
		return deframer.StateDone, newError("unknown decoder state %d", state)
	}
}

func (d *Decoder) onHeaderFilled() (int, error) {
	if d.hdr[0] != protocolVersion1 {
		return deframer.StateDone, newError("unsupported version %d", d.hdr[0])
	}
	d.contentLen = int(binary.BigEndian.Uint16(d.hdr[4:6]))
	if d.contentLen > maxContentLength {
		return deframer.StateDone, newError("content length %d exceeds protocol maximum", d.contentLen)
	}
	d.remaining = d.contentLen
	d.content = databuf.Data{}
	if d.contentLen == 0 {
		return d.afterContent()
	}
	d.df.RequestFillData(clampChunk(d.remaining))
	return stateContentFilled, nil
}

func (d *Decoder) onContentFilled() (int, error) {
	chunk := d.df.TakeFillData()
	d.content.Push(chunk)
	d.remaining -= chunk.Len()
	if d.remaining > 0 {
		d.df.RequestFillData(clampChunk(d.remaining))
		return stateContentFilled, nil
	}
	return d.afterContent()
}

func (d *Decoder) afterContent() (int, error) {
	padLen := int(d.hdr[6])
	if padLen == 0 {
		return d.emit()
	}
	d.df.RequestFillBuffer(padLen, d.pad[:padLen])
	return statePaddingFilled, nil
}

func (d *Decoder) onPaddingFilled() (int, error) {
	return d.emit()
}

func clampChunk(remaining int) int {
	if remaining > maxFillChunk {
		return maxFillChunk
	}
	return remaining
}

func (d *Decoder) emit() (int, error) {
	recType := d.hdr[1]
	requestID := binary.BigEndian.Uint16(d.hdr[2:4])
	content := d.content
	d.content = databuf.Data{}

	attrs := map[string]string{
		attrRecordType: typeName(recType),
	}

	switch recType {
	case typeBeginRequest:
		body := content.Bytes()
		if len(body) >= 3 {
			role := binary.BigEndian.Uint16(body[0:2])
			attrs[attrRole] = roleName(role)
			attrs[attrKeepConn] = boolStr(body[2]&0x01 != 0)
		}
	case typeEndRequest:
		body := content.Bytes()
		if len(body) >= 5 {
			attrs[attrAppStatus] = strconv.Itoa(int(binary.BigEndian.Uint32(body[0:4])))
			attrs[attrProtoStat] = strconv.Itoa(int(body[4]))
		}
	case typeParams, typeGetValues, typeGetValuesResult:
		for name, value := range decodeNameValuePairs(content.Bytes()) {
			attrs[paramAttrKey(name)] = value
		}
	}

	streamID := uint32(requestID)
	head := &event.Head{Protocol: PROTO, Attrs: attrs}
	d.out.Accept(event.MessageStart(streamID, head))
	d.df.SetMidMessage(true)
	if !content.Empty() {
		d.out.Accept(event.DataEvent(streamID, content))
	} else {
		content.Close()
	}
	d.out.Accept(event.MessageEnd(streamID, nil))
	d.df.SetMidMessage(false)

	d.df.RequestFillBuffer(headerLength, d.hdr[:])
	return stateHeaderFilled, nil
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

const paramAttrPrefix = "fastcgi.param."

func paramAttrKey(name string) string { return paramAttrPrefix + name }

// decodeNameValuePairs parses FastCGI's name-value pair encoding: each
// of a name's and a value's length is either a single byte (high bit
// clear, 0-127) or a 4-byte big-endian length with the high bit of the
// first byte set and masked off. Malformed trailing bytes are ignored
// rather than treated as a protocol error, since PARAMS content is
// advisory metadata, not framing.
func decodeNameValuePairs(buf []byte) map[string]string {
	out := make(map[string]string)
	for len(buf) > 0 {
		nameLen, n, ok := readNVLength(buf)
		if !ok {
			return out
		}
		buf = buf[n:]

		valueLen, n, ok := readNVLength(buf)
		if !ok {
			return out
		}
		buf = buf[n:]

		if len(buf) < nameLen+valueLen {
			return out
		}
		name := string(buf[:nameLen])
		value := string(buf[nameLen : nameLen+valueLen])
		out[name] = value
		buf = buf[nameLen+valueLen:]
	}
	return out
}

func readNVLength(buf []byte) (length, consumed int, ok bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	if buf[0]&0x80 == 0 {
		return int(buf[0]), 1, true
	}
	if len(buf) < 4 {
		return 0, 0, false
	}
	v := binary.BigEndian.Uint32(buf[0:4]) & 0x7fffffff
	return int(v), 4, true
}
