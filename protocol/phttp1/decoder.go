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

package phttp1

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

// byte-scan states.
const (
	stateLine      = iota // accumulating one '\n'-terminated line into dec.line
	stateBodyFill         // a fixed-length body span or one chunk's data just filled
	stateChunkCRLF        // the two-byte CRLF trailing a chunk's data just filled
)

// lineKind distinguishes what dec.line holds once a stateLine scan
// reaches '\n', since the same byte-scan state serves every line shape
// HTTP/1.1 has (start line, header line, chunk-size line, trailer line).
type lineKind uint8

const (
	lineStart lineKind = iota
	lineHeader
	lineChunkSize
	lineTrailer
)

// bodyMode distinguishes why stateBodyFill was entered, since a fixed
// Content-Length body and a chunk's data both fill through the same
// state but finish differently.
type bodyMode uint8

const (
	bodyModeNone bodyMode = iota
	bodyModeFixed
	bodyModeChunked
)

// role is which direction's grammar the current message follows,
// sniffed from the start line's own shape (a request line never starts
// with "HTTP/"; a status line always does).
type role uint8

const (
	roleUnknown role = iota
	roleRequest
	roleResponse
)

// maxFillChunk bounds how much of a Content-Length body or one chunk's
// data is requested from the deframer at a time, so a multi-gigabyte
// body never forces one single enormous ModeFillData allocation.
const maxFillChunk = 64 * 1024

var httpVersionPrefix = []byte("HTTP/")

// Decoder turns a byte stream carrying one HTTP/1.1 request or response
// after another into event.Event values, auto-detecting request vs.
// response from the start line and delegating start-line + header
// parsing to net/http's own readers rather than hand-rolling RFC 7230
// grammar a second time.
type Decoder struct {
	cfg Config
	out filter.Receiver

	df *deframer.Deframer

	role role
	line bytes.Buffer // the line currently being accumulated (include its CRLF)
	kind lineKind

	headerBuf bytes.Buffer // raw start-line + header (or trailer) block, fed to net/http

	mode      bodyMode
	remaining int64 // bytes left in the current fixed body or current chunk
	crlf      [2]byte
}

// NewDecoder constructs a Decoder that emits events to out.
func NewDecoder(cfg Config, out filter.Receiver) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{cfg: cfg, out: out, kind: lineStart}
	d.df = deframer.New(d)
	return d
}

// Feed drives the decoder with the next span of inbound bytes.
func (d *Decoder) Feed(in databuf.Data) error {
	return d.df.Feed(in)
}

// OnPass is never reached: this codec never requests ModePassThrough.
func (d *Decoder) OnPass(data databuf.Data) error {
	data.Close()
	return nil
}

// OnStreamEnd reports the connection closing mid-message as a protocol
// error, the same contract phttp2's decoder honors.
func (d *Decoder) OnStreamEnd() {
	d.out.Accept(event.StreamEnd(0, event.ErrProtocolError))
}

// OnState dispatches a scanned byte or a just-completed fill to the
// handler for the deframer's current mode.
func (d *Decoder) OnState(state int, b int) (int, error) {
	switch state {
	case stateLine:
		d.line.WriteByte(byte(b))
		if b != '\n' {
			if d.line.Len() > d.cfg.MaxHeaderBytes {
				return deframer.StateDone, newError("line exceeds max_header_bytes")
			}
			return stateLine, nil
		}
		return d.dispatchLine()

	case stateBodyFill:
		return d.onBodyFilled()

	case stateChunkCRLF:
		return d.onChunkCRLFFilled()

	default:
		return deframer.StateDone, newError("unknown decoder state %d", state)
	}
}

// dispatchLine routes one complete line (still carrying its trailing
// CRLF or LF) to the handler for what kind of line it is.
func (d *Decoder) dispatchLine() (int, error) {
	line := append([]byte(nil), d.line.Bytes()...)
	d.line.Reset()
	switch d.kind {
	case lineStart:
		return d.onStartLine(line)
	case lineHeader:
		return d.onHeaderLine(line)
	case lineChunkSize:
		return d.onChunkSizeLine(line)
	case lineTrailer:
		return d.onTrailerLine(line)
	default:
		return deframer.StateDone, newError("unknown line kind")
	}
}

func isBlankLine(line []byte) bool {
	return bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))
}

// onStartLine sniffs request vs. response from the line's shape and
// begins accumulating the header block.
func (d *Decoder) onStartLine(line []byte) (int, error) {
	trimmed := bytes.TrimRight(line, "\r\n")
	if len(trimmed) == 0 {
		// tolerate a stray blank line between one message and the next,
		// as RFC 7230 §3.5 recommends for robustness.
		return stateLine, nil
	}
	if bytes.HasPrefix(trimmed, httpVersionPrefix) {
		d.role = roleResponse
	} else {
		d.role = roleRequest
	}
	d.headerBuf.Reset()
	d.headerBuf.Write(line)
	d.kind = lineHeader
	return stateLine, nil
}

func (d *Decoder) onHeaderLine(line []byte) (int, error) {
	d.headerBuf.Write(line)
	if !isBlankLine(line) {
		return stateLine, nil
	}
	return d.finishHeaders()
}

// finishHeaders parses the accumulated start-line + header block
// through net/http's own request/response readers, emits MessageStart,
// and decides how the body (if any) is framed.
func (d *Decoder) finishHeaders() (int, error) {
	raw := append([]byte(nil), d.headerBuf.Bytes()...)
	d.headerBuf.Reset()

	var head *event.Head
	var noBody bool

	switch d.role {
	case roleRequest:
		req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return deframer.StateDone, newError("request line/headers: %v", err)
		}
		attrs := flattenHeader(req.Header)
		if req.Host != "" {
			// net/http moves Host out of req.Header into req.Host
			attrs["host"] = req.Host
		}
		attrs[attrMethod] = req.Method
		attrs[attrPath] = req.URL.RequestURI()
		head = &event.Head{
			Protocol: PROTO,
			Attrs:    attrs,
			Extra:    &RequestLine{Method: req.Method, Target: req.URL.RequestURI(), Proto: req.Proto},
		}
		d.mode = bodyModeNone
		d.remaining = req.ContentLength
		if isChunked(req.TransferEncoding) && req.ContentLength < 0 {
			d.mode = bodyModeChunked
		} else if req.ContentLength > 0 {
			d.mode = bodyModeFixed
		}

	case roleResponse:
		resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
		if err != nil {
			return deframer.StateDone, newError("status line/headers: %v", err)
		}
		attrs := flattenHeader(resp.Header)
		attrs[attrStatus] = strconv.Itoa(resp.StatusCode)
		head = &event.Head{
			Protocol: PROTO,
			Attrs:    attrs,
			Extra: &StatusLine{Proto: resp.Proto, StatusCode: resp.StatusCode,
				Reason: strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")},
		}
		// RFC 7230 §3.3.3: 1xx, 204 and 304 responses never carry a body
		// regardless of what Content-Length or Transfer-Encoding claim.
		noBody = resp.StatusCode/100 == 1 || resp.StatusCode == 204 || resp.StatusCode == 304
		d.mode = bodyModeNone
		d.remaining = resp.ContentLength
		if !noBody {
			if isChunked(resp.TransferEncoding) && resp.ContentLength < 0 {
				d.mode = bodyModeChunked
			} else if resp.ContentLength > 0 {
				d.mode = bodyModeFixed
			}
		}

	default:
		return deframer.StateDone, newError("start line decoded with no role set")
	}

	d.out.Accept(event.MessageStart(0, head))
	d.df.SetMidMessage(true)

	switch d.mode {
	case bodyModeChunked:
		d.kind = lineChunkSize
		return stateLine, nil
	case bodyModeFixed:
		d.df.RequestFillData(clampChunk(d.remaining))
		return stateBodyFill, nil
	default:
		return d.endMessage(nil)
	}
}

func (d *Decoder) onBodyFilled() (int, error) {
	chunk := d.df.TakeFillData()
	d.remaining -= int64(chunk.Len())
	d.out.Accept(event.DataEvent(0, chunk))

	if d.remaining > 0 {
		d.df.RequestFillData(clampChunk(d.remaining))
		return stateBodyFill, nil
	}

	switch d.mode {
	case bodyModeFixed:
		return d.endMessage(nil)
	case bodyModeChunked:
		d.df.RequestFillBuffer(2, d.crlf[:])
		return stateChunkCRLF, nil
	default:
		return deframer.StateDone, newError("body filled with no body mode set")
	}
}

func (d *Decoder) onChunkCRLFFilled() (int, error) {
	if d.crlf != [2]byte{'\r', '\n'} {
		return deframer.StateDone, newError("malformed chunk terminator")
	}
	d.kind = lineChunkSize
	return stateLine, nil
}

// onChunkSizeLine parses one "size[;ext]\r\n" line. A zero size marks
// the end of the chunked body and switches to trailer parsing.
func (d *Decoder) onChunkSizeLine(line []byte) (int, error) {
	trimmed := bytes.TrimRight(line, "\r\n")
	if i := bytes.IndexByte(trimmed, ';'); i >= 0 {
		trimmed = trimmed[:i]
	}
	n, err := parseHexUint(trimmed)
	if err != nil {
		return deframer.StateDone, err
	}
	if n == 0 {
		d.kind = lineTrailer
		d.headerBuf.Reset()
		return stateLine, nil
	}
	d.mode = bodyModeChunked
	d.remaining = int64(n)
	d.df.RequestFillData(clampChunk(d.remaining))
	return stateBodyFill, nil
}

// onTrailerLine accumulates the trailer block following the final
// zero-size chunk and parses it once the terminating blank line arrives.
func (d *Decoder) onTrailerLine(line []byte) (int, error) {
	d.headerBuf.Write(line)
	if !isBlankLine(line) {
		return stateLine, nil
	}
	raw := append([]byte(nil), d.headerBuf.Bytes()...)
	d.headerBuf.Reset()

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return deframer.StateDone, newError("trailer: %v", err)
	}
	var tail *event.Tail
	if len(hdr) > 0 {
		tail = &event.Tail{Attrs: flattenHeader(http.Header(hdr))}
	}
	return d.endMessage(tail)
}

func (d *Decoder) endMessage(tail *event.Tail) (int, error) {
	d.out.Accept(event.MessageEnd(0, tail))
	d.df.SetMidMessage(false)
	d.role = roleUnknown
	d.mode = bodyModeNone
	d.kind = lineStart
	return stateLine, nil
}

func flattenHeader(h http.Header) map[string]string {
	attrs := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		attrs[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return attrs
}

func isChunked(te []string) bool {
	return len(te) > 0 && strings.EqualFold(te[len(te)-1], "chunked")
}

func clampChunk(remaining int64) int {
	if remaining > maxFillChunk {
		return maxFillChunk
	}
	return int(remaining)
}

// parseHexUint parses a chunk-size field: a bare hex integer, no sign,
// no "0x" prefix, per RFC 7230 §4.1.
func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, newError("empty chunk size")
	}
	var n uint64
	for i, b := range v {
		var digit uint64
		switch {
		case '0' <= b && b <= '9':
			digit = uint64(b - '0')
		case 'a' <= b && b <= 'f':
			digit = uint64(b-'a') + 10
		case 'A' <= b && b <= 'F':
			digit = uint64(b-'A') + 10
		default:
			return 0, newError("invalid chunk size digit %q", b)
		}
		if i >= 16 {
			return 0, newError("chunk size too large")
		}
		n = n<<4 | digit
	}
	return n, nil
}
