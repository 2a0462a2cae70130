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
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

// Writer is the byte sink an Encoder serializes a message into — the
// same narrow seam phttp2.Writer uses, satisfied by *netio.Conn or an
// in-memory buffer in tests.
type Writer interface {
	Write(p []byte) error
}

// Encoder turns outbound event.Event values into an HTTP/1.1 byte
// stream. HTTP/1 has no multiplexing, so one Encoder handles exactly
// one message's MessageStart..Data*..MessageEnd span at a time; nothing
// enforces that here beyond the natural serial arrival of events for a
// single-stream transport.
type Encoder struct {
	w       Writer
	onError func(error)

	chunked bool
}

// NewEncoder constructs an Encoder writing to w.
func NewEncoder(w Writer, onError func(error)) *Encoder {
	return &Encoder{w: w, onError: onError}
}

// Accept implements filter.Receiver.
func (en *Encoder) Accept(e event.Event) {
	var err error
	switch e.Kind {
	case event.KindMessageStart:
		err = en.writeHead(e.Head)
	case event.KindData:
		err = en.writeData(e.Data)
	case event.KindMessageEnd:
		err = en.writeEnd(e.Tail)
	case event.KindStreamEnd:
		// HTTP/1 has no connection-level control frame to send here; the
		// transport itself closes.
	}
	if err != nil && en.onError != nil {
		en.onError(err)
	}
}

func (en *Encoder) writeHead(head *event.Head) error {
	if head == nil {
		return newError("MessageStart with nil Head")
	}

	var buf bytes.Buffer
	writeStartLine(&buf, head)

	_, hasLength := head.Attrs["content-length"]
	en.chunked = !hasLength
	for k, v := range head.Attrs {
		if strings.HasPrefix(k, ":") {
			continue
		}
		buf.WriteString(textproto.CanonicalMIMEHeaderKey(k))
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	if en.chunked {
		buf.WriteString("Transfer-Encoding: chunked\r\n")
	}
	buf.WriteString("\r\n")
	return en.w.Write(buf.Bytes())
}

// writeStartLine prefers the exact RequestLine/StatusLine the decoder
// stashed in Extra (preserving the original method casing, reason
// phrase, and HTTP minor version) and falls back to the flat pseudo
// attributes when a caller builds a Head by hand.
func writeStartLine(buf *bytes.Buffer, head *event.Head) {
	switch v := head.Extra.(type) {
	case *RequestLine:
		buf.WriteString(v.Method)
		buf.WriteByte(' ')
		buf.WriteString(v.Target)
		buf.WriteByte(' ')
		buf.WriteString(nonEmpty(v.Proto, "HTTP/1.1"))
		buf.WriteString("\r\n")
		return
	case *StatusLine:
		buf.WriteString(nonEmpty(v.Proto, "HTTP/1.1"))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(v.StatusCode))
		buf.WriteByte(' ')
		buf.WriteString(v.Reason)
		buf.WriteString("\r\n")
		return
	}

	if method, ok := head.Attrs[attrMethod]; ok {
		fmt.Fprintf(buf, "%s %s HTTP/1.1\r\n", method, head.Attrs[attrPath])
		return
	}
	status := head.Attrs[attrStatus]
	code, _ := strconv.Atoi(status)
	fmt.Fprintf(buf, "HTTP/1.1 %s %s\r\n", status, http.StatusText(code))
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (en *Encoder) writeData(d databuf.Data) error {
	defer d.Close()
	if d.Empty() {
		return nil
	}
	if !en.chunked {
		return en.w.Write(d.Bytes())
	}
	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "%x\r\n", d.Len())
	if err := en.w.Write(hdr.Bytes()); err != nil {
		return err
	}
	if err := en.w.Write(d.Bytes()); err != nil {
		return err
	}
	return en.w.Write([]byte("\r\n"))
}

func (en *Encoder) writeEnd(tail *event.Tail) error {
	if !en.chunked {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("0\r\n")
	if tail != nil {
		for k, v := range tail.Attrs {
			buf.WriteString(textproto.CanonicalMIMEHeaderKey(k))
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	return en.w.Write(buf.Bytes())
}
