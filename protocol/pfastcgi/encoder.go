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
	"bytes"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/fluxgate/fluxd/event"
)

// Writer is the byte sink an Encoder serializes records into.
type Writer interface {
	Write(p []byte) error
}

var reverseTypeNames = func() map[string]uint8 {
	m := make(map[string]uint8, len(typeNames))
	for k, v := range typeNames {
		m[v] = k
	}
	return m
}()

// Encoder turns outbound event.Event values into FastCGI records. One
// record per MessageStart/Data/MessageEnd span, since event.Event has
// no notion of FastCGI's own record-level content-length framing —
// content over maxContentLength is split across multiple records.
type Encoder struct {
	w       Writer
	onError func(error)

	streamID uint32
	attrs    map[string]string
	body     bytes.Buffer
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
		err = en.startMessage(e)
	case event.KindData:
		en.body.Write(e.Data.Bytes())
		e.Data.Close()
	case event.KindMessageEnd:
		err = en.flush()
	case event.KindStreamEnd:
	}
	if err != nil && en.onError != nil {
		en.onError(err)
	}
}

func (en *Encoder) startMessage(e event.Event) error {
	if e.Head == nil {
		return newError("MessageStart with nil Head")
	}
	en.attrs = e.Head.Attrs
	en.streamID = e.StreamID
	en.body.Reset()
	return nil
}

func (en *Encoder) flush() error {
	recType, ok := reverseTypeNames[en.attrs[attrRecordType]]
	if !ok {
		recType = typeStdin
	}

	body := en.body.Bytes()
	switch recType {
	case typeParams, typeGetValues, typeGetValuesResult:
		body = encodeNameValuePairs(en.attrs)
	}
	if len(body) == 0 {
		if err := en.writeRecord(recType, nil); err != nil {
			return err
		}
	}
	for len(body) > 0 {
		n := len(body)
		if n > maxContentLength {
			n = maxContentLength
		}
		if err := en.writeRecord(recType, body[:n]); err != nil {
			return err
		}
		body = body[n:]
	}

	en.attrs = nil
	en.streamID = 0
	en.body.Reset()
	return nil
}

// encodeNameValuePairs builds FastCGI name-value pair content from a
// MessageStart's "fastcgi.param."-prefixed attrs, sorted by name so
// encoding is deterministic.
func encodeNameValuePairs(attrs map[string]string) []byte {
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		if strings.HasPrefix(k, paramAttrPrefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var out bytes.Buffer
	for _, k := range names {
		name := strings.TrimPrefix(k, paramAttrPrefix)
		value := attrs[k]
		writeNVLength(&out, len(name))
		writeNVLength(&out, len(value))
		out.WriteString(name)
		out.WriteString(value)
	}
	return out.Bytes()
}

func writeNVLength(out *bytes.Buffer, n int) {
	if n < 0x80 {
		out.WriteByte(byte(n))
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|0x80000000)
	out.Write(b[:])
}

func (en *Encoder) writeRecord(recType uint8, content []byte) error {
	var hdr [headerLength]byte
	hdr[0] = protocolVersion1
	hdr[1] = recType
	binary.BigEndian.PutUint16(hdr[2:4], uint16(en.streamID))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(content)))
	hdr[6] = 0
	hdr[7] = 0

	if err := en.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	return en.w.Write(content)
}
