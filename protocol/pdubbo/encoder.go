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

package pdubbo

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/fluxgate/fluxd/event"
)

// Writer is the byte sink an Encoder serializes frames into.
type Writer interface {
	Write(p []byte) error
}

// Encoder turns outbound event.Event values into Dubbo frames.
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
	var flag byte
	if en.attrs[attrRequest] == "true" {
		flag |= flagRequest
	}
	if en.attrs[attrTwoWay] == "true" {
		flag |= flagTwoWay
	}
	if en.attrs[attrEvent] == "true" {
		flag |= flagEvent
	}
	if sid, err := strconv.Atoi(en.attrs[attrSerializationID]); err == nil {
		flag |= byte(sid) & serializationMask
	}

	var status byte
	for code := byte(1); code < 255; code++ {
		if statusName(code) == en.attrs[attrStatus] {
			status = code
			break
		}
	}

	var hdr [headerLength]byte
	hdr[0] = magicHigh
	hdr[1] = magicLow
	hdr[2] = flag
	hdr[3] = status
	binary.BigEndian.PutUint64(hdr[4:12], uint64(en.streamID))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(en.body.Len()))

	if err := en.w.Write(hdr[:]); err != nil {
		return err
	}
	err := en.w.Write(en.body.Bytes())
	en.attrs = nil
	en.streamID = 0
	en.body.Reset()
	return err
}
