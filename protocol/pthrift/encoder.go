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

package pthrift

import (
	"bytes"
	"encoding/binary"

	"github.com/fluxgate/fluxd/event"
)

// Writer is the byte sink an Encoder serializes frames into.
type Writer interface {
	Write(p []byte) error
}

var reverseMessageTypeNames = func() map[string]uint8 {
	m := make(map[string]uint8, len(messageTypeNames))
	for k, v := range messageTypeNames {
		m[v] = k
	}
	return m
}()

// Encoder turns outbound event.Event values into framed-transport
// Thrift messages.
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
	msgType := reverseMessageTypeNames[en.attrs[attrMessageType]]
	if msgType == 0 {
		msgType = messageTypeCall
	}
	name := en.attrs[attrMethodName]

	var envelope bytes.Buffer
	var word0 [4]byte
	binary.BigEndian.PutUint32(word0[:], version1|uint32(msgType)&typeMask)
	envelope.Write(word0[:])

	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(name)))
	envelope.Write(nameLen[:])
	envelope.WriteString(name)

	var seqID [4]byte
	binary.BigEndian.PutUint32(seqID[:], en.streamID)
	envelope.Write(seqID[:])

	frameLen := envelope.Len() + en.body.Len()
	var lenBuf [frameLengthSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(frameLen))

	if err := en.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if err := en.w.Write(envelope.Bytes()); err != nil {
		return err
	}
	err := en.w.Write(en.body.Bytes())

	en.attrs = nil
	en.streamID = 0
	en.body.Reset()
	return err
}
