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

package pprotobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	w := &bufWriter{}
	enc := NewEncoder(w, func(error) {})

	msg := NewMessage()
	msg.SetVarint(1, 7)
	body := Marshal(msg)

	enc.Accept(event.MessageStart(3, &event.Head{
		Attrs: map[string]string{attrCompressed: "false"},
	}))
	enc.Accept(event.DataEvent(3, databuf.FromBytes(body)))
	enc.Accept(event.MessageEnd(3, nil))

	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	require.NoError(t, d.Feed(databuf.FromBytes(w.bytes())))

	events := rec.take()
	require.Len(t, events, 3)
	got, err := Unmarshal(events[1].Data.Bytes())
	require.NoError(t, err)
	v, ok := got.Uint64(1)
	require.True(t, ok)
	assert.Equal(t, uint64(7), v)
}

func TestEncoderEmptyBodyProducesZeroLengthFrame(t *testing.T) {
	w := &bufWriter{}
	enc := NewEncoder(w, func(error) {})

	enc.Accept(event.MessageStart(1, &event.Head{Attrs: map[string]string{}}))
	enc.Accept(event.MessageEnd(1, nil))

	out := w.bytes()
	require.Len(t, out, frameHeaderLen)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, []byte{0, 0, 0, 0}, out[1:5])
}
