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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	w := &bufWriter{}
	enc := NewEncoder(w, func(error) {})

	enc.Accept(event.MessageStart(42, &event.Head{
		Attrs: map[string]string{
			attrRequest:         "true",
			attrTwoWay:          "true",
			attrSerializationID: "2",
		},
	}))
	enc.Accept(event.DataEvent(42, databuf.FromBytes([]byte("call-bytes"))))
	enc.Accept(event.MessageEnd(42, nil))

	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	require.NoError(t, d.Feed(databuf.FromBytes(w.bytes())))

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, uint32(42), events[0].StreamID)
	assert.Equal(t, "call-bytes", string(events[1].Data.Bytes()))
}
