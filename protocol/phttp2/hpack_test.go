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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func literalField(name, value string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x40)
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	buf.WriteByte(byte(len(value)))
	buf.WriteString(value)
	return buf.Bytes()
}

func TestHeaderDecoderRoundTrip(t *testing.T) {
	hd := NewHeaderDecoder(4096)
	block := buildHeadersFramePayload(0, map[string]string{
		":method": "GET",
		":path":   "/",
		"accept":  "text/html",
	})
	fields, err := hd.Decode(block)
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range fields {
		got[f.Name] = f.Value
	}
	assert.Equal(t, "GET", got[":method"])
	assert.Equal(t, "/", got[":path"])
	assert.Equal(t, "text/html", got["accept"])
}

func TestHeaderDecoderRejectsUppercaseName(t *testing.T) {
	hd := NewHeaderDecoder(4096)
	_, err := hd.Decode(literalField("Content-Type", "text/plain"))
	assert.ErrorIs(t, err, errHPACKUppercaseName)
}

func TestHeaderDecoderRejectsConnectionSpecific(t *testing.T) {
	hd := NewHeaderDecoder(4096)
	_, err := hd.Decode(literalField("connection", "keep-alive"))
	assert.ErrorIs(t, err, errHPACKConnSpecific)
}

func TestHeaderDecoderRejectsBadTE(t *testing.T) {
	hd := NewHeaderDecoder(4096)
	_, err := hd.Decode(literalField("te", "gzip"))
	assert.ErrorIs(t, err, errHPACKBadTE)

	hd2 := NewHeaderDecoder(4096)
	_, err = hd2.Decode(literalField("te", "trailers"))
	assert.NoError(t, err)
}

func TestHeaderDecoderRejectsPseudoAfterRegular(t *testing.T) {
	hd := NewHeaderDecoder(4096)
	var buf bytes.Buffer
	buf.Write(literalField("content-type", "text/plain"))
	buf.Write(literalField(":method", "GET"))
	_, err := hd.Decode(buf.Bytes())
	assert.ErrorIs(t, err, errHPACKPseudoAfterReg)
}

func TestHeaderDecoderRejectsLateTableResize(t *testing.T) {
	hd := NewHeaderDecoder(4096)
	var buf bytes.Buffer
	buf.Write(literalField(":method", "GET"))
	buf.WriteByte(0x3F) // dynamic table size update, value follows in continuation bytes
	buf.WriteByte(0x00)
	_, err := hd.Decode(buf.Bytes())
	assert.ErrorIs(t, err, errHPACKLateTableResize)
}

func TestHeaderEncoderPseudoOrderingAndLowercasing(t *testing.T) {
	he := NewHeaderEncoder()
	block, err := he.Encode(map[string]string{
		":path":   "/x",
		":method": "GET",
	}, []HeaderField{{Name: "Accept", Value: "*/*"}})
	require.NoError(t, err)

	hd := NewHeaderDecoder(4096)
	fields, err := hd.Decode(block)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, ":method", fields[0].Name) // pseudoHeaderOrder places :method before :path
	assert.Equal(t, ":path", fields[1].Name)
	assert.Equal(t, "accept", fields[2].Name)
}
