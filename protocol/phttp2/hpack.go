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
	"strings"

	"golang.org/x/net/http2/hpack"
)

// connectionSpecificHeaders is rejected on decode per RFC 7540 §8.1.2.2 —
// these are meaningful only to a single hop and have no place in an
// HTTP/2 header block.
var connectionSpecificHeaders = map[string]struct{}{
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"transfer-encoding": {},
	"upgrade":           {},
}

var (
	errHPACKUppercaseName   = newError("hpack: header name contains uppercase letters")
	errHPACKLateTableResize = newError("hpack: dynamic table size update after a header field")
	errHPACKConnSpecific    = newError("hpack: connection-specific header field")
	errHPACKBadTE           = newError("hpack: te header carries a value other than trailers")
	errHPACKPseudoAfterReg  = newError("hpack: pseudo-header field after a regular header field")
	errHPACKTruncated       = newError("hpack: truncated header block")
)

// HeaderField is one decoded name/value pair, already validated.
type HeaderField = hpack.HeaderField

// HeaderDecoder decodes HPACK-compressed header blocks for one
// connection; the dynamic table is shared across every stream on that
// connection, matching RFC 7541's per-connection table scope. It wraps
// golang.org/x/net/http2/hpack's static table, dynamic table and Huffman
// codec with stricter field-level validation: uppercase-name rejection,
// connection-specific-header rejection, non-"trailers" `te` rejection,
// and pseudo-header-ordering enforcement. EOS-in-Huffman rejection is
// enforced by the wrapped library itself (it treats a fully decoded EOS
// symbol as invalid input).
type HeaderDecoder struct {
	dec *hpack.Decoder

	fields     []HeaderField
	sawRegular bool
	err        error
}

// NewHeaderDecoder constructs a decoder with the given initial dynamic
// table size cap (typically the local SETTINGS_HEADER_TABLE_SIZE).
func NewHeaderDecoder(maxDynamicTableSize uint32) *HeaderDecoder {
	hd := &HeaderDecoder{}
	hd.dec = hpack.NewDecoder(maxDynamicTableSize, hd.emit)
	return hd
}

func (hd *HeaderDecoder) emit(f HeaderField) {
	if hd.err != nil {
		return
	}
	if err := hd.validate(f); err != nil {
		hd.err = err
		return
	}
	hd.fields = append(hd.fields, f)
}

func (hd *HeaderDecoder) validate(f HeaderField) error {
	name := f.Name
	for i := 0; i < len(name); i++ {
		if name[i] >= 'A' && name[i] <= 'Z' {
			return errHPACKUppercaseName
		}
	}
	isPseudo := strings.HasPrefix(name, ":")
	if isPseudo {
		if hd.sawRegular {
			return errHPACKPseudoAfterReg
		}
		return nil
	}
	hd.sawRegular = true
	if _, ok := connectionSpecificHeaders[name]; ok {
		return errHPACKConnSpecific
	}
	if name == "te" && !strings.EqualFold(f.Value, "trailers") {
		return errHPACKBadTE
	}
	return nil
}

// Decode decodes one complete header block (already reassembled across
// any HEADERS + CONTINUATION... sequence by the caller) and returns its
// validated fields in wire order.
func (hd *HeaderDecoder) Decode(block []byte) ([]HeaderField, error) {
	if err := validateHeaderBlockOrder(block); err != nil {
		return nil, err
	}
	hd.fields = hd.fields[:0]
	hd.sawRegular = false
	hd.err = nil
	if _, err := hd.dec.Write(block); err != nil {
		return nil, err
	}
	if hd.err != nil {
		return nil, hd.err
	}
	return append([]HeaderField(nil), hd.fields...), nil
}

// SetMaxDynamicTableSize applies a local cap to the dynamic table the
// decoder maintains (used when local SETTINGS change).
func (hd *HeaderDecoder) SetMaxDynamicTableSize(v uint32) { hd.dec.SetMaxDynamicTableSize(v) }

// HeaderEncoder encodes header blocks for one connection, sharing one
// dynamic table across every stream exactly as HeaderDecoder does on the
// receive side.
type HeaderEncoder struct {
	buf *bytes.Buffer
	enc *hpack.Encoder
}

// NewHeaderEncoder constructs an encoder.
func NewHeaderEncoder() *HeaderEncoder {
	buf := &bytes.Buffer{}
	return &HeaderEncoder{buf: buf, enc: hpack.NewEncoder(buf)}
}

// SetMaxDynamicTableSize applies the peer's advertised
// SETTINGS_HEADER_TABLE_SIZE to the encoder's dynamic table.
func (he *HeaderEncoder) SetMaxDynamicTableSize(v uint32) { he.enc.SetMaxDynamicTableSize(v) }

// Encode writes pseudoFields (in the fixed canonical order) followed by
// regular fields (lower-cased, in the order given) and returns the raw
// HPACK-compressed block.
func (he *HeaderEncoder) Encode(pseudo map[string]string, regular []HeaderField) ([]byte, error) {
	he.buf.Reset()
	for _, name := range pseudoHeaderOrder {
		v, ok := pseudo[name]
		if !ok {
			continue
		}
		if err := he.enc.WriteField(HeaderField{Name: name, Value: v}); err != nil {
			return nil, err
		}
	}
	for _, f := range regular {
		f.Name = strings.ToLower(f.Name)
		if err := he.enc.WriteField(f); err != nil {
			return nil, err
		}
	}
	out := make([]byte, he.buf.Len())
	copy(out, he.buf.Bytes())
	return out, nil
}

// validateHeaderBlockOrder walks the raw (still HPACK-encoded)
// representations in a header block far enough to classify each one —
// indexed field, literal field, or dynamic table size update — without
// interpreting Huffman-encoded string content. It enforces RFC 7541
// §4.2: a dynamic table size update may only appear before the first
// header field representation in a block, a position rule the wrapped
// decoder does not itself check (it applies a resize wherever it's
// seen).
func validateHeaderBlockOrder(b []byte) error {
	sawField := false
	for len(b) > 0 {
		first := b[0]
		switch {
		case first&0x80 != 0: // indexed header field: 1xxxxxxx
			sawField = true
			_, rest, err := readPrefixInt(b, 7)
			if err != nil {
				return err
			}
			b = rest

		case first&0xe0 == 0x20: // dynamic table size update: 001xxxxx
			if sawField {
				return errHPACKLateTableResize
			}
			_, rest, err := readPrefixInt(b, 5)
			if err != nil {
				return err
			}
			b = rest

		default: // literal header field: 01xxxxxx, 0000xxxx, 0001xxxx
			sawField = true
			prefixBits := uint(4)
			if first&0xc0 == 0x40 {
				prefixBits = 6
			}
			idx, rest, err := readPrefixInt(b, prefixBits)
			if err != nil {
				return err
			}
			b = rest
			if idx == 0 {
				b, err = skipString(b)
				if err != nil {
					return err
				}
			}
			b, err = skipString(b)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// readPrefixInt decodes an RFC 7541 §5.1 integer whose prefix occupies
// the low prefixBits of b[0], returning the decoded value and the
// remaining bytes after the representation.
func readPrefixInt(b []byte, prefixBits uint) (value uint64, rest []byte, err error) {
	if len(b) == 0 {
		return 0, nil, errHPACKTruncated
	}
	mask := byte(1<<prefixBits - 1)
	value = uint64(b[0] & mask)
	b = b[1:]
	if value < uint64(mask) {
		return value, b, nil
	}
	var m uint
	for {
		if len(b) == 0 {
			return 0, nil, errHPACKTruncated
		}
		c := b[0]
		b = b[1:]
		value += uint64(c&0x7f) << m
		if c&0x80 == 0 {
			break
		}
		m += 7
	}
	return value, b, nil
}

// skipString skips one RFC 7541 §5.2 string literal (a 7-bit-prefixed
// length, with the high bit of the first byte selecting Huffman coding,
// followed by that many raw bytes) without decoding its content.
func skipString(b []byte) ([]byte, error) {
	n, rest, err := readPrefixInt(b, 7)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < n {
		return nil, errHPACKTruncated
	}
	return rest[n:], nil
}
