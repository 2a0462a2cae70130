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

// Package compress is a small body-codec utility. Filters that need to
// transparently inflate/deflate a message body (e.g. an HTTP
// Content-Encoding filter) call through here instead of hand-rolling
// one codec per algorithm.
package compress

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Algorithm names a supported body encoding.
type Algorithm string

const (
	Gzip   Algorithm = "gzip"
	Snappy Algorithm = "snappy"
	Brotli Algorithm = "br"
	Identity Algorithm = "identity"
)

var ErrUnsupportedAlgorithm = errors.New("compress: unsupported algorithm")

// Decode inflates p, which was encoded with algo, returning the original
// bytes.
func Decode(algo Algorithm, p []byte) ([]byte, error) {
	switch algo {
	case Identity, "":
		return p, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, errors.Wrap(err, "compress: gzip reader")
		}
		defer r.Close()
		return io.ReadAll(r)
	case Snappy:
		return snappy.Decode(nil, p)
	case Brotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(p)))
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", algo)
	}
}

// Encode compresses p using algo.
func Encode(algo Algorithm, p []byte) ([]byte, error) {
	switch algo {
	case Identity, "":
		return p, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(p); err != nil {
			return nil, errors.Wrap(err, "compress: gzip write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "compress: gzip close")
		}
		return buf.Bytes(), nil
	case Snappy:
		return snappy.Encode(nil, p), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(p); err != nil {
			return nil, errors.Wrap(err, "compress: brotli write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "compress: brotli close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", algo)
	}
}
