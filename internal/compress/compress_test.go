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

package compress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundtripAllAlgorithms(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")

	for _, algo := range []Algorithm{Gzip, Snappy, Brotli, Identity} {
		enc, err := Encode(algo, payload)
		require.NoError(t, err, algo)

		dec, err := Decode(algo, enc)
		require.NoError(t, err, algo)
		require.Equal(t, payload, dec, algo)
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := Encode("zstd-but-not-really", []byte("x"))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
