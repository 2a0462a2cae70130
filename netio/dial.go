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

package netio

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/event"
)

// Dial opens a TCP connection to addr and wraps it in a Conn, feeding
// inbound bytes to feed. The returned *Conn is not a muxio.Transport;
// the engine's dialUpstream pairs it with a protocol Encoder to build the
// Transport a Muxer's Dial returns.
func Dial(ctx context.Context, addr string, feed Feeder, opts Options, onClose func(kind event.ErrorKind)) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "netio: dial %s", addr)
	}
	return New(nc, feed, opts, onClose), nil
}
