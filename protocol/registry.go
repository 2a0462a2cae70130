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

// Package protocol is the name-to-codec registry a listener or upstream
// config entry resolves through: config.ListenerConfig.Protocol is a
// plain string so it survives a YAML round-trip, and this is where that
// string turns back into a live Decoder bound to one connection's
// output sink. It replaces the role this package's old Decoder/Conn/
// ConnPool trio played for the sniffed-packet pipeline, generalized from
// "one constructor per L7 protocol, matched by sniffed port" to "one
// constructor per wire codec, selected by config".
package protocol

import (
	"github.com/pkg/errors"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
	"github.com/fluxgate/fluxd/protocol/pbgp"
	"github.com/fluxgate/fluxd/protocol/pdubbo"
	"github.com/fluxgate/fluxd/protocol/pfastcgi"
	"github.com/fluxgate/fluxd/protocol/phttp1"
	"github.com/fluxgate/fluxd/protocol/phttp2"
	"github.com/fluxgate/fluxd/protocol/pmqtt"
	"github.com/fluxgate/fluxd/protocol/pprotobuf"
	"github.com/fluxgate/fluxd/protocol/pthrift"
)

// Feeder is the shape netio.Conn needs from a decoder: Feed consumes one
// inbound chunk, driving whatever deframer.Deframer state machine sits
// behind it. Every protocol package's *Decoder satisfies this.
type Feeder interface {
	Feed(d databuf.Data) error
}

// Writer is the outbound byte sink an Encoder serializes frames into.
// *netio.Conn satisfies it; only protocols with a full duplex worked
// example (currently HTTP/2) need one to decode, since replying to a
// SETTINGS/PING/WINDOW_UPDATE requires writing back on the same
// connection a Decoder is reading from.
type Writer interface {
	Write(p []byte) error
}

// New resolves name against the registered codecs, returning a Feeder
// that emits decoded events to out. w is only consulted for protocols
// whose Decoder must write control replies back onto the same
// connection (HTTP/2); every other codec here is accepted purely by its
// inbound byte stream and w is ignored.
//
// name is matched against config.ListenerConfig.Protocol /
// config.UpstreamConfig's protocol field.
func New(name string, w Writer, out filter.Receiver, onError func(error)) (Feeder, error) {
	switch name {
	case "http1":
		return phttp1.NewDecoder(phttp1.Config{}, out), nil
	case "http2":
		dec, _ := phttp2.NewConn(phttp2.Config{}, w, out, onError)
		return dec, nil
	case "mqtt":
		return pmqtt.NewDecoder(pmqtt.Config{}, out), nil
	case "dubbo":
		return pdubbo.NewDecoder(pdubbo.Config{}, out), nil
	case "fastcgi":
		return pfastcgi.NewDecoder(pfastcgi.Config{}, out), nil
	case "thrift":
		return pthrift.NewDecoder(pthrift.Config{}, out), nil
	case "protobuf":
		return pprotobuf.NewDecoder(pprotobuf.Config{}, out), nil
	case "bgp":
		return pbgp.NewDecoder(pbgp.Config{}, out), nil
	default:
		return nil, errors.Errorf("protocol: unknown protocol %q", name)
	}
}

// NewEncoder resolves name to the outbound half of a codec: a
// filter.Receiver that serializes the events it's handed into w. It's
// the symmetric counterpart to New, used when the engine is dialing out
// to an upstream (muxio.Dial) rather than accepting inbound connections.
func NewEncoder(name string, w Writer, onError func(error)) (filter.Receiver, error) {
	switch name {
	case "http1":
		return phttp1.NewEncoder(w, onError), nil
	case "http2":
		// The HTTP/2 Encoder needs the same shared stream table and
		// connection flow-control window a paired Decoder would use, so
		// it's always built through NewConn even when nothing here reads
		// the Decoder half (an upstream-only connection never receives
		// a SETTINGS/PING it must ack on its own initiative, but the
		// shared state still has to exist for WINDOW_UPDATE bookkeeping).
		_, enc := phttp2.NewConn(phttp2.Config{}, w, discardReceiver{}, onError)
		return enc, nil
	case "mqtt":
		return pmqtt.NewEncoder(w, onError), nil
	case "dubbo":
		return pdubbo.NewEncoder(w, onError), nil
	case "fastcgi":
		return pfastcgi.NewEncoder(w, onError), nil
	case "thrift":
		return pthrift.NewEncoder(w, onError), nil
	case "protobuf":
		return pprotobuf.NewEncoder(w, onError), nil
	case "bgp":
		return pbgp.NewEncoder(w, onError), nil
	default:
		return nil, errors.Errorf("protocol: unknown protocol %q", name)
	}
}

// discardReceiver satisfies filter.Receiver by dropping every event; it
// stands in for "this connection's inbound half is never read" in
// NewEncoder's HTTP/2 case.
type discardReceiver struct{}

func (discardReceiver) Accept(event.Event) {}

// Names lists every protocol New accepts, for config validation and the
// ifaces/help text a CLI might print.
func Names() []string {
	return []string{"http1", "http2", "mqtt", "dubbo", "fastcgi", "thrift", "protobuf", "bgp"}
}
