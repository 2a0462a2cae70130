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

// Package pmqtt is an MQTT v3.1.1 control-packet codec. Every packet is
// a fixed header (packet type + flags, then a 1-4 byte variable-length
// "remaining length" field) followed by that many bytes of variable
// header and payload. A PUBLISH(QoS>0)/SUBSCRIBE/UNSUBSCRIBE carries a
// 16-bit packet identifier that its PUBACK/SUBACK/UNSUBACK echoes back,
// so this codec reuses that identifier as event.Event's StreamID.
package pmqtt

import (
	"github.com/pkg/errors"
)

const PROTO = "MQTT"

func newError(format string, args ...any) error {
	return errors.Errorf("pmqtt: "+format, args...)
}

// Control packet types (MQTT v3.1.1 §2.2.1).
const (
	typeCONNECT     = 1
	typeCONNACK     = 2
	typePUBLISH     = 3
	typePUBACK      = 4
	typePUBREC      = 5
	typePUBREL      = 6
	typePUBCOMP     = 7
	typeSUBSCRIBE   = 8
	typeSUBACK      = 9
	typeUNSUBSCRIBE = 10
	typeUNSUBACK    = 11
	typePINGREQ     = 12
	typePINGRESP    = 13
	typeDISCONNECT  = 14
)

var typeNames = map[uint8]string{
	typeCONNECT:     "CONNECT",
	typeCONNACK:     "CONNACK",
	typePUBLISH:     "PUBLISH",
	typePUBACK:      "PUBACK",
	typePUBREC:      "PUBREC",
	typePUBREL:      "PUBREL",
	typePUBCOMP:     "PUBCOMP",
	typeSUBSCRIBE:   "SUBSCRIBE",
	typeSUBACK:      "SUBACK",
	typeUNSUBSCRIBE: "UNSUBSCRIBE",
	typeUNSUBACK:    "UNSUBACK",
	typePINGREQ:     "PINGREQ",
	typePINGRESP:    "PINGRESP",
	typeDISCONNECT:  "DISCONNECT",
}

func typeName(t uint8) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "RESERVED"
}

// Attribute keys stashed in event.Head.Attrs / event.Tail.Attrs.
const (
	attrType      = "mqtt.type"
	attrQoS       = "mqtt.qos"
	attrRetain    = "mqtt.retain"
	attrDup       = "mqtt.dup"
	attrTopic     = "mqtt.topic"
	attrClientID  = "mqtt.client_id"
	attrReturnCod = "mqtt.return_code"

	// maxRemainingLength is the largest value the 4-byte varint encoding
	// can express (MQTT v3.1.1 §2.2.3).
	maxRemainingLength = 268435455
)

// Config configures one direction's Decoder. protocol.New passes the
// zero value, so the defaults apply there.
type Config struct {
	// MaxPacketSize bounds a single control packet's remaining length,
	// independent of the protocol's own 256MB ceiling.
	MaxPacketSize int `config:"max_packet_size"`
}

func (c Config) withDefaults() Config {
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > maxRemainingLength {
		c.MaxPacketSize = maxRemainingLength
	}
	return c
}
