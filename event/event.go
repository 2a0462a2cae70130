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

// Package event defines the uniform currency that flows through every
// filter in the engine: a closed, four-variant sum type modeling the
// lifecycle of one logical stream.
package event

import (
	"fmt"

	"github.com/fluxgate/fluxd/databuf"
)

// Kind tags which variant an Event carries.
type Kind uint8

const (
	// KindMessageStart opens a logical record.
	KindMessageStart Kind = iota
	// KindData carries a body chunk, possibly empty.
	KindData
	// KindMessageEnd closes a logical record.
	KindMessageEnd
	// KindStreamEnd terminates the transport-level stream.
	KindStreamEnd
)

func (k Kind) String() string {
	switch k {
	case KindMessageStart:
		return "MessageStart"
	case KindData:
		return "Data"
	case KindMessageEnd:
		return "MessageEnd"
	case KindStreamEnd:
		return "StreamEnd"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrorKind enumerates the StreamEnd error values carried downstream.
type ErrorKind uint8

const (
	ErrNone ErrorKind = iota
	ErrReadTimeout
	ErrWriteTimeout
	ErrIdleTimeout
	ErrReadError
	ErrWriteError
	ErrConnectionRefused
	ErrConnectionReset
	ErrConnectionCanceled
	ErrBufferOverflow
	ErrProtocolError
	ErrUnauthorizedError
	ErrInternalError
)

func (e ErrorKind) String() string {
	names := [...]string{
		"None", "ReadTimeout", "WriteTimeout", "IdleTimeout", "ReadError",
		"WriteError", "ConnectionRefused", "ConnectionReset",
		"ConnectionCanceled", "BufferOverflow", "ProtocolError",
		"UnauthorizedError", "InternalError",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(e))
}

// Head carries protocol-specific attributes for a MessageStart. Codecs
// populate the field relevant to their protocol and leave the rest nil;
// filters that don't understand a protocol simply ignore its field.
type Head struct {
	// Protocol names which codec produced this head (e.g. "http1", "mqtt").
	Protocol string
	// Attrs is a generic attribute bag (header-like key/value pairs).
	// Codecs with richer structure (HTTP/2 pseudo-headers, MQTT fixed
	// header flags) stash their typed struct in Extra instead.
	Attrs map[string]string
	// Extra holds a codec-specific typed payload (e.g. *phttp1.RequestLine).
	Extra any
}

// Tail carries protocol-specific trailer attributes for a MessageEnd.
type Tail struct {
	Attrs map[string]string
	Extra any
}

// Event is the closed sum type flowing between filters. Exactly one of
// Head/Data/Tail/Err is meaningful, selected by Kind.
type Event struct {
	Kind Kind

	// StreamID identifies the logical stream this event belongs to within
	// a session that multiplexes more than one (0 for single-stream
	// transports like HTTP/1 and FastCGI-without-multiplexing).
	StreamID uint32

	Head *Head        // valid when Kind == KindMessageStart
	Data databuf.Data  // valid when Kind == KindData
	Tail *Tail         // valid when Kind == KindMessageEnd
	Err  ErrorKind      // valid when Kind == KindStreamEnd
}

// MessageStart builds a MessageStart event.
func MessageStart(streamID uint32, head *Head) Event {
	return Event{Kind: KindMessageStart, StreamID: streamID, Head: head}
}

// DataEvent builds a Data event.
func DataEvent(streamID uint32, d databuf.Data) Event {
	return Event{Kind: KindData, StreamID: streamID, Data: d}
}

// MessageEnd builds a MessageEnd event.
func MessageEnd(streamID uint32, tail *Tail) Event {
	return Event{Kind: KindMessageEnd, StreamID: streamID, Tail: tail}
}

// StreamEnd builds a StreamEnd event, optionally carrying an error kind.
func StreamEnd(streamID uint32, err ErrorKind) Event {
	return Event{Kind: KindStreamEnd, StreamID: streamID, Err: err}
}

// IsTerminal reports whether e ends its logical stream outright (as
// opposed to merely ending one message within a multiplexed stream).
func (e Event) IsTerminal() bool {
	return e.Kind == KindStreamEnd
}

// Validator accumulates events for one logical stream and checks them
// against the grammar (MessageStart Data* MessageEnd)* StreamEnd? —
// used by tests and by defensive filters that want to catch a
// malformed upstream early.
type Validator struct {
	inMessage  bool
	sawStreamEnd bool
	messageEnds  int
	messageStarts int
}

// ErrSequence is returned by Validator.Accept on a grammar violation.
type ErrSequence struct {
	Reason string
}

func (e *ErrSequence) Error() string { return "event: invalid sequence: " + e.Reason }

// Accept feeds one event into the validator.
func (v *Validator) Accept(e Event) error {
	if v.sawStreamEnd {
		return &ErrSequence{Reason: "event after StreamEnd"}
	}
	switch e.Kind {
	case KindMessageStart:
		if v.inMessage {
			return &ErrSequence{Reason: "MessageStart while message already open"}
		}
		v.inMessage = true
		v.messageStarts++
	case KindData:
		if !v.inMessage {
			return &ErrSequence{Reason: "Data outside a started message"}
		}
	case KindMessageEnd:
		if !v.inMessage {
			return &ErrSequence{Reason: "MessageEnd without MessageStart"}
		}
		v.inMessage = false
		v.messageEnds++
	case KindStreamEnd:
		if v.inMessage {
			return &ErrSequence{Reason: "StreamEnd while message still open"}
		}
		v.sawStreamEnd = true
	default:
		return &ErrSequence{Reason: "unknown event kind"}
	}
	if v.messageEnds > v.messageStarts {
		return &ErrSequence{Reason: "MessageEnd count exceeds MessageStart count"}
	}
	return nil
}
