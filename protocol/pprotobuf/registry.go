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
	gogoproto "github.com/gogo/protobuf/proto"
	"github.com/gogo/protobuf/types"
)

// Registry maps a well-known type name to a factory for a concrete
// gogo/protobuf message, so a message body whose type is only known at
// runtime (carried as a string alongside the bytes, e.g. the type_url
// of a google.protobuf.Any) can still be unmarshaled into a typed
// value instead of the generic field-number Message above.
type Registry struct {
	factories map[string]func() gogoproto.Message
}

// NewRegistry returns a Registry pre-populated with gogo/protobuf's
// generated well-known wrapper types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() gogoproto.Message)}
	r.Register("google.protobuf.StringValue", func() gogoproto.Message { return &types.StringValue{} })
	r.Register("google.protobuf.BytesValue", func() gogoproto.Message { return &types.BytesValue{} })
	r.Register("google.protobuf.Int64Value", func() gogoproto.Message { return &types.Int64Value{} })
	r.Register("google.protobuf.BoolValue", func() gogoproto.Message { return &types.BoolValue{} })
	r.Register("google.protobuf.Duration", func() gogoproto.Message { return &types.Duration{} })
	r.Register("google.protobuf.Timestamp", func() gogoproto.Message { return &types.Timestamp{} })
	return r
}

// Register adds or replaces the factory for typeName.
func (r *Registry) Register(typeName string, factory func() gogoproto.Message) {
	r.factories[typeName] = factory
}

// Unmarshal looks up typeName's factory and decodes data into a fresh
// instance of it.
func (r *Registry) Unmarshal(typeName string, data []byte) (gogoproto.Message, error) {
	factory, ok := r.factories[typeName]
	if !ok {
		return nil, newError("no registered type %q", typeName)
	}
	msg := factory()
	if err := gogoproto.Unmarshal(data, msg); err != nil {
		return nil, newError("unmarshal %q: %v", typeName, err)
	}
	return msg, nil
}

// MarshalRegistered encodes msg with gogo/protobuf's wire marshaler.
func MarshalRegistered(msg gogoproto.Message) ([]byte, error) {
	return gogoproto.Marshal(msg)
}
