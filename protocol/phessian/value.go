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

package phessian

// Kind identifies which field of a Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindLong
	KindDouble
	KindString
	KindBinary
	KindList
	KindMap
	KindObject
)

// MapEntry is one key/value pair of a KindMap Value.
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is a decoded Hessian-style value. Exactly the field matching
// Kind is meaningful.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int32
	Long   int64
	Double float64
	Str    string
	Bytes  []byte
	List   []Value
	Map    []MapEntry

	// Object fields, valid when Kind == KindObject.
	ClassName string
	Fields    []string
	Values    []Value
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(v bool) Value         { return Value{Kind: KindBool, Bool: v} }
func Int(v int32) Value         { return Value{Kind: KindInt, Int: v} }
func Long(v int64) Value        { return Value{Kind: KindLong, Long: v} }
func Double(v float64) Value    { return Value{Kind: KindDouble, Double: v} }
func String(v string) Value     { return Value{Kind: KindString, Str: v} }
func Binary(v []byte) Value     { return Value{Kind: KindBinary, Bytes: v} }
func List(v []Value) Value      { return Value{Kind: KindList, List: v} }
func Map(v []MapEntry) Value    { return Value{Kind: KindMap, Map: v} }

// Object constructs a KindObject value. fields and values must be the
// same length and in the same order.
func Object(className string, fields []string, values []Value) Value {
	return Value{Kind: KindObject, ClassName: className, Fields: fields, Values: values}
}
