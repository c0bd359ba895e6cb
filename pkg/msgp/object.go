//
//  Copyright 2026 The nvrpc Authors
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

//
// Package msgp implements MessagePack serialization.
//
// Summary:
//
//	msgp.Object   - represents a MessagePack object
//	msgp.Unpacker - deserializes a MessagePack byte stream into Objects
//	msgp.Packer   - serializes Objects into a MessagePack byte stream
package msgp

import (
	"sort"
)

// Type identifies the variant currently held by an Object.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeNil
	TypeBoolean
	TypeInteger
	TypeFloat64
	TypeString
	TypeBinary
	TypeExtension
	TypeArray
	TypeMap
)

// Pair is a single map entry.
type Pair struct {
	Key   Object
	Value Object
}

// Array holds a contiguous sequence of Objects.
type Array []Object

// Map holds a contiguous sequence of key value pairs, sorted by key.
type Map []Pair

// Get returns a pointer to the value mapped to key, or nil if no such
// value exists. The lookup is a binary search over the sorted pairs.
func (m Map) Get(key Object) *Object {
	i := sort.Search(len(m), func(i int) bool {
		return Compare(m[i].Key, key) >= 0
	})
	if i < len(m) && m[i].Key.Equal(key) {
		return &m[i].Value
	}
	return nil
}

// Object represents a MessagePack object. A tagged union of all
// MessagePack types.
//
// Type mappings:
//
//	| MessagePack Type | Variant       |
//	| ---------------- | ------------- |
//	| Nil              | TypeNil       |
//	| Boolean          | TypeBoolean   |
//	| Integer          | TypeInteger   |
//	| Float            | TypeFloat64   |
//	| String           | TypeString    |
//	| Binary           | TypeBinary    |
//	| Extension        | TypeExtension |
//	| Array            | TypeArray     |
//	| Map              | TypeMap       |
//
// Objects are cheap to copy reference values; they do not own the memory
// backing their string, binary, array, or map payloads. Objects produced
// by an Unpacker alias its arena and are only valid until the next value
// is unpacked; use Clone to detach one.
//
// Integers are stored as a raw 64-bit pattern. Sign information is lost
// when unpacking; callers know at the point of use whether they require
// the signed or unsigned reading. Equality and ordering compare the raw
// stored bits.
type Object struct {
	tag Type
	num uint64
	bin []byte
	arr []Object
	m   []Pair
}

// Constructors.

func NewNil() Object             { return Object{tag: TypeNil} }
func NewInvalid() Object         { return Object{tag: TypeInvalid} }
func NewInt(v int64) Object      { return Object{tag: TypeInteger, num: uint64(v)} }
func NewUint(v uint64) Object    { return Object{tag: TypeInteger, num: v} }
func NewFloat64(v float64) Object {
	return Object{tag: TypeFloat64, num: floatBits(v)}
}

func NewBool(v bool) Object {
	var n uint64
	if v {
		n = 1
	}
	return Object{tag: TypeBoolean, num: n}
}

func NewString(s string) Object {
	return Object{tag: TypeString, bin: []byte(s)}
}

func NewStringBytes(s []byte) Object {
	return Object{tag: TypeString, bin: s}
}

func NewBinary(b []byte) Object {
	return Object{tag: TypeBinary, bin: b}
}

// NewExtension builds an extension object. The payload is stored with the
// type byte leading, matching the wire layout.
func NewExtension(typ int8, data []byte) Object {
	span := make([]byte, len(data)+1)
	span[0] = byte(typ)
	copy(span[1:], data)
	return Object{tag: TypeExtension, bin: span}
}

func NewArray(elems []Object) Object {
	return Object{tag: TypeArray, arr: elems}
}

// NewMap builds a map object. The pairs are sorted by key in place.
func NewMap(pairs []Pair) Object {
	sortPairs(pairs)
	return Object{tag: TypeMap, m: pairs}
}

func sortPairs(pairs []Pair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return Compare(pairs[i].Key, pairs[j].Key) < 0
	})
}

// Type returns the variant currently held by the object.
func (o Object) Type() Type {
	return o.tag
}

// Is reports whether the object currently holds variant t.
func (o Object) Is(t Type) bool {
	return o.tag == t
}

// Accessors. Each is defined only when the object holds the matching
// variant; on a tag mismatch the zero value is returned.

func (o Object) Bool() bool {
	return o.tag == TypeBoolean && o.num != 0
}

// Int returns the signed reading of an integer object.
func (o Object) Int() int64 {
	if o.tag != TypeInteger {
		return 0
	}
	return int64(o.num)
}

// Uint returns the unsigned reading of an integer object.
func (o Object) Uint() uint64 {
	if o.tag != TypeInteger {
		return 0
	}
	return o.num
}

func (o Object) Float64() float64 {
	if o.tag != TypeFloat64 {
		return 0
	}
	return floatFromBits(o.num)
}

// Bytes returns the byte span of a string or binary object. The span is
// a view; it aliases the unpacker arena for decoded objects.
func (o Object) Bytes() []byte {
	if o.tag != TypeString && o.tag != TypeBinary {
		return nil
	}
	return o.bin
}

// Str returns the payload of a string object as a Go string. The bytes
// are copied, so the result is safe to retain.
func (o Object) Str() string {
	if o.tag != TypeString {
		return ""
	}
	return string(o.bin)
}

// Extension returns the type byte and payload of an extension object.
func (o Object) Extension() (typ int8, data []byte) {
	if o.tag != TypeExtension || len(o.bin) == 0 {
		return 0, nil
	}
	return int8(o.bin[0]), o.bin[1:]
}

func (o Object) Array() Array {
	if o.tag != TypeArray {
		return nil
	}
	return o.arr
}

func (o Object) Map() Map {
	if o.tag != TypeMap {
		return nil
	}
	return o.m
}

// StrEqual reports whether the object is a string equal to s, without
// allocating.
func (o Object) StrEqual(s string) bool {
	return o.tag == TypeString && string(o.bin) == s
}

// Clone returns a deep copy of the object with freshly owned backing
// memory. Use it to hold a decoded value past the lifetime of the
// unpacker arena that produced it.
func (o Object) Clone() Object {
	c := o
	if o.bin != nil {
		c.bin = append([]byte(nil), o.bin...)
	}
	if o.arr != nil {
		c.arr = make([]Object, len(o.arr))
		for i := range o.arr {
			c.arr[i] = o.arr[i].Clone()
		}
	}
	if o.m != nil {
		c.m = make([]Pair, len(o.m))
		for i := range o.m {
			c.m[i].Key = o.m[i].Key.Clone()
			c.m[i].Value = o.m[i].Value.Clone()
		}
	}
	return c
}
