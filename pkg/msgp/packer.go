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

package msgp

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Packer serializes values into a stream of MessagePack encoded bytes,
// always choosing the canonical minimal-width encoding.
//
// Packed output accumulates in an internal byte queue. Data exposes the
// unconsumed bytes and Consume drops bytes off the front, so the packer
// doubles as an outbound write queue: producers append whole frames,
// the write path drains whatever the stream accepts.
type Packer struct {
	buf bytes.Buffer
}

func NewPacker() *Packer {
	return &Packer{}
}

// Len returns the number of unconsumed bytes.
func (p *Packer) Len() int {
	return p.buf.Len()
}

// Data returns the unconsumed byte stream. Valid until the next pack or
// Consume call.
func (p *Packer) Data() []byte {
	return p.buf.Bytes()
}

// Consume drops n bytes off the front of the packed byte stream.
func (p *Packer) Consume(n int) {
	p.buf.Next(n)
}

// Reset clears all packed data. After this call Len returns 0.
func (p *Packer) Reset() {
	p.buf.Reset()
}

func (p *Packer) packNumeric(first byte, width int, v uint64) {
	var scratch [9]byte
	scratch[0] = first
	binary.BigEndian.PutUint64(scratch[1:], v<<(8*(8-width)))
	p.buf.Write(scratch[:width+1])
}

// PackUint appends an unsigned integer: fixint for 0-127, then the
// smallest of uint8/16/32/64 that holds the value.
func (p *Packer) PackUint(v uint64) {
	switch {
	case v < 128:
		p.buf.WriteByte(byte(v))
	case v <= math.MaxUint8:
		p.packNumeric(0xcc, 1, v)
	case v <= math.MaxUint16:
		p.packNumeric(0xcd, 2, v)
	case v <= math.MaxUint32:
		p.packNumeric(0xce, 4, v)
	default:
		p.packNumeric(0xcf, 8, v)
	}
}

// PackInt appends a signed integer. Values in [-32, 127] encode as a
// single fixint byte; outside that window the smallest of
// int8/16/32/64 whose range contains the value is used.
func (p *Packer) PackInt(v int64) {
	switch {
	case v >= 0:
		p.PackUint(uint64(v))
	case v >= -32:
		p.buf.WriteByte(byte(v))
	case v >= math.MinInt8:
		p.packNumeric(0xd0, 1, uint64(v))
	case v >= math.MinInt16:
		p.packNumeric(0xd1, 2, uint64(v))
	case v >= math.MinInt32:
		p.packNumeric(0xd2, 4, uint64(v))
	default:
		p.packNumeric(0xd3, 8, uint64(v))
	}
}

// PackFloat64 appends a float. Floats always use the 64-bit form.
func (p *Packer) PackFloat64(v float64) {
	p.packNumeric(0xcb, 8, math.Float64bits(v))
}

func (p *Packer) PackBool(v bool) {
	if v {
		p.buf.WriteByte(0xc3)
	} else {
		p.buf.WriteByte(0xc2)
	}
}

func (p *Packer) PackNil() {
	p.buf.WriteByte(0xc0)
}

func (p *Packer) packStrHeader(size int) {
	switch {
	case size <= 31:
		p.buf.WriteByte(0xa0 | byte(size))
	case size <= math.MaxUint8:
		p.packNumeric(0xd9, 1, uint64(size))
	case size <= math.MaxUint16:
		p.packNumeric(0xda, 2, uint64(size))
	default:
		p.packNumeric(0xdb, 4, uint64(size))
	}
}

func (p *Packer) PackString(s string) {
	p.packStrHeader(len(s))
	p.buf.WriteString(s)
}

func (p *Packer) PackStringBytes(s []byte) {
	p.packStrHeader(len(s))
	p.buf.Write(s)
}

func (p *Packer) PackBinary(b []byte) {
	switch {
	case len(b) <= math.MaxUint8:
		p.packNumeric(0xc4, 1, uint64(len(b)))
	case len(b) <= math.MaxUint16:
		p.packNumeric(0xc5, 2, uint64(len(b)))
	default:
		p.packNumeric(0xc6, 4, uint64(len(b)))
	}
	p.buf.Write(b)
}

// PackExtension appends an extension value of the given type byte.
func (p *Packer) PackExtension(typ int8, data []byte) {
	switch len(data) {
	case 1:
		p.buf.WriteByte(0xd4)
	case 2:
		p.buf.WriteByte(0xd5)
	case 4:
		p.buf.WriteByte(0xd6)
	case 8:
		p.buf.WriteByte(0xd7)
	case 16:
		p.buf.WriteByte(0xd8)
	default:
		switch {
		case len(data) <= math.MaxUint8:
			p.packNumeric(0xc7, 1, uint64(len(data)))
		case len(data) <= math.MaxUint16:
			p.packNumeric(0xc8, 2, uint64(len(data)))
		default:
			p.packNumeric(0xc9, 4, uint64(len(data)))
		}
	}
	p.buf.WriteByte(byte(typ))
	p.buf.Write(data)
}

// StartArray appends an array header for n elements.
// Must be followed by packing n objects.
func (p *Packer) StartArray(n uint32) {
	switch {
	case n <= 15:
		p.buf.WriteByte(0x90 | byte(n))
	case n <= math.MaxUint16:
		p.packNumeric(0xdc, 2, uint64(n))
	default:
		p.packNumeric(0xdd, 4, uint64(n))
	}
}

// StartMap appends a map header for n key value pairs.
// Must be followed by packing n*2 objects.
func (p *Packer) StartMap(n uint32) {
	switch {
	case n <= 15:
		p.buf.WriteByte(0x80 | byte(n))
	case n <= math.MaxUint16:
		p.packNumeric(0xde, 2, uint64(n))
	default:
		p.packNumeric(0xdf, 4, uint64(n))
	}
}

// PackObject appends any Object. Integers pack through their signed
// reading, which is minimal in the signed view and round-trips the raw
// bit pattern for the full unsigned range as well.
func (p *Packer) PackObject(o Object) {
	switch o.tag {
	case TypeNil:
		p.PackNil()
	case TypeBoolean:
		p.PackBool(o.Bool())
	case TypeInteger:
		p.PackInt(o.Int())
	case TypeFloat64:
		p.PackFloat64(o.Float64())
	case TypeString:
		p.PackStringBytes(o.bin)
	case TypeBinary:
		p.PackBinary(o.bin)
	case TypeExtension:
		typ, data := o.Extension()
		p.PackExtension(typ, data)
	case TypeArray:
		p.PackArray(o.arr)
	case TypeMap:
		p.PackMap(o.m)
	default:
		p.buf.WriteByte(0xc1)
	}
}

// PackArray appends a slice of objects as an array.
func (p *Packer) PackArray(elems []Object) {
	p.StartArray(uint32(len(elems)))
	for _, elem := range elems {
		p.PackObject(elem)
	}
}

// PackMap appends a slice of pairs as a map.
func (p *Packer) PackMap(pairs []Pair) {
	p.StartMap(uint32(len(pairs)))
	for _, pair := range pairs {
		p.PackObject(pair.Key)
		p.PackObject(pair.Value)
	}
}
