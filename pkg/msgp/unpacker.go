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
	"math"
)

// Unpacker deserializes a stream of MessagePack encoded bytes into
// Objects.
//
// The interface is split into two parts, feeding and unpacking.
// MessagePack data, possibly incomplete, possibly spanning multiple
// objects, is fed to the unpacker. It is then unpacked one object at a
// time by repeatedly calling Unpack. Once the buffered data has been
// fully unpacked, Unpack returns nil. Example:
//
//	u := msgp.NewUnpacker()
//	u.Feed(data)
//
//	for obj := u.Unpack(); obj != nil; obj = u.Unpack() {
//	    use(obj)
//	}
//
// The unpacker manages the underlying memory of the objects it
// produces. At most one object - the last unpacked object - is valid at
// any given time.
//
// Unpacking is a resumable state machine. A read of a tag byte, a
// multi-byte numeric field, or a payload either completes immediately
// from buffered input or suspends with exactly the state needed to
// resume on the next Feed: the destination span and the remaining byte
// count. Container values are decoded iteratively through an explicit
// frame stack, so decoder recursion depth is independent of value
// nesting depth.
type Unpacker struct {
	arena Arena
	in    []byte

	top     Object
	cur     *Object
	stack   []frame
	yielded bool

	state   ustate
	tag     byte    // tag whose numeric field is pending
	width   int     // total bytes of the pending numeric field
	nfill   int     // bytes of the numeric field read so far
	nbuf    [8]byte // big-endian accumulation buffer
	payload []byte  // remaining destination of the pending payload copy
}

type ustate uint8

const (
	stateTag ustate = iota
	stateNum
	statePayload
)

// A frame tracks one in-progress container. Map frames count keys and
// values as 2n flat slots over the pair span.
type frame struct {
	objs  []Object
	pairs []Pair
	next  int
	count int
}

func NewUnpacker() *Unpacker {
	u := &Unpacker{
		stack: make([]frame, 0, 32),
	}
	u.cur = &u.top
	return u
}

// Feed hands an input buffer to the unpacker. The unpacker does not
// copy the buffer while the previous input has been exhausted (the
// normal case); the caller must keep it alive until Unpack has returned
// nil. Feeding before exhaustion appends via an internal copy.
func (u *Unpacker) Feed(p []byte) {
	if len(u.in) == 0 {
		u.in = p
		return
	}
	u.in = append(u.in[:len(u.in):len(u.in)], p...)
}

// Unpack returns the next fully-decoded top-level object, or nil if the
// buffered input has been exhausted mid-value. It never blocks and never
// fabricates a partial value.
//
// The returned object is valid until the next call to Unpack; the arena
// backing it is reset at the start of that call.
func (u *Unpacker) Unpack() *Object {
	if u.yielded {
		u.arena.Reset()
		u.top = Object{}
		u.cur = &u.top
		u.yielded = false
	}

	for {
		switch u.state {
		case stateTag:
			if len(u.in) == 0 {
				return nil
			}
			b := u.in[0]
			u.in = u.in[1:]
			if u.dispatch(b) {
				return &u.top
			}

		case stateNum:
			n := copy(u.nbuf[u.nfill:u.width], u.in)
			u.in = u.in[n:]
			u.nfill += n
			if u.nfill < u.width {
				return nil
			}
			if u.finishNum() {
				return &u.top
			}

		case statePayload:
			n := copy(u.payload, u.in)
			u.in = u.in[n:]
			u.payload = u.payload[n:]
			if len(u.payload) > 0 {
				return nil
			}
			if u.advance() {
				return &u.top
			}
		}
	}
}

// dispatch decodes a leading tag byte. Every byte value is a valid
// MessagePack tag; invalid framing is a concern one layer up. Returns
// true if a top-level object was completed.
func (u *Unpacker) dispatch(b byte) bool {
	switch {
	case b <= 0x7f: // positive fixint
		return u.emplace(Object{tag: TypeInteger, num: uint64(b)})

	case b <= 0x8f: // fixmap
		return u.startMap(int(b & 0x0f))

	case b <= 0x9f: // fixarray
		return u.startArray(int(b & 0x0f))

	case b <= 0xbf: // fixstr
		return u.startBytes(TypeString, int(b&0x1f))

	case b >= 0xe0: // negative fixint
		return u.emplace(Object{tag: TypeInteger, num: uint64(int64(int8(b)))})
	}

	switch b {
	case 0xc0:
		return u.emplace(Object{tag: TypeNil})
	case 0xc1:
		return u.emplace(Object{tag: TypeInvalid})
	case 0xc2:
		return u.emplace(Object{tag: TypeBoolean, num: 0})
	case 0xc3:
		return u.emplace(Object{tag: TypeBoolean, num: 1})

	case 0xd4, 0xd5, 0xd6, 0xd7, 0xd8: // fixext 1/2/4/8/16
		return u.startBytes(TypeExtension, (1<<(b-0xd4))+1)
	}

	// Everything left carries a big-endian numeric field:
	// bin8/16/32, ext8/16/32, float32/64, uint8..64, int8..64,
	// str8/16/32, array16/32, map16/32.
	u.tag = b
	u.width = numFieldWidth(b)
	u.nfill = 0
	u.state = stateNum
	return false
}

func numFieldWidth(b byte) int {
	switch b {
	case 0xc4, 0xc7, 0xcc, 0xd0, 0xd9: // 8-bit field
		return 1
	case 0xc5, 0xc8, 0xcd, 0xd1, 0xda, 0xdc, 0xde: // 16-bit field
		return 2
	case 0xc6, 0xc9, 0xca, 0xce, 0xd2, 0xdb, 0xdd, 0xdf: // 32-bit field
		return 4
	default: // 0xcb, 0xcf, 0xd3
		return 8
	}
}

// finishNum consumes a completed numeric field. The bytes were read raw
// big-endian into nbuf; they are assembled into an unsigned value and
// bit-reinterpreted into the signed or float target, preserving exact
// bit patterns.
func (u *Unpacker) finishNum() bool {
	var v uint64
	for i := 0; i < u.width; i++ {
		v = v<<8 | uint64(u.nbuf[i])
	}

	switch u.tag {
	case 0xcc, 0xcd, 0xce, 0xcf: // uint 8/16/32/64
		return u.emplace(Object{tag: TypeInteger, num: v})
	case 0xd0: // int8
		return u.emplace(Object{tag: TypeInteger, num: uint64(int64(int8(v)))})
	case 0xd1: // int16
		return u.emplace(Object{tag: TypeInteger, num: uint64(int64(int16(v)))})
	case 0xd2: // int32
		return u.emplace(Object{tag: TypeInteger, num: uint64(int64(int32(v)))})
	case 0xd3: // int64
		return u.emplace(Object{tag: TypeInteger, num: v})

	case 0xca: // float32, widened to float64
		f := float64(math.Float32frombits(uint32(v)))
		return u.emplace(Object{tag: TypeFloat64, num: math.Float64bits(f)})
	case 0xcb: // float64
		return u.emplace(Object{tag: TypeFloat64, num: v})

	case 0xc4, 0xc5, 0xc6: // bin 8/16/32
		return u.startBytes(TypeBinary, int(v))
	case 0xc7, 0xc8, 0xc9: // ext 8/16/32, length + 1 for the type byte
		return u.startBytes(TypeExtension, int(v)+1)
	case 0xd9, 0xda, 0xdb: // str 8/16/32
		return u.startBytes(TypeString, int(v))

	case 0xdc, 0xdd: // array 16/32
		return u.startArray(int(v))
	default: // 0xde, 0xdf: map 16/32
		return u.startMap(int(v))
	}
}

// emplace fills the current decode target with a completed scalar.
func (u *Unpacker) emplace(o Object) bool {
	*u.cur = o
	return u.advance()
}

func (u *Unpacker) startBytes(t Type, length int) bool {
	if length == 0 {
		return u.emplace(Object{tag: t})
	}
	span := u.arena.Bytes(length)
	*u.cur = Object{tag: t, bin: span}
	u.payload = span
	u.state = statePayload
	return false
}

func (u *Unpacker) startArray(length int) bool {
	if length == 0 {
		return u.emplace(Object{tag: TypeArray})
	}
	span := u.arena.Objects(length)
	*u.cur = Object{tag: TypeArray, arr: span}
	u.stack = append(u.stack, frame{objs: span, count: length})
	return u.advance()
}

func (u *Unpacker) startMap(length int) bool {
	if length == 0 {
		return u.emplace(Object{tag: TypeMap})
	}
	span := u.arena.Pairs(length)
	*u.cur = Object{tag: TypeMap, m: span}
	u.stack = append(u.stack, frame{pairs: span, count: length * 2})
	return u.advance()
}

// advance selects the next decode target from the frame stack. A frame
// whose slots are all filled is finalized and popped; map frames are
// sorted by key at that point, not before, so nested keys are complete
// when the sort runs. Returns true once the top-level object is done.
func (u *Unpacker) advance() bool {
	for len(u.stack) > 0 {
		f := &u.stack[len(u.stack)-1]
		if f.next == f.count {
			if f.pairs != nil {
				sortPairs(f.pairs)
			}
			u.stack = u.stack[:len(u.stack)-1]
			continue
		}
		if f.pairs != nil {
			p := &f.pairs[f.next>>1]
			if f.next&1 == 0 {
				u.cur = &p.Key
			} else {
				u.cur = &p.Value
			}
		} else {
			u.cur = &f.objs[f.next]
		}
		f.next++
		u.state = stateTag
		return false
	}

	u.cur = nil
	u.state = stateTag
	u.yielded = true
	return true
}
