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

const (
	arenaByteBlock = 16384
	arenaObjBlock  = 512
	arenaPairBlock = 256
)

// Arena is a bump allocator backing the variable-length payloads of one
// decode pass: string and binary bytes, array element storage, and map
// pair storage.
//
// Allocated spans stay valid until Reset. After Reset the arena hands
// out the same memory again, so any Object still aliasing it is
// invalidated; holding a decoded value across a reset is a contract
// violation, not a tolerated pattern.
type Arena struct {
	bytes []byte
	objs  []Object
	pairs []Pair
}

// Bytes carves a span of n bytes off the arena.
func (a *Arena) Bytes(n int) []byte {
	if n > cap(a.bytes)-len(a.bytes) {
		a.bytes = make([]byte, 0, blockCap(n, arenaByteBlock))
	}
	off := len(a.bytes)
	a.bytes = a.bytes[:off+n]
	return a.bytes[off : off+n : off+n]
}

// Objects carves a span of n zeroed Objects off the arena.
func (a *Arena) Objects(n int) []Object {
	if n > cap(a.objs)-len(a.objs) {
		a.objs = make([]Object, 0, blockCap(n, arenaObjBlock))
	}
	off := len(a.objs)
	a.objs = a.objs[:off+n]
	span := a.objs[off : off+n : off+n]
	for i := range span {
		span[i] = Object{}
	}
	return span
}

// Pairs carves a span of n zeroed Pairs off the arena.
func (a *Arena) Pairs(n int) []Pair {
	if n > cap(a.pairs)-len(a.pairs) {
		a.pairs = make([]Pair, 0, blockCap(n, arenaPairBlock))
	}
	off := len(a.pairs)
	a.pairs = a.pairs[:off+n]
	span := a.pairs[off : off+n : off+n]
	for i := range span {
		span[i] = Pair{}
	}
	return span
}

// Reset reclaims the arena as a whole. Capacity is retained; the blocks
// themselves never move, so spans handed out before the reset keep
// pointing at real memory right up until it is reused.
func (a *Arena) Reset() {
	a.bytes = a.bytes[:0]
	a.objs = a.objs[:0]
	a.pairs = a.pairs[:0]
}

func blockCap(n, block int) int {
	if n > block {
		return n
	}
	return block
}
