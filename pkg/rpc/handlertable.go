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

package rpc

import (
	"sync"
	"time"

	"nvrpc/pkg/msgp"
)

// Handler receives the outcome of a call.
//
// err is nil-typed (TypeNil) when no error occurred, otherwise the error
// object sent by the peer. result is the result object. If timedOut is
// true the request timed out and err and result are undefined. Both
// objects alias the session's decode arena: they are valid only for the
// duration of the call; Clone them to retain.
type Handler func(err, result msgp.Object, timedOut bool)

// ctxState tags the lifecycle of a pending call. A call with a timeout
// is owned jointly by the response path and the timeout task: whichever
// fires second observes the slot in the state the first one left behind
// and performs the single free.
type ctxState int

const (
	statePending ctxState = iota
	stateCompleted // response handled; the timeout task frees
	stateTimedOut  // timeout handled; a late response frees
)

type callContext struct {
	handler    Handler
	state      ctxState
	hasTimeout bool
	start      time.Time
}

// handlerTable maps message ids to pending calls. Slot allocation scans
// forward from the last used index and doubles the slot array when
// full, so steady call volume reuses a small index range instead of
// growing the table.
//
// The mutex is shared by every slot mutation: call submission, response
// arrival, and timeout firing. Handlers run while it is held, exactly
// once per call; a handler must not issue a new correlated request from
// inside its own invocation.
type handlerTable struct {
	mu        sync.Mutex
	slots     []*callContext
	freelist  []*callContext
	lastIndex int
}

const initialTableSize = 16

func newHandlerTable(size int) *handlerTable {
	if size <= 0 {
		size = initialTableSize
	}
	return &handlerTable{
		slots: make([]*callContext, size),
	}
}

// allocContext must be called with mu held.
func (t *handlerTable) allocContext() *callContext {
	if n := len(t.freelist); n > 0 {
		ctx := t.freelist[n-1]
		t.freelist = t.freelist[:n-1]
		*ctx = callContext{}
		return ctx
	}
	return &callContext{}
}

// storeContext places ctx in the first free slot at or after the last
// used index, wrapping around, and returns the slot index as the
// message id. Must be called with mu held.
//
// The table doubles long before the id space nears the reserved
// sentinel, so a real call never receives it.
func (t *handlerTable) storeContext(ctx *callContext) uint32 {
	size := len(t.slots)
	slot := size

	for i := t.lastIndex + 1; i < size; i++ {
		if t.slots[i] == nil {
			slot = i
			break
		}
	}
	if slot == size {
		for i := 0; i < t.lastIndex; i++ {
			if t.slots[i] == nil {
				slot = i
				break
			}
		}
	}
	if slot == size {
		grown := make([]*callContext, size*2)
		copy(grown, t.slots)
		t.slots = grown
	}

	t.lastIndex = slot
	t.slots[slot] = ctx
	return uint32(slot)
}

// lookup must be called with mu held.
func (t *handlerTable) lookup(msgid uint64) *callContext {
	if msgid >= uint64(len(t.slots)) {
		return nil
	}
	return t.slots[msgid]
}

// freeSlot clears the slot and recycles its context. Must be called
// with mu held.
func (t *handlerTable) freeSlot(idx uint32) {
	ctx := t.slots[idx]
	t.slots[idx] = nil
	ctx.handler = nil
	t.freelist = append(t.freelist, ctx)
}
