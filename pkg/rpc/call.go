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
	"time"

	"nvrpc/pkg/errors"
	"nvrpc/pkg/msgp"
	"nvrpc/pkg/util"
)

// Request sends [0, msgid, method, args] and registers h for the
// response. With h nil the request goes out under the sentinel msgid
// and the response, if any, is dropped. The request stays pending until
// the peer answers.
func (s *Session) Request(method string, args []msgp.Object, h Handler) error {
	return s.request(method, args, h, 0)
}

// RequestTimeout is Request with a deadline. When the deadline passes
// first, h runs once with timedOut set; a response arriving later is
// absorbed without being surfaced.
func (s *Session) RequestTimeout(method string, args []msgp.Object, timeout time.Duration, h Handler) error {
	if timeout <= 0 {
		return s.request(method, args, h, 0)
	}
	if h == nil {
		return errors.NewError("timeout requires a handler", errors.KErrProtocol)
	}
	return s.request(method, args, h, timeout)
}

func (s *Session) request(method string, args []msgp.Object, h Handler, timeout time.Duration) error {
	msgid := uint64(SentinelMsgID)
	var slot uint32
	if h != nil {
		s.table.mu.Lock()
		ctx := s.table.allocContext()
		ctx.handler = h
		ctx.hasTimeout = timeout > 0
		ctx.start = time.Now()
		slot = s.table.storeContext(ctx)
		s.table.mu.Unlock()
		msgid = uint64(slot)
	}

	err := s.send(func(p *msgp.Packer) {
		p.StartArray(4)
		p.PackUint(frameRequest)
		p.PackUint(msgid)
		p.PackString(method)
		p.StartArray(uint32(len(args)))
		for i := range args {
			p.PackObject(args[i])
		}
	})
	if err != nil {
		if h != nil {
			s.table.mu.Lock()
			s.table.freeSlot(slot)
			s.table.mu.Unlock()
		}
		return err
	}
	if h != nil && timeout > 0 {
		time.AfterFunc(timeout, func() { s.onTimeout(slot) })
	}
	return nil
}

// Notify sends [2, method, args]. Nothing comes back.
func (s *Session) Notify(method string, args []msgp.Object) error {
	return s.send(func(p *msgp.Packer) {
		p.StartArray(3)
		p.PackUint(frameNotification)
		p.PackString(method)
		p.StartArray(uint32(len(args)))
		for i := range args {
			p.PackObject(args[i])
		}
	})
}

func (s *Session) onTimeout(slot uint32) {
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	ctx := s.table.lookup(uint64(slot))
	if ctx == nil {
		return
	}
	switch ctx.state {
	case statePending:
		// Timeout won the race. The slot stays allocated so a late
		// response is recognized and absorbed; the handler is
		// cleared now so whatever it captured can be collected.
		ctx.state = stateTimedOut
		h := ctx.handler
		ctx.handler = nil
		s.stats.countTimeout()
		h(msgp.NewInvalid(), msgp.NewInvalid(), true)
	case stateCompleted:
		// Response won; the free falls to us.
		s.table.freeSlot(slot)
	}
}

// Call sends a request and blocks for the response. The result is
// cloned out of the session arena, so it stays valid after return. A
// non-nil error object from the peer comes back as an Error with
// KErrProtocol.
func (s *Session) Call(method string, args ...msgp.Object) (msgp.Object, error) {
	return s.call(method, args, 0, nil)
}

// CallBounded is Call with a deadline on the request and a wall-clock
// bound on the wait itself, for callers that cannot afford to hang on a
// stalled session. The bound is twice the request timeout: the timeout
// event normally arrives well within one timeout span, and the slack
// covers a reader stalled mid-frame. A zero timeout degrades to a plain
// unbounded Call.
func (s *Session) CallBounded(method string, args []msgp.Object, timeout util.Duration) (msgp.Object, error) {
	if timeout.Duration <= 0 {
		return s.call(method, args, 0, nil)
	}
	tw := util.NewTimerWrapper(timeout.Duration)
	tw.Reset(2 * timeout.Duration)
	defer tw.Stop()
	return s.call(method, args, timeout.Duration, tw.GetTimeoutCh())
}

type callOutcome struct {
	result msgp.Object
	err    error
}

func (s *Session) call(method string, args []msgp.Object, timeout time.Duration, bound <-chan time.Time) (msgp.Object, error) {
	ch := make(chan callOutcome, 1)
	h := func(errObj, result msgp.Object, timedOut bool) {
		switch {
		case timedOut:
			ch <- callOutcome{result: msgp.NewInvalid(), err: errors.ErrTimedOut}
		case !errObj.Is(msgp.TypeNil):
			ch <- callOutcome{
				result: msgp.NewInvalid(),
				err:    errors.NewError(method+": "+errObj.String(), errors.KErrProtocol),
			}
		default:
			ch <- callOutcome{result: result.Clone()}
		}
	}

	var err error
	if timeout > 0 {
		err = s.RequestTimeout(method, args, timeout, h)
	} else {
		err = s.Request(method, args, h)
	}
	if err != nil {
		return msgp.NewInvalid(), err
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-bound:
		return msgp.NewInvalid(), errors.ErrTimedOut
	case <-s.done:
		// The handler may have fired in the same instant.
		select {
		case out := <-ch:
			return out.result, out.err
		default:
			return msgp.NewInvalid(), errors.ErrSessionClosed
		}
	}
}
