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

	"go.uber.org/zap"

	"nvrpc/pkg/errors"
	"nvrpc/pkg/logging"
	"nvrpc/pkg/msgp"
)

// SentinelMsgID marks a response that correlates with no request. Peers
// send it for errors they cannot attribute, and we send it on requests
// issued without a handler. Responses carrying it are dropped.
const SentinelMsgID = 0xFFFFFFFF

const (
	frameRequest      = 0
	frameResponse     = 1
	frameNotification = 2
)

// NotificationHandler receives inbound notifications. method and args
// alias the session's decode arena and are valid only for the duration
// of the call; Clone what you keep.
type NotificationHandler func(method msgp.Object, args msgp.Object)

// ClosedHandler runs once when the session tears down. err is nil on a
// clean Close, otherwise the read or write error that killed the
// session.
type ClosedHandler func(err error)

// Session runs the msgpack-rpc wire protocol over an endpoint. One
// goroutine reads and dispatches frames serially; a second drains the
// outbound queue. Response handlers are invoked from the reader
// goroutine and must not block on the session's own traffic.
type Session struct {
	ep    *Endpoint
	cfg   Config
	stats *sessionStats

	table *handlerTable

	writeMu sync.Mutex
	out     msgp.Packer
	kick    chan struct{}

	// writer-owned scratch buffer
	wbuf []byte

	onNotification NotificationHandler
	onClosed       ClosedHandler

	closeOnce  sync.Once
	done       chan struct{}
	writerDone chan struct{}
	closeErr   error
}

// NewSession wraps ep and starts the read and write loops. The session
// owns ep and closes it on teardown.
func NewSession(ep *Endpoint, cfg Config) *Session {
	cfg.sanitize()
	s := &Session{
		ep:         ep,
		cfg:        cfg,
		stats:      newSessionStats(),
		table:      newHandlerTable(cfg.HandlerTableSize),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

// OnNotification installs the inbound notification handler. Install it
// before the peer starts talking; the session does not synchronize the
// swap against the reader.
func (s *Session) OnNotification(h NotificationHandler) { s.onNotification = h }

// OnClosed installs the teardown handler.
func (s *Session) OnClosed(h ClosedHandler) { s.onClosed = h }

// Stats returns the response latency distribution so far.
func (s *Session) Stats() LatencySnapshot { return s.stats.snapshot() }

// Close tears the session down. It returns after the writer has
// flushed frames queued before the call; pending handlers are not
// invoked, their slots die with the table.
func (s *Session) Close() error {
	s.teardown(nil)
	<-s.writerDone
	return nil
}

// Done is closed when the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session tore down. It is nil before teardown and
// after a clean Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}

// teardown marks the session dead. The endpoint itself is closed by
// the writer after its final drain.
func (s *Session) teardown(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.done)
		if err != nil {
			logging.Logger().Warn("session closing", zap.String("session", s.stats.id), zap.Error(err))
		}
		if s.onClosed != nil {
			s.onClosed(err)
		}
	})
}

func (s *Session) readLoop() {
	buf := make([]byte, s.cfg.IOBufSize)
	unp := msgp.NewUnpacker()
	for {
		n, err := s.ep.r.Read(buf)
		if n > 0 {
			s.stats.countRead(n)
			unp.Feed(buf[:n])
			for {
				obj := unp.Unpack()
				if obj == nil {
					break
				}
				s.dispatch(*obj)
			}
		}
		if err != nil {
			select {
			case <-s.done:
				err = nil
			default:
			}
			s.teardown(err)
			return
		}
	}
}

// dispatch classifies one inbound frame. Anything that is not a
// well-formed response or notification is logged and dropped; the
// stream itself is still in sync, so the session keeps going.
func (s *Session) dispatch(obj msgp.Object) {
	s.stats.countFrame()
	if !obj.Is(msgp.TypeArray) {
		s.protocolError("frame is not an array", obj)
		return
	}
	frame := obj.Array()
	if len(frame) < 3 || !frame[0].Is(msgp.TypeInteger) {
		s.protocolError("malformed frame header", obj)
		return
	}
	switch frame[0].Uint() {
	case frameResponse:
		if len(frame) != 4 || !frame[1].Is(msgp.TypeInteger) {
			s.protocolError("malformed response frame", obj)
			return
		}
		s.onResponse(obj, frame[1].Uint(), frame[2], frame[3])
	case frameNotification:
		if len(frame) != 3 || !frame[1].Is(msgp.TypeString) || !frame[2].Is(msgp.TypeArray) {
			s.protocolError("malformed notification frame", obj)
			return
		}
		if h := s.onNotification; h != nil {
			h(frame[1], frame[2])
		}
	default:
		s.protocolError("unexpected frame type", obj)
	}
}

func (s *Session) protocolError(what string, obj msgp.Object) {
	s.stats.countProtocolError()
	logging.Logger().Warn("dropping frame",
		zap.String("session", s.stats.id),
		zap.String("reason", what),
		zap.String("value", obj.String()),
		zap.String("type", obj.TypeName()))
}

// onResponse resolves a response against the correlation table. The
// handler runs under the table lock, so it must not issue correlated
// requests of its own.
func (s *Session) onResponse(frame msgp.Object, msgid uint64, errObj, result msgp.Object) {
	if msgid == SentinelMsgID {
		return
	}
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	ctx := s.table.lookup(msgid)
	if ctx == nil {
		s.protocolError("response for unknown msgid", frame)
		return
	}
	switch ctx.state {
	case statePending:
		h := ctx.handler
		if ctx.hasTimeout {
			// The timeout task still holds a reference; it frees
			// the slot when it fires. The handler itself is done
			// with after one invocation.
			ctx.state = stateCompleted
			ctx.handler = nil
		} else {
			s.table.freeSlot(uint32(msgid))
		}
		s.stats.recordLatency(time.Since(ctx.start))
		h(errObj, result, false)
	case stateTimedOut:
		// Late response. The handler already ran with timedOut
		// set; absorb it and free the slot.
		s.table.freeSlot(uint32(msgid))
		logging.Logger().Debug("late response for timed out request",
			zap.String("session", s.stats.id), zap.Uint64("msgid", msgid))
	case stateCompleted:
		s.protocolError("duplicate response for msgid", frame)
	}
}

// send packs one frame into the outbound queue and wakes the writer if
// the queue was empty. The writer stays parked otherwise; it drains
// whatever accumulated in one pass.
func (s *Session) send(pack func(p *msgp.Packer)) error {
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	s.writeMu.Lock()
	wake := s.out.Len() == 0
	pack(&s.out)
	s.writeMu.Unlock()
	if wake {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Session) writeLoop() {
	defer func() {
		s.ep.Close()
		close(s.writerDone)
	}()
	for {
		select {
		case <-s.done:
			// Final flush. send rejects new frames once done is
			// closed, so anything queued before teardown still
			// reaches the wire.
			s.drain()
			return
		case <-s.kick:
		}
		if err := s.drain(); err != nil {
			s.teardown(err)
			return
		}
	}
}

func (s *Session) drain() error {
	for {
		s.writeMu.Lock()
		n := s.out.Len()
		if n == 0 {
			s.writeMu.Unlock()
			return nil
		}
		s.wbuf = append(s.wbuf[:0], s.out.Data()...)
		s.out.Consume(n)
		s.writeMu.Unlock()
		if err := s.writeAll(s.wbuf); err != nil {
			return err
		}
	}
}

func (s *Session) writeAll(frame []byte) error {
	for len(frame) > 0 {
		n, err := s.ep.w.Write(frame)
		if n > 0 {
			s.stats.countWrite(n)
			frame = frame[n:]
		}
		if err != nil {
			return err
		}
	}
	return nil
}
