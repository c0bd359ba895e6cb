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
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"nvrpc/pkg/errors"
	"nvrpc/pkg/logging"
	"nvrpc/pkg/msgp"
	"nvrpc/pkg/util"
)

// peerFunc sees every frame the session sends, already decoded and
// cloned. write pushes raw bytes back at the session.
type peerFunc func(frame msgp.Object, write func([]byte))

func startSession(t *testing.T, peer peerFunc) *Session {
	t.Helper()
	cli, srv := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		unp := msgp.NewUnpacker()
		for {
			n, err := srv.Read(buf)
			if n > 0 {
				unp.Feed(buf[:n])
				for {
					o := unp.Unpack()
					if o == nil {
						break
					}
					if peer != nil {
						peer(o.Clone(), func(b []byte) { srv.Write(b) })
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	s := NewSession(Pipe(cli, cli), DefaultConfig)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s
}

func packResponse(msgid uint64, errObj, result msgp.Object) []byte {
	var p msgp.Packer
	p.StartArray(4)
	p.PackUint(frameResponse)
	p.PackUint(msgid)
	p.PackObject(errObj)
	p.PackObject(result)
	return append([]byte(nil), p.Data()...)
}

func packNotification(method string, args ...msgp.Object) []byte {
	var p msgp.Packer
	p.StartArray(3)
	p.PackUint(frameNotification)
	p.PackString(method)
	p.PackArray(args)
	return append([]byte(nil), p.Data()...)
}

func echoPeer(frame msgp.Object, write func([]byte)) {
	f := frame.Array()
	if f[0].Uint() != frameRequest {
		return
	}
	msgid := f[1].Uint()
	if msgid == SentinelMsgID {
		return
	}
	write(packResponse(msgid, msgp.NewNil(), f[3]))
}

func TestCallRoundTrip(t *testing.T) {
	s := startSession(t, echoPeer)

	res, err := s.Call("echo", msgp.NewInt(42), msgp.NewString("hi"))
	if err != nil {
		t.Fatal(err)
	}
	want := msgp.NewArray([]msgp.Object{msgp.NewInt(42), msgp.NewString("hi")})
	if !res.Equal(want) {
		t.Fatalf("got %s, want %s", res.String(), want.String())
	}
}

func TestHandlerRunsExactlyOnce(t *testing.T) {
	s := startSession(t, echoPeer)

	var calls int32
	done := make(chan struct{})
	err := s.Request("ping", nil, func(err, result msgp.Object, timedOut bool) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(done)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("handler ran %d times", n)
	}
}

func TestResponseBeatsTimeout(t *testing.T) {
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		time.Sleep(20 * time.Millisecond)
		write(packResponse(f[1].Uint(), msgp.NewNil(), msgp.NewString("ok")))
	})

	var timedOut atomic.Bool
	done := make(chan struct{})
	err := s.RequestTimeout("slow", nil, 500*time.Millisecond, func(err, result msgp.Object, to bool) {
		timedOut.Store(to)
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if timedOut.Load() {
		t.Fatal("handler saw a timeout although the response came first")
	}

	// Wait out the timeout task; it must free the slot without a
	// second invocation.
	time.Sleep(600 * time.Millisecond)
	s.table.mu.Lock()
	occupied := 0
	for _, c := range s.table.slots {
		if c != nil {
			occupied++
		}
	}
	s.table.mu.Unlock()
	if occupied != 0 {
		t.Fatalf("%d slots still occupied after timeout task ran", occupied)
	}
}

func TestTimeoutThenLateResponse(t *testing.T) {
	release := make(chan struct{})
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		msgid := f[1].Uint()
		go func() {
			<-release
			write(packResponse(msgid, msgp.NewNil(), msgp.NewString("late")))
		}()
	})

	var calls int32
	var sawTimeout atomic.Bool
	done := make(chan struct{})
	err := s.RequestTimeout("slow", nil, 20*time.Millisecond, func(err, result msgp.Object, to bool) {
		atomic.AddInt32(&calls, 1)
		sawTimeout.Store(to)
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if !sawTimeout.Load() {
		t.Fatal("handler did not see the timeout")
	}

	// The late response must be absorbed silently and free the slot.
	close(release)
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("handler ran %d times", n)
	}
	s.table.mu.Lock()
	ctx := s.table.lookup(1)
	s.table.mu.Unlock()
	if ctx != nil {
		t.Fatal("late response did not free the slot")
	}
}

func TestSentinelResponseDropped(t *testing.T) {
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		// Answer under the sentinel first, then for real.
		f := frame.Array()
		write(packResponse(SentinelMsgID, msgp.NewString("boom"), msgp.NewNil()))
		write(packResponse(f[1].Uint(), msgp.NewNil(), msgp.NewString("real")))
	})

	res, err := s.Call("probe")
	if err != nil {
		t.Fatal(err)
	}
	if !res.StrEqual("real") {
		t.Fatalf("got %s", res.String())
	}
}

func TestMalformedFrameSkipped(t *testing.T) {
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		var p msgp.Packer
		p.PackString("not a frame")
		write(append([]byte(nil), p.Data()...))
		write(packResponse(f[1].Uint(), msgp.NewNil(), msgp.NewBool(true)))
	})

	res, err := s.Call("probe")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Bool() {
		t.Fatal("session did not survive the malformed frame")
	}
}

func TestNotificationDispatch(t *testing.T) {
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		write(packNotification("tick", msgp.NewInt(7)))
	})

	var mu sync.Mutex
	var gotMethod string
	var gotArg int64
	got := make(chan struct{})
	s.OnNotification(func(method, args msgp.Object) {
		mu.Lock()
		gotMethod = string(append([]byte(nil), method.Bytes()...))
		gotArg = args.Array()[0].Int()
		mu.Unlock()
		close(got)
	})

	if err := s.Notify("kick", nil); err != nil {
		t.Fatal(err)
	}
	<-got
	mu.Lock()
	defer mu.Unlock()
	if gotMethod != "tick" || gotArg != 7 {
		t.Fatalf("got %q(%d)", gotMethod, gotArg)
	}
}

func TestNotifyFrameShape(t *testing.T) {
	frames := make(chan msgp.Object, 1)
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		frames <- frame
	})

	if err := s.Notify("log", []msgp.Object{msgp.NewString("line")}); err != nil {
		t.Fatal(err)
	}
	f := (<-frames).Array()
	if len(f) != 3 || f[0].Uint() != frameNotification {
		t.Fatalf("bad notification frame: %s", msgp.NewArray(f).String())
	}
	if !f[1].StrEqual("log") {
		t.Fatalf("method %s", f[1].String())
	}
}

func TestRequestWithoutHandlerUsesSentinel(t *testing.T) {
	frames := make(chan msgp.Object, 1)
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		frames <- frame
	})

	if err := s.Request("fire", nil, nil); err != nil {
		t.Fatal(err)
	}
	f := (<-frames).Array()
	if f[1].Uint() != SentinelMsgID {
		t.Fatalf("msgid %d, want the sentinel", f[1].Uint())
	}
}

func TestMsgIDsStayLow(t *testing.T) {
	var maxID uint64
	var mu sync.Mutex
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		mu.Lock()
		if id := f[1].Uint(); id > maxID {
			maxID = id
		}
		mu.Unlock()
		write(packResponse(f[1].Uint(), msgp.NewNil(), msgp.NewNil()))
	})

	for i := 0; i < 200; i++ {
		if _, err := s.Call("noop"); err != nil {
			t.Fatal(err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if maxID >= uint64(DefaultConfig.HandlerTableSize) {
		t.Fatalf("serial calls reached msgid %d, table should not have grown", maxID)
	}
}

func TestRemoteErrorSurfaces(t *testing.T) {
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		write(packResponse(f[1].Uint(), msgp.NewString("no such method"), msgp.NewNil()))
	})

	_, err := s.Call("missing")
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*errors.Error)
	if !ok || e.ErrNo() != errors.KErrProtocol {
		t.Fatalf("got %v", err)
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	s := startSession(t, nil)
	s.Close()
	<-s.Done()

	if _, err := s.Call("noop"); err != errors.ErrSessionClosed {
		t.Fatalf("got %v, want ErrSessionClosed", err)
	}
}

func TestCloseUnblocksCall(t *testing.T) {
	s := startSession(t, nil) // peer never answers

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Call("hang")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		if err != errors.ErrSessionClosed {
			t.Fatalf("got %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Call did not unblock on Close")
	}
}

func TestCallBoundedTimesOut(t *testing.T) {
	s := startSession(t, nil) // peer never answers

	start := time.Now()
	_, err := s.CallBounded("hang", nil, util.Duration{Duration: 30 * time.Millisecond})
	if err != errors.ErrTimedOut {
		t.Fatalf("got %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("bound did not hold: %v", elapsed)
	}
}

func TestOnClosedRunsOnce(t *testing.T) {
	var closed int32
	s := startSession(t, nil)
	s.OnClosed(func(err error) { atomic.AddInt32(&closed, 1) })

	s.Close()
	s.Close()
	<-s.Done()
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&closed); n != 1 {
		t.Fatalf("OnClosed ran %d times", n)
	}
}

func TestNotifyThenCloseDelivers(t *testing.T) {
	for round := 0; round < 20; round++ {
		frames := make(chan msgp.Object, 1)
		s := startSession(t, func(frame msgp.Object, write func([]byte)) {
			frames <- frame
		})

		if err := s.Notify("tick", nil); err != nil {
			t.Fatal(err)
		}
		s.Close()

		select {
		case f := <-frames:
			if !f.Array()[1].StrEqual("tick") {
				t.Fatalf("round %d: got frame %s", round, f.String())
			}
		case <-time.After(time.Second):
			t.Fatalf("round %d: notification queued before Close never hit the wire", round)
		}
	}
}

func TestNotificationArgsMustBeArray(t *testing.T) {
	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		var p msgp.Packer
		p.StartArray(3)
		p.PackUint(frameNotification)
		p.PackString("m")
		p.PackInt(5)
		write(append([]byte(nil), p.Data()...))
		write(packResponse(f[1].Uint(), msgp.NewNil(), msgp.NewNil()))
	})

	var notified int32
	s.OnNotification(func(method, args msgp.Object) {
		atomic.AddInt32(&notified, 1)
	})

	if _, err := s.Call("probe"); err != nil {
		t.Fatal(err)
	}
	// Frames dispatch serially, so the bad notification was already
	// classified before the response that completed the call.
	if n := atomic.LoadInt32(&notified); n != 0 {
		t.Fatalf("sink saw %d notifications with non-array args", n)
	}
}

func TestProtocolErrorLogsOffendingValue(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.SetLogger(zap.New(core))
	defer logging.SetLogger(nil)

	s := startSession(t, func(frame msgp.Object, write func([]byte)) {
		f := frame.Array()
		var p msgp.Packer
		p.PackString("not a frame")
		write(append([]byte(nil), p.Data()...))
		write(packResponse(f[1].Uint(), msgp.NewNil(), msgp.NewNil()))
	})

	if _, err := s.Call("probe"); err != nil {
		t.Fatal(err)
	}

	entries := logs.FilterMessage("dropping frame").All()
	if len(entries) == 0 {
		t.Fatal("malformed frame was not logged")
	}
	fields := entries[0].ContextMap()
	if fields["reason"] != "frame is not an array" {
		t.Fatalf("reason = %v", fields["reason"])
	}
	if fields["value"] != `"not a frame"` {
		t.Fatalf("value = %v", fields["value"])
	}
	if fields["type"] != "string" {
		t.Fatalf("type = %v", fields["type"])
	}
}

func TestTimeoutClearsHandler(t *testing.T) {
	s := startSession(t, nil) // peer never answers

	fired := make(chan struct{})
	err := s.RequestTimeout("hang", nil, 20*time.Millisecond, func(err, result msgp.Object, timedOut bool) {
		close(fired)
	})
	if err != nil {
		t.Fatal(err)
	}
	<-fired

	s.table.mu.Lock()
	ctx := s.table.lookup(1)
	s.table.mu.Unlock()
	if ctx == nil {
		t.Fatal("slot freed; it must stay allocated for a late response")
	}
	if ctx.state != stateTimedOut {
		t.Fatalf("state = %d", ctx.state)
	}
	if ctx.handler != nil {
		t.Fatal("handler still referenced after the timeout invocation")
	}
}

func TestCallBoundedZeroTimeout(t *testing.T) {
	s := startSession(t, echoPeer)

	res, err := s.CallBounded("echo", []msgp.Object{msgp.NewInt(1)}, util.Duration{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal(msgp.NewArray([]msgp.Object{msgp.NewInt(1)})) {
		t.Fatalf("got %s", res.String())
	}
}

func TestLatencyRecorded(t *testing.T) {
	s := startSession(t, echoPeer)

	for i := 0; i < 10; i++ {
		if _, err := s.Call("noop"); err != nil {
			t.Fatal(err)
		}
	}
	snap := s.Stats()
	if snap.Count != 10 {
		t.Fatalf("recorded %d latencies, want 10", snap.Count)
	}
	if snap.Max <= 0 {
		t.Fatal("max latency not recorded")
	}
}
