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
	"context"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	uuid "github.com/satori/go.uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meterOnce sync.Once

	framesIn         metric.Int64Counter
	bytesRead        metric.Int64Counter
	bytesWritten     metric.Int64Counter
	protocolErrors   metric.Int64Counter
	requestsTimedOut metric.Int64Counter
)

func initMeter() {
	meterOnce.Do(func() {
		m := otel.Meter("nvrpc/rpc")
		framesIn, _ = m.Int64Counter("rpc.frames.in")
		bytesRead, _ = m.Int64Counter("rpc.bytes.read")
		bytesWritten, _ = m.Int64Counter("rpc.bytes.written")
		protocolErrors, _ = m.Int64Counter("rpc.protocol.errors")
		requestsTimedOut, _ = m.Int64Counter("rpc.requests.timedout")
	})
}

// sessionStats collects per-session counters and the response latency
// histogram. Latencies are recorded in microseconds.
type sessionStats struct {
	id   string
	attr attribute.Set

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newSessionStats() *sessionStats {
	initMeter()
	id := uuid.NewV1().String()
	return &sessionStats{
		id:   id,
		attr: attribute.NewSet(attribute.String("session", id)),
		hist: hdrhistogram.New(1, 60_000_000, 3),
	}
}

func (s *sessionStats) countFrame() {
	framesIn.Add(context.Background(), 1, metric.WithAttributeSet(s.attr))
}

func (s *sessionStats) countRead(n int) {
	bytesRead.Add(context.Background(), int64(n), metric.WithAttributeSet(s.attr))
}

func (s *sessionStats) countWrite(n int) {
	bytesWritten.Add(context.Background(), int64(n), metric.WithAttributeSet(s.attr))
}

func (s *sessionStats) countProtocolError() {
	protocolErrors.Add(context.Background(), 1, metric.WithAttributeSet(s.attr))
}

func (s *sessionStats) countTimeout() {
	requestsTimedOut.Add(context.Background(), 1, metric.WithAttributeSet(s.attr))
}

func (s *sessionStats) recordLatency(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	s.mu.Lock()
	s.hist.RecordValue(us)
	s.mu.Unlock()
}

// LatencySnapshot is a point-in-time view of the response latency
// distribution, in microseconds.
type LatencySnapshot struct {
	Count int64
	Mean  float64
	P50   int64
	P95   int64
	P99   int64
	Max   int64
}

func (s *sessionStats) snapshot() LatencySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LatencySnapshot{
		Count: s.hist.TotalCount(),
		Mean:  s.hist.Mean(),
		P50:   s.hist.ValueAtQuantile(50),
		P95:   s.hist.ValueAtQuantile(95),
		P99:   s.hist.ValueAtQuantile(99),
		Max:   s.hist.Max(),
	}
}
