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

	"nvrpc/pkg/util"
)

var DefaultConfig = Config{
	IOBufSize:        16 * 1024,
	ConnectTimeout:   util.Duration{Duration: 1 * time.Second},
	RequestTimeout:   util.Duration{Duration: 600 * time.Millisecond},
	HandlerTableSize: initialTableSize,
}

type Config struct {
	// IOBufSize is the size of the read buffer handed to the stream.
	IOBufSize int

	// ConnectTimeout bounds Dial.
	ConnectTimeout util.Duration

	// RequestTimeout is the default timeout applied by callers that do
	// not pick their own (the CLI, for one). The session itself never
	// imposes it.
	RequestTimeout util.Duration

	// HandlerTableSize is the initial correlation table size. The table
	// doubles on demand.
	HandlerTableSize int
}

func (c *Config) sanitize() {
	if c.IOBufSize <= 0 {
		c.IOBufSize = DefaultConfig.IOBufSize
	}
	if c.HandlerTableSize <= 0 {
		c.HandlerTableSize = DefaultConfig.HandlerTableSize
	}
}
