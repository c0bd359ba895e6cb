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
	"io"
	"net"
	"os"
	"os/exec"

	"nvrpc/pkg/errors"
	"nvrpc/pkg/util"
)

// Endpoint is a duplex byte stream a Session runs over. For a socket
// the reader and writer are the same net.Conn; for a spawned child
// they are its stdout and stdin.
type Endpoint struct {
	r   io.Reader
	w   io.Writer
	cmd *exec.Cmd

	// closers in teardown order
	closers []io.Closer
}

// Dial connects to a network endpoint. network is anything net.Dial
// accepts ("unix", "tcp", ...).
func Dial(network, addr string, timeout util.Duration) (*Endpoint, error) {
	conn, err := net.DialTimeout(network, addr, timeout.Duration)
	if err != nil {
		return nil, errors.NewError("dial "+addr+": "+err.Error(), errors.KErrNoConnection)
	}
	return &Endpoint{
		r:       conn,
		w:       conn,
		closers: []io.Closer{conn},
	}, nil
}

// Spawn starts argv as a child process and attaches to its stdio. The
// child's stderr is inherited.
func Spawn(argv []string) (*Endpoint, error) {
	if len(argv) == 0 {
		return nil, errors.NewError("spawn: empty command", errors.KErrNoConnection)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.NewError("spawn: "+err.Error(), errors.KErrNoConnection)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, errors.NewError("spawn: "+err.Error(), errors.KErrNoConnection)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, errors.NewError("spawn "+argv[0]+": "+err.Error(), errors.KErrNoConnection)
	}
	return &Endpoint{
		r:       stdout,
		w:       stdin,
		cmd:     cmd,
		closers: []io.Closer{stdin},
	}, nil
}

// Pipe wraps an already-open reader/writer pair, for tests and for
// callers that manage the stream themselves.
func Pipe(r io.Reader, w io.Writer) *Endpoint {
	ep := &Endpoint{r: r, w: w}
	if c, ok := r.(io.Closer); ok {
		ep.closers = append(ep.closers, c)
	}
	if c, ok := w.(io.Closer); ok && any(w) != any(r) {
		ep.closers = append(ep.closers, c)
	}
	return ep
}

func (e *Endpoint) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.cmd != nil {
		if err := e.cmd.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
