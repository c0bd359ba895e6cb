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

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nvrpc/pkg/logging"
	"nvrpc/pkg/msgp"
	"nvrpc/pkg/rpc"
	"nvrpc/pkg/version"
)

var (
	flagConfig  string
	flagNetwork string
	flagAddr    string
	flagSpawn   []string
	flagVerbose bool

	cfg = rpc.DefaultConfig
)

func main() {
	root := &cobra.Command{
		Use:           "nvrpc",
		Short:         "talk msgpack-rpc to a peer over a socket or child process stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "TOML config file")
	pf.StringVar(&flagNetwork, "network", "unix", "network for --addr (unix, tcp)")
	pf.StringVarP(&flagAddr, "addr", "a", "", "socket address of the peer")
	pf.StringSliceVar(&flagSpawn, "spawn", nil, "command to spawn and attach to via stdio")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(callCmd(), notifyCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() error {
	if flagConfig != "" {
		if _, err := toml.DecodeFile(flagConfig, &cfg); err != nil {
			return fmt.Errorf("config %s: %w", flagConfig, err)
		}
	}
	if flagVerbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logging.SetLogger(logger)
	}
	return nil
}

func connect() (*rpc.Session, error) {
	var (
		ep  *rpc.Endpoint
		err error
	)
	switch {
	case len(flagSpawn) > 0:
		ep, err = rpc.Spawn(flagSpawn)
	case flagAddr != "":
		ep, err = rpc.Dial(flagNetwork, flagAddr, cfg.ConnectTimeout)
	default:
		return nil, fmt.Errorf("need --addr or --spawn")
	}
	if err != nil {
		return nil, err
	}
	return rpc.NewSession(ep, cfg), nil
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call METHOD [ARG...]",
		Short: "send a request and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.CallBounded(args[0], parseArgs(args[1:]), cfg.RequestTimeout)
			if err != nil {
				return err
			}
			fmt.Println(res.String())
			if flagVerbose {
				snap := s.Stats()
				logging.Logger().Info("latency",
					zap.Int64("us", snap.Max),
					zap.Int64("count", snap.Count))
			}
			return nil
		},
	}
}

func notifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify METHOD [ARG...]",
		Short: "send a notification, expecting nothing back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Notify(args[0], parseArgs(args[1:]))
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.PrintVersionInfo()
		},
	}
}

// parseArgs turns command line words into msgpack values. Integers and
// floats pack as numbers, true/false/nil as themselves, everything else
// as a string.
func parseArgs(words []string) []msgp.Object {
	out := make([]msgp.Object, 0, len(words))
	for _, w := range words {
		switch w {
		case "true":
			out = append(out, msgp.NewBool(true))
			continue
		case "false":
			out = append(out, msgp.NewBool(false))
			continue
		case "nil":
			out = append(out, msgp.NewNil())
			continue
		}
		if n, err := strconv.ParseInt(w, 10, 64); err == nil {
			out = append(out, msgp.NewInt(n))
			continue
		}
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			out = append(out, msgp.NewFloat64(f))
			continue
		}
		out = append(out, msgp.NewString(w))
	}
	return out
}
