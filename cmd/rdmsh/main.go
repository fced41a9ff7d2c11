// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command rdmsh is an interactive console for a running rdm-controller.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/rdm-controller/internal/shell"
	"github.com/ffutop/rdm-controller/transport/tcp"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:5568", "Gateway address.")
	port := pflag.Uint8P("port", "p", 0, "Controller port index.")
	timeout := pflag.DurationP("timeout", "t", 30*time.Second, "Request timeout.")
	pflag.Parse()

	client := tcp.NewClient(*addr)
	client.Timeout = *timeout

	s := shell.New(client)
	s.Timeout = *timeout
	s.Port = *port
	if err := s.Run(pflag.Args()...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
