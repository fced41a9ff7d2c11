// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Receive when nothing arrived before the deadline.
	ErrTimeout = errors.New("transport: receive timed out")
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("transport: bus closed")
)

// Direction of the half-duplex line driver.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Bus is a half-duplex RDM line (a DMX512 port).
// A Bus is driven by a single controller and is not safe for concurrent use.
type Bus interface {
	Connect(ctx context.Context) error
	// Send transmits one frame with the break and mark-after-break.
	Send(ctx context.Context, frame []byte) error
	// Receive waits up to timeout for one frame. It returns ErrTimeout
	// when the line stayed silent.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	SetDirection(d Direction, rxEnable bool) error
	Close() error
}

// Watchdog is fed between discovery rounds so long searches do not trip it.
type Watchdog interface {
	Feed()
}

// NopWatchdog ignores every feed.
type NopWatchdog struct{}

func (NopWatchdog) Feed() {}

// Function codes carried by the upstream envelope.
const (
	FuncTransact    byte = 0x00
	FuncFull        byte = 0x01
	FuncReadTOD     byte = 0x02
	FuncIncremental byte = 0x03
	FuncQuickFind   byte = 0x04
)

// Status codes of an upstream response.
const (
	StatusOK      byte = 0x00
	StatusTimeout byte = 0x01
	StatusBusy    byte = 0x02
	StatusError   byte = 0x03
	StatusNoRoute byte = 0x04
)

// Request is one upstream call addressed to a controller port.
type Request struct {
	Function byte
	Port     byte
	Data     []byte
}

// Response answers a Request. Data carries a raw RDM frame or packed UIDs.
type Response struct {
	Status byte
	Data   []byte
}

// RequestHandler serves one upstream request.
type RequestHandler func(ctx context.Context, req Request) Response

// Upstream represents a source of requests (a lighting console or tool
// connected to us). It acts as a Server.
type Upstream interface {
	// Start starts the server and blocks. It should be called in a goroutine.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}
