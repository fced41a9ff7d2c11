// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/rdm-controller/transport"
)

// Responder is a device attached to the simulated line.
type Responder interface {
	// Handle returns the reply to frame, or nil to stay silent.
	Handle(frame []byte) []byte
}

// Bus is an in-memory half-duplex line. Every frame sent is offered to all
// attached responders; replies that overlap in time are merged with a
// bitwise OR, which is what a real transceiver sees when two drivers
// fight over the line.
type Bus struct {
	mu         sync.Mutex
	responders []Responder
	pending    [][]byte
	sent       [][]byte
	direction  transport.Direction
	rxEnable   bool
	closed     bool
}

// New returns a bus with the given responders attached.
func New(responders ...Responder) *Bus {
	return &Bus{responders: responders}
}

// Attach adds a responder to the line.
func (b *Bus) Attach(r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.responders = append(b.responders, r)
}

// Detach removes a responder from the line.
func (b *Bus) Detach(r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, x := range b.responders {
		if x == r {
			b.responders = append(b.responders[:i], b.responders[i+1:]...)
			return
		}
	}
}

func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = false
	return ctx.Err()
}

func (b *Bus) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return transport.ErrClosed
	}
	b.sent = append(b.sent, append([]byte(nil), frame...))

	var reply []byte
	answered := 0
	for _, r := range b.responders {
		out := r.Handle(frame)
		if out == nil {
			continue
		}
		answered++
		reply = merge(reply, out)
	}
	if answered > 1 {
		slog.Debug("sim: collision", "responders", answered, "frame", hex.EncodeToString(reply))
	}
	if reply != nil {
		b.pending = append(b.pending, reply)
	}
	return nil
}

// Receive returns the next queued reply. Replies are produced synchronously
// by Send, so an empty queue times out at once without waiting.
func (b *Bus) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, transport.ErrClosed
	}
	if len(b.pending) == 0 {
		return nil, transport.ErrTimeout
	}
	reply := b.pending[0]
	b.pending = b.pending[1:]
	return reply, nil
}

func (b *Bus) SetDirection(d transport.Direction, rxEnable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.direction = d
	b.rxEnable = rxEnable
	return nil
}

// Direction returns the current line direction and receiver state.
func (b *Bus) Direction() (transport.Direction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.direction, b.rxEnable
}

// Sent returns copies of every frame transmitted so far.
func (b *Bus) Sent() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, len(b.sent))
	copy(out, b.sent)
	return out
}

// Inject queues a raw reply as if a device had sent it, for late or
// unsolicited traffic.
func (b *Bus) Inject(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, append([]byte(nil), frame...))
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.pending = nil
	return nil
}

func merge(dst, src []byte) []byte {
	if len(src) > len(dst) {
		grown := make([]byte, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, c := range src {
		dst[i] |= c
	}
	return dst
}
