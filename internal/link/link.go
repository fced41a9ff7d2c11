// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package link is the single send path onto an RDM bus. It owns the
// controller's transaction number and the direction switching around
// every transmitted frame.
package link

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
)

// Link sends RDM commands from one controller UID on one port.
type Link struct {
	Bus transport.Bus
	// Source is the controller UID placed in every command.
	Source rdm.UID
	// PortID is placed in the port id slot of every command.
	PortID uint8
	// DirectionDelay is the settling time around each direction change.
	DirectionDelay time.Duration

	mu sync.Mutex
	tn uint8
}

// New creates a link with the standard transceiver settling time.
func New(bus transport.Bus, source rdm.UID, portID uint8) *Link {
	return &Link{
		Bus:            bus,
		Source:         source,
		PortID:         portID,
		DirectionDelay: rdm.DirectionDelay,
	}
}

// PortIDForIndex returns the port id slot value of the gateway port at index.
// Port ids start at 1.
func PortIDForIndex(index int) uint8 {
	return uint8(index + 1)
}

// TransactionNumber returns the number the next frame will carry.
func (l *Link) TransactionNumber() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.tn
}

// Command builds a command addressed to dst without sending it.
func (l *Link) Command(cc rdm.CommandClass, pid uint16, pd []byte, dst rdm.UID) (*rdm.Message, error) {
	m, err := rdm.BuildCommand(cc, pid, pd, l.Source, dst, 0)
	if err != nil {
		return nil, err
	}
	m.Slot = l.PortID
	return m, nil
}

// Send stamps m with the next transaction number and transmits it: output
// direction, settle, transmit, settle, input direction with the receiver
// enabled. The transaction number advances only when the frame went out.
func (l *Link) Send(ctx context.Context, m *rdm.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.TransactionNumber = l.tn
	raw, err := m.Encode()
	if err != nil {
		return err
	}

	if err := l.Bus.SetDirection(transport.DirectionOutput, false); err != nil {
		return fmt.Errorf("link: set output direction: %w", err)
	}
	if err := l.settle(ctx); err != nil {
		return err
	}

	if err := l.Bus.Send(ctx, raw); err != nil {
		// best effort back to listening
		_ = l.Bus.SetDirection(transport.DirectionInput, true)
		return fmt.Errorf("link: send: %w", err)
	}
	l.tn++
	slog.Debug("rdm send", "tn", m.TransactionNumber, "cc", m.CommandClass, "pid", fmt.Sprintf("0x%04x", m.ParamID), "dst", m.Destination, "frame", hex.EncodeToString(raw))

	if err := l.settle(ctx); err != nil {
		return err
	}
	if err := l.Bus.SetDirection(transport.DirectionInput, true); err != nil {
		return fmt.Errorf("link: set input direction: %w", err)
	}
	return nil
}

// Receive waits up to timeout for one frame. Silence is transport.ErrTimeout.
func (l *Link) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	raw, err := l.Bus.Receive(ctx, timeout)
	if err != nil {
		return nil, err
	}
	slog.Debug("rdm recv", "frame", hex.EncodeToString(raw))
	return raw, nil
}

// Drain discards frames already waiting on the line, such as late replies
// to a previous request. It returns the number of frames dropped.
func (l *Link) Drain(ctx context.Context) int {
	n := 0
	for {
		raw, err := l.Bus.Receive(ctx, 0)
		if err != nil {
			if !errors.Is(err, transport.ErrTimeout) && ctx.Err() == nil {
				slog.Debug("link: drain stopped", "err", err)
			}
			return n
		}
		n++
		slog.Debug("discarding late response", "frame", hex.EncodeToString(raw))
	}
}

func (l *Link) settle(ctx context.Context) error {
	if l.DirectionDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(l.DirectionDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
