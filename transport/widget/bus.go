// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package widget

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ffutop/rdm-controller/internal/config"
	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
	"github.com/grid-x/serial"
)

const tcpDialTimeout = 5 * time.Second

// readDeadliner is implemented by network connections, which block in Read
// without a deadline.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Bus drives an RDM line through a USB-Pro compatible widget. The widget
// generates break and mark-after-break itself and reports every reception
// (or its absence) as a framed message on the serial line.
type Bus struct {
	serialPort

	// ResponseTimeout is the minimum wait for a widget reply. RDM timeouts
	// are microseconds on the wire but the USB round trip is not.
	ResponseTimeout time.Duration

	direction transport.Direction
	rxEnable  bool
}

// NewBus allocates and initializes a widget Bus.
func NewBus(cfg config.SerialConfig) *Bus {
	b := &Bus{}

	// Map internal config to serial.Config
	b.serialPort.Config.Address = cfg.Device
	b.serialPort.Config.BaudRate = cfg.BaudRate
	b.serialPort.Config.DataBits = cfg.DataBits
	b.serialPort.Config.StopBits = cfg.StopBits
	b.serialPort.Config.Parity = cfg.Parity
	b.serialPort.Config.Timeout = cfg.Timeout
	if cfg.RS485 {
		b.serialPort.Config.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}

	b.IdleTimeout = cfg.IdleTimeout
	if b.IdleTimeout == 0 {
		b.IdleTimeout = serialIdleTimeout
	}
	b.ResponseTimeout = cfg.ResponseTimeout
	return b
}

// NewTCPBus allocates a Bus for a widget exported by a serial device
// server. The connection is dialed on first use and redialed after idle.
func NewTCPBus(address string, cfg config.SerialConfig) *Bus {
	b := NewBus(cfg)
	b.serialPort.Config.Address = address
	b.dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: tcpDialTimeout}
		return d.DialContext(ctx, "tcp", address)
	}
	return b
}

// Send hands one RDM frame to the widget. DISC_UNIQUE_BRANCH requests use
// the discovery label so the widget captures the break-less reply.
func (b *Bus) Send(ctx context.Context, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.connect(ctx); err != nil {
		return err
	}
	b.touch()

	p := Packet{Label: LabelSendRDM, Data: frame}
	if isDiscoveryBranch(frame) {
		p.Label = LabelSendRDMDiscovery
	}
	raw, err := p.Encode()
	if err != nil {
		return err
	}

	slog.Debug("send to widget", "device", b.Config.Address, "label", p.Label, "frame", hex.EncodeToString(frame))
	if _, err := b.port.Write(raw); err != nil {
		return fmt.Errorf("widget: write %s: %w", b.Config.Address, err)
	}
	return nil
}

// Receive waits for the widget to report a received packet or an RDM
// timeout. A zero timeout only polls.
func (b *Bus) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		return nil, transport.ErrClosed
	}
	if timeout > 0 && timeout < b.ResponseTimeout {
		timeout = b.ResponseTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if d, ok := b.port.(readDeadliner); ok {
			if err := d.SetReadDeadline(deadline); err != nil {
				return nil, err
			}
		}
		p, err := ReadPacket(b.port, deadline)
		if err != nil {
			return nil, err
		}
		b.touch()

		switch p.Label {
		case LabelReceivedPacket:
			if len(p.Data) < 2 {
				continue
			}
			if status := p.Data[0]; status != 0 {
				slog.Debug("widget reported receive error", "device", b.Config.Address, "status", status)
			}
			data := p.Data[1:]
			slog.Debug("recv from widget", "device", b.Config.Address, "frame", hex.EncodeToString(data))
			return data, nil
		case LabelRDMTimeout:
			return nil, transport.ErrTimeout
		default:
			slog.Debug("widget: ignoring message", "label", p.Label, "length", len(p.Data))
		}
	}
}

// SetDirection records the requested direction. The widget switches its
// own transceiver around every request, so nothing is sent to it.
func (b *Bus) SetDirection(d transport.Direction, rxEnable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.direction = d
	b.rxEnable = rxEnable
	return nil
}

func isDiscoveryBranch(frame []byte) bool {
	m, err := rdm.Decode(frame)
	if err != nil {
		return false
	}
	return m.CommandClass == rdm.DiscoveryCommand && m.ParamID == rdm.PIDDiscUniqueBranch
}
