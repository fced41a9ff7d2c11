// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/ffutop/rdm-controller/transport"
)

const (
	// a full discovery on a busy line takes a while
	tcpTimeout = 30 * time.Second
)

// Client calls a remote gateway. It dials a new connection per request.
type Client struct {
	Address string
	Timeout time.Duration

	transactionID uint32 // Atomic counter
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Call sends one request and returns the response.
func (c *Client) Call(ctx context.Context, req transport.Request) (transport.Response, error) {
	adu := &ApplicationDataUnit{
		TransactionID: uint16(atomic.AddUint32(&c.transactionID, 1)),
		Code:          req.Function,
		Port:          req.Port,
		Payload:       req.Data,
	}
	raw, err := adu.Encode()
	if err != nil {
		return transport.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}

	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return transport.Response{}, fmt.Errorf("tcp: failed to connect to %s: %w", c.Address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err = conn.SetDeadline(deadline); err != nil {
		return transport.Response{}, err
	}

	respAdu, err := c.sendAndRead(conn, raw)
	if err != nil {
		return transport.Response{}, err
	}
	if err := adu.Verify(respAdu); err != nil {
		return transport.Response{}, fmt.Errorf("verification failed: %w", err)
	}
	return transport.Response{Status: respAdu.Code, Data: respAdu.Payload}, nil
}

func (c *Client) sendAndRead(conn net.Conn, request []byte) (*ApplicationDataUnit, error) {
	if _, err := conn.Write(request); err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	adu, length, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	adu.Payload = make([]byte, length)
	if _, err := io.ReadFull(conn, adu.Payload); err != nil {
		return nil, err
	}

	slog.Debug("recv from rdm gateway", "header", hex.EncodeToString(header), "payload", hex.EncodeToString(adu.Payload))
	return adu, nil
}
