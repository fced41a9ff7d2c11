// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/rdm-controller/transport"
)

// Server accepts upstream clients (consoles, configuration tools).
type Server struct {
	Address string
	Handler transport.RequestHandler

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	s.Handler = handler
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("RDM TCP server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				slog.Info("TCP client disconnected", "addr", conn.RemoteAddr())
			} else {
				slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		adu, length, err := parseHeader(header)
		if err != nil {
			slog.Error("Invalid request header", "addr", conn.RemoteAddr(), "err", err)
			return
		}
		adu.Payload = make([]byte, length)
		if _, err := io.ReadFull(conn, adu.Payload); err != nil {
			slog.Error("Failed to read request payload", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		if s.Handler == nil {
			slog.Error("No handler defined for TCP server")
			return
		}

		resp := s.Handler(ctx, transport.Request{Function: adu.Code, Port: adu.Port, Data: adu.Payload})

		respAdu := &ApplicationDataUnit{
			TransactionID: adu.TransactionID,
			Code:          resp.Status,
			Port:          adu.Port,
			Payload:       resp.Data,
		}
		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode TCP response", "err", err)
			respAdu.Code, respAdu.Payload = transport.StatusError, nil
			respRaw, _ = respAdu.Encode()
		}

		if _, err = conn.Write(respRaw); err != nil {
			slog.Error("Failed to write response to connection", "err", err)
			return
		}
	}
}
