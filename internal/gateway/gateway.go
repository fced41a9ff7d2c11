// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/rdm-controller/internal/controller"
	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
)

// Port is the controller side of one DMX512/RDM port.
type Port interface {
	Full(ctx context.Context) ([]rdm.UID, error)
	Incremental(ctx context.Context) ([]rdm.UID, error)
	QuickFind(ctx context.Context, uid rdm.UID) (bool, error)
	Transact(ctx context.Context, m *rdm.Message) (*rdm.Message, error)
	TOD() *tod.TOD
}

// Gateway bridges multiple Upstreams (consoles, tools) to the controller
// ports, routed by port index.
type Gateway struct {
	Name      string
	Upstreams []transport.Upstream
	Ports     []Port

	// TransactTimeout bounds a GET/SET request.
	TransactTimeout time.Duration
}

// NewGateway creates a new Gateway instance
func NewGateway(name string, upstreams []transport.Upstream, ports []Port) *Gateway {
	return &Gateway{
		Name:            name,
		Upstreams:       upstreams,
		Ports:           ports,
		TransactTimeout: 2 * time.Second,
	}
}

// Start starts all upstream servers and blocks until ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, us := range g.Upstreams {
		wg.Add(1)
		go func(ups transport.Upstream, idx int) {
			defer wg.Done()
			slog.Info("Starting upstream", "gateway", g.Name, "index", idx)
			if err := ups.Start(ctx, g.HandleRequest); err != nil {
				slog.Error("Upstream stopped with error", "gateway", g.Name, "index", idx, "err", err)
			}
		}(us, i)
	}

	<-ctx.Done()

	// Graceful shutdown
	for _, us := range g.Upstreams {
		us.Close()
	}
	wg.Wait()
	return nil
}

// HandleRequest is the central dispatch function.
func (g *Gateway) HandleRequest(ctx context.Context, req transport.Request) transport.Response {
	if int(req.Port) >= len(g.Ports) {
		slog.Warn("No route found for port", "gateway", g.Name, "port", req.Port)
		return transport.Response{Status: transport.StatusNoRoute}
	}
	p := g.Ports[req.Port]

	switch req.Function {
	case transport.FuncTransact:
		return g.transact(ctx, p, req)
	case transport.FuncFull:
		uids, err := p.Full(ctx)
		return g.reply(req, packUIDs(uids), err)
	case transport.FuncIncremental:
		uids, err := p.Incremental(ctx)
		return g.reply(req, packUIDs(uids), err)
	case transport.FuncReadTOD:
		return transport.Response{Status: transport.StatusOK, Data: p.TOD().Bytes()}
	case transport.FuncQuickFind:
		uid, err := rdm.UIDFromBytes(req.Data)
		if err != nil {
			return g.reply(req, nil, err)
		}
		present, err := p.QuickFind(ctx, uid)
		data := []byte{0}
		if present {
			data[0] = 1
		}
		return g.reply(req, data, err)
	default:
		slog.Warn("Unknown function", "gateway", g.Name, "func", req.Function)
		return transport.Response{Status: transport.StatusError}
	}
}

func (g *Gateway) transact(ctx context.Context, p Port, req transport.Request) transport.Response {
	m, err := rdm.Decode(req.Data)
	if err != nil {
		return g.reply(req, nil, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.TransactTimeout)
	defer cancel()

	resp, err := p.Transact(ctx, m)
	if err != nil || resp == nil {
		return g.reply(req, nil, err)
	}
	raw, err := resp.Encode()
	return g.reply(req, raw, err)
}

func (g *Gateway) reply(req transport.Request, data []byte, err error) transport.Response {
	status := statusOf(err)
	if status != transport.StatusOK {
		slog.Error("Port request failed", "gateway", g.Name, "port", req.Port, "func", req.Function, "err", err)
		return transport.Response{Status: status}
	}
	return transport.Response{Status: status, Data: data}
}

func statusOf(err error) byte {
	switch {
	case err == nil:
		return transport.StatusOK
	case errors.Is(err, controller.ErrBusy):
		return transport.StatusBusy
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return transport.StatusTimeout
	default:
		return transport.StatusError
	}
}

func packUIDs(uids []rdm.UID) []byte {
	buf := make([]byte, 0, len(uids)*rdm.UIDSize)
	for _, u := range uids {
		buf = append(buf, u[:]...)
	}
	return buf
}
