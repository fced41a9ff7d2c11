// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package discovery implements the RDM binary-search discovery of
// responder UIDs on one port.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ffutop/rdm-controller/internal/link"
	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
)

const (
	topBit    uint64 = 0x800000000000
	topMask          = topBit - 1
	topCarry  uint64 = 0x400000000000
	rangeSize        = 2 * rdm.UIDSize
)

// Midpoint splits [lower, upper] for bisection. The 47 low bits are averaged
// separately and the top bit of each bound contributes half its weight, so
// the sum never leaves the 48-bit space.
func Midpoint(lower, upper uint64) uint64 {
	mid := ((lower & topMask) + (upper & topMask)) / 2
	if upper&topBit != 0 {
		mid += topCarry
	}
	if lower&topBit != 0 {
		mid += topCarry
	}
	return mid
}

// Stats counts the traffic of a search.
type Stats struct {
	Branches   int // DISC_UNIQUE_BRANCH requests sent
	Mutes      int // directed DISC_MUTE requests sent
	Collisions int // replies that did not decode
	MaxDepth   int // deepest pending worklist
}

// Engine searches one port and records what it finds in TOD.
type Engine struct {
	Link     *link.Link
	TOD      *tod.TOD
	Watchdog transport.Watchdog
	// Timeout bounds the wait for each discovery reply.
	Timeout time.Duration
	// MuteRetries and BranchRetries resend a request that met silence.
	// Corrupt replies are never retried; they mean a collision.
	MuteRetries   int
	BranchRetries int
	// Port names the port in log records.
	Port string

	stats Stats
}

// New creates an engine with the standard receive timeout and no retries.
func New(l *link.Link, t *tod.TOD) *Engine {
	return &Engine{
		Link:     l,
		TOD:      t,
		Watchdog: transport.NopWatchdog{},
		Timeout:  rdm.ReceiveTimeout,
	}
}

// Stats returns the counters accumulated since the last ResetStats.
func (e *Engine) Stats() Stats {
	return e.stats
}

// ResetStats clears the counters before a new search.
func (e *Engine) ResetStats() {
	e.stats = Stats{}
}

type span struct {
	lower, upper uint64
}

// FindDevices searches [lower, upper] and adds every responder that
// confirms a mute to the TOD. Ranges are taken from an explicit worklist in
// the same order a depth-first recursion would visit them, lower half
// first. It reports whether anything answered. The only error returned is
// the cancellation of ctx.
func (e *Engine) FindDevices(ctx context.Context, lower, upper uint64) (bool, error) {
	if lower > upper {
		return false, nil
	}
	if n := e.Link.Drain(ctx); n > 0 {
		slog.Debug("discarded late responses before search", "port", e.Port, "count", n)
	}

	found := false
	work := []span{{lower, upper}}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if len(work) > e.stats.MaxDepth {
			e.stats.MaxDepth = len(work)
		}
		s := work[len(work)-1]
		work = work[:len(work)-1]
		e.feed()

		slog.Debug("find devices", "port", e.Port, "lower", rdm.Unpack(s.lower), "upper", rdm.Unpack(s.upper))

		if s.lower == s.upper {
			answered, err := e.muteAndAdd(ctx, rdm.Unpack(s.lower))
			if err != nil {
				return found, err
			}
			found = found || answered
			continue
		}

		raw, err := e.branch(ctx, s.lower, s.upper)
		if err != nil {
			return found, err
		}
		if raw == nil {
			continue
		}
		found = true

		bisect := true
		if uid, ok := rdm.ParseDiscoveryResponse(raw); ok {
			if bisect, err = e.QuickFind(ctx, uid, s.lower, s.upper); err != nil {
				return found, err
			}
		} else {
			e.stats.Collisions++
			slog.Debug("collision", "port", e.Port, "lower", rdm.Unpack(s.lower), "upper", rdm.Unpack(s.upper))
		}
		if !bisect {
			continue
		}

		mid := Midpoint(s.lower, s.upper)
		work = append(work, span{mid + 1, s.upper}, span{s.lower, mid})
	}

	slog.Debug("search complete", "port", e.Port, "branches", e.stats.Branches, "mutes", e.stats.Mutes,
		"collisions", e.stats.Collisions, "max_depth", e.stats.MaxDepth)
	return found, nil
}

// QuickFind mutes uid, adds it on confirmation, then re-sends the branch
// over [lower, upper] to catch a sibling answering alone. It follows each
// new sibling the same way and reports whether the range still needs
// bisection: a corrupt reply does, silence does not. A sibling already
// seen or outside the range is a phantom produced by overlapping replies
// and counts as a collision.
func (e *Engine) QuickFind(ctx context.Context, uid rdm.UID, lower, upper uint64) (bool, error) {
	seen := make(map[rdm.UID]struct{})
	for {
		seen[uid] = struct{}{}
		slog.Debug("quick find", "port", e.Port, "uid", uid)

		if _, err := e.muteAndAdd(ctx, uid); err != nil {
			return false, err
		}

		raw, err := e.branch(ctx, lower, upper)
		if err != nil {
			return false, err
		}
		if raw == nil {
			return false, nil
		}

		next, ok := rdm.ParseDiscoveryResponse(raw)
		if !ok {
			e.stats.Collisions++
			return true, nil
		}
		if _, dup := seen[next]; dup || next.Pack() < lower || next.Pack() > upper {
			e.stats.Collisions++
			slog.Debug("phantom uid", "port", e.Port, "uid", next)
			return true, nil
		}
		uid = next
	}
}

// Mute sends a directed DISC_MUTE and reports whether uid acknowledged it.
func (e *Engine) Mute(ctx context.Context, uid rdm.UID) (bool, error) {
	_, confirmed, err := e.mute(ctx, uid)
	return confirmed, err
}

// muteAndAdd mutes uid and adds it to the TOD when it confirms. It
// reports whether any reply arrived.
func (e *Engine) muteAndAdd(ctx context.Context, uid rdm.UID) (bool, error) {
	answered, confirmed, err := e.mute(ctx, uid)
	if err != nil || !confirmed {
		return answered, err
	}
	if e.TOD.AddUid(uid) {
		slog.Info("device added", "port", e.Port, "uid", uid)
	} else if !e.TOD.Exist(uid) {
		slog.Warn("table of devices full, device dropped", "port", e.Port, "uid", uid, "capacity", e.TOD.Capacity())
	}
	return answered, nil
}

func (e *Engine) mute(ctx context.Context, uid rdm.UID) (answered, confirmed bool, err error) {
	m, err := e.Link.Command(rdm.DiscoveryCommand, rdm.PIDDiscMute, nil, uid)
	if err != nil {
		return false, false, err
	}
	raw, err := e.request(ctx, m, e.MuteRetries, &e.stats.Mutes)
	if err != nil || raw == nil {
		return false, false, err
	}

	resp, derr := rdm.Decode(raw)
	if derr != nil {
		slog.Debug("invalid mute response", "port", e.Port, "uid", uid, "err", derr)
		return true, false, nil
	}
	return true, resp.IsDiscoveryResponse(rdm.PIDDiscMute) && resp.Source == uid, nil
}

func (e *Engine) branch(ctx context.Context, lower, upper uint64) ([]byte, error) {
	pd := make([]byte, 0, rangeSize)
	l, u := rdm.Unpack(lower), rdm.Unpack(upper)
	pd = append(pd, l[:]...)
	pd = append(pd, u[:]...)

	m, err := e.Link.Command(rdm.DiscoveryCommand, rdm.PIDDiscUniqueBranch, pd, rdm.BroadcastUID)
	if err != nil {
		return nil, err
	}
	return e.request(ctx, m, e.BranchRetries, &e.stats.Branches)
}

// request sends m and waits for one reply, resending up to retries times
// on silence. A nil frame with a nil error means nothing answered. Bus
// failures are logged and treated as silence.
func (e *Engine) request(ctx context.Context, m *rdm.Message, retries int, counter *int) ([]byte, error) {
	for attempt := 0; attempt <= retries; attempt++ {
		if err := e.Link.Send(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Error("discovery send failed", "port", e.Port, "err", err)
			continue
		}
		*counter++

		raw, err := e.Link.Receive(ctx, e.Timeout)
		switch {
		case err == nil:
			return raw, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case !errors.Is(err, transport.ErrTimeout):
			slog.Error("discovery receive failed", "port", e.Port, "err", err)
		}
	}
	return nil, nil
}

func (e *Engine) feed() {
	if e.Watchdog != nil {
		e.Watchdog.Feed()
	}
}
