// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package controller drives discovery cycles and parameter transactions
// on one RDM port.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/rdm-controller/internal/discovery"
	"github.com/ffutop/rdm-controller/internal/link"
	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
)

// ErrBusy is returned when the port is already running a cycle.
var ErrBusy = errors.New("controller: discovery already running")

// State of the driver loop.
type State int32

const (
	StateIdle State = iota
	StateUnmuting
	StateProbing
	StateSearching
	StateVerifying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUnmuting:
		return "unmuting"
	case StateProbing:
		return "probing"
	case StateSearching:
		return "searching"
	case StateVerifying:
		return "verifying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Notifier is told about the table of devices after a cycle.
type Notifier interface {
	DevicesChanged(port string, added, removed, all []rdm.UID)
}

// Storage persists the table of devices between runs.
type Storage interface {
	Load(t *tod.TOD) error
	Save(t *tod.TOD) error
}

// unmuteRounds is the number of broadcast un-mutes sent before searching.
// The first replies to a broadcast are unreliable.
const unmuteRounds = 2

// Controller owns one port: its link, its table of devices and its
// discovery engine. Cycles and transactions on a port are serialized.
type Controller struct {
	Name string

	link     *link.Link
	tod      *tod.TOD
	engine   *discovery.Engine
	watchdog transport.Watchdog
	storage  Storage
	notifier Notifier

	settleDelay     time.Duration
	pollInterval    time.Duration
	discoverOnStart bool

	mu    sync.Mutex
	state atomic.Int32
}

// Option configures a Controller.
type Option func(*Controller)

func WithWatchdog(w transport.Watchdog) Option {
	return func(c *Controller) { c.watchdog = w }
}

func WithStorage(s Storage) Option {
	return func(c *Controller) { c.storage = s }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithSettleDelay sets the pause after each broadcast un-mute round.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settleDelay = d }
}

// WithReceiveTimeout sets the wait for every discovery and GET/SET reply.
func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Controller) { c.engine.Timeout = d }
}

// WithRetries sets resends on silence for mutes and branches.
func WithRetries(mute, branch int) Option {
	return func(c *Controller) {
		c.engine.MuteRetries = mute
		c.engine.BranchRetries = branch
	}
}

// WithPollInterval enables incremental discovery from Run.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithDiscoverOnStart makes Run begin with a full discovery.
func WithDiscoverOnStart(b bool) Option {
	return func(c *Controller) { c.discoverOnStart = b }
}

// New creates a controller for the port behind l.
func New(name string, l *link.Link, t *tod.TOD, opts ...Option) *Controller {
	c := &Controller{
		Name:        name,
		link:        l,
		tod:         t,
		engine:      discovery.New(l, t),
		watchdog:    transport.NopWatchdog{},
		settleDelay: 100 * time.Millisecond,
	}
	c.engine.Port = name
	for _, opt := range opts {
		opt(c)
	}
	c.engine.Watchdog = c.watchdog
	return c
}

// TOD returns the table of devices. Read it while the controller is idle
// for a consistent view.
func (c *Controller) TOD() *tod.TOD {
	return c.tod
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		slog.Debug("controller state", "port", c.Name, "from", old, "to", s)
	}
}

func (c *Controller) acquire() error {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	return nil
}

func (c *Controller) release() {
	c.setState(StateIdle)
	c.mu.Unlock()
}

// Full clears the table and rediscovers every device on the port.
func (c *Controller) Full(ctx context.Context) ([]rdm.UID, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	start := time.Now()
	before := c.tod.UIDs()
	c.tod.Reset()
	c.engine.ResetStats()

	c.setState(StateUnmuting)
	for i := 0; i < unmuteRounds; i++ {
		if _, err := c.unmuteAll(ctx); err != nil {
			return nil, err
		}
		c.watchdog.Feed()
		if err := sleep(ctx, c.settleDelay); err != nil {
			return nil, err
		}
	}

	c.setState(StateProbing)
	raw, err := c.unmuteAll(ctx)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if m, err := rdm.Decode(raw); err == nil && m.CommandClass == rdm.DiscoveryCommandResponse {
			slog.Debug("single device answered un-mute", "port", c.Name, "uid", m.Source)
			v := m.Source.Pack()
			if _, err := c.engine.FindDevices(ctx, v, v); err != nil {
				return nil, err
			}
		}
	}

	c.setState(StateSearching)
	if _, err := c.engine.FindDevices(ctx, 0, rdm.MaxSearchUID); err != nil {
		return nil, err
	}

	c.tod.Dump(c.Name)
	slog.Info("full discovery complete", "port", c.Name, "devices", c.tod.GetUidCount(), "elapsed", time.Since(start))
	return c.commit(before, true), nil
}

// Incremental checks that every known device still answers a mute,
// removes the silent ones and searches for devices that were added,
// without clearing the table first.
func (c *Controller) Incremental(ctx context.Context) ([]rdm.UID, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	before := c.tod.UIDs()
	c.engine.ResetStats()

	c.setState(StateUnmuting)
	for i := 0; i < unmuteRounds; i++ {
		if _, err := c.unmuteAll(ctx); err != nil {
			return nil, err
		}
		c.watchdog.Feed()
		if err := sleep(ctx, c.settleDelay); err != nil {
			return nil, err
		}
	}

	c.setState(StateVerifying)
	for i := len(before) - 1; i >= 0; i-- {
		uid := before[i]
		ok, err := c.engine.Mute(ctx, uid)
		if err != nil {
			return nil, err
		}
		if !ok && c.tod.Delete(uid) {
			slog.Info("device removed", "port", c.Name, "uid", uid)
		}
	}

	c.setState(StateSearching)
	if _, err := c.engine.FindDevices(ctx, 0, rdm.MaxSearchUID); err != nil {
		return nil, err
	}
	return c.commit(before, false), nil
}

// QuickFind re-verifies one device: it must answer a directed mute, after
// which a branch over the whole range catches unmuted neighbours. It
// reports whether uid is present.
func (c *Controller) QuickFind(ctx context.Context, uid rdm.UID) (bool, error) {
	if err := c.acquire(); err != nil {
		return false, err
	}
	defer c.release()

	before := c.tod.UIDs()
	c.setState(StateVerifying)

	present, err := c.engine.Mute(ctx, uid)
	if err != nil {
		return false, err
	}
	if !present {
		if c.tod.Delete(uid) {
			slog.Info("device removed", "port", c.Name, "uid", uid)
		}
		c.commit(before, false)
		return false, nil
	}

	c.setState(StateSearching)
	bisect, err := c.engine.QuickFind(ctx, uid, 0, rdm.MaxSearchUID)
	if err != nil {
		return true, err
	}
	if bisect {
		if _, err := c.engine.FindDevices(ctx, 0, rdm.MaxSearchUID); err != nil {
			return true, err
		}
	}
	c.commit(before, false)
	return true, nil
}

// Transact sends a GET or SET command and waits for the matching response.
// Broadcast commands return a nil response. Replies that do not match the
// transaction are discarded until the receive timeout runs out.
func (c *Controller) Transact(ctx context.Context, m *rdm.Message) (*rdm.Message, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	c.link.Drain(ctx)
	m.Source = c.link.Source
	m.Slot = c.link.PortID
	if err := c.link.Send(ctx, m); err != nil {
		return nil, err
	}
	if m.Destination.IsBroadcast() {
		return nil, nil
	}

	deadline := time.Now().Add(c.engine.Timeout)
	for {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		raw, err := c.link.Receive(ctx, wait)
		if err != nil {
			return nil, err
		}
		resp, err := rdm.Decode(raw)
		switch {
		case err != nil:
			slog.Debug("discarding invalid response", "port", c.Name, "err", err)
		case resp.TransactionNumber != m.TransactionNumber || resp.Source != m.Destination:
			slog.Debug("discarding unrelated response", "port", c.Name, "tn", resp.TransactionNumber, "src", resp.Source)
		case resp.CommandClass != m.CommandClass+1:
			slog.Debug("discarding response of wrong class", "port", c.Name, "cc", resp.CommandClass)
		default:
			return resp, nil
		}
		if wait == 0 {
			return nil, transport.ErrTimeout
		}
	}
}

// Run restores the stored table, optionally runs a full discovery and then
// an incremental one every poll interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if c.storage != nil {
		if err := c.storage.Load(c.tod); err != nil {
			slog.Error("failed to restore table of devices", "port", c.Name, "err", err)
		} else if n := c.tod.GetUidCount(); n > 0 {
			slog.Info("restored table of devices", "port", c.Name, "devices", n)
		}
	}

	if c.discoverOnStart {
		if _, err := c.Full(ctx); err != nil && !errors.Is(err, ErrBusy) {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("full discovery failed", "port", c.Name, "err", err)
		}
	}

	if c.pollInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := c.Incremental(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrBusy) {
				slog.Debug("skipping incremental discovery", "port", c.Name, "err", err)
				continue
			}
			slog.Error("incremental discovery failed", "port", c.Name, "err", err)
		}
	}
}

// unmuteAll broadcasts DISC_UN_MUTE and returns whatever answered within
// the receive timeout. Only cancellation is an error.
func (c *Controller) unmuteAll(ctx context.Context) ([]byte, error) {
	m, err := c.link.Command(rdm.DiscoveryCommand, rdm.PIDDiscUnMute, nil, rdm.BroadcastUID)
	if err != nil {
		return nil, err
	}
	if err := c.link.Send(ctx, m); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("un-mute send failed", "port", c.Name, "err", err)
		return nil, nil
	}
	raw, err := c.link.Receive(ctx, c.engine.Timeout)
	switch {
	case err == nil:
		return raw, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case !errors.Is(err, transport.ErrTimeout):
		slog.Error("un-mute receive failed", "port", c.Name, "err", err)
	}
	return nil, nil
}

// commit persists the table and notifies about the difference from before.
func (c *Controller) commit(before []rdm.UID, always bool) []rdm.UID {
	all := c.tod.UIDs()
	added, removed := diff(before, all)
	if !always && len(added) == 0 && len(removed) == 0 {
		return all
	}

	if c.storage != nil {
		if err := c.storage.Save(c.tod); err != nil {
			slog.Error("failed to persist table of devices", "port", c.Name, "err", err)
		}
	}
	if c.notifier != nil {
		c.notifier.DevicesChanged(c.Name, added, removed, all)
	}
	return all
}

func diff(before, after []rdm.UID) (added, removed []rdm.UID) {
	old := make(map[rdm.UID]struct{}, len(before))
	for _, u := range before {
		old[u] = struct{}{}
	}
	cur := make(map[rdm.UID]struct{}, len(after))
	for _, u := range after {
		cur[u] = struct{}{}
		if _, ok := old[u]; !ok {
			added = append(added, u)
		}
	}
	for _, u := range before {
		if _, ok := cur[u]; !ok {
			removed = append(removed, u)
		}
	}
	return
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
