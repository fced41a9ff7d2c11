// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/rdm-controller/internal/link"
	"github.com/ffutop/rdm-controller/internal/responder"
	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/internal/tod/persistence"
	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
	"github.com/ffutop/rdm-controller/transport/sim"
	"github.com/stretchr/testify/require"
)

var controllerUID = rdm.NewUID(0x7FF0, 1)

type recorder struct {
	mu      sync.Mutex
	calls   int
	added   []rdm.UID
	removed []rdm.UID
	all     []rdm.UID
}

func (r *recorder) DevicesChanged(port string, added, removed, all []rdm.UID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	r.added, r.removed, r.all = added, removed, all
}

func newController(capacity int, opts []Option, devices ...sim.Responder) (*Controller, *sim.Bus) {
	bus := sim.New(devices...)
	l := link.New(bus, controllerUID, 1)
	l.DirectionDelay = 0
	opts = append([]Option{WithSettleDelay(0)}, opts...)
	return New("test", l, tod.New(capacity), opts...), bus
}

func TestFull_NoResponders(t *testing.T) {
	c, _ := newController(8, nil)

	uids, err := c.Full(context.Background())
	require.NoError(t, err)
	require.Empty(t, uids)
	require.Equal(t, 0, c.TOD().GetUidCount())
	require.Equal(t, StateIdle, c.State())
}

func TestFull_SingleResponder(t *testing.T) {
	uid := rdm.UID{0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02}
	c, _ := newController(8, nil, responder.New(uid, "dimmer"))

	uids, err := c.Full(context.Background())
	require.NoError(t, err)
	require.Equal(t, []rdm.UID{uid}, uids)
	require.Equal(t, 1, c.TOD().GetUidCount())
	require.True(t, c.TOD().Exist(uid))
}

func TestFull_CollidingResponders(t *testing.T) {
	a := rdm.NewUID(0x7FF0, 0x00000102)
	b := rdm.NewUID(0x7FF0, 0x00000201)
	c, _ := newController(8, nil, responder.New(a, ""), responder.New(b, ""))

	_, err := c.Full(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, c.TOD().GetUidCount())
	require.True(t, c.TOD().Exist(a))
	require.True(t, c.TOD().Exist(b))
}

func TestFull_ResetsTable(t *testing.T) {
	stale := rdm.NewUID(0x1234, 0x5678)
	c, _ := newController(8, nil)
	c.TOD().AddUid(stale)

	_, err := c.Full(context.Background())
	require.NoError(t, err)
	require.False(t, c.TOD().Exist(stale))
}

// eager answers the broadcast un-mute, so the single device fast path runs.
type eager struct {
	*responder.Responder
}

func (e eager) Handle(frame []byte) []byte {
	reply := e.Responder.Handle(frame)
	m, err := rdm.Decode(frame)
	if err != nil || m.ParamID != rdm.PIDDiscUnMute {
		return reply
	}
	raw, _ := m.Response(e.UID(), rdm.ResponseTypeAck, []byte{0, 0}).Encode()
	return raw
}

func TestFull_SingleDeviceFastPath(t *testing.T) {
	uid := rdm.NewUID(0x7FF0, 0xABCD)
	c, bus := newController(8, nil, eager{responder.New(uid, "")})

	_, err := c.Full(context.Background())
	require.NoError(t, err)
	require.Equal(t, []rdm.UID{uid}, c.TOD().UIDs())

	sent := bus.Sent()
	require.GreaterOrEqual(t, len(sent), 5)
	fourth, err := rdm.Decode(sent[3])
	require.NoError(t, err)
	require.Equal(t, rdm.PIDDiscMute, fourth.ParamID)
	require.Equal(t, uid, fourth.Destination)
	// the full search then meets a muted device
	fifth, err := rdm.Decode(sent[4])
	require.NoError(t, err)
	require.Equal(t, rdm.PIDDiscUniqueBranch, fifth.ParamID)
	require.Len(t, sent, 5)
}

func TestFull_TransactionNumbersAdvance(t *testing.T) {
	c, bus := newController(8, nil, responder.New(rdm.NewUID(1, 1), ""), responder.New(rdm.NewUID(2, 2), ""))

	_, err := c.Full(context.Background())
	require.NoError(t, err)
	for i, raw := range bus.Sent() {
		m, err := rdm.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, uint8(i), m.TransactionNumber)
	}
}

func TestFull_Busy(t *testing.T) {
	c, _ := newController(8, nil)
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.Full(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	_, err = c.Incremental(context.Background())
	require.ErrorIs(t, err, ErrBusy)
}

func TestFull_Cancelled(t *testing.T) {
	c, _ := newController(8, nil, responder.New(rdm.NewUID(1, 1), ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Full(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateIdle, c.State())
}

func TestIncremental(t *testing.T) {
	a := responder.New(rdm.NewUID(0x7FF0, 0xA), "")
	b := responder.New(rdm.NewUID(0x7FF0, 0xB), "")
	n := &recorder{}
	store := persistence.NewMemoryStorage()
	c, bus := newController(8, []Option{WithNotifier(n), WithStorage(store)}, a, b)

	_, err := c.Full(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n.calls)
	require.Len(t, n.added, 2)

	added := responder.New(rdm.NewUID(0x4C55, 0x1), "")
	bus.Detach(b)
	bus.Attach(added)

	uids, err := c.Incremental(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []rdm.UID{a.UID(), added.UID()}, uids)
	require.Equal(t, 2, n.calls)
	require.Equal(t, []rdm.UID{added.UID()}, n.added)
	require.Equal(t, []rdm.UID{b.UID()}, n.removed)

	restored := tod.New(8)
	require.NoError(t, store.Load(restored))
	require.ElementsMatch(t, uids, restored.UIDs())

	// nothing changed, nothing published
	_, err = c.Incremental(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n.calls)
}

func TestIncremental_SettlesAfterUnmute(t *testing.T) {
	a := responder.New(rdm.NewUID(0x7FF0, 0xA), "")
	settle := 15 * time.Millisecond
	c, _ := newController(8, []Option{WithSettleDelay(settle)}, a)

	start := time.Now()
	uids, err := c.Incremental(context.Background())
	require.NoError(t, err)
	require.Equal(t, []rdm.UID{a.UID()}, uids)
	require.GreaterOrEqual(t, time.Since(start), unmuteRounds*settle)

	c, _ = newController(8, []Option{WithSettleDelay(time.Hour)}, a)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Incremental(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuickFind(t *testing.T) {
	a := responder.New(rdm.NewUID(0x7FF0, 0xA), "")
	c, bus := newController(8, nil, a)

	_, err := c.Full(context.Background())
	require.NoError(t, err)

	// a new device powers up next to a muted one
	neighbour := responder.New(rdm.NewUID(0x7FF0, 0xC), "")
	bus.Attach(neighbour)

	present, err := c.QuickFind(context.Background(), a.UID())
	require.NoError(t, err)
	require.True(t, present)
	require.True(t, c.TOD().Exist(neighbour.UID()))

	bus.Detach(a)
	present, err = c.QuickFind(context.Background(), a.UID())
	require.NoError(t, err)
	require.False(t, present)
	require.False(t, c.TOD().Exist(a.UID()))
}

func TestTransact(t *testing.T) {
	dev := responder.New(rdm.NewUID(0x7FF0, 0x102), "dimmer")
	c, _ := newController(8, nil, dev)
	ctx := context.Background()

	req, err := rdm.BuildCommand(rdm.GetCommand, rdm.PIDDeviceLabel, nil, rdm.UID{}, dev.UID(), 0)
	require.NoError(t, err)
	resp, err := c.Transact(ctx, req)
	require.NoError(t, err)
	require.Equal(t, rdm.GetCommandResponse, resp.CommandClass)
	require.Equal(t, "dimmer", string(resp.ParamData))
	require.Equal(t, req.TransactionNumber, resp.TransactionNumber)

	set, _ := rdm.BuildCommand(rdm.SetCommand, rdm.PIDDeviceLabel, []byte("wash"), rdm.UID{}, rdm.BroadcastUID, 0)
	resp, err = c.Transact(ctx, set)
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, "wash", dev.Label())

	missing, _ := rdm.BuildCommand(rdm.GetCommand, rdm.PIDDeviceLabel, nil, rdm.UID{}, rdm.NewUID(0x7FF0, 0x999), 0)
	_, err = c.Transact(ctx, missing)
	require.ErrorIs(t, err, transport.ErrTimeout)
}

func TestTransact_DrainsStaleResponse(t *testing.T) {
	dev := responder.New(rdm.NewUID(0x7FF0, 0x102), "dimmer")
	c, bus := newController(8, nil, dev)

	late, _ := rdm.BuildCommand(rdm.GetCommand, rdm.PIDDeviceLabel, nil, controllerUID, dev.UID(), 99)
	raw, _ := late.Response(dev.UID(), rdm.ResponseTypeAck, []byte("old")).Encode()
	bus.Inject(raw)

	req, _ := rdm.BuildCommand(rdm.GetCommand, rdm.PIDDeviceLabel, nil, rdm.UID{}, dev.UID(), 0)
	resp, err := c.Transact(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "dimmer", string(resp.ParamData))
}

func TestRun(t *testing.T) {
	uid := rdm.NewUID(0x7FF0, 0x102)
	store := persistence.NewMemoryStorage()
	seed := tod.New(8)
	seed.AddUid(rdm.NewUID(0x1111, 0x2222))
	require.NoError(t, store.Save(seed))

	c, _ := newController(8, []Option{
		WithStorage(store),
		WithDiscoverOnStart(true),
		WithPollInterval(5 * time.Millisecond),
	}, responder.New(uid, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	require.Equal(t, []rdm.UID{uid}, c.TOD().UIDs())
}

func TestDiff(t *testing.T) {
	a, b, x := rdm.NewUID(1, 1), rdm.NewUID(2, 2), rdm.NewUID(3, 3)
	added, removed := diff([]rdm.UID{a, b}, []rdm.UID{a, x})
	require.Equal(t, []rdm.UID{x}, added)
	require.Equal(t, []rdm.UID{b}, removed)
}
