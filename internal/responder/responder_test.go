// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package responder

import (
	"testing"

	"github.com/ffutop/rdm-controller/rdm"
	"github.com/stretchr/testify/require"
)

var (
	controllerUID = rdm.NewUID(0x7FF0, 1)
	deviceUID     = rdm.NewUID(0x7FF0, 0x102)
)

func command(t *testing.T, cc rdm.CommandClass, pid uint16, pd []byte, dst rdm.UID) []byte {
	t.Helper()
	m, err := rdm.BuildCommand(cc, pid, pd, controllerUID, dst, 7)
	require.NoError(t, err)
	raw, err := m.Encode()
	require.NoError(t, err)
	return raw
}

func branch(t *testing.T, lower, upper uint64) []byte {
	pd := make([]byte, 0, 12)
	l, u := rdm.Unpack(lower), rdm.Unpack(upper)
	pd = append(pd, l[:]...)
	pd = append(pd, u[:]...)
	return command(t, rdm.DiscoveryCommand, rdm.PIDDiscUniqueBranch, pd, rdm.BroadcastUID)
}

func TestUniqueBranch(t *testing.T) {
	r := New(deviceUID, "dimmer")

	reply := r.Handle(branch(t, 0, rdm.MaxSearchUID))
	uid, ok := rdm.ParseDiscoveryResponse(reply)
	require.True(t, ok)
	require.Equal(t, deviceUID, uid)

	require.Nil(t, r.Handle(branch(t, deviceUID.Pack()+1, rdm.MaxSearchUID)))
	require.NotNil(t, r.Handle(branch(t, deviceUID.Pack(), deviceUID.Pack())))
}

func TestMuteUnMute(t *testing.T) {
	r := New(deviceUID, "dimmer")
	r.SetControlField(rdm.ControlSubDevice)

	reply := r.Handle(command(t, rdm.DiscoveryCommand, rdm.PIDDiscMute, nil, deviceUID))
	m, err := rdm.Decode(reply)
	require.NoError(t, err)
	require.True(t, m.IsDiscoveryResponse(rdm.PIDDiscMute))
	require.Equal(t, deviceUID, m.Source)
	require.Equal(t, controllerUID, m.Destination)
	require.Equal(t, uint8(7), m.TransactionNumber)
	cf, ok := m.ControlField()
	require.True(t, ok)
	require.Equal(t, rdm.ControlSubDevice, cf)

	require.True(t, r.Muted())
	require.Nil(t, r.Handle(branch(t, 0, rdm.MaxSearchUID)))

	// broadcast un-mute is obeyed but not answered
	require.Nil(t, r.Handle(command(t, rdm.DiscoveryCommand, rdm.PIDDiscUnMute, nil, rdm.BroadcastUID)))
	require.False(t, r.Muted())
}

func TestOtherDeviceIgnored(t *testing.T) {
	r := New(deviceUID, "dimmer")
	require.Nil(t, r.Handle(command(t, rdm.DiscoveryCommand, rdm.PIDDiscMute, nil, rdm.NewUID(0x7FF0, 0x999))))
	require.False(t, r.Muted())

	// manufacturer broadcast for our manufacturer applies
	require.Nil(t, r.Handle(command(t, rdm.DiscoveryCommand, rdm.PIDDiscMute, nil, rdm.NewUID(0x7FF0, 0xFFFFFFFF))))
	require.True(t, r.Muted())
}

func TestParameters(t *testing.T) {
	r := New(deviceUID, "dimmer")

	m, err := rdm.Decode(r.Handle(command(t, rdm.GetCommand, rdm.PIDDeviceLabel, nil, deviceUID)))
	require.NoError(t, err)
	require.Equal(t, rdm.GetCommandResponse, m.CommandClass)
	require.Equal(t, uint8(rdm.ResponseTypeAck), m.ResponseType())
	require.Equal(t, "dimmer", string(m.ParamData))

	m, err = rdm.Decode(r.Handle(command(t, rdm.SetCommand, rdm.PIDIdentifyDevice, []byte{1}, deviceUID)))
	require.NoError(t, err)
	require.Equal(t, rdm.SetCommandResponse, m.CommandClass)
	require.True(t, r.Identify())

	m, err = rdm.Decode(r.Handle(command(t, rdm.SetCommand, rdm.PIDIdentifyDevice, []byte{2}, deviceUID)))
	require.NoError(t, err)
	require.Equal(t, uint8(rdm.ResponseTypeNackReason), m.ResponseType())
	require.Equal(t, []byte{0x00, 0x06}, m.ParamData)

	m, err = rdm.Decode(r.Handle(command(t, rdm.GetCommand, 0x8000, nil, deviceUID)))
	require.NoError(t, err)
	require.Equal(t, uint8(rdm.ResponseTypeNackReason), m.ResponseType())
	require.Equal(t, []byte{0x00, 0x00}, m.ParamData)

	m, err = rdm.Decode(r.Handle(command(t, rdm.GetCommand, rdm.PIDDeviceInfo, nil, deviceUID)))
	require.NoError(t, err)
	require.Len(t, m.ParamData, 19)

	// broadcast SET applies without a reply
	require.Nil(t, r.Handle(command(t, rdm.SetCommand, rdm.PIDDeviceLabel, []byte("spot"), rdm.BroadcastUID)))
	require.Equal(t, "spot", r.Label())
}
