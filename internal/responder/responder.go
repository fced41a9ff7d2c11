// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package responder implements a simulated RDM responder for the
// in-memory bus.
package responder

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/ffutop/rdm-controller/rdm"
)

const maxLabelLength = 32

// Responder answers discovery and a small set of GET/SET parameters.
type Responder struct {
	uid rdm.UID

	mu       sync.Mutex
	label    string
	muted    bool
	identify bool
	control  uint16
}

// New creates an unmuted responder.
func New(uid rdm.UID, label string) *Responder {
	if len(label) > maxLabelLength {
		label = label[:maxLabelLength]
	}
	return &Responder{uid: uid, label: label}
}

func (r *Responder) UID() rdm.UID {
	return r.uid
}

// Muted reports whether the responder ignores DISC_UNIQUE_BRANCH.
func (r *Responder) Muted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.muted
}

// Identify reports the IDENTIFY_DEVICE state.
func (r *Responder) Identify() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.identify
}

// Label returns the DEVICE_LABEL.
func (r *Responder) Label() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.label
}

// SetControlField sets the flags returned in mute responses.
func (r *Responder) SetControlField(cf uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.control = cf
}

// Handle processes one frame seen on the line and returns the reply, if any.
// Broadcast commands are acted upon but never answered, except
// DISC_UNIQUE_BRANCH which is always broadcast.
func (r *Responder) Handle(frame []byte) []byte {
	m, err := rdm.Decode(frame)
	if err != nil || m.CommandClass.IsResponse() {
		return nil
	}

	addressed := m.Destination == r.uid
	broadcast := m.Destination == rdm.BroadcastUID ||
		(m.Destination.IsBroadcast() && m.Destination.Manufacturer() == r.uid.Manufacturer())
	if !addressed && !broadcast {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m.CommandClass == rdm.DiscoveryCommand {
		return r.discovery(m, addressed)
	}

	resp := r.parameter(m)
	if !addressed || resp == nil {
		return nil
	}
	return r.encode(resp)
}

func (r *Responder) discovery(m *rdm.Message, addressed bool) []byte {
	switch m.ParamID {
	case rdm.PIDDiscUniqueBranch:
		if r.muted || len(m.ParamData) != 2*rdm.UIDSize {
			return nil
		}
		lower, _ := rdm.UIDFromBytes(m.ParamData[:rdm.UIDSize])
		upper, _ := rdm.UIDFromBytes(m.ParamData[rdm.UIDSize:])
		if v := r.uid.Pack(); v < lower.Pack() || v > upper.Pack() {
			return nil
		}
		return rdm.EncodeDiscoveryResponse(r.uid)
	case rdm.PIDDiscMute, rdm.PIDDiscUnMute:
		r.muted = m.ParamID == rdm.PIDDiscMute
		if !addressed {
			return nil
		}
		cf := make([]byte, 2)
		binary.BigEndian.PutUint16(cf, r.control)
		return r.encode(m.Response(r.uid, rdm.ResponseTypeAck, cf))
	}
	return nil
}

func (r *Responder) parameter(m *rdm.Message) *rdm.Message {
	get := m.CommandClass == rdm.GetCommand
	switch {
	case get && m.ParamID == rdm.PIDDeviceLabel:
		return m.Response(r.uid, rdm.ResponseTypeAck, []byte(r.label))
	case !get && m.ParamID == rdm.PIDDeviceLabel:
		if len(m.ParamData) > maxLabelLength {
			return nack(r.uid, m, rdm.NackFormatError)
		}
		r.label = string(m.ParamData)
		return m.Response(r.uid, rdm.ResponseTypeAck, nil)
	case get && m.ParamID == rdm.PIDIdentifyDevice:
		var v byte
		if r.identify {
			v = 1
		}
		return m.Response(r.uid, rdm.ResponseTypeAck, []byte{v})
	case !get && m.ParamID == rdm.PIDIdentifyDevice:
		if len(m.ParamData) != 1 {
			return nack(r.uid, m, rdm.NackFormatError)
		}
		if m.ParamData[0] > 1 {
			return nack(r.uid, m, rdm.NackDataOutOfRange)
		}
		r.identify = m.ParamData[0] == 1
		slog.Debug("responder identify", "uid", r.uid, "on", r.identify)
		return m.Response(r.uid, rdm.ResponseTypeAck, nil)
	case get && m.ParamID == rdm.PIDSupportedParameters:
		pids := []uint16{rdm.PIDDeviceLabel, rdm.PIDManufacturerLabel, rdm.PIDSoftwareVersionLabel}
		pd := make([]byte, 2*len(pids))
		for i, pid := range pids {
			binary.BigEndian.PutUint16(pd[2*i:], pid)
		}
		return m.Response(r.uid, rdm.ResponseTypeAck, pd)
	case get && m.ParamID == rdm.PIDDeviceInfo:
		return m.Response(r.uid, rdm.ResponseTypeAck, deviceInfo())
	case get && m.ParamID == rdm.PIDManufacturerLabel:
		return m.Response(r.uid, rdm.ResponseTypeAck, []byte("Simulated"))
	case get && m.ParamID == rdm.PIDSoftwareVersionLabel:
		return m.Response(r.uid, rdm.ResponseTypeAck, []byte("sim 1.0"))
	case get || m.CommandClass == rdm.SetCommand:
		return nack(r.uid, m, rdm.NackUnknownPID)
	}
	return nil
}

// deviceInfo returns a DEVICE_INFO block for a single-footprint fixture
// without sub-devices or sensors.
func deviceInfo() []byte {
	pd := make([]byte, 19)
	binary.BigEndian.PutUint16(pd[0:], 0x0100) // protocol version 1.0
	binary.BigEndian.PutUint16(pd[2:], 0x0001) // model
	binary.BigEndian.PutUint16(pd[4:], 0x0101) // category: fixture
	binary.BigEndian.PutUint32(pd[6:], 0x00010000)
	// footprint, personality 1 of 1, start address
	binary.BigEndian.PutUint16(pd[10:], 1)
	binary.BigEndian.PutUint16(pd[12:], 0x0101)
	binary.BigEndian.PutUint16(pd[14:], 1)
	return pd
}

func nack(uid rdm.UID, m *rdm.Message, reason uint16) *rdm.Message {
	pd := make([]byte, 2)
	binary.BigEndian.PutUint16(pd, reason)
	return m.Response(uid, rdm.ResponseTypeNackReason, pd)
}

func (r *Responder) encode(m *rdm.Message) []byte {
	raw, err := m.Encode()
	if err != nil {
		slog.Error("responder: encode response", "uid", r.uid, "err", err)
		return nil
	}
	return raw
}
