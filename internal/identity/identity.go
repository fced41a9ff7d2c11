// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package identity picks the UID the controller sends as source.
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/denisbrodbeck/machineid"

	"github.com/ffutop/rdm-controller/internal/config"
	"github.com/ffutop/rdm-controller/rdm"
)

const appID = "rdm-controller"

// machineID is replaced in tests.
var machineID = func() (string, error) {
	return machineid.ProtectedID(appID)
}

// ControllerUID returns the configured UID, or one derived from the host
// machine id under the configured manufacturer so it stays stable across
// restarts.
func ControllerUID(cfg config.ControllerConfig) (rdm.UID, error) {
	if cfg.UID != "" {
		uid, err := rdm.ParseUID(cfg.UID)
		if err != nil {
			return rdm.UID{}, err
		}
		if uid.IsBroadcast() {
			return rdm.UID{}, fmt.Errorf("identity: %s is a broadcast uid", uid)
		}
		return uid, nil
	}

	id, err := machineID()
	if err != nil {
		return rdm.UID{}, fmt.Errorf("identity: read machine id: %w", err)
	}
	return derive(cfg.ManufacturerID, id)
}

// derive takes the device part from the first 32 bits of a hex id.
func derive(manufacturer uint16, id string) (rdm.UID, error) {
	b, err := hex.DecodeString(id)
	if err != nil || len(b) < 4 {
		return rdm.UID{}, fmt.Errorf("identity: unusable machine id %q", id)
	}
	device := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if device == 0xFFFFFFFF {
		device--
	}
	return rdm.NewUID(manufacturer, device), nil
}
