// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rdm

import (
	"bytes"
	"errors"
	"testing"
)

var (
	testController = UID{0x7F, 0xF0, 0x00, 0x00, 0x00, 0x01}
	testDevice     = UID{0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02}
)

func TestEncodeMute(t *testing.T) {
	m, err := BuildCommand(DiscoveryCommand, PIDDiscMute, nil, testController, testDevice, 5)
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	raw, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{
		0xCC, 0x01, 0x18,
		0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02,
		0x7F, 0xF0, 0x00, 0x00, 0x00, 0x01,
		0x05, 0x01, 0x00, 0x00, 0x00,
		0x10, 0x00, 0x02, 0x00,
	}
	var sum uint16
	for _, b := range want {
		sum += uint16(b)
	}
	want = append(want, byte(sum>>8), byte(sum))

	if !bytes.Equal(raw, want) {
		t.Errorf("Encode() = % x, want % x", raw, want)
	}
	if !ValidateChecksum(raw) {
		t.Error("ValidateChecksum() = false on encoded frame")
	}
}

func TestEncodeBranchLength(t *testing.T) {
	pd := make([]byte, 12)
	m, _ := BuildCommand(DiscoveryCommand, PIDDiscUniqueBranch, pd, testController, BroadcastUID, 0)
	raw, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if raw[offsetLength] != 36 || raw[offsetParamLength] != 12 {
		t.Errorf("length = %d, pdl = %d", raw[offsetLength], raw[offsetParamLength])
	}
	if len(raw) != 38 {
		t.Errorf("frame size = %d, want 38", len(raw))
	}
}

func TestBuildCommandTooLong(t *testing.T) {
	if _, err := BuildCommand(GetCommand, PIDDeviceLabel, make([]byte, MaxParamLength+1), testController, testDevice, 0); err == nil {
		t.Error("expected error for oversize parameter data")
	}
}

func TestDecode(t *testing.T) {
	m, _ := BuildCommand(GetCommand, PIDDeviceLabel, []byte("label"), testController, testDevice, 0x42)
	m.SubDevice = 3
	raw, _ := m.Encode()

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Source != testController || got.Destination != testDevice {
		t.Errorf("addresses = %v -> %v", got.Source, got.Destination)
	}
	if got.TransactionNumber != 0x42 || got.SubDevice != 3 || got.PortID() != 1 {
		t.Errorf("header = tn %d sub %d port %d", got.TransactionNumber, got.SubDevice, got.PortID())
	}
	if got.CommandClass != GetCommand || got.ParamID != PIDDeviceLabel || string(got.ParamData) != "label" {
		t.Errorf("body = %s", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	m, _ := BuildCommand(GetCommand, PIDDeviceInfo, nil, testController, testDevice, 0)
	good, _ := m.Encode()

	corrupt := append([]byte(nil), good...)
	corrupt[offsetTransaction] ^= 0xFF

	badLength := append([]byte(nil), good...)
	badLength[offsetLength] = 30

	notRDM := append([]byte(nil), good...)
	notRDM[0] = 0x00

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"Short", good[:10], ErrShortFrame},
		{"Truncated", good[:len(good)-1], ErrShortFrame},
		{"StartCode", notRDM, ErrStartCode},
		{"Checksum", corrupt, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}

	var lerr *LengthError
	if _, err := Decode(badLength); !errors.As(err, &lerr) {
		t.Errorf("Decode() error = %v, want *LengthError", err)
	}
}

func TestValidateChecksumEveryByte(t *testing.T) {
	m, err := BuildCommand(SetCommand, PIDDeviceLabel, []byte("label"), testController, testDevice, 9)
	if err != nil {
		t.Fatal(err)
	}
	good, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}

	for i := range good {
		for _, mask := range []byte{0x01, 0x80, 0xFF} {
			bad := append([]byte(nil), good...)
			bad[i] ^= mask
			if ValidateChecksum(bad) {
				t.Errorf("byte %d ^ 0x%02x validated", i, mask)
			}
		}
	}
}

func TestValidateChecksumShort(t *testing.T) {
	if ValidateChecksum([]byte{0xCC, 0x01, 0x18}) {
		t.Error("short frame validated")
	}
}

func TestResponse(t *testing.T) {
	cmd, _ := BuildCommand(DiscoveryCommand, PIDDiscMute, nil, testController, testDevice, 9)
	resp := cmd.Response(testDevice, ResponseTypeAck, []byte{0x00, 0x01})

	if resp.Destination != testController || resp.Source != testDevice {
		t.Errorf("addresses = %v -> %v", resp.Source, resp.Destination)
	}
	if !resp.IsDiscoveryResponse(PIDDiscMute) || resp.TransactionNumber != 9 {
		t.Errorf("response = %s", resp)
	}
	if cf, ok := resp.ControlField(); !ok || cf != ControlManagedProxy {
		t.Errorf("ControlField() = %d, %v", cf, ok)
	}
}
