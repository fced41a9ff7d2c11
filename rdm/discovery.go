// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rdm

import (
	"github.com/ffutop/rdm-controller/rdm/checksum"
)

// Discovery response framing
const (
	DiscoveryPreamble      = 0xFE
	DiscoveryDelimiter     = 0xAA
	MaxDiscoveryPreamble   = 7
	discoveryEncodedUID    = 2 * UIDSize
	discoveryEncodedSum    = 4
	discoveryPayloadSize   = discoveryEncodedUID + discoveryEncodedSum
	DiscoveryResponseSize  = MaxDiscoveryPreamble + 1 + discoveryPayloadSize
	discoveryMaskHigh byte = 0xAA
	discoveryMaskLow  byte = 0x55
)

// ParseDiscoveryResponse decodes the reply to a DISC_UNIQUE_BRANCH request.
//
//	Preamble  : 0 up to 7 bytes of 0xFE
//	Delimiter : 1 byte (0xAA)
//	EUID      : 12 bytes, each UID byte sent as (b|0xAA, b|0x55)
//	ECS       : 4 bytes, checksum high and low byte encoded the same way
//
// The checksum is the 16-bit sum of the twelve encoded UID bytes, which
// equals the sum of the six decoded bytes seeded with 6*0xFF. A response
// that does not start with the preamble, or that two responders corrupted
// by answering together, is reported invalid.
func ParseDiscoveryResponse(raw []byte) (uid UID, valid bool) {
	if len(raw) == 0 || raw[0] != DiscoveryPreamble {
		return
	}
	i := 0
	for i < len(raw) && i < MaxDiscoveryPreamble && raw[i] == DiscoveryPreamble {
		i++
	}
	if i >= len(raw) || raw[i] != DiscoveryDelimiter {
		return
	}
	p := raw[i+1:]
	if len(p) < discoveryPayloadSize {
		return
	}

	for j := 0; j < UIDSize; j++ {
		hi, lo := p[2*j], p[2*j+1]
		if hi&discoveryMaskHigh != discoveryMaskHigh || lo&discoveryMaskLow != discoveryMaskLow {
			return UID{}, false
		}
		uid[j] = hi & lo
	}
	sum := p[discoveryEncodedUID:]
	got := uint16(sum[0]&sum[1])<<8 | uint16(sum[2]&sum[3])

	var c checksum.Checksum
	want := c.Reset().Seed(checksum.DiscoverySeed).PushBytes(uid[:]).Value()
	if got != want {
		return UID{}, false
	}
	return uid, true
}

// EncodeDiscoveryResponse builds the responder side of a discovery reply
// with the full seven byte preamble.
func EncodeDiscoveryResponse(uid UID) []byte {
	buf := make([]byte, 0, DiscoveryResponseSize)
	for i := 0; i < MaxDiscoveryPreamble; i++ {
		buf = append(buf, DiscoveryPreamble)
	}
	buf = append(buf, DiscoveryDelimiter)
	for _, b := range uid {
		buf = append(buf, b|discoveryMaskHigh, b|discoveryMaskLow)
	}

	var c checksum.Checksum
	sum := c.Reset().Seed(checksum.DiscoverySeed).PushBytes(uid[:]).Value()
	hi, lo := byte(sum>>8), byte(sum)
	buf = append(buf, hi|discoveryMaskHigh, hi|discoveryMaskLow, lo|discoveryMaskHigh, lo|discoveryMaskLow)
	return buf
}
