// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rdm

import (
	"fmt"
	"time"
)

// Start codes
const (
	StartCode    = 0xCC
	SubStartCode = 0x01
)

// Frame sizes
const (
	UIDSize        = 6
	HeaderSize     = 24 // message length of a frame without parameter data
	ChecksumSize   = 2
	MaxParamLength = 231
	MaxFrameSize   = HeaderSize + MaxParamLength + ChecksumSize
)

// Field offsets inside an RDM frame.
const (
	offsetStartCode    = 0
	offsetSubStartCode = 1
	offsetLength       = 2
	offsetDestination  = 3
	offsetSource       = 9
	offsetTransaction  = 15
	offsetSlot         = 16
	offsetMessageCount = 17
	offsetSubDevice    = 18
	offsetCommandClass = 20
	offsetParamID      = 21
	offsetParamLength  = 23
	offsetParamData    = 24
)

// CommandClass is the command class byte of an RDM frame.
type CommandClass byte

// Command classes
const (
	DiscoveryCommand         CommandClass = 0x10
	DiscoveryCommandResponse CommandClass = 0x11
	GetCommand               CommandClass = 0x20
	GetCommandResponse       CommandClass = 0x21
	SetCommand               CommandClass = 0x30
	SetCommandResponse       CommandClass = 0x31
)

// IsResponse reports whether the class is sent by a responder.
func (cc CommandClass) IsResponse() bool {
	return cc&0x01 == 0x01
}

func (cc CommandClass) String() string {
	switch cc {
	case DiscoveryCommand:
		return "DISCOVERY_COMMAND"
	case DiscoveryCommandResponse:
		return "DISCOVERY_COMMAND_RESPONSE"
	case GetCommand:
		return "GET_COMMAND"
	case GetCommandResponse:
		return "GET_COMMAND_RESPONSE"
	case SetCommand:
		return "SET_COMMAND"
	case SetCommandResponse:
		return "SET_COMMAND_RESPONSE"
	default:
		return fmt.Sprintf("CC(0x%02x)", byte(cc))
	}
}

// Parameter IDs
const (
	PIDDiscUniqueBranch     uint16 = 0x0001
	PIDDiscMute             uint16 = 0x0002
	PIDDiscUnMute           uint16 = 0x0003
	PIDSupportedParameters  uint16 = 0x0050
	PIDDeviceInfo           uint16 = 0x0060
	PIDDeviceLabel          uint16 = 0x0082
	PIDIdentifyDevice       uint16 = 0x1000
	PIDManufacturerLabel    uint16 = 0x0081
	PIDSoftwareVersionLabel uint16 = 0x00C0
)

// Response types, carried in the shared port id / response type slot.
const (
	ResponseTypeAck         = 0x00
	ResponseTypeAckTimer    = 0x01
	ResponseTypeNackReason  = 0x02
	ResponseTypeAckOverflow = 0x03
)

// NACK reason codes
const (
	NackUnknownPID            uint16 = 0x0000
	NackFormatError           uint16 = 0x0001
	NackUnsupportedCommandCls uint16 = 0x0005
	NackDataOutOfRange        uint16 = 0x0006
)

// Discovery mute control field flags.
const (
	ControlManagedProxy  uint16 = 1 << 0
	ControlSubDevice     uint16 = 1 << 1
	ControlBootLoader    uint16 = 1 << 2
	ControlProxiedDevice uint16 = 1 << 3
)

// Timing
const (
	// DirectionDelay is the transceiver settling time around a direction change.
	DirectionDelay = 4 * time.Microsecond
	// ReceiveTimeout bounds the wait for a discovery response.
	ReceiveTimeout = 2800 * time.Microsecond
)
