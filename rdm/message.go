// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rdm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/rdm-controller/rdm/checksum"
)

var (
	ErrShortFrame = errors.New("rdm: frame too short")
	ErrStartCode  = errors.New("rdm: not an RDM frame")
	ErrChecksum   = errors.New("rdm: checksum mismatch")
)

// LengthError reports a message length field that disagrees with the frame.
type LengthError struct {
	Length      int
	ParamLength int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("rdm: invalid message length %d for parameter data length %d", e.Length, e.ParamLength)
}

// Message is an RDM command or response frame.
//
//	Start code          : 1 byte (0xCC)
//	Sub start code      : 1 byte (0x01)
//	Message length      : 1 byte (24 + PDL)
//	Destination UID     : 6 bytes
//	Source UID          : 6 bytes
//	Transaction number  : 1 byte
//	Port ID / Resp type : 1 byte
//	Message count       : 1 byte
//	Sub-device          : 2 bytes
//	Command class       : 1 byte
//	Parameter ID        : 2 bytes
//	PDL                 : 1 byte
//	Parameter data      : 0 up to 231 bytes
//	Checksum            : 2 bytes
type Message struct {
	Destination       UID
	Source            UID
	TransactionNumber uint8
	// Slot holds the port id on commands and the response type on responses.
	Slot         uint8
	MessageCount uint8
	SubDevice    uint16
	CommandClass CommandClass
	ParamID      uint16
	ParamData    []byte
}

// BuildCommand populates every header field of an outgoing command.
func BuildCommand(cc CommandClass, pid uint16, pd []byte, src, dst UID, tn uint8) (*Message, error) {
	if len(pd) > MaxParamLength {
		return nil, fmt.Errorf("rdm: parameter data length %d exceeds %d", len(pd), MaxParamLength)
	}
	return &Message{
		Destination:       dst,
		Source:            src,
		TransactionNumber: tn,
		Slot:              1,
		CommandClass:      cc,
		ParamID:           pid,
		ParamData:         pd,
	}, nil
}

// PortID returns the slot interpreted as a controller port id.
func (m *Message) PortID() uint8 {
	return m.Slot
}

// ResponseType returns the slot interpreted as a responder response type.
// It is only meaningful on response command classes.
func (m *Message) ResponseType() uint8 {
	return m.Slot
}

// Length returns the message length field: header plus parameter data.
func (m *Message) Length() int {
	return HeaderSize + len(m.ParamData)
}

// Encode serializes the message and appends its checksum.
func (m *Message) Encode() (raw []byte, err error) {
	if len(m.ParamData) > MaxParamLength {
		err = fmt.Errorf("rdm: parameter data length %d exceeds %d", len(m.ParamData), MaxParamLength)
		return
	}
	length := m.Length()
	raw = make([]byte, length+ChecksumSize)

	raw[offsetStartCode] = StartCode
	raw[offsetSubStartCode] = SubStartCode
	raw[offsetLength] = byte(length)
	copy(raw[offsetDestination:], m.Destination[:])
	copy(raw[offsetSource:], m.Source[:])
	raw[offsetTransaction] = m.TransactionNumber
	raw[offsetSlot] = m.Slot
	raw[offsetMessageCount] = m.MessageCount
	binary.BigEndian.PutUint16(raw[offsetSubDevice:], m.SubDevice)
	raw[offsetCommandClass] = byte(m.CommandClass)
	binary.BigEndian.PutUint16(raw[offsetParamID:], m.ParamID)
	raw[offsetParamLength] = byte(len(m.ParamData))
	copy(raw[offsetParamData:], m.ParamData)

	binary.BigEndian.PutUint16(raw[length:], ComputeChecksum(raw, length))
	return
}

// Decode parses and validates a raw RDM frame.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < HeaderSize+ChecksumSize {
		return nil, ErrShortFrame
	}
	if raw[offsetStartCode] != StartCode || raw[offsetSubStartCode] != SubStartCode {
		return nil, ErrStartCode
	}
	length := int(raw[offsetLength])
	pdl := int(raw[offsetParamLength])
	if length != HeaderSize+pdl {
		return nil, &LengthError{Length: length, ParamLength: pdl}
	}
	if len(raw) < length+ChecksumSize {
		return nil, ErrShortFrame
	}
	if !ValidateChecksum(raw) {
		return nil, ErrChecksum
	}

	m := &Message{
		TransactionNumber: raw[offsetTransaction],
		Slot:              raw[offsetSlot],
		MessageCount:      raw[offsetMessageCount],
		SubDevice:         binary.BigEndian.Uint16(raw[offsetSubDevice:]),
		CommandClass:      CommandClass(raw[offsetCommandClass]),
		ParamID:           binary.BigEndian.Uint16(raw[offsetParamID:]),
	}
	copy(m.Destination[:], raw[offsetDestination:])
	copy(m.Source[:], raw[offsetSource:])
	if pdl > 0 {
		m.ParamData = make([]byte, pdl)
		copy(m.ParamData, raw[offsetParamData:offsetParamData+pdl])
	}
	return m, nil
}

// ComputeChecksum sums buf[0:messageLength].
func ComputeChecksum(buf []byte, messageLength int) uint16 {
	if messageLength > len(buf) {
		messageLength = len(buf)
	}
	var c checksum.Checksum
	return c.Reset().PushBytes(buf[:messageLength]).Value()
}

// ValidateChecksum recomputes the checksum over the message length
// announced in buf and compares it with the two trailing bytes.
func ValidateChecksum(buf []byte) bool {
	if len(buf) < HeaderSize+ChecksumSize {
		return false
	}
	length := int(buf[offsetLength])
	if length < HeaderSize || len(buf) < length+ChecksumSize {
		return false
	}
	return binary.BigEndian.Uint16(buf[length:]) == ComputeChecksum(buf, length)
}

// IsRDM reports whether raw starts with the RDM start codes.
func IsRDM(raw []byte) bool {
	return len(raw) >= 2 && raw[offsetStartCode] == StartCode && raw[offsetSubStartCode] == SubStartCode
}

// ControlField returns the control field of a mute or un-mute response.
func (m *Message) ControlField() (uint16, bool) {
	if len(m.ParamData) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(m.ParamData), true
}

// IsDiscoveryResponse reports whether m answers the given discovery PID.
func (m *Message) IsDiscoveryResponse(pid uint16) bool {
	return m.CommandClass == DiscoveryCommandResponse && m.ParamID == pid
}

// Response builds the acknowledgement skeleton for a command received by src.
func (m *Message) Response(src UID, responseType uint8, pd []byte) *Message {
	return &Message{
		Destination:       m.Source,
		Source:            src,
		TransactionNumber: m.TransactionNumber,
		Slot:              responseType,
		SubDevice:         m.SubDevice,
		CommandClass:      m.CommandClass + 1,
		ParamID:           m.ParamID,
		ParamData:         pd,
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("%s -> %s %s, sub-dev: %d, tn: %d, PID 0x%04x, pdl: %d",
		m.Source, m.Destination, m.CommandClass, m.SubDevice, m.TransactionNumber, m.ParamID, len(m.ParamData))
}
