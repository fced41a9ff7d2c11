// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize = 6
	// largest length the 16 bit length field carries
	maxPayload = 0xFFFF
)

// ApplicationDataUnit is the envelope of one upstream request or response.
//
//	Transaction ID : 2 bytes, echoed in the response
//	Code           : 1 byte, function code in requests, status in responses
//	Port           : 1 byte, controller port index
//	Length         : 2 bytes, payload length
//	Payload        : Length bytes
type ApplicationDataUnit struct {
	TransactionID uint16
	Code          byte
	Port          byte
	Payload       []byte
}

// parseHeader returns the payload length announced by a header.
func parseHeader(h []byte) (adu *ApplicationDataUnit, length int, err error) {
	if len(h) < headerSize {
		err = fmt.Errorf("tcp: header length '%v' does not meet minimum '%v'", len(h), headerSize)
		return
	}
	length = int(binary.BigEndian.Uint16(h[4:]))
	if length > maxPayload {
		err = fmt.Errorf("tcp: payload length '%v' must not be bigger than '%v'", length, maxPayload)
		return
	}
	adu = &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(h[0:]),
		Code:          h[2],
		Port:          h[3],
	}
	return
}

// Decode parses a complete envelope.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	adu, length, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if len(raw) != headerSize+length {
		return nil, fmt.Errorf("tcp: envelope length '%v' does not match header '%v'", len(raw), headerSize+length)
	}
	adu.Payload = raw[headerSize:]
	return adu, nil
}

func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	if len(adu.Payload) > maxPayload {
		err = fmt.Errorf("tcp: payload length '%v' must not be bigger than '%v'", len(adu.Payload), maxPayload)
		return
	}
	raw = make([]byte, headerSize+len(adu.Payload))
	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	raw[2] = adu.Code
	raw[3] = adu.Port
	binary.BigEndian.PutUint16(raw[4:], uint16(len(adu.Payload)))
	copy(raw[headerSize:], adu.Payload)
	return
}

func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if resp.TransactionID != req.TransactionID {
		err = fmt.Errorf("tcp: response transaction id '%v' does not match request '%v'", resp.TransactionID, req.TransactionID)
		return
	}
	if resp.Port != req.Port {
		err = fmt.Errorf("tcp: response port '%v' does not match request '%v'", resp.Port, req.Port)
	}
	return
}
