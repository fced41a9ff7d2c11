// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package widget

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/rdm-controller/transport"
)

// Envelope delimiters
const (
	StartOfMessage = 0x7E
	EndOfMessage   = 0xE7

	MaxPayload = 600
)

// Message labels
const (
	LabelReceivedPacket   = 5
	LabelSendDMX          = 6
	LabelSendRDM          = 7
	LabelSendRDMDiscovery = 11
	LabelRDMTimeout       = 12
)

const (
	stateStart = 1 << iota
	stateLabel
	stateLengthLSB
	stateLengthMSB
	statePayload
	stateEnd
)

// InvalidLengthError reports a payload length beyond MaxPayload.
type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("widget: invalid payload length %d", e.Length)
}

// Packet is one widget message.
type Packet struct {
	Label byte
	Data  []byte
}

// Encode wraps the packet in the widget envelope:
//
//	0x7E | label | length LSB | length MSB | data | 0xE7
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Data) > MaxPayload {
		return nil, &InvalidLengthError{Length: len(p.Data)}
	}
	raw := make([]byte, 0, len(p.Data)+5)
	raw = append(raw, StartOfMessage, p.Label, byte(len(p.Data)), byte(len(p.Data)>>8))
	raw = append(raw, p.Data...)
	raw = append(raw, EndOfMessage)
	return raw, nil
}

// timeoutError is implemented by serial and network read timeouts.
type timeoutError interface {
	Timeout() bool
}

// ReadPacket reads one envelope incrementally from r, skipping any noise
// before the start delimiter. It returns transport.ErrTimeout when the
// deadline passes or the reader runs dry first.
func ReadPacket(r io.Reader, deadline time.Time) (*Packet, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	p := &Packet{}

	state := stateStart
	var length, n int

	for {
		if time.Now().After(deadline) {
			return nil, transport.ErrTimeout
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			var te timeoutError
			if errors.Is(err, io.EOF) || (errors.As(err, &te) && te.Timeout()) || time.Now().After(deadline) {
				return nil, transport.ErrTimeout
			}
			return nil, err
		}

		switch state {
		case stateStart:
			if buf[0] == StartOfMessage {
				state = stateLabel
			}
		case stateLabel:
			p.Label = buf[0]
			state = stateLengthLSB
		case stateLengthLSB:
			length = int(buf[0])
			state = stateLengthMSB
		case stateLengthMSB:
			length |= int(buf[0]) << 8
			if length > MaxPayload {
				return nil, &InvalidLengthError{Length: length}
			}
			p.Data = make([]byte, length)
			n = 0
			if length == 0 {
				state = stateEnd
			} else {
				state = statePayload
			}
		case statePayload:
			p.Data[n] = buf[0]
			n++
			if n == length {
				state = stateEnd
			}
		case stateEnd:
			if buf[0] != EndOfMessage {
				// lost sync, hunt for the next start delimiter
				state = stateStart
				continue
			}
			return p, nil
		}
	}
}
