// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package shell provides an ishell backed console for a running gateway.
package shell

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
)

const shellKey = "$shell"

// Errors reported for non-OK response statuses.
var (
	ErrTimeout = errors.New("no response")
	ErrBusy    = errors.New("port busy")
	ErrNoRoute = errors.New("no such port")
	ErrFailed  = errors.New("request failed")
)

// Caller sends one request to a gateway.
type Caller interface {
	Call(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Local calls a gateway in the same process.
type Local transport.RequestHandler

func (l Local) Call(ctx context.Context, req transport.Request) (transport.Response, error) {
	return l(ctx, req), nil
}

// Shell talks to one port of a gateway at a time.
type Shell struct {
	Shell   *ishell.Shell
	Caller  Caller
	Port    byte
	Timeout time.Duration
}

// New creates a new shell.
func New(caller Caller) *Shell {
	s := &Shell{
		Shell:   ishell.New(),
		Caller:  caller,
		Timeout: 30 * time.Second,
	}
	s.Shell.Set(shellKey, s)
	s.updatePrompt()
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Run processes args as one command, or starts the interactive shell.
func (s *Shell) Run(args ...string) error {
	s.updatePrompt()
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	s.Shell.Run()
	return nil
}

func (s *Shell) updatePrompt() {
	s.Shell.SetPrompt(fmt.Sprintf("[port %d] > ", s.Port))
}

func (s *Shell) call(function byte, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	resp, err := s.Caller.Call(ctx, transport.Request{Function: function, Port: s.Port, Data: data})
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case transport.StatusOK:
		return resp.Data, nil
	case transport.StatusTimeout:
		return nil, ErrTimeout
	case transport.StatusBusy:
		return nil, ErrBusy
	case transport.StatusNoRoute:
		return nil, ErrNoRoute
	default:
		return nil, ErrFailed
	}
}

// Discover runs a full or incremental discovery and returns the table.
func (s *Shell) Discover(full bool) ([]rdm.UID, error) {
	function := transport.FuncIncremental
	if full {
		function = transport.FuncFull
	}
	data, err := s.call(function, nil)
	if err != nil {
		return nil, err
	}
	return unpackUIDs(data)
}

// TOD reads the table of devices without touching the line.
func (s *Shell) TOD() ([]rdm.UID, error) {
	data, err := s.call(transport.FuncReadTOD, nil)
	if err != nil {
		return nil, err
	}
	return unpackUIDs(data)
}

// QuickFind re-verifies one device.
func (s *Shell) QuickFind(uid rdm.UID) (bool, error) {
	data, err := s.call(transport.FuncQuickFind, uid[:])
	if err != nil {
		return false, err
	}
	return len(data) > 0 && data[0] == 1, nil
}

// Transact sends a GET or SET command. Broadcasts return a nil response.
func (s *Shell) Transact(cc rdm.CommandClass, uid rdm.UID, pid uint16, pd []byte) (*rdm.Message, error) {
	m, err := rdm.BuildCommand(cc, pid, pd, rdm.UID{}, uid, 0)
	if err != nil {
		return nil, err
	}
	raw, err := m.Encode()
	if err != nil {
		return nil, err
	}
	data, err := s.call(transport.FuncTransact, raw)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	return rdm.Decode(data)
}

func unpackUIDs(data []byte) ([]rdm.UID, error) {
	if len(data)%rdm.UIDSize != 0 {
		return nil, fmt.Errorf("table length %d is not a multiple of %d", len(data), rdm.UIDSize)
	}
	uids := make([]rdm.UID, 0, len(data)/rdm.UIDSize)
	for i := 0; i < len(data); i += rdm.UIDSize {
		uid, _ := rdm.UIDFromBytes(data[i:])
		uids = append(uids, uid)
	}
	return uids, nil
}

// FormatResponse prints a GET/SET response for display.
func FormatResponse(m *rdm.Message) string {
	switch m.ResponseType() {
	case rdm.ResponseTypeAck:
	case rdm.ResponseTypeNackReason:
		if len(m.ParamData) >= 2 {
			return fmt.Sprintf("NACK reason 0x%02x%02x", m.ParamData[0], m.ParamData[1])
		}
		return "NACK"
	default:
		return fmt.Sprintf("response type 0x%02x", m.ResponseType())
	}
	if len(m.ParamData) == 0 {
		return "OK"
	}
	if printable(m.ParamData) {
		return strconv.Quote(string(m.ParamData))
	}
	return hex.EncodeToString(m.ParamData)
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

func parsePID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid PID %q: %w", s, err)
	}
	return uint16(v), nil
}

func printUIDs(c *ishell.Context, uids []rdm.UID) {
	if len(uids) == 0 {
		c.Println("No devices")
		return
	}
	for i, u := range uids {
		c.Printf("%3d  %s\n", i, u)
	}
}

var (
	commands = []*ishell.Cmd{
		&PortCmd,
		&DiscoverCmd,
		&IncrementalCmd,
		&TODCmd,
		&QuickFindCmd,
		&GetCmd,
		&LabelCmd,
		&IdentifyCmd,
	}

	// PortCmd selects the port further commands go to.
	PortCmd = ishell.Cmd{
		Name: "port",
		Help: "[INDEX]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) == 0 {
				c.Println(s.Port)
				return
			}
			v, err := strconv.ParseUint(c.Args[0], 10, 8)
			if err != nil {
				c.Err(fmt.Errorf("invalid port: %v", err))
				return
			}
			s.Port = byte(v)
			s.updatePrompt()
		},
	}

	// DiscoverCmd runs a full discovery.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"full", "d"},
		Func: func(c *ishell.Context) {
			uids, err := ShellFrom(c).Discover(true)
			if err != nil {
				c.Err(err)
				return
			}
			printUIDs(c, uids)
		},
	}

	// IncrementalCmd runs an incremental discovery.
	IncrementalCmd = ishell.Cmd{
		Name:    "incremental",
		Aliases: []string{"inc"},
		Func: func(c *ishell.Context) {
			uids, err := ShellFrom(c).Discover(false)
			if err != nil {
				c.Err(err)
				return
			}
			printUIDs(c, uids)
		},
	}

	// TODCmd prints the table of devices.
	TODCmd = ishell.Cmd{
		Name:    "tod",
		Aliases: []string{"ls"},
		Func: func(c *ishell.Context) {
			uids, err := ShellFrom(c).TOD()
			if err != nil {
				c.Err(err)
				return
			}
			printUIDs(c, uids)
		},
	}

	// QuickFindCmd re-verifies one device.
	QuickFindCmd = ishell.Cmd{
		Name:    "quickfind",
		Aliases: []string{"qf"},
		Help:    "UID",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("UID required"))
				return
			}
			uid, err := rdm.ParseUID(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			present, err := ShellFrom(c).QuickFind(uid)
			if err != nil {
				c.Err(err)
				return
			}
			if present {
				c.Println(uid, "present")
			} else {
				c.Println(uid, "gone")
			}
		},
	}

	// GetCmd sends a GET command.
	GetCmd = ishell.Cmd{
		Name: "get",
		Help: "UID PID [DATA(hex)]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("UID and PID required"))
				return
			}
			uid, err := rdm.ParseUID(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			pid, err := parsePID(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			var pd []byte
			if len(c.Args) > 2 {
				if pd, err = hex.DecodeString(c.Args[2]); err != nil {
					c.Err(fmt.Errorf("invalid DATA: %v", err))
					return
				}
			}
			resp, err := ShellFrom(c).Transact(rdm.GetCommand, uid, pid, pd)
			if err != nil {
				c.Err(err)
				return
			}
			if resp == nil {
				c.Println("OK")
				return
			}
			c.Println(FormatResponse(resp))
		},
	}

	// LabelCmd reads or sets DEVICE_LABEL.
	LabelCmd = ishell.Cmd{
		Name: "label",
		Help: "UID [TEXT]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("UID required"))
				return
			}
			uid, err := rdm.ParseUID(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			cc, pd := rdm.GetCommand, []byte(nil)
			if len(c.Args) > 1 {
				cc, pd = rdm.SetCommand, []byte(strings.Join(c.Args[1:], " "))
			}
			resp, err := ShellFrom(c).Transact(cc, uid, rdm.PIDDeviceLabel, pd)
			if err != nil {
				c.Err(err)
				return
			}
			if resp == nil {
				c.Println("OK")
				return
			}
			c.Println(FormatResponse(resp))
		},
	}

	// IdentifyCmd switches IDENTIFY_DEVICE.
	IdentifyCmd = ishell.Cmd{
		Name: "identify",
		Help: "UID on|off",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("UID and on|off required"))
				return
			}
			uid, err := rdm.ParseUID(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			var on byte
			switch c.Args[1] {
			case "on":
				on = 1
			case "off":
			default:
				c.Err(fmt.Errorf("expected on or off, got %q", c.Args[1]))
				return
			}
			resp, err := ShellFrom(c).Transact(rdm.SetCommand, uid, rdm.PIDIdentifyDevice, []byte{on})
			if err != nil {
				c.Err(err)
				return
			}
			if resp == nil {
				c.Println("OK")
				return
			}
			c.Println(FormatResponse(resp))
		},
	}
)
