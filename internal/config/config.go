// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Controller ControllerConfig `mapstructure:"controller"`
	Ports      []PortConfig     `mapstructure:"ports"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// ControllerConfig identifies this controller on the RDM bus.
type ControllerConfig struct {
	UID            string `mapstructure:"uid"`             // "7ff0:00000001"; derived from the host when empty
	ManufacturerID uint16 `mapstructure:"manufacturer_id"` // used when UID is derived
}

// PortConfig defines one DMX512/RDM port driven by its own controller.
type PortConfig struct {
	Name            string            `mapstructure:"name"`
	Type            string            `mapstructure:"type"` // "widget", "widget-tcp", "sim"
	Serial          SerialConfig      `mapstructure:"serial"`
	Tcp             TcpConfig         `mapstructure:"tcp"` // Used if Type is "widget-tcp"
	Timing          TimingConfig      `mapstructure:"timing"`
	TOD             TODConfig         `mapstructure:"tod"`
	Persistence     PersistenceConfig `mapstructure:"persistence"`
	Retries         RetryConfig       `mapstructure:"retries"`
	DiscoverOnStart bool              `mapstructure:"discover_on_start"`
	PollInterval    time.Duration     `mapstructure:"poll_interval"` // 0 disables incremental discovery
	Responders      []ResponderConfig `mapstructure:"responders"`    // Used if Type is "sim"
}

// TimingConfig defines the bus timing of a port.
type TimingConfig struct {
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"` // wait for a discovery response
	DirectionDelay time.Duration `mapstructure:"direction_delay"` // transceiver settling time
	SettleDelay    time.Duration `mapstructure:"settle_delay"`    // pause after each broadcast un-mute round
}

// TODConfig defines the table of devices.
type TODConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// RetryConfig defines resends on silence. Zero keeps single-shot discovery.
type RetryConfig struct {
	Mute   int `mapstructure:"mute"`
	Branch int `mapstructure:"branch"`
}

// ResponderConfig defines a simulated responder.
type ResponderConfig struct {
	UID   string `mapstructure:"uid"`
	Label string `mapstructure:"label"`
}

// PersistenceConfig defines TOD storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// GatewayConfig defines the network gateway in front of the ports.
type GatewayConfig struct {
	Name      string           `mapstructure:"name"`
	Upstreams []UpstreamConfig `mapstructure:"upstreams"`
}

// UpstreamConfig defines a client connecting to the gateway
type UpstreamConfig struct {
	Type string    `mapstructure:"type"` // "tcp"
	Tcp  TcpConfig `mapstructure:"tcp"`
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:5568"
}

// MQTTConfig defines where TOD changes are published.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"` // empty disables publishing
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// SerialConfig defines widget serial line settings
type SerialConfig struct {
	Device          string        `mapstructure:"device"`
	BaudRate        int           `mapstructure:"baud_rate"`
	DataBits        int           `mapstructure:"data_bits"`
	Parity          string        `mapstructure:"parity"`
	StopBits        int           `mapstructure:"stop_bits"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"` // minimum wait for a widget reply
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rdmctl/")
		v.AddConfigPath("$HOME/.rdmctl")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("controller.manufacturer_id", 0x7FF0)
	v.SetDefault("mqtt.client_id", "rdm-controller")
	v.SetDefault("mqtt.topic_prefix", "rdm")
	v.SetDefault("mqtt.retained", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("failed to found config file: %w", err)
		}

		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	for i := range config.Ports {
		p := &config.Ports[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("port%d", i)
		}
		p.Type = strings.ToLower(p.Type)
		if p.Type == "" {
			p.Type = "widget"
		}
		fixupSerial(&p.Serial)
		fixupTiming(&p.Timing)
		if p.TOD.Capacity <= 0 {
			p.TOD.Capacity = DefaultTODCapacity
		}
		if p.TOD.Capacity > 0xFFFF {
			return nil, fmt.Errorf("port %s: tod capacity %d must not be bigger than %d", p.Name, p.TOD.Capacity, 0xFFFF)
		}
		if p.TOD.Capacity > MaxTODCapacity {
			slog.Warn("config: clamping tod capacity", "port", p.Name, "capacity", p.TOD.Capacity, "max", MaxTODCapacity)
			p.TOD.Capacity = MaxTODCapacity
		}
		if p.Persistence.Type == "" {
			p.Persistence.Type = "memory"
		}
	}

	return &config, nil
}

// DefaultTODCapacity is the table size used when a port does not set one.
const DefaultTODCapacity = 200

// MaxTODCapacity is the largest table whose packed UIDs fit one upstream
// envelope, whose length field is 16 bits wide.
const MaxTODCapacity = 0xFFFF / 6

// DefaultTiming returns the bus timing of a real DMX512 port.
func DefaultTiming() TimingConfig {
	var t TimingConfig
	fixupTiming(&t)
	return t
}

func fixupTiming(t *TimingConfig) {
	if t.ReceiveTimeout == 0 {
		t.ReceiveTimeout = 2800 * time.Microsecond
	}
	if t.DirectionDelay == 0 {
		t.DirectionDelay = 4 * time.Microsecond
	}
	if t.SettleDelay == 0 {
		t.SettleDelay = 100 * time.Millisecond
	}
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 115200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 50 * time.Millisecond
	}
	if s.ResponseTimeout == 0 {
		s.ResponseTimeout = 100 * time.Millisecond
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 60 * time.Second
	}
}
