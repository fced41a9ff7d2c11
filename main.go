// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/rdm-controller/internal/config"
	"github.com/ffutop/rdm-controller/internal/controller"
	"github.com/ffutop/rdm-controller/internal/gateway"
	"github.com/ffutop/rdm-controller/internal/identity"
	"github.com/ffutop/rdm-controller/internal/link"
	"github.com/ffutop/rdm-controller/internal/publish"
	"github.com/ffutop/rdm-controller/internal/responder"
	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/internal/tod/persistence"
	"github.com/ffutop/rdm-controller/rdm"
	"github.com/ffutop/rdm-controller/transport"
	"github.com/ffutop/rdm-controller/transport/sim"
	"github.com/ffutop/rdm-controller/transport/tcp"
	"github.com/ffutop/rdm-controller/transport/widget"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Configuration file path.")
	logLevel := pflag.StringP("log-level", "v", "", "Log verbosity level (debug, info, warn, error).")
	discoverNow := pflag.Bool("discover-now", false, "Run a full discovery on every port at start.")
	pflag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	setupLogger(cfg.Log)

	slog.Info("Starting RDM controller...")

	source, err := identity.ControllerUID(cfg.Controller)
	if err != nil {
		slog.Error("Failed to determine controller UID", "err", err)
		os.Exit(1)
	}
	slog.Info("Controller UID", "uid", source)

	var notifier controller.Notifier
	if cfg.MQTT.Broker != "" {
		p, client, err := publish.Connect(cfg.MQTT)
		if err != nil {
			slog.Error("Failed to connect MQTT broker", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			defer client.Disconnect(250)
			notifier = p
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create Ports
	var (
		ports       []gateway.Port
		controllers []*controller.Controller
		buses       []transport.Bus
		stores      []persistence.Storage
	)
	for _, pc := range cfg.Ports {
		bus, err := newBus(pc)
		if err != nil {
			slog.Error("Failed to create port", "port", pc.Name, "err", err)
			continue
		}
		if err := bus.Connect(ctx); err != nil {
			// the widget reconnects on the next send
			slog.Error("Failed to connect port", "port", pc.Name, "err", err)
		}
		buses = append(buses, bus)

		store, err := persistence.New(pc.Persistence)
		if err != nil {
			slog.Error("Failed to create table storage", "port", pc.Name, "err", err)
			continue
		}
		stores = append(stores, store)

		// the gateway routes to this controller by len(ports)
		l := link.New(bus, source, link.PortIDForIndex(len(ports)))
		l.DirectionDelay = pc.Timing.DirectionDelay

		opts := []controller.Option{
			controller.WithStorage(store),
			controller.WithSettleDelay(pc.Timing.SettleDelay),
			controller.WithReceiveTimeout(pc.Timing.ReceiveTimeout),
			controller.WithRetries(pc.Retries.Mute, pc.Retries.Branch),
			controller.WithPollInterval(pc.PollInterval),
			controller.WithDiscoverOnStart(pc.DiscoverOnStart || *discoverNow),
		}
		if notifier != nil {
			opts = append(opts, controller.WithNotifier(notifier))
		}
		c := controller.New(pc.Name, l, tod.New(pc.TOD.Capacity), opts...)
		controllers = append(controllers, c)
		ports = append(ports, c)
		slog.Info("Port ready", "port", pc.Name, "type", pc.Type, "index", len(ports)-1)
	}

	if len(controllers) == 0 {
		slog.Error("No valid ports configured. Exiting.")
		os.Exit(1)
	}

	// Create Upstreams
	var upstreams []transport.Upstream
	for _, usCfg := range cfg.Gateway.Upstreams {
		switch usCfg.Type {
		case "tcp":
			upstreams = append(upstreams, tcp.NewServer(usCfg.Tcp.Address))
		default:
			slog.Error("Unknown upstream type", "type", usCfg.Type, "gateway", cfg.Gateway.Name)
		}
	}
	gw := gateway.NewGateway(cfg.Gateway.Name, upstreams, ports)

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *controller.Controller) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				slog.Error("Controller stopped with error", "port", c.Name, "err", err)
			}
		}(c)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gw.Start(ctx); err != nil {
			slog.Error("Gateway stopped with error", "name", gw.Name, "err", err)
		}
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	for _, s := range stores {
		s.Close()
	}
	for _, b := range buses {
		b.Close()
	}
	slog.Info("Goodbye.")
}

func newBus(pc config.PortConfig) (transport.Bus, error) {
	switch pc.Type {
	case "widget":
		return widget.NewBus(pc.Serial), nil
	case "widget-tcp":
		if pc.Tcp.Address == "" {
			return nil, fmt.Errorf("port %s has no tcp address", pc.Name)
		}
		return widget.NewTCPBus(pc.Tcp.Address, pc.Serial), nil
	case "sim":
		bus := sim.New()
		for _, rc := range pc.Responders {
			uid, err := rdm.ParseUID(rc.UID)
			if err != nil {
				return nil, err
			}
			bus.Attach(responder.New(uid, rc.Label))
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown port type %q", pc.Type)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
