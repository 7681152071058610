package main

import (
	"fmt"

	"github.com/digitalopd/opd/internal/channel"
	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/game"
	"github.com/digitalopd/opd/internal/netmon"
	"github.com/digitalopd/opd/internal/store"
	"github.com/digitalopd/opd/internal/syncer"
)

// engine bundles the process-wide singletons: one store, one monitor, one
// channel, one orchestrator. Built once per command invocation.
type engine struct {
	cfg     *config.Config
	store   *store.Store
	monitor *netmon.Prober
	channel *channel.WebSocket
	syncer  *syncer.Orchestrator
	game    *game.Controller
}

// buildEngine assembles the full stack from a config file.
func buildEngine(configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := st.SeedCases(game.DefaultCases()); err != nil {
		st.Close()
		return nil, err
	}

	monitor := netmon.NewProber(netmon.ProberOpts{
		Addr:     cfg.Network.ProbeAddr,
		Interval: cfg.Network.ProbeInterval.Std(),
		Debounce: cfg.Network.Debounce.Std(),
	})

	ch, err := channel.NewWebSocket(channel.WebSocketOpts{URL: cfg.Server.URL})
	if err != nil {
		st.Close()
		return nil, err
	}

	orc, err := syncer.New(syncer.Opts{
		Store:   st,
		Monitor: monitor,
		Channel: ch,
		Sync:    cfg.Sync,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	ctrl, err := game.New(game.Opts{
		Store:    st,
		Transmit: orc,
		UserID:   cfg.UserID,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	orc.OnEvent(ctrl.HandleEvent)

	return &engine{
		cfg:     cfg,
		store:   st,
		monitor: monitor,
		channel: ch,
		syncer:  orc,
		game:    ctrl,
	}, nil
}

// close tears the stack down in reverse dependency order.
func (e *engine) close() {
	e.channel.Close()
	e.monitor.Close()
	e.store.Close()
}
