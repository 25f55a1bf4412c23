// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/highlight"
)

var (
	highlightFlag string
	reconnectFlag bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive dashboard of live ECU readings",
	Long: `Monitor the ECU through an interactive terminal UI.

Features:
  - Live readings at their configured intervals
  - Fuel map grid with the active cell highlighted (soft or hard)
  - Fault codes, tune identity and RPM limit
  - Polling statistics and an event log
  - Optional reconnection with exponential backoff (--reconnect)

Keys:
  s start      d disconnect   f read faults   c clear faults
  p fuel pump  i drive IAC    m fetch map     o read ROM
  h highlight  x cancel read  q quit

Logs go to --log-file; without it they are discarded so they cannot
overwrite the screen.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&highlightFlag, "highlight", "", "Active cell highlight: soft or hard")
	monitorCmd.Flags().BoolVar(&reconnectFlag, "reconnect", false, "Reconnect automatically when the link fails")
	addPublishFlags(monitorCmd)
	rootCmd.AddCommand(monitorCmd)
}

// batchInterval is how often queued engine events are handed to the TUI
const batchInterval = 50 * time.Millisecond

// engineHost forwards engine events to the TUI in batches. Notify never
// blocks the engine. DataReady events are coalesced into one per batch;
// every other event is delivered.
type engineHost struct {
	p *tea.Program

	mu        sync.Mutex
	pending   []engine.Event
	dataReady bool
}

type engineBatchMsg struct {
	events []engine.Event
}

func newEngineHost() *engineHost {
	return &engineHost{}
}

func (h *engineHost) Notify(ev engine.Event) {
	if ev.Kind == engine.ReadSuccess {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Kind == engine.DataReady {
		h.dataReady = true
		return
	}
	h.pending = append(h.pending, ev)
}

// take removes and returns the events queued since the last call
func (h *engineHost) take() engineBatchMsg {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := engineBatchMsg{events: h.pending}
	if h.dataReady {
		batch.events = append(batch.events, engine.Event{Kind: engine.DataReady})
	}
	h.pending = nil
	h.dataReady = false
	return batch
}

// batchLoop sends queued events to the program at a fixed rate
func (h *engineHost) batchLoop(ctx context.Context) {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if batch := h.take(); len(batch.events) > 0 {
				h.p.Send(batch)
			}
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log, closeLog, err := newLogger(io.Discard, "info")
	if err != nil {
		return err
	}
	defer closeLog()

	mode := fileConfig.HighlightMode()
	if highlightFlag != "" {
		if mode, err = highlight.ParseMode(highlightFlag); err != nil {
			return err
		}
	}
	sched, err := fileConfig.Schedule()
	if err != nil {
		return err
	}

	adapter, device, info, err := openAdapter(log)
	if err != nil {
		return err
	}

	host := newEngineHost()
	notifiers := engine.MultiNotifier{host}

	var eng *engine.Engine
	fw, closePub, err := newForwarder(func() *engine.Snapshot { return eng.Snapshot() }, log)
	if err != nil {
		return err
	}
	defer closePub()
	if fw != nil {
		notifiers = append(notifiers, fw)
	}

	eng = engine.New(adapter, engine.Config{
		Device:   device,
		Schedule: sched,
		Notifier: notifiers,
		Logger:   log,
		Pace:     enginePace(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx) }()
	if fw != nil {
		go func() { _ = fw.Run(ctx) }()
	}

	m := initialMonitorModel(eng, info, mode, reconnectFlag)
	p := tea.NewProgram(m, tea.WithAltScreen())
	host.p = p
	go host.batchLoop(ctx)

	eng.Start()
	_, runErr := p.Run()

	eng.RequestShutdown()
	<-runDone
	cancel()

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
