// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/logging"
	"github.com/Thermoquad/cuxstat/pkg/publish"
)

const (
	// simulatorPace keeps the simulated source from spinning when no
	// --pace is given
	simulatorPace = 20 * time.Millisecond

	// requestPace paces one-shot commands, which poll nothing
	requestPace = 20 * time.Millisecond
)

var (
	// Publish flags (monitor, log)
	redisURL     string
	redisChannel string
)

// addPublishFlags registers the Redis publisher flags on cmd
func addPublishFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Publish readings and events to this Redis server")
	cmd.Flags().StringVar(&redisChannel, "redis-channel", "", "Redis pub/sub channel (default "+publish.DefaultChannel+")")
}

// newLogger opens the logger for a command. Logs go to --log-file when set,
// otherwise to fallback. level is used when neither --log-level nor the
// config file names one.
func newLogger(fallback io.Writer, level string) (*logging.Logger, func(), error) {
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	w := fallback
	closeFile := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		w = f
		closeFile = func() { _ = f.Close() }
	}

	log := logging.New(w, lvl)
	return log, func() {
		_ = log.Sync()
		closeFile()
	}, nil
}

// enginePace returns the iteration pacing for the selected source
func enginePace() time.Duration {
	if pace == 0 && simulate {
		return simulatorPace
	}
	return pace
}

// newForwarder builds the Redis forwarder from the publish flags and the
// config file, or returns nil when no Redis URL is configured
func newForwarder(snapshot func() *engine.Snapshot, log *logging.Logger) (*publish.Forwarder, func(), error) {
	pc := fileConfig.Publish
	cfg := publish.Config{
		URL:     pc.RedisURL,
		Channel: pc.Channel,
		Timeout: pc.Timeout.Duration,
		Retries: publish.DefaultRetries,
	}
	if pc.Retries != nil {
		cfg.Retries = *pc.Retries
	}
	if redisURL != "" {
		cfg.URL = redisURL
	}
	if redisChannel != "" {
		cfg.Channel = redisChannel
	}
	if cfg.URL == "" {
		return nil, func() {}, nil
	}

	pub, err := publish.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return publish.NewForwarder(pub, snapshot, log), func() { _ = pub.Close() }, nil
}

//////////////////////////////////////////////////////////////
// One-shot requests
//////////////////////////////////////////////////////////////

// request is a single queued engine request and the events that end it
type request struct {
	kind engine.RequestKind
	arg  int
	// ends reports whether ev is the request's result
	ends func(ev engine.Event) bool
}

// errLinkLost is returned when the link drops before a request completes
var errLinkLost = errors.New("link lost")

// runRequest connects, queues req, and waits for its result. Cancelling
// ctx aborts an in-flight long read and returns ecu.ErrCancelled.
// onEvent, when set, sees every event.
func runRequest(ctx context.Context, req request, onEvent func(engine.Event)) (*engine.Snapshot, engine.Event, error) {
	log, closeLog, err := newLogger(os.Stderr, "warn")
	if err != nil {
		return nil, engine.Event{}, err
	}
	defer closeLog()

	adapter, device, _, err := openAdapter(log)
	if err != nil {
		return nil, engine.Event{}, err
	}

	events := make(chan engine.Event, 64)
	eng := engine.New(adapter, engine.Config{
		Device:   device,
		Schedule: engine.OnlySchedule(),
		Notifier: engine.NotifierFunc(func(ev engine.Event) {
			select {
			case events <- ev:
			default:
			}
		}),
		Logger: log,
		Pace:   requestPace,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(runCtx) }()
	defer func() {
		eng.RequestShutdown()
		<-runDone
	}()

	eng.Start()
	interrupt := ctx.Done()
	interrupted := false
	var poll <-chan time.Time
	for {
		select {
		case <-interrupt:
			interrupt = nil
			interrupted = true
			if eng.PendingRequests() > 0 {
				return nil, engine.Event{}, context.Canceled
			}
			eng.CancelRead()
			// Cancelled reads produce no result event
			poll = time.Tick(50 * time.Millisecond)
		case <-poll:
			if eng.Snapshot().Stats.CancelledRequests > 0 {
				return nil, engine.Event{}, ecu.ErrCancelled
			}
		case ev := <-events:
			if onEvent != nil {
				onEvent(ev)
			}
			switch {
			case req.ends(ev):
				return eng.Snapshot(), ev, nil
			case ev.Kind == engine.FailedToConnect:
				return nil, ev, ev.Err
			case ev.Kind == engine.Connected:
				if interrupted {
					return nil, ev, context.Canceled
				}
				eng.Enqueue(req.kind, req.arg)
			case ev.Kind == engine.Disconnected, ev.Kind == engine.NotConnected:
				return nil, ev, errLinkLost
			}
		}
	}
}

// kinds returns an ends func matching any of ks
func kinds(ks ...engine.EventKind) func(engine.Event) bool {
	return func(ev engine.Event) bool {
		for _, k := range ks {
			if ev.Kind == k {
				return true
			}
		}
		return false
	}
}
