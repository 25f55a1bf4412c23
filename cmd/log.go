// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
)

var (
	logSamples []string
	logCount   int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Stream live readings as text",
	Long: `Poll the ECU and print one line of readings per completed polling pass.
Other engine events are printed as comment lines starting with '#'.

--sample restricts polling to the named samples (repeatable or comma
separated); otherwise the configured schedule is used. With --redis-url every
pass and event is also published to Redis.`,
	RunE: runLog,
}

func init() {
	logCmd.Flags().StringSliceVar(&logSamples, "sample", nil, "Only poll these samples (e.g. engine_speed,throttle)")
	logCmd.Flags().IntVarP(&logCount, "count", "n", 0, "Exit after this many lines (0 runs until Ctrl-C)")
	addPublishFlags(logCmd)
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	log, closeLog, err := newLogger(os.Stderr, "warn")
	if err != nil {
		return err
	}
	defer closeLog()

	sched, err := fileConfig.Schedule()
	if err != nil {
		return err
	}
	if len(logSamples) > 0 {
		var samples []ecu.SampleType
		for _, name := range logSamples {
			st, err := ecu.ParseSampleType(strings.TrimSpace(name))
			if err != nil {
				return err
			}
			samples = append(samples, st)
		}
		only := engine.OnlySchedule(samples...)
		only.LambdaTrim = sched.LambdaTrim
		sched = only
	}

	adapter, device, info, err := openAdapter(log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan engine.Event, 256)
	notifiers := engine.MultiNotifier{engine.NotifierFunc(func(ev engine.Event) {
		if ev.Kind == engine.ReadSuccess {
			return
		}
		select {
		case events <- ev:
		default:
		}
	})}

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

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(runCtx) }()
	if fw != nil {
		go func() { _ = fw.Run(runCtx) }()
	}

	fmt.Fprintf(os.Stderr, "cuxstat - Live Log (%s)\n", info)
	eng.Start()
	err = streamReadings(ctx, os.Stdout, eng, events, logCount)

	eng.RequestShutdown()
	<-runDone
	return err
}

// streamReadings prints readings and events until ctx is done, the link
// fails, or count lines have been written
func streamReadings(ctx context.Context, w io.Writer, eng *engine.Engine, events <-chan engine.Event, count int) error {
	lines := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case engine.DataReady:
				fmt.Fprintln(w, formatReadings(eng.Snapshot()))
				lines++
				if count > 0 && lines >= count {
					return nil
				}
			case engine.FailedToConnect:
				return ev.Err
			case engine.Disconnected:
				fmt.Fprintf(w, "# %s\n", ev)
				return errLinkLost
			default:
				fmt.Fprintf(w, "# %s\n", ev)
			}
		}
	}
}

// formatReadings renders a snapshot as "time counter key=value ..." with
// keys sorted
func formatReadings(snap *engine.Snapshot) string {
	values := snap.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d", snap.Time.Format(time.TimeOnly+".000"), snap.Counter)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, formatValue(values[k]))
	}
	return sb.String()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return fmt.Sprintf("%.3f", v)
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = fmt.Sprint(n)
		}
		return strings.Join(parts, "/")
	default:
		return fmt.Sprint(v)
	}
}
