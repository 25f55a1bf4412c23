// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/logging"
)

// forwarderBuffer bounds the events waiting to be published
const forwarderBuffer = 256

// Forwarder is an engine.Notifier that publishes events off the engine
// goroutine. DataReady publishes the latest snapshot; ReadSuccess is not
// forwarded. Events arriving while the buffer is full are dropped.
type Forwarder struct {
	pub      *Publisher
	snapshot func() *engine.Snapshot
	log      *logging.Logger
	ch       chan engine.Event
	dropped  atomic.Uint64
}

// NewForwarder creates a forwarder; snapshot supplies the readings to
// publish on DataReady
func NewForwarder(pub *Publisher, snapshot func() *engine.Snapshot, log *logging.Logger) *Forwarder {
	return &Forwarder{
		pub:      pub,
		snapshot: snapshot,
		log:      log.Named("publish"),
		ch:       make(chan engine.Event, forwarderBuffer),
	}
}

func (f *Forwarder) Notify(ev engine.Event) {
	if ev.Kind == engine.ReadSuccess {
		return
	}
	select {
	case f.ch <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full buffer
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Run publishes queued events until ctx is done
func (f *Forwarder) Run(ctx context.Context) error {
	f.log.Info("publishing", zap.String("channel", f.pub.Channel()))
	for {
		select {
		case <-ctx.Done():
			if n := f.Dropped(); n > 0 {
				f.log.Warn("events dropped", zap.Uint64("count", n))
			}
			return nil
		case ev := <-f.ch:
			var err error
			if ev.Kind == engine.DataReady {
				err = f.pub.PublishSnapshot(ctx, f.snapshot())
			} else {
				err = f.pub.PublishEvent(ctx, ev, time.Now())
			}
			if err != nil && ctx.Err() == nil {
				f.log.Warn("publish failed", zap.Stringer("event", ev), zap.Error(err))
			}
		}
	}
}
