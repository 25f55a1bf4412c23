// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine runs the ECU polling loop: connection lifecycle, the
// interval-gated read scheduler, the on-demand request queue and the
// snapshot and events the presentation side consumes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/logging"
)

// State is the connection lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StatePolling
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateShuttingDown:
		return "shutting down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Clock supplies the time used for interval gating
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config configures an Engine
type Config struct {
	// Device is passed to Adapter.Connect
	Device string

	// Schedule is the initial sampling schedule (default DefaultSchedule())
	Schedule *Schedule

	// Notifier receives events (optional)
	Notifier Notifier

	// Logger for lifecycle and read failures (optional)
	Logger *logging.Logger

	// Clock overrides the wall clock
	Clock Clock

	// Pace is the minimum time between polling iterations. Zero polls
	// back to back.
	Pace time.Duration
}

// Engine owns an ecu.Adapter and drives it from the goroutine running Run.
// Every other method is safe to call from any goroutine.
type Engine struct {
	adapter ecu.Adapter
	device  string
	notify  Notifier
	log     *logging.Logger
	clock   Clock
	pace    time.Duration

	schedule atomic.Pointer[Schedule]
	snap     atomic.Pointer[Snapshot]
	state    atomic.Int32
	queue    Queue

	startReq atomic.Bool
	stopReq  atomic.Bool
	shutdown atomic.Bool
	wake     chan struct{}

	readMu     sync.Mutex
	readCancel context.CancelFunc
	cancelled  atomic.Bool

	// Owned by the engine goroutine
	work        Snapshot
	stats       *Statistics
	buckets     []*bucket
	builtFrom   *Schedule
	counter     uint64
	linkUp      bool
	lastMapID   int
	modeKnown   bool
	lastMode    ecu.FeedbackMode
	indexChange map[int]bool
}

// New creates an engine in the Disconnected state
func New(adapter ecu.Adapter, cfg Config) *Engine {
	if cfg.Schedule == nil {
		cfg.Schedule = DefaultSchedule()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	e := &Engine{
		adapter:     adapter,
		device:      cfg.Device,
		notify:      cfg.Notifier,
		log:         cfg.Logger.Named("engine"),
		clock:       cfg.Clock,
		pace:        cfg.Pace,
		wake:        make(chan struct{}, 1),
		indexChange: make(map[int]bool),
	}
	e.stats = NewStatistics(e.clock.Now())
	e.schedule.Store(cfg.Schedule)
	e.publish()
	return e
}

// ============================================================
// Control surface
// ============================================================

// Start asks the engine to connect. While polling it only clears a pending
// stop request.
func (e *Engine) Start() {
	e.stopReq.Store(false)
	if e.State() != StatePolling {
		e.startReq.Store(true)
	}
	e.signal()
}

// Stop asks the engine to disconnect and wait for the next Start
func (e *Engine) Stop() {
	e.startReq.Store(false)
	e.stopReq.Store(true)
	e.signal()
}

// RequestShutdown makes Run disconnect and return. An in-flight long read
// is cancelled.
func (e *Engine) RequestShutdown() {
	e.shutdown.Store(true)
	e.CancelRead()
	e.signal()
}

// CancelRead aborts an in-flight ROM, battery-backed memory or fuel map read
func (e *Engine) CancelRead() {
	e.cancelled.Store(true)
	e.readMu.Lock()
	if e.readCancel != nil {
		e.readCancel()
	}
	e.readMu.Unlock()
	e.adapter.CancelRead()
}

// Enqueue queues an on-demand request. It reports false and emits
// NotConnected when the engine is not polling.
func (e *Engine) Enqueue(kind RequestKind, arg int) bool {
	if e.State() != StatePolling {
		e.send(Event{Kind: NotConnected, Request: kind})
		return false
	}
	e.queue.Push(Request{Kind: kind, Arg: arg})
	return true
}

// SetSchedule replaces the sampling schedule from the next iteration on
func (e *Engine) SetSchedule(s *Schedule) {
	if s == nil {
		return
	}
	e.schedule.Store(s)
}

// Schedule returns the schedule in effect. It must not be modified.
func (e *Engine) Schedule() *Schedule {
	return e.schedule.Load()
}

// Snapshot returns the latest published snapshot
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsConnected reports whether the engine is polling a connected adapter
func (e *Engine) IsConnected() bool {
	return e.State() == StatePolling
}

// PendingRequests returns the number of queued requests
func (e *Engine) PendingRequests() int {
	return e.queue.Len()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// ============================================================
// Worker loop
// ============================================================

// Run drives the state machine until RequestShutdown is called or ctx is
// done. It must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine running", zap.String("device", e.device))
	for !e.step(ctx) {
	}
	e.log.Info("engine stopped")
	return ctx.Err()
}

// step advances the state machine once and reports whether Run should return
func (e *Engine) step(ctx context.Context) bool {
	if ctx.Err() != nil {
		e.shutdown.Store(true)
	}

	switch e.State() {
	case StateDisconnected:
		if e.shutdown.Load() {
			e.setState(StateShuttingDown)
			return false
		}
		if e.startReq.Swap(false) {
			e.connect()
			return false
		}
		select {
		case <-e.wake:
		case <-ctx.Done():
		}
		return false

	case StatePolling:
		if e.stopReq.Load() || !e.adapter.IsConnected() {
			e.disconnect()
			return false
		}
		if e.shutdown.Load() {
			e.setState(StateShuttingDown)
			return false
		}
		e.iterate(ctx)
		e.wait(ctx)
		return false

	case StateShuttingDown:
		// Only a link that is still up gets the final disconnect
		if e.linkUp {
			if err := e.adapter.Disconnect(); err != nil {
				e.log.Warn("disconnect failed", zap.Error(err))
			}
			e.linkUp = false
			e.stats.Disconnects++
			e.emit(Event{Kind: Disconnected})
		}
		e.work.invalidate()
		e.publish()
		return true
	}

	// Connecting only exists inside connect
	e.setState(StateDisconnected)
	return false
}

// wait enforces the pacing between iterations
func (e *Engine) wait(ctx context.Context) {
	if e.pace <= 0 {
		return
	}
	t := time.NewTimer(e.pace)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.wake:
	case <-ctx.Done():
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.work.State = s
	e.publish()
}

// emit publishes the working snapshot and then notifies, so listeners that
// read Snapshot see the data the event refers to. Engine goroutine only.
func (e *Engine) emit(ev Event) {
	e.publish()
	e.send(ev)
}

func (e *Engine) send(ev Event) {
	if e.notify != nil {
		e.notify.Notify(ev)
	}
}

func (e *Engine) publish() {
	e.work.Stats = *e.stats
	e.work.Counter = e.counter
	e.work.Time = e.clock.Now()
	snap := e.work
	e.snap.Store(&snap)
}

// ============================================================
// Lifecycle
// ============================================================

func (e *Engine) connect() {
	e.setState(StateConnecting)
	e.log.Info("connecting", zap.String("device", e.device))

	if err := e.adapter.Connect(e.device); err != nil {
		e.log.Warn("connect failed", zap.String("device", e.device), zap.Error(err))
		e.stats.ConnectFailures++
		e.emit(Event{Kind: FailedToConnect, Device: e.device, Err: err})
		e.setState(StateDisconnected)
		return
	}
	e.stats.Connects++
	e.linkUp = true

	if ident, err := e.adapter.Identify(); err != nil {
		e.log.Warn("identification read failed", zap.Error(err))
	} else {
		e.work.ident = ident
		e.emit(Event{Kind: RevisionNumberReady, Ident: ident})
	}
	if limit, err := e.adapter.RPMLimit(); err != nil {
		e.log.Warn("rpm limit read failed", zap.Error(err))
	} else {
		e.work.rpmLimit = limit
		e.emit(Event{Kind: RPMLimitReady, Value: limit})
	}

	e.counter = 0
	e.buckets = nil
	e.builtFrom = nil
	e.lastMapID = 0
	e.modeKnown = false
	clear(e.indexChange)

	e.log.Info("connected", zap.String("device", e.device), zap.Stringer("ident", e.work.ident))
	e.startReq.Store(false)
	e.setState(StatePolling)
	e.emit(Event{Kind: Connected})
}

func (e *Engine) disconnect() {
	if err := e.adapter.Disconnect(); err != nil {
		e.log.Warn("disconnect failed", zap.Error(err))
	}
	e.linkUp = false
	e.stopReq.Store(false)
	if n := e.queue.Clear(); n > 0 {
		e.log.Info("dropped queued requests", zap.Int("count", n))
	}
	e.stats.Disconnects++
	e.work.invalidate()
	e.log.Info("disconnected", zap.String("device", e.device))
	e.setState(StateDisconnected)
	e.emit(Event{Kind: Disconnected})
}

// ============================================================
// Polling iteration
// ============================================================

// iterate runs one scheduler pass: one queued request, then every due bucket
func (e *Engine) iterate(ctx context.Context) {
	now := e.clock.Now()
	e.refreshBuckets()

	e.drainOne(ctx)

	cycle := Unknown
	for _, b := range e.buckets {
		if !b.due(now) {
			continue
		}
		bucketOutcome := Unknown
		for _, st := range b.fields {
			if !eligible(st, b.passes) {
				continue
			}
			out := e.readField(st)
			bucketOutcome = bucketOutcome.Fold(out)
			cycle = cycle.Fold(out)
		}
		b.passes++
		if bucketOutcome == Success {
			b.markSuccess(now)
		}
	}

	e.stats.RecordCycle(cycle, now)
	e.work.LastCycle = cycle
	e.publish()

	switch cycle {
	case Success:
		e.send(Event{Kind: ReadSuccess})
		e.send(Event{Kind: DataReady})
	case Failure:
		e.send(Event{Kind: ReadError})
	}
	e.counter++
}

// refreshBuckets rebuilds the bucket array when a new schedule was handed over
func (e *Engine) refreshBuckets() {
	s := e.schedule.Load()
	if s == e.builtFrom && e.buckets != nil {
		return
	}
	e.buckets = buildBuckets(s)
	e.builtFrom = s
}

// readField reads one sample into the working snapshot. A swallowed MIL
// failure yields Unknown.
func (e *Engine) readField(st ecu.SampleType) Outcome {
	err := e.readInto(st)
	e.stats.RecordRead(st, err)
	if err != nil {
		if st == ecu.MIL {
			e.work.MIL = false
			e.log.Debug("mil read failed, lamp assumed off", zap.Error(err))
			return Unknown
		}
		e.log.Debug("read failed", zap.Stringer("sample", st), zap.Error(err))
	} else {
		e.work.markValid(st)
	}
	return outcomeOf(err)
}

func (e *Engine) readInto(st ecu.SampleType) error {
	a := e.adapter
	w := &e.work
	var err error

	switch st {
	case ecu.EngineSpeed:
		var v int
		if v, err = a.EngineSpeed(); err == nil {
			w.EngineSpeed = v
		}
	case ecu.RoadSpeed:
		var v int
		if v, err = a.RoadSpeed(); err == nil {
			w.RoadSpeed = v
		}
	case ecu.CoolantTemp:
		var v int
		if v, err = a.CoolantTemp(); err == nil {
			w.CoolantTemp = v
		}
	case ecu.FuelTemp:
		var v int
		if v, err = a.FuelTemp(); err == nil {
			w.FuelTemp = v
		}
	case ecu.Throttle:
		var v float64
		if v, err = a.Throttle(); err == nil {
			w.Throttle = v
		}
	case ecu.MAF:
		var v float64
		if v, err = a.MAF(); err == nil {
			w.MAF = v
		}
	case ecu.LambdaTrimShort:
		var l, r int
		if l, r, err = a.LambdaTrim(ecu.TrimShort); err == nil {
			w.LambdaShortLeft, w.LambdaShortRight = l, r
		}
	case ecu.LambdaTrimLong:
		var l, r int
		if l, r, err = a.LambdaTrim(ecu.TrimLong); err == nil {
			w.LambdaLongLeft, w.LambdaLongRight = l, r
		}
	case ecu.IdleBypassPosition:
		var v float64
		if v, err = a.IdleBypassPosition(); err == nil {
			w.IdleBypassPosition = v
		}
	case ecu.FuelPumpRelay:
		var v bool
		if v, err = a.FuelPumpRelay(); err == nil {
			w.FuelPumpRelay = v
		}
	case ecu.GearSelection:
		var v ecu.Gear
		if v, err = a.GearSelection(); err == nil {
			w.Gear = v
		}
	case ecu.MainVoltage:
		var v float64
		if v, err = a.MainVoltage(); err == nil {
			w.MainVoltage = v
		}
	case ecu.InjectorPulseWidth:
		var v int
		if v, err = a.InjectorPulseWidth(); err == nil {
			w.InjectorPulseWidth = v
		}
	case ecu.FuelMapRowCol:
		var v ecu.FuelMapPosition
		if v, err = a.FuelMapPosition(); err == nil {
			w.FuelMapPosition = v
		}
	case ecu.FuelMapIndex:
		var id int
		if id, err = a.CurrentFuelMap(); err == nil {
			e.fuelMapIndexRead(id)
		}
	case ecu.MIL:
		var v bool
		if v, err = a.MIL(); err == nil {
			w.MIL = v
		}
	case ecu.COTrimVoltage:
		var v float64
		if v, err = a.COTrimVoltage(); err == nil {
			w.COTrimVoltage = v
		}
	case ecu.TargetIdle:
		var target int
		var idle bool
		if target, idle, err = a.TargetIdle(); err == nil {
			w.TargetIdle, w.IdleMode = target, idle
		}
	default:
		err = fmt.Errorf("sample %s: %w", st, ecu.ErrUnsupported)
	}
	return err
}

// fuelMapIndexRead tracks the selected map and the feedback mode it implies
func (e *Engine) fuelMapIndexRead(id int) {
	e.work.FuelMapIndex = id

	mode := ecu.FeedbackModeForMap(id)
	e.work.FeedbackMode = mode
	if !e.modeKnown || mode != e.lastMode {
		e.modeKnown = true
		e.lastMode = mode
		e.log.Info("feedback mode changed", zap.Stringer("mode", mode))
		e.emit(Event{Kind: FeedbackModeHasChanged, Mode: mode})
	}

	if id == e.lastMapID {
		return
	}
	e.lastMapID = id
	e.log.Info("fuel map index changed", zap.Int("map", id))

	if e.builtFrom.Enabled(ecu.FuelMapData) && ecu.ValidFuelMapID(id) {
		e.indexChange[id] = true
		e.queue.Push(Request{Kind: FuelMapRead, Arg: id})
		return
	}
	e.emit(Event{Kind: FuelMapIndexHasChanged, MapID: id})
}

// ============================================================
// Queued requests
// ============================================================

// drainOne executes at most one queued request
func (e *Engine) drainOne(ctx context.Context) {
	req, ok := e.queue.Pop()
	if !ok {
		return
	}
	log := e.log.With(zap.Stringer("request", req))
	a := e.adapter

	switch req.Kind {
	case FuelMapRead:
		if !ecu.ValidFuelMapID(req.Arg) {
			err := fmt.Errorf("fuel map %d: %w", req.Arg, ecu.ErrUnsupported)
			e.finish(log, err)
			e.emit(Event{Kind: FuelMapReadFailed, MapID: req.Arg, Err: err})
			return
		}
		var m *ecu.FuelMap
		err := e.longRead(ctx, func(rctx context.Context) (err error) {
			m, err = a.FuelMap(rctx, req.Arg)
			return err
		})
		if e.finish(log, err) {
			if err != nil {
				e.emit(Event{Kind: FuelMapReadFailed, MapID: req.Arg, Err: err})
			} else {
				e.work.fuelMaps[req.Arg] = m
				e.work.mapCurrent[req.Arg] = true
				e.emit(Event{Kind: FuelMapReady, MapID: req.Arg})
			}
		}
		if e.indexChange[req.Arg] {
			delete(e.indexChange, req.Arg)
			e.emit(Event{Kind: FuelMapIndexHasChanged, MapID: req.Arg})
		}

	case ROMImageRead:
		var rom []byte
		err := e.longRead(ctx, func(rctx context.Context) (err error) {
			rom, err = a.ROMImage(rctx)
			return err
		})
		if e.finish(log, err) {
			if err != nil {
				e.emit(Event{Kind: ROMImageReadFailed, Err: err})
			} else {
				e.work.rom = rom
				e.work.romCurrent = true
				e.emit(Event{Kind: ROMImageReady})
			}
		}

	case BatteryBackedMemRead:
		var mem []byte
		err := e.longRead(ctx, func(rctx context.Context) (err error) {
			mem, err = a.BatteryBackedMemory(rctx)
			return err
		})
		if e.finish(log, err) {
			if err != nil {
				e.emit(Event{Kind: BatteryBackedMemReadFailed, Err: err})
			} else {
				e.work.bbram = mem
				e.emit(Event{Kind: BatteryBackedMemReady})
			}
		}

	case RPMTableRead:
		table, err := a.RPMTable()
		if e.finish(log, err) && err == nil {
			e.work.rpmTable = table
			e.emit(Event{Kind: RPMTableReady})
		}

	case TuneRevisionRead:
		ident, err := a.Identify()
		if e.finish(log, err) && err == nil {
			e.work.ident = ident
			e.emit(Event{Kind: RevisionNumberReady, Ident: ident})
		}

	case FaultCodesRead:
		codes, err := a.FaultCodes()
		if e.finish(log, err) {
			if err != nil {
				e.emit(Event{Kind: FaultCodesReadFailed, Err: err})
			} else {
				e.work.faults = codes
				e.emit(Event{Kind: FaultCodesReady})
			}
		}

	case FaultCodesClear:
		err := a.ClearFaultCodes()
		if e.finish(log, err) {
			if err != nil {
				e.emit(Event{Kind: FaultCodesClearFailure, Err: err})
			} else {
				e.work.faults = ecu.FaultCodes{}
				e.emit(Event{Kind: FaultCodesClearSuccess})
			}
		}

	case FuelPumpRun:
		e.command(log, req, a.RunFuelPump())

	case IdleAirControlDrive:
		e.command(log, req, a.DriveIdleAirControl(req.Arg))

	default:
		log.Warn("unknown request dropped")
	}
}

// longRead runs fn with a context that CancelRead can cancel
func (e *Engine) longRead(ctx context.Context, fn func(context.Context) error) error {
	rctx, cancel := context.WithCancel(ctx)
	e.cancelled.Store(false)
	e.readMu.Lock()
	e.readCancel = cancel
	e.readMu.Unlock()

	err := fn(rctx)

	e.readMu.Lock()
	e.readCancel = nil
	e.readMu.Unlock()
	cancel()

	if e.cancelled.Load() && err == nil {
		err = ecu.ErrCancelled
	}
	return err
}

// reading reports whether a cancellable read is in flight
func (e *Engine) reading() bool {
	e.readMu.Lock()
	defer e.readMu.Unlock()
	return e.readCancel != nil
}

// finish records a request result and reports whether its events should be
// emitted. Cancelled reads are logged and produce no events.
func (e *Engine) finish(log *logging.Logger, err error) bool {
	if errors.Is(err, ecu.ErrCancelled) {
		e.stats.RecordRequest(err, true)
		log.Info("read cancelled")
		return false
	}
	e.stats.RecordRequest(err, false)
	if err != nil {
		log.Warn("request failed", zap.Error(err))
	}
	return true
}

func (e *Engine) command(log *logging.Logger, req Request, err error) {
	e.finish(log, err)
	if err != nil {
		e.emit(Event{Kind: CommandFailed, Request: req.Kind, Err: err})
		return
	}
	e.emit(Event{Kind: CommandSucceeded, Request: req.Kind})
}
