// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/logging"
)

// Link errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrDeviceError      = errors.New("device error")
)

// DefaultTimeout is the default per-transaction response timeout
const DefaultTimeout = time.Second

// maxTransientReadErrors is how many consecutive non-fatal read errors the
// reader tolerates before declaring the link lost
const maxTransientReadErrors = 5

// Opener opens the byte stream to the bridge named by device
type Opener func(device string) (io.ReadWriteCloser, error)

// AdapterConfig configures an Adapter
type AdapterConfig struct {
	// Timeout bounds each request/response transaction (default 1s)
	Timeout time.Duration
	Logger  *logging.Logger
}

// LinkStats counts link-level traffic and failures
type LinkStats struct {
	FramesSent     uint64
	FramesReceived uint64
	CRCErrors      uint64
	DecodeErrors   uint64
	Timeouts       uint64
	DeviceErrors   uint64
	Invalid        uint64
	StaleFrames    uint64
}

// Adapter implements ecu.Adapter over the framed link.
// Each call is one request/response transaction.
type Adapter struct {
	open    Opener
	timeout time.Duration
	log     *logging.Logger

	conn       io.ReadWriteCloser
	seq        uint16
	connected  atomic.Bool
	cancelled  atomic.Bool
	packets    chan *Packet
	readErr    chan error
	done       chan struct{}
	readerDone chan struct{}

	sent, received, crcErrors, decodeErrors atomic.Uint64
	timeouts, deviceErrors, invalid, stale  atomic.Uint64
}

// NewAdapter creates a disconnected adapter that opens links with open
func NewAdapter(open Opener, cfg AdapterConfig) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		open:    open,
		timeout: cfg.Timeout,
		log:     cfg.Logger.Named("link"),
	}
}

// Connect opens the link and confirms the bridge answers a ping
func (a *Adapter) Connect(device string) error {
	if a.connected.Load() {
		return nil
	}
	conn, err := a.open(device)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}

	a.conn = conn
	a.packets = make(chan *Packet, 16)
	a.readErr = make(chan error, 1)
	a.done = make(chan struct{})
	a.readerDone = make(chan struct{})
	a.connected.Store(true)
	go a.readLoop(conn, a.packets, a.readErr, a.done, a.readerDone)

	if _, _, err := a.Ping(); err != nil {
		_ = a.Disconnect()
		return fmt.Errorf("bridge on %s did not answer: %w", device, err)
	}
	a.log.Info("link up", zap.String("device", device))
	return nil
}

// IsConnected reports whether the link is believed to be up
func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

// Disconnect closes the link and waits for the reader to exit
func (a *Adapter) Disconnect() error {
	a.connected.Store(false)
	if a.conn == nil {
		return nil
	}
	close(a.done)
	err := a.conn.Close()
	select {
	case <-a.readerDone:
	case <-time.After(a.timeout):
		a.log.Warn("reader did not exit after close")
	}
	a.conn = nil
	a.log.Info("link down")
	return err
}

// CancelRead aborts an in-flight ROM or battery-backed memory read at the
// next chunk boundary
func (a *Adapter) CancelRead() {
	a.cancelled.Store(true)
}

// Stats returns a copy of the link counters
func (a *Adapter) Stats() LinkStats {
	return LinkStats{
		FramesSent:     a.sent.Load(),
		FramesReceived: a.received.Load(),
		CRCErrors:      a.crcErrors.Load(),
		DecodeErrors:   a.decodeErrors.Load(),
		Timeouts:       a.timeouts.Load(),
		DeviceErrors:   a.deviceErrors.Load(),
		Invalid:        a.invalid.Load(),
		StaleFrames:    a.stale.Load(),
	}
}

// readLoop decodes frames from conn until it fails or done is closed
func (a *Adapter) readLoop(conn io.Reader, packets chan<- *Packet, readErr chan<- error, done, readerDone chan struct{}) {
	defer close(readerDone)
	dec := NewDecoder()
	buf := make([]byte, 256)
	transient := 0

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			p, derr := dec.DecodeByte(buf[i])
			if derr != nil {
				if errors.Is(derr, ErrCRCMismatch) {
					a.crcErrors.Add(1)
				} else {
					a.decodeErrors.Add(1)
				}
				a.log.Debug("dropped frame", zap.Error(derr))
				continue
			}
			if p == nil {
				continue
			}
			a.received.Add(1)
			select {
			case packets <- p:
			case <-done:
				return
			}
		}

		if err == nil {
			transient = 0
			continue
		}

		select {
		case <-done:
			return
		default:
		}

		transient++
		if isFatalReadError(err) || transient >= maxTransientReadErrors {
			a.connected.Store(false)
			a.log.Warn("link lost", zap.Error(err))
			select {
			case readErr <- err:
			default:
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func isFatalReadError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrConnectionClosed)
}

// transact sends req and waits for the response carrying the same sequence
// number. Frames for earlier requests that arrive late are discarded.
func (a *Adapter) transact(req *Packet) (*Packet, error) {
	if !a.connected.Load() || a.conn == nil {
		return nil, ecu.ErrNotConnected
	}

	a.seq++
	req.seq = a.seq
	frame, err := Encode(req)
	if err != nil {
		return nil, err
	}

	if _, err := a.conn.Write(frame); err != nil {
		a.connected.Store(false)
		a.log.Warn("write failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	a.sent.Add(1)

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	for {
		select {
		case p := <-a.packets:
			if p.Seq() != req.seq {
				a.stale.Add(1)
				continue
			}
			if IsError(p.Type()) {
				a.deviceErrors.Add(1)
				code, _ := GetUint(p.Payload(), 1)
				return nil, fmt.Errorf("%w: %s", ErrDeviceError, formatDeviceError(int(code)))
			}
			if errs := ValidateResponse(req.Type(), p); len(errs) > 0 {
				a.invalid.Add(1)
				return nil, &errs[0]
			}
			return p, nil

		case err := <-a.readErr:
			return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)

		case <-timer.C:
			a.timeouts.Add(1)
			return nil, fmt.Errorf("%s: %w", FormatMessageType(req.Type()), ecu.ErrTimeout)
		}
	}
}

// Ping measures the round trip to the bridge and returns its uptime
func (a *Adapter) Ping() (rtt, uptime time.Duration, err error) {
	start := time.Now()
	p, err := a.transact(NewPingRequest(0))
	if err != nil {
		return 0, 0, err
	}
	ms, _ := GetUint(p.Payload(), 0)
	return time.Since(start), time.Duration(ms) * time.Millisecond, nil
}

//////////////////////////////////////////////////////////////
// Sampled quantities
//////////////////////////////////////////////////////////////

func (a *Adapter) readSample(st ecu.SampleType, arg int64) (map[int]any, error) {
	p, err := a.transact(NewReadSample(0, st, arg))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", st, err)
	}
	m := p.Payload()
	if id, _ := GetUint(m, KeySample); ecu.SampleType(id) != st {
		a.invalid.Add(1)
		return nil, &ValidationError{
			Type:    AnomalyUnexpectedType,
			Message: fmt.Sprintf("asked for %s, got %s", st, ecu.SampleType(id)),
		}
	}
	return m, nil
}

func (a *Adapter) intSample(st ecu.SampleType) (int, error) {
	m, err := a.readSample(st, 0)
	if err != nil {
		return 0, err
	}
	v, _ := GetInt(m, KeyValue)
	return int(v), nil
}

func (a *Adapter) floatSample(st ecu.SampleType) (float64, error) {
	m, err := a.readSample(st, 0)
	if err != nil {
		return 0, err
	}
	v, _ := GetFloat(m, KeyValue)
	return v, nil
}

func (a *Adapter) boolSample(st ecu.SampleType) (bool, error) {
	m, err := a.readSample(st, 0)
	if err != nil {
		return false, err
	}
	v, _ := GetBool(m, KeyValue)
	return v, nil
}

func (a *Adapter) EngineSpeed() (int, error)            { return a.intSample(ecu.EngineSpeed) }
func (a *Adapter) RoadSpeed() (int, error)              { return a.intSample(ecu.RoadSpeed) }
func (a *Adapter) CoolantTemp() (int, error)            { return a.intSample(ecu.CoolantTemp) }
func (a *Adapter) FuelTemp() (int, error)               { return a.intSample(ecu.FuelTemp) }
func (a *Adapter) Throttle() (float64, error)           { return a.floatSample(ecu.Throttle) }
func (a *Adapter) MAF() (float64, error)                { return a.floatSample(ecu.MAF) }
func (a *Adapter) IdleBypassPosition() (float64, error) { return a.floatSample(ecu.IdleBypassPosition) }
func (a *Adapter) FuelPumpRelay() (bool, error)         { return a.boolSample(ecu.FuelPumpRelay) }
func (a *Adapter) MainVoltage() (float64, error)        { return a.floatSample(ecu.MainVoltage) }
func (a *Adapter) InjectorPulseWidth() (int, error)     { return a.intSample(ecu.InjectorPulseWidth) }
func (a *Adapter) CurrentFuelMap() (int, error)         { return a.intSample(ecu.FuelMapIndex) }
func (a *Adapter) MIL() (bool, error)                   { return a.boolSample(ecu.MIL) }
func (a *Adapter) COTrimVoltage() (float64, error)      { return a.floatSample(ecu.COTrimVoltage) }

// LambdaTrim reads the left and right bank trims of the given kind
func (a *Adapter) LambdaTrim(kind ecu.LambdaTrimType) (int, int, error) {
	st := ecu.LambdaTrimShort
	if kind == ecu.TrimLong {
		st = ecu.LambdaTrimLong
	}
	m, err := a.readSample(st, int64(kind))
	if err != nil {
		return 0, 0, err
	}
	left, _ := GetInt(m, KeyValue)
	right, _ := GetInt(m, KeyValue2)
	return int(left), int(right), nil
}

func (a *Adapter) GearSelection() (ecu.Gear, error) {
	v, err := a.intSample(ecu.GearSelection)
	return ecu.Gear(v), err
}

func (a *Adapter) FuelMapPosition() (ecu.FuelMapPosition, error) {
	m, err := a.readSample(ecu.FuelMapRowCol, 0)
	if err != nil {
		return ecu.FuelMapPosition{}, err
	}
	row, _ := GetInt(m, KeyValue)
	rowW, _ := GetInt(m, KeyValue2)
	col, _ := GetInt(m, KeyValue3)
	colW, _ := GetInt(m, KeyValue4)
	return ecu.FuelMapPosition{Row: int(row), RowWeight: int(rowW), Col: int(col), ColWeight: int(colW)}, nil
}

// TargetIdle returns the target idle speed and whether the ECU is in idle mode
func (a *Adapter) TargetIdle() (int, bool, error) {
	m, err := a.readSample(ecu.TargetIdle, 0)
	if err != nil {
		return 0, false, err
	}
	target, _ := GetInt(m, KeyValue)
	idle, _ := GetBool(m, KeyValue2)
	return int(target), idle, nil
}

//////////////////////////////////////////////////////////////
// Identification, tables and actions
//////////////////////////////////////////////////////////////

func (a *Adapter) Identify() (ecu.Identification, error) {
	p, err := a.transact(NewIdentify(0))
	if err != nil {
		return ecu.Identification{}, fmt.Errorf("identify: %w", err)
	}
	m := p.Payload()
	rev, _ := GetUint(m, 0)
	fixer, _ := GetUint(m, 1)
	ident, _ := GetUint(m, 2)
	return ecu.Identification{Revision: uint16(rev), ChecksumFixer: uint8(fixer), Ident: uint16(ident)}, nil
}

func (a *Adapter) RPMLimit() (int, error) {
	p, err := a.transact(NewReadRPMLimit(0))
	if err != nil {
		return 0, fmt.Errorf("read rpm limit: %w", err)
	}
	v, _ := GetUint(p.Payload(), 0)
	return int(v), nil
}

func (a *Adapter) RPMTable() ([ecu.RPMTableSize]uint16, error) {
	var table [ecu.RPMTableSize]uint16
	p, err := a.transact(NewReadRPMTable(0))
	if err != nil {
		return table, fmt.Errorf("read rpm table: %w", err)
	}
	b, _ := GetBytes(p.Payload(), 0)
	for i := range table {
		table[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return table, nil
}

func (a *Adapter) FaultCodes() (ecu.FaultCodes, error) {
	var codes ecu.FaultCodes
	p, err := a.transact(NewReadFaultCodes(0))
	if err != nil {
		return codes, fmt.Errorf("read fault codes: %w", err)
	}
	b, _ := GetBytes(p.Payload(), 0)
	copy(codes[:], b)
	return codes, nil
}

func (a *Adapter) ClearFaultCodes() error {
	if _, err := a.transact(NewClearFaultCodes(0)); err != nil {
		return fmt.Errorf("clear fault codes: %w", err)
	}
	return nil
}

func (a *Adapter) RunFuelPump() error {
	if _, err := a.transact(NewRunFuelPump(0)); err != nil {
		return fmt.Errorf("run fuel pump: %w", err)
	}
	return nil
}

func (a *Adapter) DriveIdleAirControl(steps int) error {
	if _, err := a.transact(NewDriveIAC(0, steps)); err != nil {
		return fmt.Errorf("drive idle air control %+d: %w", steps, err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Long reads
//////////////////////////////////////////////////////////////

func (a *Adapter) FuelMap(ctx context.Context, id int) (*ecu.FuelMap, error) {
	if !ecu.ValidFuelMapID(id) {
		return nil, fmt.Errorf("read fuel map %d: %w", id, ecu.ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read fuel map %d: %w", id, ecu.ErrCancelled)
	}
	p, err := a.transact(NewReadFuelMap(0, id))
	if err != nil {
		return nil, fmt.Errorf("read fuel map %d: %w", id, err)
	}
	m := p.Payload()
	got, _ := GetUint(m, 0)
	data, _ := GetBytes(m, 1)
	adj, _ := GetUint(m, 2)
	scaler, _ := GetUint(m, 3)
	if int(got) != id {
		return nil, &ValidationError{
			Type:    AnomalyUnexpectedType,
			Message: fmt.Sprintf("asked for fuel map %d, got %d", id, got),
		}
	}
	return &ecu.FuelMap{
		ID:               id,
		Data:             append([]byte(nil), data...),
		AdjustmentFactor: uint16(adj),
		RowScaler:        uint16(scaler),
	}, nil
}

func (a *Adapter) ROMImage(ctx context.Context) ([]byte, error) {
	return a.readMemory(ctx, RegionROM, ecu.ROMSize)
}

func (a *Adapter) BatteryBackedMemory(ctx context.Context) ([]byte, error) {
	return a.readMemory(ctx, RegionBatteryBackedMemory, ecu.BatteryBackedMemorySize)
}

// readMemory reads size bytes of region in ChunkSize pieces, checking for
// cancellation before each chunk
func (a *Adapter) readMemory(ctx context.Context, region, size int) ([]byte, error) {
	a.cancelled.Store(false)
	out := make([]byte, 0, size)

	for off := 0; off < size; off += ChunkSize {
		if ctx.Err() != nil || a.cancelled.Load() {
			return nil, fmt.Errorf("read region %d at 0x%04X: %w", region, off, ecu.ErrCancelled)
		}
		n := min(ChunkSize, size-off)
		p, err := a.transact(NewReadMemory(0, region, off, n))
		if err != nil {
			return nil, fmt.Errorf("read region %d at 0x%04X: %w", region, off, err)
		}
		m := p.Payload()
		gotOff, _ := GetUint(m, 1)
		data, _ := GetBytes(m, 2)
		if int(gotOff) != off || len(data) != n {
			a.invalid.Add(1)
			return nil, &ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("chunk at 0x%04X: got %d bytes at 0x%04X", off, len(data), gotOff),
				Details: map[string]any{"offset": off, "length": len(data), "expected": n},
			}
		}
		out = append(out, data...)
	}
	return out, nil
}

// Verify Adapter implements ecu.Adapter
var _ ecu.Adapter = (*Adapter)(nil)
