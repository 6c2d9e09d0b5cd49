package sdma

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdmakit/sdma/csr"
)

// NumSC is the number of service classes.
const NumSC = 32

// DeviceConfig contains Device configuration.
type DeviceConfig struct {
	// Engines is the number of engines.
	Engines int `json:"engines"`
	// Engine is the configuration applied to every engine.
	Engine Config `json:"engine"`

	// NumVLs is the number of virtual lanes in the initial engine map.
	// Zero means one virtual lane.
	NumVLs int `json:"numVLs,omitempty"`
	// VLEngines is the number of engines per virtual lane in the initial engine map.
	// If empty, engines are split evenly.
	VLEngines []int `json:"vlEngines,omitempty"`
	// SCToVL maps a service class to a virtual lane.
	// Missing entries map to virtual lane zero.
	SCToVL []uint8 `json:"scToVL,omitempty"`
}

func (cfg *DeviceConfig) applyDefaults() {
	if cfg.NumVLs <= 0 {
		cfg.NumVLs = 1
	}
}

// Validate checks configuration values.
func (cfg DeviceConfig) Validate() error {
	var errs []error
	if cfg.Engines <= 0 {
		errs = append(errs, fmt.Errorf("engines %d out of range", cfg.Engines))
	}
	if len(cfg.SCToVL) > NumSC {
		errs = append(errs, fmt.Errorf("scToVL has %d entries, at most %d", len(cfg.SCToVL), NumSC))
	}
	errs = append(errs, cfg.Engine.Validate())
	return multierr.Combine(errs...)
}

// Device owns a fleet of engines sharing one CSR space.
type Device struct {
	hw      csr.Space
	engines []*Engine
	scToVL  [NumSC]uint8
	closed  atomic.Bool

	emap engineMapHolder
}

// NewDevice creates a device and its engines.
// Engines start in Down state; call Start or AllRunning to bring them up.
func NewDevice(cfg DeviceConfig, hw csr.Space) (*Device, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	cfg.applyDefaults()

	dev := &Device{hw: hw}
	copy(dev.scToVL[:], cfg.SCToVL)
	for i := range cfg.Engines {
		eng, e := NewEngine(i, cfg.Engine, hw)
		if e != nil {
			return nil, fmt.Errorf("NewEngine(%d): %w", i, e)
		}
		dev.engines = append(dev.engines, eng)
	}

	if e := dev.MapInit(cfg.NumVLs, cfg.VLEngines); e != nil {
		return nil, e
	}
	logger.Info("device created", zap.Int("engines", len(dev.engines)), zap.Int("vls", cfg.NumVLs))
	return dev, nil
}

// CountEngines returns the number of engines.
func (dev *Device) CountEngines() int {
	return len(dev.engines)
}

// Engine returns i-th engine, or nil if out of range.
func (dev *Device) Engine(i int) *Engine {
	if i < 0 || i >= len(dev.engines) {
		return nil
	}
	return dev.engines[i]
}

// Engines returns all engines.
func (dev *Device) Engines() []*Engine {
	return dev.engines
}

// FeedEvent feeds an event to one engine.
func (dev *Device) FeedEvent(engine int, ev Event) error {
	eng := dev.Engine(engine)
	if eng == nil {
		return fmt.Errorf("engine %d out of range", engine)
	}
	eng.FeedEvent(ev)
	return nil
}

// Interrupt dispatches an interrupt to one engine.
func (dev *Device) Interrupt(engine int, status uint64) {
	eng := dev.Engine(engine)
	if eng == nil {
		logger.Warn("interrupt for unknown engine", zap.Int("engine", engine), zap.Uint64("status", status))
		return
	}
	eng.Interrupt(status)
}

// broadcast feeds an event to every engine and waits until each reaches one of the given states.
func (dev *Device) broadcast(ctx context.Context, ev Event, states ...State) error {
	if dev.closed.Load() {
		return ErrClosed
	}
	for _, eng := range dev.engines {
		eng.FeedEvent(ev)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, eng := range dev.engines {
		g.Go(func() error {
			if e := eng.WaitState(ctx, states...); e != nil {
				return fmt.Errorf("engine %d in state %s after %s: %w", eng.ID(), eng.State(), ev, e)
			}
			return nil
		})
	}
	return g.Wait()
}

// Start brings every engine through hardware start-up.
// Engines that were asked to run continue to Running; others settle in Idle.
func (dev *Device) Start(ctx context.Context) error {
	return dev.broadcast(ctx, EventGoStart, StateIdle, StateRunning)
}

// AllRunning brings every engine to Running.
func (dev *Device) AllRunning(ctx context.Context) error {
	return dev.broadcast(ctx, EventGoRunning, StateRunning)
}

// AllIdle brings every engine to Idle, draining in-flight packets.
func (dev *Device) AllIdle(ctx context.Context) error {
	return dev.broadcast(ctx, EventGoIdle, StateIdle, StateDown)
}

// LinkDown handles loss of the port link.
// Parked producers are woken with WakeupPortDisabled, and every engine goes idle.
func (dev *Device) LinkDown(ctx context.Context) error {
	for _, eng := range dev.engines {
		eng.WakeAll(WakeupPortDisabled)
	}
	return dev.AllIdle(ctx)
}

// IsRunning determines whether every engine is running.
func (dev *Device) IsRunning() bool {
	for _, eng := range dev.engines {
		if !eng.IsRunning() {
			return false
		}
	}
	return true
}

// Close tears down every engine.
func (dev *Device) Close(ctx context.Context) error {
	if !dev.closed.CompareAndSwap(false, true) {
		return nil
	}
	errs := []error{}
	for _, eng := range dev.engines {
		if e := eng.Close(ctx); e != nil {
			errs = append(errs, fmt.Errorf("engine %d: %w", eng.ID(), e))
		}
	}
	return multierr.Combine(errs...)
}
