package sdma

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zyedidia/generic/list"
	"go.uber.org/zap"

	"github.com/sdmakit/sdma/core/events"
	"github.com/sdmakit/sdma/core/runningstat"
	"github.com/sdmakit/sdma/csr"
)

const evtStateChange = "StateChange"

// Counters contains engine counters.
type Counters struct {
	Submitted    uint64               `json:"submitted"`    // requests written to the ring
	Completed    uint64               `json:"completed"`    // requests retired with StatusOK
	Aborted      uint64               `json:"aborted"`      // requests retired with an error status
	NotConnected uint64               `json:"notConnected"` // submissions while not running
	DescqFull    uint64               `json:"descqFull"`    // submissions rejected for lack of slots
	Parked       uint64               `json:"parked"`       // producers parked
	Woken        uint64               `json:"woken"`        // producers woken
	ProgressInts uint64               `json:"progressInts"` // progress interrupts
	IdleInts     uint64               `json:"idleInts"`     // idle interrupts
	ErrorInts    uint64               `json:"errorInts"`    // halt and error interrupts
	BadHead      uint64               `json:"badHead"`      // insane hardware head readings
	PollTimeouts uint64               `json:"pollTimeouts"` // hardware status polls that timed out
	Retired      runningstat.Snapshot `json:"retired"`      // descriptors retired per progress pass
}

type engineCounters struct {
	submitted, completed, aborted, notConnected, descqFull, parked, woken atomic.Uint64
	progressInts, idleInts, errorInts, badHead, pollTimeouts                atomic.Uint64
}

// Engine is one hardware send channel.
type Engine struct {
	id      int
	cfg     Config
	logger  *zap.Logger
	hw      csr.Space
	ring    *Ring
	emitter *events.Emitter

	// progressMu serializes retirement: progress scans and drains.
	// Completion callbacks run with progressMu held, so they are delivered in ring order.
	// Lock order: progressMu, then mu.
	progressMu sync.Mutex
	retired    runningstat.RunningStat // guarded by progressMu

	mu             sync.Mutex
	state          State
	stateHint      atomic.Uint32
	desiredRunning bool
	closing        bool
	seq            atomic.Uint64 // incremented on every transition, written with mu held
	stateChanged   chan struct{}
	active         txQueue // requests written to the ring, in ring order
	flushq         txQueue // requests submitted while not running
	flushPending   bool
	parked         list.List[*IoWait]
	nParked        int
	tailSN         uint64
	haltHead       uint64
	timer          *time.Timer

	ahgBits atomic.Uint32
	ahgMask uint32

	refs     atomic.Int32
	released chan struct{}
	closeMu  sync.Mutex

	cnt engineCounters
}

// NewEngine creates an engine in Down state.
// If hw implements RingHost, the descriptor ring is attached to it.
func NewEngine(id int, cfg Config, hw csr.Space) (*Engine, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	cfg.applyDefaults()

	eng := &Engine{
		id:           id,
		cfg:          cfg,
		logger:       logger.With(zap.Int("engine", id)),
		hw:           hw,
		ring:         newRing(cfg.DescCount),
		emitter:      events.NewEmitter(),
		stateChanged: make(chan struct{}),
		released:     make(chan struct{}),
	}
	eng.ahgMask = uint32(uint64(1)<<cfg.AHGEntries - 1)
	eng.retired.Init(1)
	eng.refs.Store(1)
	eng.stateHint.Store(uint32(StateDown))

	if rh, ok := hw.(RingHost); ok {
		rh.AttachRing(id, eng.ring)
	}
	hw.Write(id, csr.RingLen, uint64(cfg.DescCount))
	hw.Write(id, csr.Ctrl, stateActions[StateDown].ctrl())
	return eng, nil
}

// ID returns engine index.
func (eng *Engine) ID() int {
	return eng.id
}

// Config returns engine configuration with defaults applied.
func (eng *Engine) Config() Config {
	return eng.cfg
}

// Ring returns the descriptor ring.
func (eng *Engine) Ring() *Ring {
	return eng.ring
}

// State returns current state.
func (eng *Engine) State() State {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.state
}

// IsRunning determines whether the engine is in Running state.
func (eng *Engine) IsRunning() bool {
	return eng.State() == StateRunning
}

// IsRunningHint determines whether the engine is in Running state without taking the lock.
// The result may be stale.
func (eng *Engine) IsRunningHint() bool {
	return State(eng.stateHint.Load()) == StateRunning
}

// IsEmpty determines whether the descriptor ring is empty.
func (eng *Engine) IsEmpty() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.ring.isEmpty()
}

// FreeSlots returns the number of descriptors that can be submitted.
func (eng *Engine) FreeSlots() int {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.ring.freeSlots()
}

// NumActive returns the number of requests owned by the engine.
func (eng *Engine) NumActive() int {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.active.n + eng.flushq.n
}

// NumParked returns the number of parked producers.
func (eng *Engine) NumParked() int {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.nParked
}

// Counters returns a snapshot of counters.
func (eng *Engine) Counters() (cnt Counters) {
	cnt.Submitted = eng.cnt.submitted.Load()
	cnt.Completed = eng.cnt.completed.Load()
	cnt.Aborted = eng.cnt.aborted.Load()
	cnt.NotConnected = eng.cnt.notConnected.Load()
	cnt.DescqFull = eng.cnt.descqFull.Load()
	cnt.Parked = eng.cnt.parked.Load()
	cnt.Woken = eng.cnt.woken.Load()
	cnt.ProgressInts = eng.cnt.progressInts.Load()
	cnt.IdleInts = eng.cnt.idleInts.Load()
	cnt.ErrorInts = eng.cnt.errorInts.Load()
	cnt.BadHead = eng.cnt.badHead.Load()
	cnt.PollTimeouts = eng.cnt.pollTimeouts.Load()
	eng.progressMu.Lock()
	cnt.Retired = eng.retired.Read()
	eng.progressMu.Unlock()
	return cnt
}

// OnStateChange registers a callback when the engine changes state.
// Returns a function that cancels the callback registration.
func (eng *Engine) OnStateChange(cb func(prev, next State)) (cancel func()) {
	return eng.emitter.On(evtStateChange, cb)
}

// WaitState waits until the engine enters one of the given states.
func (eng *Engine) WaitState(ctx context.Context, states ...State) error {
	for {
		eng.mu.Lock()
		st, ch := eng.state, eng.stateChanged
		eng.mu.Unlock()
		if slices.Contains(states, st) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (eng *Engine) get() {
	eng.refs.Add(1)
}

func (eng *Engine) put() {
	if eng.refs.Add(-1) == 0 {
		close(eng.released)
	}
}

// Close tears down the engine.
// It drives the engine to Down, which aborts every active request with StatusShutdown,
// and waits until the engine's lifetime reference is released.
func (eng *Engine) Close(ctx context.Context) error {
	eng.closeMu.Lock()
	eng.mu.Lock()
	first := !eng.closing
	eng.closing = true
	eng.mu.Unlock()
	eng.closeMu.Unlock()

	eng.FeedEvent(EventGoDown)
	if first {
		eng.put()
	}

	select {
	case <-eng.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
