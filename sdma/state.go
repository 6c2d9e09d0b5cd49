package sdma

import (
	"fmt"

	"github.com/sdmakit/sdma/csr"
)

// State is an engine state.
type State uint8

// State values.
const (
	StateDown State = iota
	StateStartingHaltWait
	StateStartingCleanWait
	StateIdle
	StateSwCleanWait
	StateHwCleanWait
	StateHwHaltWait
	StateIdleHaltWait
	StateRunning
)

var stateNames = [...]string{
	StateDown:              "Down",
	StateStartingHaltWait:  "StartingHaltWait",
	StateStartingCleanWait: "StartingCleanWait",
	StateIdle:              "Idle",
	StateSwCleanWait:       "SwCleanWait",
	StateHwCleanWait:       "HwCleanWait",
	StateHwHaltWait:        "HwHaltWait",
	StateIdleHaltWait:      "IdleHaltWait",
	StateRunning:           "Running",
}

func (st State) String() string {
	if int(st) < len(stateNames) {
		return stateNames[st]
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Event is an input to the engine state machine.
type Event uint8

// Event values.
const (
	EventGoDown Event = iota
	EventGoStart
	EventHwHaltDone
	EventHwCleanDone
	EventGoRunning
	EventSwCleaned
	EventHwCleaned
	EventHwHalted
	EventGoIdle
)

var eventNames = [...]string{
	EventGoDown:      "GoDown",
	EventGoStart:     "GoStart",
	EventHwHaltDone:  "HwHaltDone",
	EventHwCleanDone: "HwCleanDone",
	EventGoRunning:   "GoRunning",
	EventSwCleaned:   "SwCleaned",
	EventHwCleaned:   "HwCleaned",
	EventHwHalted:    "HwHalted",
	EventGoIdle:      "GoIdle",
}

func (ev Event) String() string {
	if int(ev) < len(eventNames) {
		return eventNames[ev]
	}
	return fmt.Sprintf("Event(%d)", uint8(ev))
}

// stateAction is the set of hardware control actions applied when a state is entered.
type stateAction struct {
	enable    bool
	intEnable bool
	halt      bool
	drain     bool
	cleanup   bool

	goRunningFalse bool
	goRunningTrue  bool
}

func (act stateAction) ctrl() (v uint64) {
	for _, b := range []struct {
		set bool
		bit uint64
	}{
		{act.enable, csr.CtrlEnable},
		{act.intEnable, csr.CtrlIntEnable},
		{act.halt, csr.CtrlHalt},
		{act.drain, csr.CtrlDrain},
		{act.cleanup, csr.CtrlCleanup},
	} {
		if b.set {
			v |= b.bit
		}
	}
	return v
}

var stateActions = [...]stateAction{
	StateDown:              {goRunningFalse: true},
	StateStartingHaltWait:  {intEnable: true, halt: true},
	StateStartingCleanWait: {intEnable: true, cleanup: true},
	StateIdle:              {intEnable: true},
	StateSwCleanWait:       {},
	StateHwCleanWait:       {cleanup: true},
	StateHwHaltWait:        {halt: true},
	StateIdleHaltWait:      {halt: true, drain: true, goRunningFalse: true},
	StateRunning:           {enable: true, intEnable: true, goRunningTrue: true},
}
