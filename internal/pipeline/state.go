package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"ffibind/internal/errors"
)

// State is the progress of one generation run.
type State string

const (
	StateInit           State = "init"
	StateParsing        State = "parsing"
	StateResolving      State = "resolving"
	StateLayoutComputed State = "layout_computed"
	StateEmitting       State = "emitting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// next is the only forward transition of each state. Failed is reachable
// from every state but Done.
var next = map[State]State{
	StateInit:           StateParsing,
	StateParsing:        StateResolving,
	StateResolving:      StateLayoutComputed,
	StateLayoutComputed: StateEmitting,
	StateEmitting:       StateDone,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition is one state change of a run.
type Transition struct {
	RunID   string
	Unit    string
	From    State
	To      State
	Elapsed time.Duration // time spent in From
}

// machine tracks the state of one run.
type machine struct {
	runID   string
	unit    string
	state   State
	entered time.Time
	observe func(Transition)
}

func newMachine(runID, unit string, observe func(Transition)) *machine {
	return &machine{
		runID:   runID,
		unit:    unit,
		state:   StateInit,
		entered: time.Now(),
		observe: observe,
	}
}

// advance moves to to, which must be the successor of the current state.
func (m *machine) advance(to State) error {
	if want, ok := next[m.state]; !ok || want != to {
		return fmt.Errorf("illegal transition %s -> %s", m.state, to)
	}
	m.move(to)
	return nil
}

// fail moves to Failed and wraps err with the stage that produced it.
func (m *machine) fail(stage errors.Phase, err error) *errors.StageError {
	stageErr := &errors.StageError{Stage: string(stage), Cause: err}
	if !m.state.Terminal() {
		m.move(StateFailed)
	}
	return stageErr
}

func (m *machine) move(to State) {
	now := time.Now()
	t := Transition{
		RunID:   m.runID,
		Unit:    m.unit,
		From:    m.state,
		To:      to,
		Elapsed: now.Sub(m.entered),
	}
	m.state = to
	m.entered = now

	Logger().Debug("state changed",
		zap.String("run", t.RunID),
		zap.String("unit", t.Unit),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Duration("elapsed", t.Elapsed))
	if m.observe != nil {
		m.observe(t)
	}
}
