package state

import (
	"fmt"
	"sync"
)

// WorkerState is a step of the worker processing cycle.
type WorkerState string

const (
	StateIdle         WorkerState = "idle"
	StateReserving    WorkerState = "reserving"
	StateExecuting    WorkerState = "executing"
	StateDeleting     WorkerState = "deleting"
	StateDeciding     WorkerState = "deciding"
	StateReleasing    WorkerState = "releasing"
	StateQuarantining WorkerState = "quarantining"
)

func (s WorkerState) String() string {
	return string(s)
}

var AllStates = []WorkerState{
	StateIdle,
	StateReserving,
	StateExecuting,
	StateDeleting,
	StateDeciding,
	StateReleasing,
	StateQuarantining,
}

type Transition struct {
	From WorkerState
	To   WorkerState
}

var ValidTransitions = []Transition{
	{From: StateIdle, To: StateReserving},
	{From: StateReserving, To: StateIdle},         // empty queue or storage error
	{From: StateReserving, To: StateExecuting},    // reserved and decoded
	{From: StateReserving, To: StateQuarantining}, // undecodable payload
	{From: StateExecuting, To: StateDeleting},
	{From: StateExecuting, To: StateDeciding},
	{From: StateDeciding, To: StateReleasing},
	{From: StateDeciding, To: StateQuarantining},
	{From: StateDeleting, To: StateIdle},
	{From: StateReleasing, To: StateIdle},
	{From: StateQuarantining, To: StateIdle},
}

func IsValidTransition(from, to WorkerState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Machine tracks the state of one worker. It is safe for concurrent reads.
type Machine struct {
	mu      sync.RWMutex
	current WorkerState
}

func NewMachine() *Machine {
	return &Machine{current: StateIdle}
}

func (m *Machine) Current() WorkerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// To moves the machine to the next state, refusing transitions not in the table.
func (m *Machine) To(next WorkerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !IsValidTransition(m.current, next) {
		return fmt.Errorf("invalid worker transition %s -> %s", m.current, next)
	}
	m.current = next
	return nil
}

// Reset forces the machine back to idle. Used after a cycle was aborted midway.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.current = StateIdle
	m.mu.Unlock()
}
