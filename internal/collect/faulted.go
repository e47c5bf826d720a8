package collect

import "github.com/zboralski/faultplugin/internal/host"

// Stepper raises and releases single-step requests.
type Stepper interface {
	Add()
	Remove()
}

// FaultedBlock is the disassembly of a block re-translated after an
// instruction fault.
type FaultedBlock struct {
	Trigger uint64
	Disas   string
}

type pendingCapture struct {
	addr  uint64
	done  bool
	disas string
}

// Faulted captures the first re-translation of blocks holding an
// injected instruction fault.
type Faulted struct {
	step    Stepper
	entries []*pendingCapture
}

// NewFaulted creates an empty collector.
func NewFaulted(step Stepper) *Faulted {
	return &Faulted{step: step}
}

// Register marks addr as pending and raises single-step so the block
// that re-translates it stays small.
func (f *Faulted) Register(addr uint64) {
	f.entries = append(f.entries, &pendingCapture{addr: addr})
	f.step.Add()
}

// Check captures every pending address that tb covers.
func (f *Faulted) Check(tb host.TB) {
	for _, e := range f.entries {
		if e.done || !host.Contains(tb, e.addr) {
			continue
		}
		e.disas = Assembler(tb)
		e.done = true
		f.step.Remove()
	}
}

// Pending returns the number of captures still waiting.
func (f *Faulted) Pending() int {
	n := 0
	for _, e := range f.entries {
		if !e.done {
			n++
		}
	}
	return n
}

// Captured returns the completed captures in registration order.
func (f *Faulted) Captured() []FaultedBlock {
	var out []FaultedBlock
	for _, e := range f.entries {
		if e.done {
			out = append(out, FaultedBlock{Trigger: e.addr, Disas: e.disas})
		}
	}
	return out
}

// Clear drops every capture.
func (f *Faulted) Clear() {
	f.entries = nil
}
