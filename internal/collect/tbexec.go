package collect

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// RingSize is the number of entries a ring-mode execution log keeps.
const RingSize = 100

// ExecEntry is one block execution. Pos is the global execution ordinal.
type ExecEntry struct {
	Base uint64
	Pos  uint64
}

// ExecLog records executed block base addresses, either unbounded or in
// a fixed ring of RingSize entries.
type ExecLog struct {
	list    *doublylinkedlist.List
	ring    *circularbuffer.Queue
	numExec uint64
}

// NewExecLog creates a log; ring selects the bounded shape.
func NewExecLog(ring bool) *ExecLog {
	l := &ExecLog{}
	if ring {
		l.ring = circularbuffer.New(RingSize)
	} else {
		l.list = doublylinkedlist.New()
	}
	return l
}

// Ring reports whether the log is bounded.
func (l *ExecLog) Ring() bool {
	return l.ring != nil
}

// Append records an execution of the block at base.
func (l *ExecLog) Append(base uint64) {
	e := ExecEntry{Base: base, Pos: l.numExec}
	l.numExec++
	if l.ring != nil {
		l.ring.Enqueue(e)
		return
	}
	l.list.Add(e)
}

// NumExec returns the number of executions ever appended.
func (l *ExecLog) NumExec() uint64 {
	return l.numExec
}

// Entries returns the retained entries oldest first. In ring mode with
// more than RingSize executions this starts at the oldest surviving
// slot, so positions form a contiguous range ending at NumExec-1.
func (l *ExecLog) Entries() []ExecEntry {
	var values []interface{}
	if l.ring != nil {
		values = l.ring.Values()
	} else {
		values = l.list.Values()
	}
	out := make([]ExecEntry, len(values))
	for i, v := range values {
		out[i] = v.(ExecEntry)
	}
	return out
}

// Clear drops every entry and resets the ordinal.
func (l *ExecLog) Clear() {
	if l.ring != nil {
		l.ring.Clear()
	} else {
		l.list.Clear()
	}
	l.numExec = 0
}
