package collect

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/zboralski/faultplugin/internal/host"
)

// MemAccess aggregates the loads or stores one instruction made to one
// data address.
type MemAccess struct {
	Insn      uint64
	Data      uint64
	SizeShift uint8
	Store     bool
	Count     uint64
}

type accessKey struct {
	insn uint64
	data uint64
}

func compareAccess(a, b interface{}) int {
	ka, kb := a.(accessKey), b.(accessKey)
	if c := utils.UInt64Comparator(ka.insn, kb.insn); c != 0 {
		return c
	}
	return utils.UInt64Comparator(ka.data, kb.data)
}

// MemAccesses indexes memory accesses by (instruction, data address).
type MemAccesses struct {
	m *treemap.Map
}

// NewMemAccesses creates an empty index.
func NewMemAccesses() *MemAccesses {
	return &MemAccesses{m: treemap.NewWith(compareAccess)}
}

// Record counts one access by the instruction at insn.
func (m *MemAccesses) Record(insn, data uint64, info host.MemInfo) *MemAccess {
	key := accessKey{insn: insn, data: data}
	v, ok := m.m.Get(key)
	if !ok {
		v = &MemAccess{Insn: insn, Data: data, SizeShift: info.SizeShift, Store: info.Store}
		m.m.Put(key, v)
	}
	a := v.(*MemAccess)
	a.Count++
	return a
}

// Len returns the number of distinct (instruction, data) pairs.
func (m *MemAccesses) Len() int {
	return m.m.Size()
}

// List returns the records ordered by instruction then data address.
func (m *MemAccesses) List() []*MemAccess {
	out := make([]*MemAccess, 0, m.m.Size())
	m.m.Each(func(_ interface{}, v interface{}) {
		out = append(out, v.(*MemAccess))
	})
	return out
}

// Clear drops every record.
func (m *MemAccesses) Clear() {
	m.m.Clear()
}
