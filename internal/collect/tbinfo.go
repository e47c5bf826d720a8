// Package collect holds the observability stores filled while a fault
// session runs: translated blocks, execution order, memory accesses,
// register and memory dumps, and disassembly of faulted blocks.
package collect

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/zboralski/faultplugin/internal/host"
)

// TBInfo describes one translated block.
type TBInfo struct {
	Base      uint64
	Size      uint64
	NumInsns  int
	Disas     string
	ExecCount uint64
}

// Assembler renders a block's instructions one per line as
// "[ addr ]: text !!".
func Assembler(tb host.TB) string {
	var b strings.Builder
	for i := 0; i < tb.NumInsns(); i++ {
		insn := tb.Insn(i)
		fmt.Fprintf(&b, "[ %8x ]: %s !!\n", insn.Vaddr, insn.Disas)
	}
	return b.String()
}

// TBInfos indexes translated blocks by base address.
type TBInfos struct {
	m *treemap.Map
}

// NewTBInfos creates an empty index.
func NewTBInfos() *TBInfos {
	return &TBInfos{m: treemap.NewWith(utils.UInt64Comparator)}
}

// Add records tb unless a block with the same base is already known, in
// which case the existing record is returned.
func (t *TBInfos) Add(tb host.TB) *TBInfo {
	if v, ok := t.m.Get(tb.Vaddr()); ok {
		return v.(*TBInfo)
	}
	info := &TBInfo{
		Base:     tb.Vaddr(),
		Size:     host.ByteSize(tb),
		NumInsns: tb.NumInsns(),
		Disas:    Assembler(tb),
	}
	t.m.Put(info.Base, info)
	return info
}

// Get returns the record for base.
func (t *TBInfos) Get(base uint64) (*TBInfo, bool) {
	v, ok := t.m.Get(base)
	if !ok {
		return nil, false
	}
	return v.(*TBInfo), true
}

// Len returns the number of known blocks.
func (t *TBInfos) Len() int {
	return t.m.Size()
}

// List returns every record in address order.
func (t *TBInfos) List() []*TBInfo {
	out := make([]*TBInfo, 0, t.m.Size())
	t.m.Each(func(_ interface{}, v interface{}) {
		out = append(out, v.(*TBInfo))
	})
	return out
}

// Clear drops every record.
func (t *TBInfos) Clear() {
	t.m.Clear()
}
