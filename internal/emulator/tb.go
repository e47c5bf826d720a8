package emulator

import "github.com/zboralski/faultplugin/internal/host"

type insnHook struct {
	fn       host.InsnExecFunc
	userdata uint64
}

type memHook struct {
	fn       host.MemAccessFunc
	userdata uint64
}

type blockHook struct {
	fn       host.BlockExecFunc
	userdata uint64
}

// block is a virtual translation block: a run of instructions inside one
// Unicorn block, or a single instruction in single-step mode.
type block struct {
	insns  []host.Insn
	insnCB [][]insnHook
	memCB  [][]memHook
	execCB []blockHook
	gen    uint64
}

func newBlock(insns []host.Insn, gen uint64) *block {
	return &block{
		insns:  insns,
		insnCB: make([][]insnHook, len(insns)),
		memCB:  make([][]memHook, len(insns)),
		gen:    gen,
	}
}

func (b *block) Vaddr() uint64        { return b.insns[0].Vaddr }
func (b *block) NumInsns() int        { return len(b.insns) }
func (b *block) Insn(i int) host.Insn { return b.insns[i] }

func (b *block) RegisterInsnExec(i int, fn host.InsnExecFunc, userdata uint64) {
	b.insnCB[i] = append(b.insnCB[i], insnHook{fn, userdata})
}

func (b *block) RegisterExec(fn host.BlockExecFunc, userdata uint64) {
	b.execCB = append(b.execCB, blockHook{fn, userdata})
}

func (b *block) RegisterMemAccess(i int, fn host.MemAccessFunc, userdata uint64) {
	b.memCB[i] = append(b.memCB[i], memHook{fn, userdata})
}

func (b *block) index(addr uint64) int {
	for i, in := range b.insns {
		if in.Vaddr == addr {
			return i
		}
	}
	return -1
}

type cacheKey struct {
	pc     uint64
	single bool
}
