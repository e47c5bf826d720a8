// Package hosttest provides a scripted in-process translation host for
// exercising the fault engine without an emulator.
//
// Guest programs are described instruction by instruction with Define.
// Blocks run from an entry address through consecutive defined
// instructions up to the first one with a Next function, or a single
// instruction while single-step mode is on. Translations are cached by
// start address until FlushCache.
package hosttest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/zboralski/faultplugin/internal/host"
)

// ErrLimit is returned by Run when the instruction budget runs out
// before the host is stopped.
var ErrLimit = errors.New("instruction limit reached")

// maxBlockInsns bounds block length when no branch ends it earlier.
const maxBlockInsns = 16

// Op defines a guest instruction.
type Op struct {
	Size uint64
	// Disas renders the translated bytes; defaults to a .word directive.
	Disas func(code []byte) string
	// Exec applies the instruction's effect using the bytes captured at
	// translation time.
	Exec func(h *Host, code []byte)
	// Next returns the address of the following instruction. An op with
	// Next ends its block.
	Next func(h *Host, code []byte) uint64
}

// Jump returns a Next function that always branches to target.
func Jump(target uint64) func(*Host, []byte) uint64 {
	return func(*Host, []byte) uint64 { return target }
}

type insnCallback struct {
	fn host.InsnExecFunc
	ud uint64
}

type blockCallback struct {
	fn host.BlockExecFunc
	ud uint64
}

type memCallback struct {
	fn host.MemAccessFunc
	ud uint64
}

type block struct {
	insns   []host.Insn
	code    [][]byte
	ops     []Op
	insnCbs [][]insnCallback
	memCbs  [][]memCallback
	execCbs []blockCallback
}

func (b *block) Vaddr() uint64        { return b.insns[0].Vaddr }
func (b *block) NumInsns() int        { return len(b.insns) }
func (b *block) Insn(i int) host.Insn { return b.insns[i] }

func (b *block) RegisterInsnExec(i int, fn host.InsnExecFunc, userdata uint64) {
	b.insnCbs[i] = append(b.insnCbs[i], insnCallback{fn, userdata})
}

func (b *block) RegisterExec(fn host.BlockExecFunc, userdata uint64) {
	b.execCbs = append(b.execCbs, blockCallback{fn, userdata})
}

func (b *block) RegisterMemAccess(i int, fn host.MemAccessFunc, userdata uint64) {
	b.memCbs[i] = append(b.memCbs[i], memCallback{fn, userdata})
}

type segment struct {
	base uint64
	data []byte
}

type cacheKey struct {
	pc     uint64
	single bool
}

// Host is a scripted implementation of host.Host.
type Host struct {
	arch      host.Arch
	segments  []*segment
	regs      map[int]uint64
	ops       map[uint64]Op
	translate host.TranslateFunc
	cache     map[cacheKey]*block

	singleStep bool
	stopped    bool
	flushGen   int
	cur        *block
	curIdx     int

	// Observations for tests.
	Flushes      int
	Translations []uint64
	Executed     []uint64
	Logs         []string
	StepModes    []bool
}

// New creates an empty host for arch.
func New(arch host.Arch) *Host {
	return &Host{
		arch:  arch,
		regs:  make(map[int]uint64),
		ops:   make(map[uint64]Op),
		cache: make(map[cacheKey]*block),
	}
}

// Map adds a zero-filled memory segment.
func (h *Host) Map(base, size uint64) {
	h.segments = append(h.segments, &segment{base: base, data: make([]byte, size)})
}

// Define places an instruction at addr. The instruction bytes themselves
// live in guest memory and must be mapped.
func (h *Host) Define(addr uint64, op Op) {
	if op.Size == 0 {
		op.Size = 4
	}
	h.ops[addr] = op
}

// SetBytes writes guest memory without going through callbacks.
func (h *Host) SetBytes(addr uint64, data []byte) {
	if err := h.WriteMemory(addr, data); err != nil {
		panic(err)
	}
}

// Bytes reads n bytes of guest memory.
func (h *Host) Bytes(addr uint64, n int) []byte {
	buf := make([]byte, n)
	if err := h.ReadMemory(addr, buf); err != nil {
		panic(err)
	}
	return buf
}

// Reg returns a register value, zero when never written.
func (h *Host) Reg(idx int) uint64 {
	return h.regs[idx]
}

// SetReg sets a register value.
func (h *Host) SetReg(idx int, val uint64) {
	h.regs[idx] = val
}

// SingleStep reports the current single-step mode.
func (h *Host) SingleStep() bool {
	return h.singleStep
}

// Stopped reports whether Stop was called.
func (h *Host) Stopped() bool {
	return h.stopped
}

// Load reads size bytes from guest memory on behalf of the executing
// instruction and fires its memory callbacks.
func (h *Host) Load(addr uint64, size int) uint64 {
	buf := make([]byte, 8)
	if err := h.ReadMemory(addr, buf[:size]); err != nil {
		panic(err)
	}
	h.fireMem(addr, size, false)
	return binary.LittleEndian.Uint64(buf)
}

// Store writes size bytes of val on behalf of the executing instruction.
func (h *Host) Store(addr uint64, size int, val uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, val)
	if err := h.WriteMemory(addr, buf[:size]); err != nil {
		panic(err)
	}
	h.fireMem(addr, size, true)
}

func (h *Host) fireMem(addr uint64, size int, store bool) {
	if h.cur == nil {
		return
	}
	info := host.MemInfo{SizeShift: uint8(bits.TrailingZeros(uint(size))), Store: store}
	for _, cb := range h.cur.memCbs[h.curIdx] {
		cb.fn(0, info, addr, cb.ud)
	}
}

// Run executes from entry until Stop is called, an undefined instruction
// is fetched, or limit instructions have run.
func (h *Host) Run(entry uint64, limit int) error {
	pc := entry
	n := 0
	for {
		b, err := h.lookup(pc)
		if err != nil {
			return err
		}
		if h.stopped {
			return nil
		}

		for i := range b.insns {
			if n >= limit {
				return ErrLimit
			}
			h.cur, h.curIdx = b, i
			for _, cb := range b.insnCbs[i] {
				cb.fn(0, cb.ud)
				if h.stopped {
					return nil
				}
			}

			insn := b.insns[i]
			op := b.ops[i]
			h.Executed = append(h.Executed, insn.Vaddr)
			if op.Exec != nil {
				op.Exec(h, b.code[i])
			}
			n++
			pc = insn.Vaddr + insn.Size
			if op.Next != nil {
				pc = op.Next(h, b.code[i])
			}
		}
		h.cur = nil

		for _, cb := range b.execCbs {
			cb.fn(0, cb.ud)
			if h.stopped {
				return nil
			}
		}
	}
}

func (h *Host) lookup(pc uint64) (*block, error) {
	key := cacheKey{pc: pc, single: h.singleStep}
	if b, ok := h.cache[key]; ok {
		return b, nil
	}

	b := &block{}
	addr := pc
	for {
		op, ok := h.ops[addr]
		if !ok {
			if len(b.insns) == 0 {
				return nil, fmt.Errorf("fetch undefined instruction at 0x%x", addr)
			}
			break
		}
		code := make([]byte, op.Size)
		if err := h.ReadMemory(addr, code); err != nil {
			return nil, fmt.Errorf("fetch 0x%x: %w", addr, err)
		}
		disas := fmt.Sprintf(".word 0x%x", code)
		if op.Disas != nil {
			disas = op.Disas(code)
		} else if len(code) == 4 {
			disas = fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(code))
		}

		b.insns = append(b.insns, host.Insn{Vaddr: addr, Size: op.Size, Disas: disas})
		b.code = append(b.code, code)
		b.ops = append(b.ops, op)
		addr += op.Size

		if h.singleStep || op.Next != nil || len(b.insns) == maxBlockInsns {
			break
		}
	}
	b.insnCbs = make([][]insnCallback, len(b.insns))
	b.memCbs = make([][]memCallback, len(b.insns))

	h.Translations = append(h.Translations, pc)
	gen := h.flushGen
	if h.translate != nil {
		h.translate(b)
	}
	// A flush issued during translation leaves this block uncached.
	if gen == h.flushGen {
		h.cache[key] = b
	}
	return b, nil
}

func (h *Host) Arch() host.Arch { return h.arch }

func (h *Host) OnTranslate(fn host.TranslateFunc) { h.translate = fn }

func (h *Host) ReadMemory(addr uint64, buf []byte) error {
	for i := range buf {
		p, err := h.byteAt(addr + uint64(i))
		if err != nil {
			return err
		}
		buf[i] = *p
	}
	return nil
}

func (h *Host) WriteMemory(addr uint64, buf []byte) error {
	for i, v := range buf {
		p, err := h.byteAt(addr + uint64(i))
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func (h *Host) byteAt(addr uint64) (*byte, error) {
	for _, s := range h.segments {
		if addr >= s.base && addr < s.base+uint64(len(s.data)) {
			return &s.data[addr-s.base], nil
		}
	}
	return nil, fmt.Errorf("unmapped address 0x%x", addr)
}

func (h *Host) ReadRegister(idx int) (uint64, error) {
	if !h.validReg(idx) {
		return 0, fmt.Errorf("invalid register %d", idx)
	}
	return h.regs[idx], nil
}

func (h *Host) WriteRegister(idx int, val uint64) error {
	if !h.validReg(idx) {
		return fmt.Errorf("invalid register %d", idx)
	}
	h.regs[idx] = val
	return nil
}

func (h *Host) validReg(idx int) bool {
	if h.arch.IsRISCV() {
		return idx >= 0 && idx <= host.RISCVRegPC
	}
	return (idx >= 0 && idx <= host.ARMRegPC) || idx == host.ARMRegXPSR
}

func (h *Host) FlushCache() {
	h.Flushes++
	h.flushGen++
	h.cache = make(map[cacheKey]*block)
}

func (h *Host) SetSingleStep(enabled bool) {
	h.singleStep = enabled
	h.StepModes = append(h.StepModes, enabled)
}

func (h *Host) Log(text string) { h.Logs = append(h.Logs, text) }

func (h *Host) Stop() { h.stopped = true }

// MemoryMap lists the mapped segments.
func (h *Host) MemoryMap() ([]host.Region, error) {
	regions := make([]host.Region, 0, len(h.segments))
	for _, s := range h.segments {
		regions = append(regions, host.Region{Base: s.base, Size: uint64(len(s.data))})
	}
	return regions, nil
}
