// Package emulator implements the fault engine's host on Unicorn Engine
// for Cortex-M (Thumb) and RISC-V guests.
package emulator

import (
	"fmt"
	"io"
	"math/bits"
	"os"
	"strings"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"github.com/zboralski/faultplugin/internal/disas"
	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

// MaxBlockInsns caps a virtual block when Unicorn reports no extent.
const MaxBlockInsns = 512

type extent struct {
	base uint64
	size uint64
}

func (x extent) contains(addr uint64) bool {
	return addr >= x.base && addr < x.base+x.size
}

// Emulator drives a Unicorn instance and exposes it as a host.Host.
type Emulator struct {
	mu   uc.Unicorn
	arch host.Arch
	log  *log.Logger
	out  io.Writer

	translate  host.TranslateFunc
	singleStep bool
	cache      map[cacheKey]*block
	gen        uint64

	// Unicorn block the next instructions belong to.
	pending extent
	// Virtual block being executed and the index of its current insn.
	cur    *block
	curIdx int

	stopped bool
	insns   uint64

	// Unicorn compiles guest code into its own blocks. A flush marks them
	// stale; while running, the current start is ended after the
	// running instruction's callbacks and resumed on fresh code.
	running   bool
	tbStale   bool
	restart   bool
	restartAt uint64
	// The instruction at resumePC already had its callbacks run.
	resumePC    uint64
	resumeValid bool
}

// New creates an emulator for arch.
func New(arch host.Arch, logger *log.Logger) (*Emulator, error) {
	if _, err := host.ParseArch(string(arch)); err != nil {
		return nil, err
	}
	ucArch, mode := uc.ARCH_ARM, uc.MODE_THUMB|uc.MODE_MCLASS
	switch arch {
	case host.ArchRISCV32:
		ucArch, mode = uc.ARCH_RISCV, uc.MODE_RISCV32
	case host.ArchRISCV64:
		ucArch, mode = uc.ARCH_RISCV, uc.MODE_RISCV64
	}
	mu, err := uc.NewUnicorn(ucArch, mode)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	e := &Emulator{
		mu:    mu,
		arch:  arch,
		log:   logger.WithCategory("emulator"),
		out:   os.Stderr,
		cache: make(map[cacheKey]*block),
	}
	if err := e.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}
	return e, nil
}

// SetOutput redirects the host text sink.
func (e *Emulator) SetOutput(w io.Writer) {
	e.out = w
}

func (e *Emulator) setupHooks() error {
	if _, err := e.mu.HookAdd(uc.HOOK_BLOCK, func(mu uc.Unicorn, addr uint64, size uint32) {
		e.pending = extent{base: addr, size: uint64(size)}
	}, 1, 0); err != nil {
		return fmt.Errorf("hook block: %w", err)
	}

	if _, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		e.onCode(addr, size)
	}, 1, 0); err != nil {
		return fmt.Errorf("hook code: %w", err)
	}

	if _, err := e.mu.HookAdd(uc.HOOK_MEM_READ|uc.HOOK_MEM_WRITE, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
		e.onMem(access == uc.MEM_WRITE, addr, size)
	}, 1, 0); err != nil {
		return fmt.Errorf("hook mem: %w", err)
	}
	return nil
}

func (e *Emulator) onCode(addr uint64, size uint32) {
	if e.stopped || e.restart {
		e.mu.Stop()
		return
	}
	if e.resumeValid {
		e.resumeValid = false
		if addr == e.resumePC {
			return
		}
	}
	e.insns++
	defer e.requestRestart(addr)

	b, idx := e.cur, -1
	if b != nil && b.gen == e.gen {
		if next := e.curIdx + 1; next < len(b.insns) && b.insns[next].Vaddr == addr {
			idx = next
		}
	}
	if idx < 0 {
		b = e.lookup(addr, size)
		idx = b.index(addr)
	}
	e.cur, e.curIdx = b, idx

	for _, h := range b.insnCB[idx] {
		h.fn(0, h.userdata)
		if e.stopped {
			return
		}
	}
	if idx == len(b.insns)-1 {
		for _, h := range b.execCB {
			h.fn(0, h.userdata)
			if e.stopped {
				return
			}
		}
	}
}

// requestRestart stops Unicorn once a flush happened during addr's
// callbacks, so addr and everything after it run from recompiled code.
func (e *Emulator) requestRestart(addr uint64) {
	if !e.tbStale || !e.running || e.stopped {
		return
	}
	e.restart = true
	e.restartAt = addr
	e.mu.Stop()
}

func (e *Emulator) onMem(store bool, addr uint64, size int) {
	b := e.cur
	if b == nil || e.stopped || e.curIdx < 0 {
		return
	}
	info := host.MemInfo{SizeShift: uint8(bits.TrailingZeros(uint(size))), Store: store}
	for _, h := range b.memCB[e.curIdx] {
		h.fn(0, info, addr, h.userdata)
	}
}

// lookup returns the cached block at pc or translates a new one.
func (e *Emulator) lookup(pc uint64, size uint32) *block {
	key := cacheKey{pc: pc, single: e.singleStep}
	if b, ok := e.cache[key]; ok {
		return b
	}

	gen := e.gen
	b := newBlock(e.decode(pc, size), gen)
	if e.translate != nil {
		e.translate(b)
	}
	// A flush while translating leaves the block usable once but uncached.
	if e.gen == gen {
		e.cache[key] = b
	} else {
		b.gen = e.gen
	}
	return b
}

// decode splits the Unicorn block holding pc into instructions starting
// at pc. In single-step mode only the first instruction is kept.
func (e *Emulator) decode(pc uint64, size uint32) []host.Insn {
	first := e.insnAt(pc, uint64(size))
	insns := []host.Insn{first}
	if e.singleStep || !e.pending.contains(pc) {
		return insns
	}
	end := e.pending.base + e.pending.size
	for addr := pc + first.Size; addr < end && len(insns) < MaxBlockInsns; {
		in := e.insnAt(addr, 0)
		if addr+in.Size > end {
			break
		}
		insns = append(insns, in)
		addr += in.Size
	}
	return insns
}

func (e *Emulator) insnAt(addr, size uint64) host.Insn {
	code, err := e.mu.MemRead(addr, disas.MaxLen)
	if err != nil {
		// Tail of a region: fall back to the shortest encoding.
		code, err = e.mu.MemRead(addr, 2)
	}
	if err != nil {
		if size == 0 {
			size = 2
		}
		return host.Insn{Vaddr: addr, Size: size, Disas: "???"}
	}
	n := uint64(disas.Length(e.arch, code))
	if size == 0 {
		size = n
	}
	return host.Insn{Vaddr: addr, Size: size, Disas: disas.Text(e.arch, addr, code)}
}

// Close releases the Unicorn instance.
func (e *Emulator) Close() error {
	return e.mu.Close()
}

// MapRegion maps guest memory.
func (e *Emulator) MapRegion(addr, size uint64) error {
	return e.mu.MemMap(addr, size)
}

// Run starts execution at entry and returns when the session stops the
// host, the guest faults or limit instructions ran (0 is unlimited).
func (e *Emulator) Run(entry, limit uint64) error {
	e.stopped = false
	e.running = true
	defer func() { e.running = false }()

	pc := entry
	for {
		if e.tbStale {
			if err := flushTB(e.mu); err != nil {
				return fmt.Errorf("flush translated code: %w", err)
			}
			e.tbStale = false
		}
		var count uint64
		if limit > 0 {
			if e.insns >= limit {
				return nil
			}
			count = limit - e.insns
		}
		begin := pc
		if e.arch == host.ArchARM {
			begin |= 1
		}

		e.restart = false
		// Use 0 as end address to run until stop
		err := e.mu.StartWithOptions(begin, 0, &uc.UcOptions{Count: count})
		if e.stopped {
			return nil
		}
		if err != nil {
			pc, _ := e.ReadRegister(e.arch.PCRegister())
			return fmt.Errorf("emulation stopped at 0x%x: %w", pc, err)
		}
		if !e.restart {
			return nil
		}

		pc, err = e.ReadRegister(e.arch.PCRegister())
		if err != nil {
			return err
		}
		if e.arch == host.ArchARM {
			pc &^= 1
		}
		// Unicorn may or may not have retired the stopped instruction.
		e.resumePC, e.resumeValid = pc, pc == e.restartAt
		e.log.Debug("restart on flushed code", log.Addr(pc), zap.Bool("resume", e.resumeValid))
	}
}

// Instructions returns the number of instructions executed so far.
func (e *Emulator) Instructions() uint64 {
	return e.insns
}

// Arch implements host.Host.
func (e *Emulator) Arch() host.Arch {
	return e.arch
}

// OnTranslate implements host.Host.
func (e *Emulator) OnTranslate(fn host.TranslateFunc) {
	e.translate = fn
}

// ReadMemory implements host.Host.
func (e *Emulator) ReadMemory(addr uint64, buf []byte) error {
	data, err := e.mu.MemRead(addr, uint64(len(buf)))
	if err != nil {
		return fmt.Errorf("read 0x%x/%d: %w", addr, len(buf), err)
	}
	copy(buf, data)
	return nil
}

// WriteMemory implements host.Host.
func (e *Emulator) WriteMemory(addr uint64, buf []byte) error {
	if err := e.mu.MemWrite(addr, buf); err != nil {
		return fmt.Errorf("write 0x%x/%d: %w", addr, len(buf), err)
	}
	return nil
}

// ReadRegister implements host.Host.
func (e *Emulator) ReadRegister(idx int) (uint64, error) {
	reg, err := e.ucReg(idx)
	if err != nil {
		return 0, err
	}
	v, err := e.mu.RegRead(reg)
	if err != nil {
		return 0, err
	}
	if e.arch == host.ArchARM || e.arch == host.ArchRISCV32 {
		v &= 0xffffffff
	}
	return v, nil
}

// WriteRegister implements host.Host.
func (e *Emulator) WriteRegister(idx int, val uint64) error {
	reg, err := e.ucReg(idx)
	if err != nil {
		return err
	}
	return e.mu.RegWrite(reg, val)
}

func (e *Emulator) ucReg(idx int) (int, error) {
	if e.arch.IsRISCV() {
		switch {
		case idx >= 0 && idx < 32:
			return uc.RISCV_REG_X0 + idx, nil
		case idx == host.RISCVRegPC:
			return uc.RISCV_REG_PC, nil
		}
		return 0, fmt.Errorf("invalid riscv register %d", idx)
	}
	switch {
	case idx >= 0 && idx <= 12:
		return uc.ARM_REG_R0 + idx, nil
	case idx == 13:
		return uc.ARM_REG_SP, nil
	case idx == 14:
		return uc.ARM_REG_LR, nil
	case idx == host.ARMRegPC:
		return uc.ARM_REG_PC, nil
	case idx == host.ARMRegXPSR:
		return uc.ARM_REG_XPSR, nil
	}
	return 0, fmt.Errorf("invalid arm register %d", idx)
}

// FlushCache implements host.Host. Blocks translated so far are dropped
// and the current block is abandoned after the running instruction.
// Unicorn's compiled code is dropped before execution continues.
func (e *Emulator) FlushCache() {
	e.cache = make(map[cacheKey]*block)
	e.gen++
	e.tbStale = true
	e.log.Debug("flush", zap.Uint64("gen", e.gen))
}

// SetSingleStep implements host.Host.
func (e *Emulator) SetSingleStep(enabled bool) {
	e.singleStep = enabled
}

// Log implements host.Host.
func (e *Emulator) Log(text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	io.WriteString(e.out, text)
}

// Stop implements host.Host. It is safe to call from any callback.
func (e *Emulator) Stop() {
	e.stopped = true
	e.mu.Stop()
}

// MemoryMap implements host.MemoryMapper.
func (e *Emulator) MemoryMap() ([]host.Region, error) {
	regions, err := e.mu.MemRegions()
	if err != nil {
		return nil, err
	}
	out := make([]host.Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, host.Region{Base: r.Begin, Size: r.End - r.Begin + 1})
	}
	return out, nil
}
