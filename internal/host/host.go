// Package host defines the capabilities the fault engine needs from a
// dynamic binary translation host.
package host

import (
	"errors"
	"fmt"
)

// Arch names a guest architecture as reported by the host.
type Arch string

const (
	ArchARM     Arch = "arm"
	ArchRISCV32 Arch = "riscv32"
	ArchRISCV64 Arch = "riscv64"
)

// ErrArch is returned for architectures the engine does not support.
var ErrArch = errors.New("unsupported architecture")

// ParseArch validates a host-reported architecture name.
func ParseArch(name string) (Arch, error) {
	switch a := Arch(name); a {
	case ArchARM, ArchRISCV32, ArchRISCV64:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrArch, name)
}

// IsRISCV reports whether the architecture is one of the RISC-V variants.
func (a Arch) IsRISCV() bool {
	return a == ArchRISCV32 || a == ArchRISCV64
}

// Register indices in the architecture-specific numbering used by
// register faults and register dumps.
const (
	ARMRegPC   = 15
	ARMRegXPSR = 25

	RISCVRegPC = 32
)

// DumpRegisters returns the register indices captured by a register dump:
// r0..r15 and xPSR on ARM, x0..x31 and pc on RISC-V.
func (a Arch) DumpRegisters() []int {
	if a.IsRISCV() {
		regs := make([]int, 33)
		for i := range regs {
			regs[i] = i
		}
		return regs
	}
	regs := make([]int, 17)
	for i := 0; i < 16; i++ {
		regs[i] = i
	}
	regs[16] = ARMRegXPSR
	return regs
}

// PCRegister returns the register index of the program counter.
func (a Arch) PCRegister() int {
	if a.IsRISCV() {
		return RISCVRegPC
	}
	return ARMRegPC
}

// Insn describes one guest instruction of a translated block.
type Insn struct {
	Vaddr uint64
	Size  uint64
	Disas string
}

// Contains reports whether addr lies within the instruction's bytes.
func (i Insn) Contains(addr uint64) bool {
	return addr >= i.Vaddr && addr < i.Vaddr+i.Size
}

// MemInfo is the access descriptor delivered to memory callbacks.
type MemInfo struct {
	SizeShift uint8
	Store     bool
}

// InsnExecFunc runs before the instruction it is attached to executes.
type InsnExecFunc func(vcpu uint, userdata uint64)

// BlockExecFunc runs once per execution of the block it is attached to.
type BlockExecFunc func(vcpu uint, userdata uint64)

// MemAccessFunc runs for every load or store performed by an instruction.
type MemAccessFunc func(vcpu uint, info MemInfo, vaddr uint64, userdata uint64)

// TB is a freshly translated block handed to the translate callback.
// Callbacks registered on it stay with this translation until the host
// discards it.
type TB interface {
	Vaddr() uint64
	NumInsns() int
	Insn(i int) Insn
	RegisterInsnExec(i int, fn InsnExecFunc, userdata uint64)
	RegisterExec(fn BlockExecFunc, userdata uint64)
	RegisterMemAccess(i int, fn MemAccessFunc, userdata uint64)
}

// TranslateFunc is invoked for every newly translated block.
type TranslateFunc func(tb TB)

// Host is the emulator the engine rides on.
type Host interface {
	Arch() Arch
	OnTranslate(fn TranslateFunc)
	ReadMemory(addr uint64, buf []byte) error
	WriteMemory(addr uint64, buf []byte) error
	ReadRegister(idx int) (uint64, error)
	WriteRegister(idx int, val uint64) error
	FlushCache()
	SetSingleStep(enabled bool)
	Log(text string)
	// Stop ends guest execution once the current callback returns.
	Stop()
}

// Region is a mapped guest memory range.
type Region struct {
	Base uint64
	Size uint64
}

// MemoryMapper is implemented by hosts that can enumerate guest memory.
type MemoryMapper interface {
	MemoryMap() ([]Region, error)
}

// LogWriter adapts a Host's text sink to io.Writer.
type LogWriter struct {
	Host Host
}

func (w LogWriter) Write(p []byte) (int, error) {
	w.Host.Log(string(p))
	return len(p), nil
}
