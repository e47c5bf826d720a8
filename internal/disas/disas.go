// Package disas decodes instruction lengths and renders instruction text
// for the guest architectures.
package disas

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/knightsc/gapstone"
	"github.com/zboralski/faultplugin/internal/host"
	"golang.org/x/arch/riscv64/riscv64asm"
)

// MaxLen is the longest instruction on any supported guest.
const MaxLen = 4

// Length returns the size of the instruction at the start of code, or 0
// when code is too short to tell.
func Length(arch host.Arch, code []byte) int {
	if len(code) < 2 {
		return 0
	}
	hw := binary.LittleEndian.Uint16(code)
	if arch.IsRISCV() {
		// Bits [1:0] == 11 mark a 32-bit encoding, anything else is RVC.
		if hw&0x3 == 0x3 {
			return 4
		}
		return 2
	}
	// Thumb-2: a first halfword of 0b11101, 0b11110 or 0b11111 starts a
	// 32-bit instruction.
	if hw>>11 >= 0x1d {
		return 4
	}
	return 2
}

// Capstone handles are not safe for concurrent use.
var thumb struct {
	once sync.Once
	mu   sync.Mutex
	cs   *gapstone.Engine
	err  error
}

func thumbEngine() (*gapstone.Engine, error) {
	thumb.once.Do(func() {
		engine, err := gapstone.New(gapstone.CS_ARCH_ARM, gapstone.CS_MODE_THUMB|gapstone.CS_MODE_MCLASS)
		if err != nil {
			thumb.err = fmt.Errorf("capstone: %w", err)
			return
		}
		thumb.cs = &engine
	})
	return thumb.cs, thumb.err
}

// Text renders the instruction at addr whose bytes start code.
// Undecodable words are shown as raw encodings.
func Text(arch host.Arch, addr uint64, code []byte) string {
	n := Length(arch, code)
	if n == 0 || len(code) < n {
		return "???"
	}
	code = code[:n]
	if arch.IsRISCV() {
		if inst, err := riscv64asm.Decode(code); err == nil {
			return riscv64asm.GNUSyntax(inst)
		}
		return raw(arch, code)
	}

	cs, err := thumbEngine()
	if err != nil {
		return raw(arch, code)
	}
	thumb.mu.Lock()
	insns, err := cs.Disasm(code, addr, 1)
	thumb.mu.Unlock()
	if err != nil || len(insns) == 0 {
		return raw(arch, code)
	}
	return strings.TrimSpace(insns[0].Mnemonic + " " + insns[0].OpStr)
}

func raw(arch host.Arch, code []byte) string {
	if arch.IsRISCV() {
		if len(code) == 2 {
			return fmt.Sprintf(".half 0x%04x", binary.LittleEndian.Uint16(code))
		}
		return fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(code))
	}
	if len(code) == 2 {
		return fmt.Sprintf(".inst.n 0x%04x", binary.LittleEndian.Uint16(code))
	}
	// 32-bit Thumb is two halfwords, high one first.
	hi := uint32(binary.LittleEndian.Uint16(code))
	lo := uint32(binary.LittleEndian.Uint16(code[2:]))
	return fmt.Sprintf(".inst.w 0x%08x", hi<<16|lo)
}
