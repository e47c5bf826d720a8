package emulator

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/zboralski/faultplugin/internal/host"
)

// PageSize is the mapping granularity Unicorn requires.
const PageSize = 0x1000

// ELFInfo contains parsed ELF metadata
type ELFInfo struct {
	Path     string
	Machine  elf.Machine
	Entry    uint64
	Segments []Segment
}

// Segment represents a loadable ELF segment
type Segment struct {
	VAddr uint64
	Size  uint64 // File size
	MemSz uint64 // Memory size (may be larger due to .bss)
	Data  []byte
}

func elfMachine(arch host.Arch) (elf.Machine, elf.Class) {
	switch arch {
	case host.ArchRISCV32:
		return elf.EM_RISCV, elf.ELFCLASS32
	case host.ArchRISCV64:
		return elf.EM_RISCV, elf.ELFCLASS64
	}
	return elf.EM_ARM, elf.ELFCLASS32
}

// LoadELF maps the PT_LOAD segments of an ELF file for the emulator's
// architecture and writes their contents. Segments may fall inside
// regions that are already mapped.
func (e *Emulator) LoadELF(path string) (*ELFInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF: %w", err)
	}
	defer f.Close()

	machine, class := elfMachine(e.arch)
	if f.Machine != machine || f.Class != class {
		return nil, fmt.Errorf("expected %v %v for %s, got %v %v", machine, class, e.arch, f.Machine, f.Class)
	}

	info := &ELFInfo{
		Path:    path,
		Machine: f.Machine,
		Entry:   f.Entry,
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		seg := Segment{
			VAddr: prog.Paddr,
			Size:  prog.Filesz,
			MemSz: prog.Memsz,
		}
		// Firmware images link the load address in p_paddr; fall back to
		// p_vaddr when it is not set.
		if seg.VAddr == 0 {
			seg.VAddr = prog.Vaddr
		}
		if prog.Filesz > 0 {
			if prog.Off+prog.Filesz > uint64(len(fileData)) {
				return nil, fmt.Errorf("segment at 0x%x extends past end of file", seg.VAddr)
			}
			seg.Data = fileData[prog.Off : prog.Off+prog.Filesz]
		}
		info.Segments = append(info.Segments, seg)

		alignedAddr := seg.VAddr &^ (PageSize - 1)
		alignedEnd := (seg.VAddr + seg.MemSz + PageSize - 1) &^ (PageSize - 1)
		// Map memory (ignore error if already mapped)
		_ = e.MapRegion(alignedAddr, alignedEnd-alignedAddr)

		if len(seg.Data) > 0 {
			if err := e.WriteMemory(seg.VAddr, seg.Data); err != nil {
				return nil, fmt.Errorf("write segment at 0x%x: %w", seg.VAddr, err)
			}
		}
		// Zero out .bss portion (memory size > file size)
		if seg.MemSz > seg.Size {
			if err := e.WriteMemory(seg.VAddr+seg.Size, make([]byte, seg.MemSz-seg.Size)); err != nil {
				return nil, fmt.Errorf("zero bss at 0x%x: %w", seg.VAddr+seg.Size, err)
			}
		}
	}
	if len(info.Segments) == 0 {
		return nil, fmt.Errorf("no PT_LOAD segments found")
	}
	return info, nil
}
