package emulator

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"github.com/zboralski/faultplugin/internal/machine"
	"go.uber.org/zap"
)

// FromMachine creates an emulator for m, maps and fills its memory, sets
// its registers and returns it with the entry address.
func FromMachine(m *machine.Machine, logger *log.Logger) (*Emulator, uint64, error) {
	e, err := New(m.GuestArch(), logger)
	if err != nil {
		return nil, 0, err
	}
	entry, err := e.Load(m)
	if err != nil {
		e.Close()
		return nil, 0, err
	}
	return e, entry, nil
}

// Load applies a machine description and returns the entry address.
func (e *Emulator) Load(m *machine.Machine) (uint64, error) {
	regions := append([]machine.Region(nil), m.Regions...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })

	for _, r := range regions {
		if err := e.MapRegion(r.Base, r.Size); err != nil {
			return 0, fmt.Errorf("map %s (0x%x): %w", r.Name, r.Base, err)
		}
		if r.Image == "" {
			continue
		}
		data, err := os.ReadFile(r.Image)
		if err != nil {
			return 0, fmt.Errorf("region %s: %w", r.Name, err)
		}
		if uint64(len(data)) > r.Size {
			return 0, fmt.Errorf("region %s: image is %d bytes, region %d", r.Name, len(data), r.Size)
		}
		if err := e.WriteMemory(r.Base, data); err != nil {
			return 0, fmt.Errorf("region %s: %w", r.Name, err)
		}
		e.log.Debug("image loaded", zap.String("region", r.Name), log.Addr(r.Base), zap.Int("bytes", len(data)))
	}

	var entry uint64
	var haveEntry bool
	if m.ELF != "" {
		info, err := e.LoadELF(m.ELF)
		if err != nil {
			return 0, err
		}
		entry, haveEntry = info.Entry, true
		if len(regions) == 0 {
			regions = append(regions, machine.Region{Base: info.Segments[0].VAddr})
		}
	}

	if e.arch == host.ArchARM && !haveEntry && m.Entry == nil {
		sp, pc, err := e.resetVector(regions[0].Base)
		if err != nil {
			return 0, err
		}
		if err := e.WriteRegister(13, sp); err != nil {
			return 0, err
		}
		entry, haveEntry = pc, true
	}
	if m.Entry != nil {
		entry, haveEntry = *m.Entry, true
	}
	if !haveEntry {
		entry = regions[0].Base
	}
	// Thumb state lives in the low bit, the PC itself is half-word aligned.
	if e.arch == host.ArchARM {
		entry &^= 1
	}

	names := make([]string, 0, len(m.Registers))
	for name := range m.Registers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		idx, err := machine.RegisterIndex(e.arch, name)
		if err != nil {
			return 0, err
		}
		if err := e.WriteRegister(idx, m.Registers[name]); err != nil {
			return 0, fmt.Errorf("set %s: %w", name, err)
		}
	}

	e.log.Info("machine loaded", zap.String("arch", string(e.arch)), log.Addr(entry), zap.Int("regions", len(m.Regions)))
	return entry, nil
}

// resetVector reads the initial SP and PC of a Cortex-M vector table.
func (e *Emulator) resetVector(base uint64) (sp, pc uint64, err error) {
	buf := make([]byte, 8)
	if err := e.ReadMemory(base, buf); err != nil {
		return 0, 0, fmt.Errorf("reset vector: %w", err)
	}
	return uint64(binary.LittleEndian.Uint32(buf)), uint64(binary.LittleEndian.Uint32(buf[4:])), nil
}
