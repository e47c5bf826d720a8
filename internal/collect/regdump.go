package collect

import (
	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

// RegReader reads guest registers.
type RegReader interface {
	ReadRegister(idx int) (uint64, error)
}

// RegisterDump is one snapshot of the architectural registers. TBCount
// carries the correlation token: the block counter at termination or the
// trigger slot of an injection.
type RegisterDump struct {
	PC      uint64
	TBCount uint64
	Regs    []uint64
}

// RegDumps keeps register snapshots.
type RegDumps struct {
	arch  host.Arch
	regs  RegReader
	dumps []RegisterDump
	log   *log.Logger
}

// NewRegDumps creates an empty store for arch.
func NewRegDumps(arch host.Arch, regs RegReader, logger *log.Logger) *RegDumps {
	if logger == nil {
		logger = log.NewNop()
	}
	return &RegDumps{arch: arch, regs: regs, log: logger}
}

// Arch returns the architecture the dumps were taken on.
func (d *RegDumps) Arch() host.Arch {
	return d.arch
}

// Capture reads the architecture's register set and records it.
func (d *RegDumps) Capture(tbCount uint64) RegisterDump {
	idx := d.arch.DumpRegisters()
	dump := RegisterDump{TBCount: tbCount, Regs: make([]uint64, len(idx))}
	for i, reg := range idx {
		v, err := d.regs.ReadRegister(reg)
		if err != nil {
			d.log.Warn("register dump read failed", zap.Int("reg", reg), zap.Error(err))
			continue
		}
		dump.Regs[i] = v
		if reg == d.arch.PCRegister() {
			dump.PC = v
		}
	}
	d.dumps = append(d.dumps, dump)
	return dump
}

// Dumps returns the snapshots newest first.
func (d *RegDumps) Dumps() []RegisterDump {
	out := make([]RegisterDump, len(d.dumps))
	for i, dump := range d.dumps {
		out[len(d.dumps)-1-i] = dump
	}
	return out
}

// Len returns the number of snapshots.
func (d *RegDumps) Len() int {
	return len(d.dumps)
}

// Clear drops every snapshot.
func (d *RegDumps) Clear() {
	d.dumps = nil
}
