package collect

import (
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

// MemReader reads guest memory.
type MemReader interface {
	ReadMemory(addr uint64, buf []byte) error
}

// MemRegion is a configured dump range and the snapshots taken of it.
type MemRegion struct {
	Base      uint64
	Length    uint64
	Snapshots [][]byte
}

// MemDumps keeps the configured dump regions.
type MemDumps struct {
	mem     MemReader
	regions []*MemRegion
	log     *log.Logger
}

// NewMemDumps creates an empty store reading through mem.
func NewMemDumps(mem MemReader, logger *log.Logger) *MemDumps {
	if logger == nil {
		logger = log.NewNop()
	}
	return &MemDumps{mem: mem, log: logger}
}

// Configure reserves a region. Configuring the same base and length
// twice returns the existing region.
func (d *MemDumps) Configure(base, length uint64) *MemRegion {
	for _, r := range d.regions {
		if r.Base == base && r.Length == length {
			return r
		}
	}
	r := &MemRegion{Base: base, Length: length}
	d.regions = append(d.regions, r)
	return r
}

// SnapshotAll appends a fresh snapshot to every region.
func (d *MemDumps) SnapshotAll() {
	for _, r := range d.regions {
		d.snapshot(r)
	}
}

// SnapshotAt appends a snapshot to every region based at base.
func (d *MemDumps) SnapshotAt(base uint64) {
	for _, r := range d.regions {
		if r.Base == base {
			d.snapshot(r)
		}
	}
}

func (d *MemDumps) snapshot(r *MemRegion) {
	buf := make([]byte, r.Length)
	if err := d.mem.ReadMemory(r.Base, buf); err != nil {
		d.log.Warn("memory dump read failed", log.Addr(r.Base), log.Size(r.Length), zap.Error(err))
		return
	}
	r.Snapshots = append(r.Snapshots, buf)
}

// Regions returns the regions in configuration order.
func (d *MemDumps) Regions() []*MemRegion {
	return d.regions
}

// Clear drops every region.
func (d *MemDumps) Clear() {
	d.regions = nil
}
