package plugin

import (
	"fmt"

	"github.com/zboralski/faultplugin/internal/engine"
	"github.com/zboralski/faultplugin/internal/fault"
	"github.com/zboralski/faultplugin/internal/wire"
)

// SessionConfig maps a control message onto the engine configuration.
// A non-positive max_duration disables the ceiling.
func SessionConfig(c *wire.Control) engine.Config {
	cfg := engine.Config{
		TBInfo:      c.TBInfo,
		TBExec:      c.TBExecList,
		TBExecRing:  c.TBExecListRingBuffer,
		MemInfo:     c.MemInfo,
		FullMemDump: c.FullMemDump,
	}
	if c.MaxDuration > 0 {
		cfg.MaxDuration = uint64(c.MaxDuration)
	}
	if c.HasStart {
		cfg.Start = &engine.Point{Address: c.StartAddress, HitCounter: c.StartCounter}
	}
	for _, e := range c.EndPoints {
		cfg.EndPoints = append(cfg.EndPoints, engine.Point{Address: e.Address, HitCounter: e.Counter})
	}
	for _, d := range c.MemoryDumps {
		cfg.MemDumps = append(cfg.MemDumps, engine.Range{Base: d.Address, Length: d.Length})
	}
	return cfg
}

// Catalog converts the fault pack into a catalog, in message order.
func Catalog(p *wire.FaultPack) (*fault.Catalog, error) {
	c := fault.NewCatalog()
	for i, wf := range p.Faults {
		f, err := Fault(wf)
		if err != nil {
			return nil, fmt.Errorf("fault %d: %w", i, err)
		}
		if err := c.Append(f); err != nil {
			return nil, fmt.Errorf("fault %d: %w", i, err)
		}
	}
	return c, nil
}

// Fault converts one wire descriptor.
func Fault(wf wire.Fault) (*fault.Fault, error) {
	kind, err := fault.ParseKind(wf.Type)
	if err != nil {
		return nil, err
	}
	model, err := fault.ParseModel(wf.Model)
	if err != nil {
		return nil, err
	}
	if wf.NumBytes > fault.MaskBytes {
		return nil, fmt.Errorf("%w: %d", fault.ErrNumBytes, wf.NumBytes)
	}
	return &fault.Fault{
		Kind:     kind,
		Address:  wf.Address,
		Model:    model,
		Mask:     fault.MaskFromWords(wf.MaskLower, wf.MaskUpper),
		NumBytes: int(wf.NumBytes),
		Lifetime: wf.Lifespan,
		Trigger:  fault.Trigger{Address: wf.TriggerAddress, HitCounter: wf.TriggerHitcounter},
	}, nil
}

// Architecture tags carried by register_info.arch_type.
const (
	ArchTypeARM   = 0
	ArchTypeRISCV = 1
)

// Encode builds the data message for a report.
func Encode(r *engine.Report) *wire.Data {
	d := &wire.Data{EndReason: r.Reason}
	if r.EndPoint {
		d.EndPoint = 1
	}

	for _, tb := range r.TBInfos {
		d.TBInformations = append(d.TBInformations, wire.TBInformation{
			BaseAddress:      tb.Base,
			Size:             tb.Size,
			InstructionCount: uint64(tb.NumInsns),
			NumOfExec:        tb.ExecCount,
			Assembler:        tb.Disas,
		})
	}
	for _, e := range r.ExecLog {
		d.TBExecOrders = append(d.TBExecOrders, wire.TBExecOrder{TBBaseAddress: e.Base, Pos: e.Pos})
	}
	for _, m := range r.MemAccesses {
		mi := wire.MemInfo{
			InsAddress:    m.Insn,
			Size:          uint64(m.SizeShift),
			MemoryAddress: m.Data,
			Counter:       m.Count,
		}
		if m.Store {
			mi.Direction = 1
		}
		d.MemInfos = append(d.MemInfos, mi)
	}

	ri := &wire.RegisterInfo{ArchType: ArchTypeARM}
	if r.Arch.IsRISCV() {
		ri.ArchType = ArchTypeRISCV
	}
	for _, rd := range r.RegDumps {
		ri.RegisterDumps = append(ri.RegisterDumps, wire.RegisterDump{
			RegisterValues: rd.Regs,
			PC:             rd.PC,
			TBCount:        rd.TBCount,
		})
	}
	d.RegisterInfo = ri

	for _, f := range r.Faulted {
		d.FaultedDatas = append(d.FaultedDatas, wire.FaultedData{TriggerAddress: f.Trigger, Assembler: f.Disas})
	}
	for _, md := range r.MemDumps {
		d.MemDumpInfos = append(d.MemDumpInfos, wire.MemDumpInfo{
			Address: md.Base,
			Len:     md.Length,
			Dumps:   md.Snapshots,
		})
	}
	for _, mm := range r.MemMap {
		d.MemMapInfos = append(d.MemMapInfos, wire.MemMapInfo{Address: mm.Base, Size: mm.Size})
	}
	return d
}
