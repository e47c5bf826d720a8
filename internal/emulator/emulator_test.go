package emulator

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/zboralski/faultplugin/internal/engine"
	"github.com/zboralski/faultplugin/internal/fault"
	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/machine"
)

// RV32 loop: addi a0,a0,1; sw a0,0(a1); j 0x1000
var rvLoop = []uint32{0x00150513, 0x00a5a023, 0xff9ff06f}

const (
	codeBase = 0x1000
	dataBase = 0x2000
)

func newEmu(t *testing.T, arch host.Arch) *Emulator {
	t.Helper()
	e, err := New(arch, nil)
	if err != nil {
		t.Skipf("unicorn unavailable: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func loadRVLoop(t *testing.T, e *Emulator) {
	t.Helper()
	if err := e.MapRegion(codeBase, PageSize); err != nil {
		t.Fatal(err)
	}
	if err := e.MapRegion(dataBase, PageSize); err != nil {
		t.Fatal(err)
	}
	code := make([]byte, 4*len(rvLoop))
	for i, w := range rvLoop {
		binary.LittleEndian.PutUint32(code[4*i:], w)
	}
	if err := e.WriteMemory(codeBase, code); err != nil {
		t.Fatal(err)
	}
	if err := e.WriteRegister(11, dataBase); err != nil {
		t.Fatal(err)
	}
}

func TestBlocksAndCallbacks(t *testing.T) {
	e := newEmu(t, host.ArchRISCV32)
	loadRVLoop(t, e)

	var tbs []host.TB
	var executed []uint64
	var stores []uint64
	var blockEnds int
	e.OnTranslate(func(tb host.TB) {
		tbs = append(tbs, tb)
		for i := 0; i < tb.NumInsns(); i++ {
			addr := tb.Insn(i).Vaddr
			tb.RegisterInsnExec(i, func(uint, uint64) {
				executed = append(executed, addr)
				if len(executed) == 6 {
					e.Stop()
				}
			}, 0)
			tb.RegisterMemAccess(i, func(_ uint, info host.MemInfo, vaddr, _ uint64) {
				if info.Store && info.SizeShift == 2 {
					stores = append(stores, vaddr)
				}
			}, 0)
		}
		tb.RegisterExec(func(uint, uint64) { blockEnds++ }, 0)
	})

	if err := e.Run(codeBase, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tbs) != 1 {
		t.Fatalf("translations = %d, want 1 (cached)", len(tbs))
	}
	tb := tbs[0]
	if tb.Vaddr() != codeBase || tb.NumInsns() != 3 || host.ByteSize(tb) != 12 {
		t.Errorf("tb = 0x%x/%d insns/%d bytes", tb.Vaddr(), tb.NumInsns(), host.ByteSize(tb))
	}
	if tb.Insn(0).Disas == "" {
		t.Error("missing disassembly")
	}
	want := []uint64{0x1000, 0x1004, 0x1008, 0x1000, 0x1004, 0x1008}
	for i, addr := range want {
		if executed[i] != addr {
			t.Fatalf("executed[%d] = 0x%x, want 0x%x", i, executed[i], addr)
		}
	}
	if len(stores) != 2 || stores[0] != dataBase {
		t.Errorf("stores = %x", stores)
	}
	if blockEnds != 1 {
		t.Errorf("block callbacks = %d, want 1 before stop", blockEnds)
	}
	a0, _ := e.ReadRegister(10)
	if a0 != 2 {
		t.Errorf("a0 = %d, want 2", a0)
	}
}

func TestSingleStepBlocks(t *testing.T) {
	e := newEmu(t, host.ArchRISCV32)
	loadRVLoop(t, e)
	e.SetSingleStep(true)

	var sizes []int
	e.OnTranslate(func(tb host.TB) {
		sizes = append(sizes, tb.NumInsns())
		if len(sizes) == 3 {
			tb.RegisterInsnExec(0, func(uint, uint64) { e.Stop() }, 0)
		}
	})
	if err := e.Run(codeBase, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, n := range sizes {
		if n != 1 {
			t.Errorf("block %d has %d insns, want 1", i, n)
		}
	}
}

func TestFlushRetranslates(t *testing.T) {
	e := newEmu(t, host.ArchRISCV32)
	loadRVLoop(t, e)

	var translations int
	e.OnTranslate(func(tb host.TB) {
		translations++
		tb.RegisterExec(func(uint, uint64) {
			if translations == 2 {
				e.Stop()
				return
			}
			e.FlushCache()
		}, 0)
	})
	if err := e.Run(codeBase, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if translations != 2 {
		t.Errorf("translations = %d, want 2", translations)
	}
}

func TestRegisterFaultSession(t *testing.T) {
	e := newEmu(t, host.ArchRISCV32)
	loadRVLoop(t, e)

	c := fault.NewCatalog()
	if err := c.Append(&fault.Fault{
		Kind:    fault.KindRegister,
		Address: 10,
		Model:   fault.Toggle,
		Mask:    fault.Mask{0x80},
		Trigger: fault.Trigger{Address: 0x1004, HitCounter: 1},
	}); err != nil {
		t.Fatal(err)
	}
	s, err := engine.New(e, c, engine.Config{
		MaxDuration: 1000,
		EndPoints:   []engine.Point{{Address: 0x1008, HitCounter: 3}},
	}, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	s.Start()
	if err := e.Run(codeBase, 10000); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := s.Report()
	if r == nil {
		t.Fatal("session did not terminate")
	}
	if !r.EndPoint || r.Reason != "endpoint 0x1008/3" {
		t.Errorf("end = %v %q", r.EndPoint, r.Reason)
	}
	mem := make([]byte, 4)
	if err := e.ReadMemory(dataBase, mem); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(mem); got != 0x83 {
		t.Errorf("stored a0 = 0x%x, want 0x83", got)
	}
	if s.SingleStepCount() != 0 {
		t.Errorf("single-step count = %d", s.SingleStepCount())
	}
	// Newest first: the final dump, then the injection dump tagged with slot 0.
	if len(r.RegDumps) != 2 || r.RegDumps[1].TBCount != 0 || r.RegDumps[1].Regs[10] != 0x81 {
		t.Errorf("register dumps = %+v", r.RegDumps)
	}
}

func TestInstructionFaultSameBlock(t *testing.T) {
	e := newEmu(t, host.ArchRISCV32)
	if err := e.MapRegion(codeBase, PageSize); err != nil {
		t.Fatal(err)
	}
	// addi a0,a0,1; addi a0,a0,1; j .
	code := make([]byte, 12)
	for i, w := range []uint32{0x00150513, 0x00150513, 0x0000006f} {
		binary.LittleEndian.PutUint32(code[4*i:], w)
	}
	if err := e.WriteMemory(codeBase, code); err != nil {
		t.Fatal(err)
	}

	// Replace the second addi with addi a0,a0,16 when the first runs.
	c := fault.NewCatalog()
	if err := c.Append(&fault.Fault{
		Kind:     fault.KindInstruction,
		Address:  0x1004,
		Model:    fault.Overwrite,
		NumBytes: 4,
		Mask:     fault.Mask{0x13, 0x05, 0x05, 0x01},
		Trigger:  fault.Trigger{Address: 0x1000, HitCounter: 1},
	}); err != nil {
		t.Fatal(err)
	}
	s, err := engine.New(e, c, engine.Config{
		EndPoints: []engine.Point{{Address: 0x1008, HitCounter: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	s.Start()
	if err := e.Run(codeBase, 100); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if r := s.Report(); r == nil || !r.EndPoint {
		t.Fatalf("report = %+v", r)
	}
	if a0, _ := e.ReadRegister(10); a0 != 17 {
		t.Errorf("a0 = %d, want 17 (patched instruction executed)", a0)
	}
}

func TestInstructionFaultAtStartup(t *testing.T) {
	e := newEmu(t, host.ArchRISCV32)
	loadRVLoop(t, e)

	// Turn the first addi into addi a0,a0,16 before anything runs.
	c := fault.NewCatalog()
	if err := c.Append(&fault.Fault{
		Kind:     fault.KindInstruction,
		Address:  0x1000,
		Model:    fault.Overwrite,
		NumBytes: 4,
		Mask:     fault.Mask{0x13, 0x05, 0x05, 0x01},
		Trigger:  fault.Trigger{Address: 0x1000, HitCounter: 0},
	}); err != nil {
		t.Fatal(err)
	}
	s, err := engine.New(e, c, engine.Config{
		EndPoints: []engine.Point{{Address: 0x1008, HitCounter: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	s.Start()
	if err := e.Run(codeBase, 100); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a0, _ := e.ReadRegister(10); a0 != 16 {
		t.Errorf("a0 = %d, want 16", a0)
	}
}

func TestThumbResetVector(t *testing.T) {
	dir := t.TempDir()
	img := make([]byte, 0x10)
	binary.LittleEndian.PutUint32(img[0:], 0x20001000) // initial SP
	binary.LittleEndian.PutUint32(img[4:], 0x9)        // reset handler, Thumb
	binary.LittleEndian.PutUint16(img[8:], 0x3001)     // adds r0, #1
	binary.LittleEndian.PutUint16(img[10:], 0xe7fd)    // b 0x8
	image := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(image, img, 0o644); err != nil {
		t.Fatal(err)
	}

	m := &machine.Machine{
		Arch: "arm",
		Regions: []machine.Region{
			{Name: "flash", Base: 0, Size: PageSize, Image: image},
			{Name: "sram", Base: 0x20000000, Size: PageSize * 2},
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	e := newEmu(t, m.GuestArch())
	entry, err := e.Load(m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if entry != 0x8 {
		t.Errorf("entry = 0x%x, want 0x8", entry)
	}
	if sp, _ := e.ReadRegister(13); sp != 0x20001000 {
		t.Errorf("sp = 0x%x", sp)
	}
	if err := e.Run(entry, 10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r0, _ := e.ReadRegister(0); r0 == 0 {
		t.Error("r0 not incremented")
	}

	regions, err := e.MemoryMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 || regions[1].Base != 0x20000000 || regions[1].Size != PageSize*2 {
		t.Errorf("memory map = %+v", regions)
	}
}

func TestInvalidRegister(t *testing.T) {
	e := newEmu(t, host.ArchARM)
	if _, err := e.ReadRegister(20); err == nil {
		t.Error("ReadRegister(20) succeeded on arm")
	}
	if err := e.WriteRegister(host.ARMRegXPSR, 0x01000000); err != nil {
		t.Errorf("WriteRegister(xpsr): %v", err)
	}
}
