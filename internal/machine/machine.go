// Package machine loads the YAML description of the guest a standalone
// run emulates: architecture, memory regions, images and initial
// registers.
package machine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zboralski/faultplugin/internal/host"
	"gopkg.in/yaml.v3"
)

// Region is one mapped memory range, optionally initialised from a raw
// image file.
type Region struct {
	Name  string `yaml:"name,omitempty"`
	Base  uint64 `yaml:"base"`
	Size  uint64 `yaml:"size"`
	Image string `yaml:"image,omitempty"`
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Machine describes the guest.
type Machine struct {
	Arch string `yaml:"arch"`
	// Entry is the first PC. When absent on ARM the reset vector at the
	// lowest region is used.
	Entry     *uint64           `yaml:"entry,omitempty"`
	Regions   []Region          `yaml:"regions"`
	ELF       string            `yaml:"elf,omitempty"`
	Registers map[string]uint64 `yaml:"registers,omitempty"`
	// Limit caps the instructions the host runs; 0 is unlimited.
	Limit uint64 `yaml:"limit,omitempty"`

	arch host.Arch
}

// Load reads and validates a machine file. Image and ELF paths are
// resolved relative to the file.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machine file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range m.Regions {
		m.Regions[i].Image = resolve(dir, m.Regions[i].Image)
	}
	m.ELF = resolve(dir, m.ELF)
	return m, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Parse decodes and validates a machine description. Unknown keys are
// rejected.
func Parse(data []byte) (*Machine, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Machine
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode machine: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the architecture, region layout and register names.
func (m *Machine) Validate() error {
	arch, err := host.ParseArch(m.Arch)
	if err != nil {
		return err
	}
	m.arch = arch

	if len(m.Regions) == 0 && m.ELF == "" {
		return errors.New("machine maps no memory")
	}
	regions := append([]Region(nil), m.Regions...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })
	for i, r := range regions {
		if r.Size == 0 {
			return fmt.Errorf("region %q at 0x%x has zero size", r.Name, r.Base)
		}
		if r.End() < r.Base {
			return fmt.Errorf("region %q at 0x%x wraps the address space", r.Name, r.Base)
		}
		if i > 0 && regions[i-1].End() > r.Base {
			return fmt.Errorf("region %q overlaps %q", r.Name, regions[i-1].Name)
		}
	}

	for name := range m.Registers {
		if _, err := RegisterIndex(arch, name); err != nil {
			return err
		}
	}
	return nil
}

// GuestArch returns the validated architecture.
func (m *Machine) GuestArch() host.Arch {
	return m.arch
}

var riscvABI = []string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegisterIndex maps a register name onto the numbering used by register
// faults and dumps.
func RegisterIndex(arch host.Arch, name string) (int, error) {
	n := strings.ToLower(name)
	if arch.IsRISCV() {
		if n == "pc" {
			return host.RISCVRegPC, nil
		}
		if n == "fp" {
			return 8, nil
		}
		if i, ok := numbered(n, "x", 31); ok {
			return i, nil
		}
		for i, abi := range riscvABI {
			if n == abi {
				return i, nil
			}
		}
		return 0, fmt.Errorf("unknown riscv register %q", name)
	}

	switch n {
	case "sp":
		return 13, nil
	case "lr":
		return 14, nil
	case "pc":
		return host.ARMRegPC, nil
	case "xpsr":
		return host.ARMRegXPSR, nil
	}
	if i, ok := numbered(n, "r", 15); ok {
		return i, nil
	}
	return 0, fmt.Errorf("unknown arm register %q", name)
}

func numbered(name, prefix string, max int) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 || i > max {
		return 0, false
	}
	return i, true
}
