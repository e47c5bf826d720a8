package disas

import (
	"strings"
	"testing"

	"github.com/zboralski/faultplugin/internal/host"
)

func TestLength(t *testing.T) {
	tests := []struct {
		name string
		arch host.Arch
		code []byte
		want int
	}{
		{"thumb nop", host.ArchARM, []byte{0x00, 0xbf}, 2},
		{"thumb bl", host.ArchARM, []byte{0x00, 0xf0, 0x00, 0xf8}, 4},
		{"thumb ldr.w", host.ArchARM, []byte{0xd0, 0xf8, 0x00, 0x00}, 4},
		{"thumb b", host.ArchARM, []byte{0xfe, 0xe7}, 2},
		{"rv addi", host.ArchRISCV32, []byte{0x13, 0x05, 0x15, 0x00}, 4},
		{"rvc nop", host.ArchRISCV64, []byte{0x01, 0x00}, 2},
		{"short", host.ArchARM, []byte{0x00}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Length(tt.arch, tt.code); got != tt.want {
				t.Errorf("Length(%x) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestTextRISCV(t *testing.T) {
	// addi a0,a0,1
	got := Text(host.ArchRISCV64, 0x1000, []byte{0x13, 0x05, 0x15, 0x00})
	if !strings.HasPrefix(got, "addi") {
		t.Errorf("Text = %q, want addi", got)
	}
}

func TestTextThumb(t *testing.T) {
	if got := Text(host.ArchARM, 0x8, []byte{0x00, 0xbf}); got != "nop" {
		t.Errorf("Text(nop) = %q", got)
	}
	if got := Text(host.ArchARM, 0x8, []byte{0x01, 0x30}); got != "adds r0, #1" {
		t.Errorf("Text(adds) = %q", got)
	}
	if got := Text(host.ArchARM, 0x8, []byte{0xd0, 0xf8, 0x00, 0x00}); !strings.HasPrefix(got, "ldr.w") {
		t.Errorf("Text(ldr.w) = %q", got)
	}
	if got := Text(host.ArchARM, 0x8, []byte{0x00, 0xf0}); got != "???" {
		t.Errorf("Text(truncated) = %q", got)
	}
}

func TestRaw(t *testing.T) {
	if got := raw(host.ArchARM, []byte{0x00, 0xbf}); got != ".inst.n 0xbf00" {
		t.Errorf("raw = %q", got)
	}
	if got := raw(host.ArchARM, []byte{0x00, 0xf0, 0x00, 0xf8}); got != ".inst.w 0xf000f800" {
		t.Errorf("raw = %q", got)
	}
	if got := raw(host.ArchRISCV32, []byte{0x01, 0x00}); got != ".half 0x0001" {
		t.Errorf("raw = %q", got)
	}
}
