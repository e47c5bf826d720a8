package colorize

import (
	"strings"
	"testing"
)

func TestDisabled(t *testing.T) {
	t.Setenv("FAULTPLUGIN_NO_COLOR", "1")

	if got := Address(0x8000); got != "00008000" {
		t.Errorf("Address = %q", got)
	}
	if got := Instruction("addi a0,a0,1"); got != "addi a0,a0,1" {
		t.Errorf("Instruction = %q", got)
	}
	if got := HexDiff([]byte{0x01, 0xff}, []byte{0x01, 0x00}); got != "01 ff" {
		t.Errorf("HexDiff = %q", got)
	}
}

func TestHexDiffMarksChanges(t *testing.T) {
	t.Setenv("FAULTPLUGIN_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")

	got := HexDiff([]byte{0x01, 0xff}, []byte{0x01, 0x00})
	if !strings.Contains(got, Fault("ff")) {
		t.Errorf("changed byte not marked: %q", got)
	}
	if strings.Contains(got, Fault("01")) {
		t.Errorf("unchanged byte marked: %q", got)
	}
	if got := HexDiff([]byte{0xaa}, nil); strings.Contains(got, Fault("aa")) {
		t.Errorf("nil base marked bytes: %q", got)
	}
}
