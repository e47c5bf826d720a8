package fault

import (
	"bytes"
	"errors"
	"testing"
)

func pattern() []byte {
	return []byte{
		0xa5, 0x3c, 0xff, 0x00, 0x12, 0x34, 0x56, 0x78,
		0x9a, 0xbc, 0xde, 0xf0, 0x0f, 0xf0, 0x55, 0xaa,
	}
}

func testMask() Mask {
	return Mask{0x0f, 0xf0, 0xff, 0xff, 0x01, 0x80, 0x00, 0x00, 0xff, 0, 0, 0, 0, 0, 0, 0x11}
}

func TestMaskWords(t *testing.T) {
	m := MaskFromWords(0x0807060504030201, 0x100f0e0d0c0b0a09)
	for i := 0; i < MaskBytes; i++ {
		if m[i] != byte(i+1) {
			t.Fatalf("mask[%d] = 0x%x, want 0x%x", i, m[i], i+1)
		}
	}
	lo, hi := m.Words()
	if lo != 0x0807060504030201 || hi != 0x100f0e0d0c0b0a09 {
		t.Errorf("Words() = 0x%x, 0x%x", lo, hi)
	}
}

func TestSet0(t *testing.T) {
	f := &Fault{Kind: KindData, Model: Set0, Mask: testMask()}
	orig := pattern()
	v := pattern()
	f.Apply(v)

	for i := range v {
		if v[i]&f.Mask[i] != 0 {
			t.Errorf("byte %d: masked bits not cleared: 0x%x", i, v[i])
		}
		if f.Restore[i] != orig[i]&f.Mask[i] {
			t.Errorf("byte %d: restore 0x%x, want 0x%x", i, f.Restore[i], orig[i]&f.Mask[i])
		}
	}
	f.Revert(v)
	if !bytes.Equal(v, orig) {
		t.Errorf("revert = %x, want %x", v, orig)
	}
}

func TestSet1(t *testing.T) {
	f := &Fault{Kind: KindData, Model: Set1, Mask: testMask()}
	orig := pattern()
	v := pattern()
	f.Apply(v)

	for i := range v {
		if v[i]&f.Mask[i] != f.Mask[i] {
			t.Errorf("byte %d: masked bits not set: 0x%x", i, v[i])
		}
	}
	f.Revert(v)
	if !bytes.Equal(v, orig) {
		t.Errorf("revert = %x, want %x", v, orig)
	}
}

func TestToggle(t *testing.T) {
	f := &Fault{Kind: KindInstruction, Model: Toggle, Mask: testMask()}
	orig := pattern()
	v := pattern()
	f.Apply(v)

	for i := range v {
		if v[i] != orig[i]^f.Mask[i] {
			t.Errorf("byte %d = 0x%x, want 0x%x", i, v[i], orig[i]^f.Mask[i])
		}
	}
	f.Revert(v)
	if !bytes.Equal(v, orig) {
		t.Errorf("revert = %x, want %x", v, orig)
	}
}

func TestOverwrite(t *testing.T) {
	// A zero replacement byte must still be restored.
	f := &Fault{Kind: KindData, Model: Overwrite, NumBytes: 3, Mask: Mask{0xde, 0x00, 0xbe}}
	orig := pattern()
	v := pattern()
	f.Apply(v)

	if !bytes.Equal(v[:3], []byte{0xde, 0x00, 0xbe}) {
		t.Errorf("low bytes = %x", v[:3])
	}
	if !bytes.Equal(v[3:], orig[3:]) {
		t.Errorf("upper bytes changed: %x", v[3:])
	}
	if !bytes.Equal(f.Restore[:3], orig[:3]) {
		t.Errorf("restore = %x, want %x", f.Restore[:3], orig[:3])
	}
	f.Revert(v)
	if !bytes.Equal(v, orig) {
		t.Errorf("revert = %x, want %x", v, orig)
	}
}

func TestRegisterModels(t *testing.T) {
	const r0 = 0x11223344
	tests := []struct {
		model Model
		mask  Mask
		num   int
		want  uint64
	}{
		{Toggle, Mask{0xff}, 0, 0x112233bb},
		{Set0, Mask{0xff, 0xff}, 0, 0x11220000},
		{Set1, Mask{0x00, 0x00, 0x00, 0xf0}, 0, 0xf1223344},
		{Overwrite, Mask{0x00, 0x99}, 2, 0x11229900},
	}
	for _, tt := range tests {
		f := &Fault{Kind: KindRegister, Model: tt.model, Mask: tt.mask, NumBytes: tt.num}
		got := f.ApplyRegister(r0)
		if got != tt.want {
			t.Errorf("%s: apply = 0x%x, want 0x%x", tt.model, got, tt.want)
		}
		if back := f.RevertRegister(got); back != r0 {
			t.Errorf("%s: revert = 0x%x, want 0x%x", tt.model, back, uint64(r0))
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (&Fault{Model: Overwrite, NumBytes: 17}).Validate(); !errors.Is(err, ErrNumBytes) {
		t.Errorf("num_bytes 17: %v", err)
	}
	if _, err := ParseKind(3); !errors.Is(err, ErrKind) {
		t.Errorf("kind 3: %v", err)
	}
	if _, err := ParseModel(4); !errors.Is(err, ErrModel) {
		t.Errorf("model 4: %v", err)
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	for _, addr := range []uint64{0x8000, 0x8004, 0x8000} {
		if err := c.Append(&Fault{Trigger: Trigger{Address: addr, HitCounter: 1}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := c.Append(&Fault{NumBytes: 20}); err == nil {
		t.Fatal("Append accepted num_bytes 20")
	}
	c.AssignSlots()

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	f, ok := c.Lookup(0x8000, 2)
	if !ok || f != c.At(2) || f.Trigger.Trignum != 2 {
		t.Errorf("Lookup(0x8000, 2) = %v, %v", f, ok)
	}
	if _, ok := c.Lookup(0x8004, 0); ok {
		t.Error("Lookup matched wrong address")
	}
	if _, ok := c.Lookup(0x8000, 9); ok {
		t.Error("Lookup matched out-of-range slot")
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d", c.Len())
	}
}
