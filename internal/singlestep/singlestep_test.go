package singlestep

import "testing"

type recorder struct {
	modes   []bool
	flushes int
}

func (r *recorder) SetSingleStep(enabled bool) { r.modes = append(r.modes, enabled) }
func (r *recorder) FlushCache()                { r.flushes++ }

func TestController(t *testing.T) {
	r := &recorder{}
	c := New(r, nil)

	c.Add()
	c.Add()
	c.Remove()
	c.Remove()

	want := []bool{true, true, true, false}
	if len(r.modes) != len(want) {
		t.Fatalf("modes = %v, want %v", r.modes, want)
	}
	for i := range want {
		if r.modes[i] != want[i] {
			t.Errorf("mode %d = %v, want %v", i, r.modes[i], want[i])
		}
	}
	if r.flushes != 4 {
		t.Errorf("flushes = %d, want 4", r.flushes)
	}
	if c.Count() != 0 {
		t.Errorf("Count = %d", c.Count())
	}
}

func TestRemoveUnderflow(t *testing.T) {
	r := &recorder{}
	c := New(r, nil)

	c.Remove()
	if c.Count() != 0 {
		t.Errorf("Count = %d after underflow", c.Count())
	}
	if len(r.modes) != 0 || r.flushes != 0 {
		t.Errorf("host touched on underflow: modes %v flushes %d", r.modes, r.flushes)
	}
}
