// Package fault describes armed faults and the bit-level models that
// mutate guest state under a mask.
package fault

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaskBytes is the width of a fault mask in bytes.
const MaskBytes = 16

var (
	ErrKind     = errors.New("unknown fault type")
	ErrModel    = errors.New("unknown fault model")
	ErrNumBytes = errors.New("num_bytes exceeds mask width")
)

// Kind selects what a fault mutates. Values match the wire encoding.
type Kind int

const (
	KindData Kind = iota
	KindInstruction
	KindRegister
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindInstruction:
		return "instruction"
	case KindRegister:
		return "register"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a wire value into a Kind.
func ParseKind(v uint64) (Kind, error) {
	if v > uint64(KindRegister) {
		return 0, fmt.Errorf("%w: %d", ErrKind, v)
	}
	return Kind(v), nil
}

// IsMemory reports whether the fault targets guest memory.
func (k Kind) IsMemory() bool {
	return k == KindData || k == KindInstruction
}

// Model is the mutation applied under the mask. Values match the wire
// encoding.
type Model int

const (
	Set0 Model = iota
	Set1
	Toggle
	Overwrite
)

func (m Model) String() string {
	switch m {
	case Set0:
		return "SET0"
	case Set1:
		return "SET1"
	case Toggle:
		return "TOGGLE"
	case Overwrite:
		return "OVERWRITE"
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// ParseModel converts a wire value into a Model.
func ParseModel(v uint64) (Model, error) {
	if v > uint64(Overwrite) {
		return 0, fmt.Errorf("%w: %d", ErrModel, v)
	}
	return Model(v), nil
}

// Mask is a 128-bit little-endian bitfield.
type Mask [MaskBytes]byte

// MaskFromWords builds a mask from its lower and upper 64-bit halves.
func MaskFromWords(lower, upper uint64) Mask {
	var m Mask
	binary.LittleEndian.PutUint64(m[0:8], lower)
	binary.LittleEndian.PutUint64(m[8:16], upper)
	return m
}

// Words splits the mask into its lower and upper 64-bit halves.
func (m Mask) Words() (lower, upper uint64) {
	return binary.LittleEndian.Uint64(m[0:8]), binary.LittleEndian.Uint64(m[8:16])
}

// Low64 packs mask[0..7] into the 64-bit register mask.
func (m Mask) Low64() uint64 {
	return binary.LittleEndian.Uint64(m[0:8])
}

// Trigger is the spatial and temporal arming condition of a fault.
type Trigger struct {
	Address    uint64
	HitCounter uint64
	// Trignum is the slot shared by the trigger-address and live-fault
	// vectors. It is assigned by Catalog.AssignSlots.
	Trignum int
}

// Fault is one armed fault descriptor.
type Fault struct {
	Kind    Kind
	Address uint64
	Model   Model
	Mask    Mask
	// NumBytes is the OVERWRITE width.
	NumBytes int
	// Lifetime is the number of executions before reversal; 0 is permanent.
	Lifetime uint64
	Trigger  Trigger

	// Restore holds the pre-image bits while the fault is injected.
	Restore Mask
}

// Validate checks the descriptor for values the engine cannot apply.
func (f *Fault) Validate() error {
	if f.Kind < KindData || f.Kind > KindRegister {
		return fmt.Errorf("%w: %d", ErrKind, int(f.Kind))
	}
	if f.Model < Set0 || f.Model > Overwrite {
		return fmt.Errorf("%w: %d", ErrModel, int(f.Model))
	}
	if f.NumBytes < 0 || f.NumBytes > MaskBytes {
		return fmt.Errorf("%w: %d", ErrNumBytes, f.NumBytes)
	}
	return nil
}

func (f *Fault) String() string {
	return fmt.Sprintf("%s %s @0x%x trigger 0x%x/%d life %d",
		f.Kind, f.Model, f.Address, f.Trigger.Address, f.Trigger.HitCounter, f.Lifetime)
}
