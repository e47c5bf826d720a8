package fault

import "encoding/binary"

// selection returns the bits a model touches. Bitwise models touch the
// mask bits; OVERWRITE replaces whole bytes below NumBytes.
func (f *Fault) selection() Mask {
	if f.Model != Overwrite {
		return f.Mask
	}
	var sel Mask
	for i := 0; i < f.NumBytes && i < MaskBytes; i++ {
		sel[i] = 0xff
	}
	return sel
}

// Apply mutates value in place and records the overwritten bits in
// Restore. value holds up to MaskBytes bytes starting at the fault
// address.
func (f *Fault) Apply(value []byte) {
	sel := f.selection()
	f.Restore = Mask{}
	for i := range value {
		if i >= MaskBytes {
			break
		}
		f.Restore[i] = value[i] & sel[i]
		switch f.Model {
		case Set0:
			value[i] &^= f.Mask[i]
		case Set1:
			value[i] |= f.Mask[i]
		case Toggle:
			value[i] ^= f.Mask[i]
		case Overwrite:
			if i < f.NumBytes {
				value[i] = f.Mask[i]
			}
		}
	}
}

// Revert clears every selected bit of value and ORs the restore mask
// back in.
func (f *Fault) Revert(value []byte) {
	sel := f.selection()
	for i := range value {
		if i >= MaskBytes {
			break
		}
		value[i] = value[i]&^sel[i] | f.Restore[i]
	}
}

// ApplyRegister returns the faulted register value and records the
// pre-image bits in Restore[0..7].
func (f *Fault) ApplyRegister(v uint64) uint64 {
	sel := f.selection()
	mask := f.Mask.Low64()
	sel64 := sel.Low64()

	f.Restore = Mask{}
	binary.LittleEndian.PutUint64(f.Restore[0:8], v&sel64)

	switch f.Model {
	case Set0:
		return v &^ mask
	case Set1:
		return v | mask
	case Toggle:
		return v ^ mask
	case Overwrite:
		return v&^sel64 | mask&sel64
	}
	return v
}

// RevertRegister restores the bits recorded by ApplyRegister.
func (f *Fault) RevertRegister(v uint64) uint64 {
	sel64 := f.selection().Low64()
	return v&^sel64 | f.Restore.Low64()
}
