package host

// ByteSize returns the number of guest bytes a block covers:
// (last.vaddr - first.vaddr) + last.size.
func ByteSize(tb TB) uint64 {
	n := tb.NumInsns()
	if n == 0 {
		return 0
	}
	first := tb.Insn(0)
	last := tb.Insn(n - 1)
	return (last.Vaddr - first.Vaddr) + last.Size
}

// Contains reports whether addr lies in [vaddr, vaddr+byte_size).
func Contains(tb TB, addr uint64) bool {
	base := tb.Vaddr()
	return addr >= base && addr < base+ByteSize(tb)
}

// InsnAt returns the index of the instruction whose bytes contain addr,
// or -1 when no instruction of the block does.
func InsnAt(tb TB, addr uint64) int {
	for i := 0; i < tb.NumInsns(); i++ {
		if tb.Insn(i).Contains(addr) {
			return i
		}
	}
	return -1
}
