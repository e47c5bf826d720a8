package emulator

/*
#cgo LDFLAGS: -lunicorn
#include <unicorn/unicorn.h>

static uc_err flush_tb(uc_engine *uc) {
	return uc_ctl_flush_tb(uc);
}
*/
import "C"

import (
	"unsafe"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// flushTB drops every block Unicorn has compiled. Only call it while
// emulation is not running.
func flushTB(mu uc.Unicorn) error {
	h := (*C.uc_engine)(unsafe.Pointer(mu.Handle()))
	if rc := C.flush_tb(h); rc != C.UC_ERR_OK {
		return uc.UcError(rc)
	}
	return nil
}
