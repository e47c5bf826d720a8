package engine

import (
	"github.com/zboralski/faultplugin/internal/fault"
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

// inject applies f to the guest, invalidates its trigger and starts its
// lifetime.
func (s *Session) inject(f *fault.Fault) {
	slot := f.Trigger.Trignum
	s.log.Info("inject", log.Slot(slot), zap.Stringer("fault", f))

	switch f.Kind {
	case fault.KindInstruction, fault.KindData:
		s.injectMemory(f)
	case fault.KindRegister:
		s.injectRegister(f)
	}

	s.triggers[slot] = Invalidated
	s.releaseFor(slot)
	if f.Lifetime > 0 {
		s.live[slot] = f
		s.step.Add()
	}
	s.regDumps.Capture(uint64(slot))
}

// revert undoes f using its restore mask.
func (s *Session) revert(f *fault.Fault) {
	s.log.Info("revert", log.Slot(f.Trigger.Trignum), zap.Stringer("fault", f))

	switch f.Kind {
	case fault.KindInstruction, fault.KindData:
		s.revertMemory(f)
	case fault.KindRegister:
		s.revertRegister(f)
	}
}

func (s *Session) injectMemory(f *fault.Fault) {
	s.memDumps.Configure(f.Address, fault.MaskBytes)
	s.memDumps.SnapshotAt(f.Address)

	// Without the pre-image there is no restore mask; leave memory alone.
	buf := make([]byte, fault.MaskBytes)
	if err := s.h.ReadMemory(f.Address, buf); err != nil {
		s.log.Warn("fault read", log.Addr(f.Address), zap.Error(err))
		return
	}
	if f.Kind == fault.KindInstruction {
		s.faulted.Register(f.Address)
	}
	f.Apply(buf)
	if err := s.h.WriteMemory(f.Address, buf); err != nil {
		s.log.Warn("fault write", log.Addr(f.Address), zap.Error(err))
	}

	if f.Kind == fault.KindInstruction {
		s.h.FlushCache()
	}
	s.memDumps.SnapshotAt(f.Address)
}

func (s *Session) revertMemory(f *fault.Fault) {
	buf := make([]byte, fault.MaskBytes)
	if err := s.h.ReadMemory(f.Address, buf); err != nil {
		s.log.Warn("revert read", log.Addr(f.Address), zap.Error(err))
		return
	}
	f.Revert(buf)
	if err := s.h.WriteMemory(f.Address, buf); err != nil {
		s.log.Warn("revert write", log.Addr(f.Address), zap.Error(err))
	}

	if f.Kind == fault.KindInstruction {
		s.h.FlushCache()
	}
	s.memDumps.SnapshotAt(f.Address)
}

func (s *Session) injectRegister(f *fault.Fault) {
	reg := int(f.Address)
	v, err := s.h.ReadRegister(reg)
	if err != nil {
		s.log.Warn("fault register read", zap.Int("reg", reg), zap.Error(err))
		return
	}
	nv := f.ApplyRegister(v)
	if err := s.h.WriteRegister(reg, nv); err != nil {
		s.log.Warn("fault register write", zap.Int("reg", reg), zap.Error(err))
	}
	s.log.Debug("register faulted", zap.Int("reg", reg), log.Ptr("old", v), log.Ptr("new", nv))
}

func (s *Session) revertRegister(f *fault.Fault) {
	reg := int(f.Address)
	v, err := s.h.ReadRegister(reg)
	if err != nil {
		s.log.Warn("revert register read", zap.Int("reg", reg), zap.Error(err))
		return
	}
	if err := s.h.WriteRegister(reg, f.RevertRegister(v)); err != nil {
		s.log.Warn("revert register write", zap.Int("reg", reg), zap.Error(err))
	}
}
