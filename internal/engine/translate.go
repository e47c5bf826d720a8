package engine

import (
	"github.com/zboralski/faultplugin/internal/collect"
	"github.com/zboralski/faultplugin/internal/fault"
	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

func (s *Session) translate(tb host.TB) {
	if s.done {
		return
	}
	if s.start.state == pointArmed {
		s.attachStart(tb)
		return
	}

	s.faulted.Check(tb)
	if !s.firstTBSeen {
		s.firstTBSeen = true
		s.armFirstBlock()
	}
	s.attachTriggers(tb)
	s.attachLifetimes(tb)
	s.attachData(tb)
	s.attachEnds(tb)
	s.attachCounter(tb)
}

// armFirstBlock handles triggers that must act before any guest code
// runs: an instruction fault with hit count 0 injects now, hit count 1
// raises single-step so the first execution is already
// instruction-granular. Data and register faults with hit count 0 never
// inject.
func (s *Session) armFirstBlock() {
	for _, f := range s.catalog.Faults() {
		slot := f.Trigger.Trignum
		switch f.Trigger.HitCounter {
		case 0:
			if f.Kind != fault.KindInstruction {
				s.log.Warn("hit counter already zero", log.Slot(slot), log.Addr(f.Trigger.Address), zap.Stringer("kind", f.Kind))
				continue
			}
			s.raiseFor(slot)
			s.inject(f)
		case 1:
			s.raiseFor(slot)
		}
	}
}

func (s *Session) raiseFor(slot int) {
	if s.stepRaised[slot] {
		return
	}
	s.stepRaised[slot] = true
	s.step.Add()
}

func (s *Session) releaseFor(slot int) {
	if !s.stepRaised[slot] {
		return
	}
	s.stepRaised[slot] = false
	s.step.Remove()
}

func (s *Session) attachTriggers(tb host.TB) {
	for slot, addr := range s.triggers {
		if addr == Invalidated || !host.Contains(tb, addr) {
			continue
		}
		if i := host.InsnAt(tb, addr); i >= 0 {
			s.log.Debug("attach trigger", log.Addr(addr), log.Slot(slot))
			tb.RegisterInsnExec(i, s.triggerHit, uint64(slot))
		}
	}
}

func (s *Session) attachLifetimes(tb host.TB) {
	for slot, f := range s.live {
		if f == nil {
			continue
		}
		for i := 0; i < tb.NumInsns(); i++ {
			tb.RegisterInsnExec(i, s.lifetimeTick, uint64(slot))
		}
	}
}

func (s *Session) attachData(tb host.TB) {
	var info *collect.TBInfo
	if s.tbInfo != nil {
		info = s.tbInfo.Add(tb)
	}
	if info != nil || s.execLog != nil {
		base := tb.Vaddr()
		tb.RegisterExec(func(uint, uint64) {
			if s.done {
				return
			}
			if info != nil {
				info.ExecCount++
			}
			if s.execLog != nil {
				s.execLog.Append(base)
			}
		}, 0)
	}
	if s.memInfo != nil {
		for i := 0; i < tb.NumInsns(); i++ {
			tb.RegisterMemAccess(i, s.memAccess, tb.Insn(i).Vaddr)
		}
	}
}

func (s *Session) attachCounter(tb host.TB) {
	n := uint64(tb.NumInsns())
	tb.RegisterExec(func(uint, uint64) {
		if s.done {
			return
		}
		s.tbCounter += n
		if s.cfg.MaxDuration > 0 && s.tbCounter >= s.cfg.MaxDuration {
			s.log.Info("max tb counter reached", zap.Uint64("tb_counter", s.tbCounter))
			s.terminate("max tb", false)
		}
	}, 0)
}

func (s *Session) memAccess(_ uint, info host.MemInfo, vaddr uint64, insn uint64) {
	if s.done {
		return
	}
	s.memInfo.Record(insn, vaddr, info)
}

// triggerHit runs before each execution of a trigger instruction.
func (s *Session) triggerHit(_ uint, userdata uint64) {
	if s.done {
		return
	}
	slot := int(userdata)
	f, ok := s.catalog.Lookup(s.triggers[slot], slot)
	if !ok {
		s.log.Warn("trigger slot invalidated", log.Slot(slot))
		return
	}
	if f.Trigger.HitCounter == 0 {
		s.log.Warn("trigger hit counter already zero", log.Slot(slot), log.Addr(f.Trigger.Address))
		return
	}

	f.Trigger.HitCounter--
	s.log.Debug("trigger hit", log.Slot(slot), zap.Uint64("remaining", f.Trigger.HitCounter))
	switch f.Trigger.HitCounter {
	case 0:
		s.inject(f)
	case 1:
		s.raiseFor(slot)
	}
}

// lifetimeTick runs before every instruction while a fault is live.
func (s *Session) lifetimeTick(_ uint, userdata uint64) {
	if s.done {
		return
	}
	slot := int(userdata)
	f := s.live[slot]
	if f == nil {
		// Stale translation from before the reversal.
		return
	}
	if f.Lifetime == 0 {
		s.log.Warn("live fault with zero lifetime", log.Slot(slot))
		s.retire(slot)
		return
	}

	f.Lifetime--
	if f.Lifetime == 0 {
		s.revert(f)
		s.retire(slot)
	}
}

func (s *Session) retire(slot int) {
	s.live[slot] = nil
	s.step.Remove()
}
