package engine

import (
	"fmt"

	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

// attachStart instruments only the start instruction while recording is
// suppressed.
func (s *Session) attachStart(tb host.TB) {
	if i := host.InsnAt(tb, s.start.Address); i >= 0 {
		tb.RegisterInsnExec(i, s.startHit, 0)
	}
}

func (s *Session) startHit(uint, uint64) {
	if s.done || s.start.state != pointArmed {
		return
	}
	if s.start.HitCounter > 1 {
		s.start.HitCounter--
		return
	}
	s.start.state = pointFired
	s.log.Info("start point reached", log.Addr(s.start.Address))
	// Re-translate everything with full instrumentation.
	s.h.FlushCache()
}

func (s *Session) attachEnds(tb host.TB) {
	for idx, p := range s.ends {
		if p.state != pointArmed {
			continue
		}
		if i := host.InsnAt(tb, p.Address); i >= 0 {
			tb.RegisterInsnExec(i, s.endHit, uint64(idx))
		}
	}
}

func (s *Session) endHit(_ uint, userdata uint64) {
	if s.done {
		return
	}
	p := s.ends[userdata]
	if p.state != pointArmed {
		return
	}
	if p.HitCounter > 1 {
		p.HitCounter--
		s.log.Debug("end point hit", log.Addr(p.Address), zap.Uint64("remaining", p.HitCounter))
		return
	}
	p.state = pointFired
	s.terminate(fmt.Sprintf("endpoint 0x%x/%d", p.Address, p.initial), true)
}
