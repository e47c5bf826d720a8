package engine

import (
	"github.com/zboralski/faultplugin/internal/collect"
	"github.com/zboralski/faultplugin/internal/host"
)

// Report is everything a session recorded, drained at termination.
type Report struct {
	// EndPoint is set when an end point ended the run.
	EndPoint    bool
	Reason      string
	Arch        host.Arch
	TBInfos     []*collect.TBInfo
	ExecLog     []collect.ExecEntry
	MemAccesses []*collect.MemAccess
	MemDumps    []*collect.MemRegion
	RegDumps    []collect.RegisterDump
	Faulted     []collect.FaultedBlock
	MemMap      []host.Region
}

func (s *Session) buildReport(reason string, endPoint bool) *Report {
	r := &Report{
		EndPoint: endPoint,
		Reason:   reason,
		Arch:     s.arch,
		MemDumps: s.memDumps.Regions(),
		RegDumps: s.regDumps.Dumps(),
		Faulted:  s.faulted.Captured(),
		MemMap:   s.memMap,
	}
	if s.tbInfo != nil {
		r.TBInfos = s.tbInfo.List()
	}
	if s.execLog != nil {
		r.ExecLog = s.execLog.Entries()
	}
	if s.memInfo != nil {
		r.MemAccesses = s.memInfo.List()
	}
	return r
}
