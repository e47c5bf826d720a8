// Package engine runs a fault session on a translation host: it arms
// triggers on freshly translated blocks, injects and reverts faults,
// gates recording on start and end points, and assembles the final
// report.
package engine

import (
	"fmt"

	"github.com/zboralski/faultplugin/internal/collect"
	"github.com/zboralski/faultplugin/internal/fault"
	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"github.com/zboralski/faultplugin/internal/singlestep"
	"go.uber.org/zap"
)

// Invalidated marks a trigger slot whose fault has been injected.
const Invalidated = ^uint64(0)

// Point is an address and hit count pair.
type Point struct {
	Address    uint64
	HitCounter uint64
}

// Range is a memory region to dump at termination.
type Range struct {
	Base   uint64
	Length uint64
}

// Config selects what a session records and when it ends.
type Config struct {
	// MaxDuration is the executed-instruction ceiling; 0 disables it.
	MaxDuration uint64
	TBInfo      bool
	TBExec      bool
	TBExecRing  bool
	MemInfo     bool
	FullMemDump bool
	Start       *Point
	EndPoints   []Point
	MemDumps    []Range
}

type pointState int

const (
	pointUnset pointState = iota
	pointArmed
	pointFired
)

type execPoint struct {
	Point
	initial uint64
	state   pointState
}

func newPoint(p Point) *execPoint {
	return &execPoint{Point: p, initial: p.HitCounter, state: pointArmed}
}

// Session is the state of one fault campaign run.
type Session struct {
	h       host.Host
	arch    host.Arch
	cfg     Config
	log     *log.Logger
	catalog *fault.Catalog

	triggers   []uint64
	live       []*fault.Fault
	stepRaised []bool

	step     *singlestep.Controller
	tbInfo   *collect.TBInfos
	execLog  *collect.ExecLog
	memInfo  *collect.MemAccesses
	memDumps *collect.MemDumps
	regDumps *collect.RegDumps
	faulted  *collect.Faulted
	memMap   []host.Region

	firstTBSeen bool
	tbCounter   uint64
	start       *execPoint
	ends        []*execPoint

	done        bool
	report      *Report
	onTerminate func(*Report) error
	err         error
}

// New builds a session over h for the faults in catalog. Slots are
// assigned here, in catalog order.
func New(h host.Host, catalog *fault.Catalog, cfg Config, logger *log.Logger) (*Session, error) {
	arch, err := host.ParseArch(string(h.Arch()))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.WithCategory("engine")

	catalog.AssignSlots()
	n := catalog.Len()

	s := &Session{
		h:          h,
		arch:       arch,
		cfg:        cfg,
		log:        logger,
		catalog:    catalog,
		triggers:   make([]uint64, n),
		live:       make([]*fault.Fault, n),
		stepRaised: make([]bool, n),
		step:       singlestep.New(h, logger),
		memDumps:   collect.NewMemDumps(h, logger),
		regDumps:   collect.NewRegDumps(arch, h, logger),
		start:      &execPoint{state: pointUnset},
	}
	s.faulted = collect.NewFaulted(s.step)
	for i, f := range catalog.Faults() {
		s.triggers[i] = f.Trigger.Address
	}

	if cfg.TBInfo {
		s.tbInfo = collect.NewTBInfos()
	}
	if cfg.TBExec {
		s.execLog = collect.NewExecLog(cfg.TBExecRing)
	}
	if cfg.MemInfo {
		s.memInfo = collect.NewMemAccesses()
	}
	for _, r := range cfg.MemDumps {
		if r.Length == 0 {
			return nil, fmt.Errorf("memory dump at 0x%x has zero length", r.Base)
		}
		s.memDumps.Configure(r.Base, r.Length)
	}
	if cfg.Start != nil {
		s.start = newPoint(*cfg.Start)
	}
	for _, p := range cfg.EndPoints {
		s.ends = append(s.ends, newPoint(p))
	}

	logger.Info("session configured",
		zap.String("arch", string(arch)),
		zap.Int("faults", n),
		zap.Uint64("max", cfg.MaxDuration),
		zap.Bool("start", cfg.Start != nil),
		zap.Int("ends", len(cfg.EndPoints)),
	)
	return s, nil
}

// OnTerminate sets the function that receives the report when the
// session ends. An error it returns becomes the session error.
func (s *Session) OnTerminate(fn func(*Report) error) {
	s.onTerminate = fn
}

// Start registers the translation callback. Guest execution is driven by
// the host afterwards.
func (s *Session) Start() {
	s.h.OnTranslate(s.translate)
}

// Stop ends the session from outside the callbacks, for example when the
// host stops on its own.
func (s *Session) Stop(reason string) {
	s.terminate(reason, false)
}

// Done reports whether the session has terminated.
func (s *Session) Done() bool {
	return s.done
}

// Err returns the error raised while delivering the report.
func (s *Session) Err() error {
	return s.err
}

// Report returns the final report, or nil before termination.
func (s *Session) Report() *Report {
	return s.report
}

// TriggerAddress returns the trigger vector entry for slot.
func (s *Session) TriggerAddress(slot int) uint64 {
	return s.triggers[slot]
}

// Live returns the fault whose lifetime runs in slot, if any.
func (s *Session) Live(slot int) *fault.Fault {
	return s.live[slot]
}

// SingleStepCount returns the outstanding single-step requests.
func (s *Session) SingleStepCount() int {
	return s.step.Count()
}

// TBCounter returns the number of executed instructions counted so far.
func (s *Session) TBCounter() uint64 {
	return s.tbCounter
}

// Close frees every store and the catalog.
func (s *Session) Close() {
	if s.tbInfo != nil {
		s.tbInfo.Clear()
	}
	if s.execLog != nil {
		s.execLog.Clear()
	}
	if s.memInfo != nil {
		s.memInfo.Clear()
	}
	s.memDumps.Clear()
	s.regDumps.Clear()
	s.faulted.Clear()
	s.catalog.Reset()
	s.live = nil
	s.triggers = nil
	s.stepRaised = nil
}

func (s *Session) terminate(reason string, endPoint bool) {
	if s.done {
		return
	}
	s.done = true
	s.log.Info("terminate", zap.String("reason", reason), zap.Uint64("tb_counter", s.tbCounter))

	if s.cfg.FullMemDump {
		s.configureMemoryMap()
	}
	s.memDumps.SnapshotAll()
	s.regDumps.Capture(s.tbCounter)
	s.report = s.buildReport(reason, endPoint)

	if s.onTerminate != nil {
		if err := s.onTerminate(s.report); err != nil {
			s.log.Error("deliver report", zap.Error(err))
			s.err = err
		}
	}
	s.h.Stop()
}

func (s *Session) configureMemoryMap() {
	mapper, ok := s.h.(host.MemoryMapper)
	if !ok {
		s.log.Warn("host cannot enumerate memory, full dump skipped")
		return
	}
	regions, err := mapper.MemoryMap()
	if err != nil {
		s.log.Warn("memory map", zap.Error(err))
		return
	}
	s.memMap = regions
	for _, r := range regions {
		s.memDumps.Configure(r.Base, r.Size)
	}
}
