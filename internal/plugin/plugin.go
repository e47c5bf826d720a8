// Package plugin connects a fault session to its pipes. It reads the
// control and fault messages, builds the engine, and writes the data
// message when the session terminates.
package plugin

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/zboralski/faultplugin/internal/engine"
	"github.com/zboralski/faultplugin/internal/host"
	"github.com/zboralski/faultplugin/internal/log"
	"github.com/zboralski/faultplugin/internal/pipes"
	"github.com/zboralski/faultplugin/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrNoFaults   = errors.New("control message announces no faults")
	ErrFaultCount = errors.New("fault count mismatch")
)

// Plugin is one configured session and the stream its report goes to.
type Plugin struct {
	ID      uuid.UUID
	session *engine.Session
	data    io.WriteCloser
	pipes   *pipes.Pipes
	log     *log.Logger
}

// New reads one control frame and one fault frame and builds a session
// on h. The report is written to data, which is closed afterwards.
func New(h host.Host, control, config *bufio.Reader, data io.WriteCloser, logger *log.Logger) (*Plugin, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	id := uuid.New()
	logger = logger.WithCategory("plugin").With(zap.String("session", id.String()))

	ctl, err := readControl(control)
	if err != nil {
		logger.Error("control message", zap.Error(err))
		return nil, err
	}
	if ctl.NumFaults <= 0 {
		logger.Error("control message", zap.Int64("num_faults", ctl.NumFaults))
		return nil, fmt.Errorf("%w: num_faults %d", ErrNoFaults, ctl.NumFaults)
	}

	pack, err := readFaults(config)
	if err != nil {
		logger.Error("fault message", zap.Error(err))
		return nil, err
	}
	if int64(len(pack.Faults)) != ctl.NumFaults {
		err := fmt.Errorf("%w: control announces %d, config carries %d", ErrFaultCount, ctl.NumFaults, len(pack.Faults))
		logger.Error("fault message", zap.Error(err))
		return nil, err
	}

	catalog, err := Catalog(pack)
	if err != nil {
		logger.Error("fault message", zap.Error(err))
		return nil, err
	}

	s, err := engine.New(h, catalog, SessionConfig(ctl), logger)
	if err != nil {
		logger.Error("session", zap.Error(err))
		return nil, err
	}

	p := &Plugin{ID: id, session: s, data: data, log: logger}
	s.OnTerminate(p.deliver)
	return p, nil
}

// Attach creates any missing FIFOs at paths, opens them and builds a
// plugin over h. Opening blocks until the driver opens its ends.
func Attach(h host.Host, paths pipes.Paths, logger *log.Logger) (*Plugin, error) {
	if err := paths.Ensure(); err != nil {
		return nil, err
	}
	ps, err := pipes.Open(paths)
	if err != nil {
		return nil, err
	}
	p, err := New(h, ps.Control, ps.Config, ps.Data, logger)
	if err != nil {
		ps.Close()
		return nil, err
	}
	p.pipes = ps
	return p, nil
}

// Session returns the engine session.
func (p *Plugin) Session() *engine.Session {
	return p.session
}

// Start registers the session's translation callback on the host.
func (p *Plugin) Start() {
	p.session.Start()
}

// Finish ends the session if the host stopped before any termination
// source fired, releases its state and returns the delivery error.
func (p *Plugin) Finish(reason string) error {
	if !p.session.Done() {
		p.session.Stop(reason)
	}
	err := p.session.Err()
	p.session.Close()
	if p.pipes != nil {
		if cerr := p.pipes.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.pipes = nil
	}
	return err
}

func (p *Plugin) deliver(r *engine.Report) error {
	d := Encode(r)
	err := wire.WriteData(p.data, d)
	if cerr := p.data.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	p.log.Info("report written",
		zap.String("reason", r.Reason),
		zap.Int("tbs", len(d.TBInformations)),
		zap.Int("register_dumps", len(r.RegDumps)),
	)
	return nil
}

func readControl(r *bufio.Reader) (*wire.Control, error) {
	b, err := wire.ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read control: %w", err)
	}
	var c wire.Control
	if err := c.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("decode control: %w", err)
	}
	return &c, nil
}

func readFaults(r *bufio.Reader) (*wire.FaultPack, error) {
	b, err := wire.ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var p wire.FaultPack
	if err := p.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &p, nil
}
