// Package pipes opens the three named pipes a session talks over: the
// control and config streams it reads, and the data stream it writes.
package pipes

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	ErrMissingArg = errors.New("missing pipe argument")
	ErrUnknownArg = errors.New("unknown pipe argument")
)

// Mode is the permission FIFOs are created with.
const Mode = 0o660

// Paths names the three pipes.
type Paths struct {
	Control string
	Config  string
	Data    string
}

// ParseArgs accepts "control=", "config=" and "data=" pairs in any
// order. Anything else is rejected.
func ParseArgs(args []string) (Paths, error) {
	var p Paths
	for _, a := range args {
		key, val, ok := strings.Cut(a, "=")
		if !ok {
			return Paths{}, fmt.Errorf("%w: %q", ErrUnknownArg, a)
		}
		switch key {
		case "control":
			p.Control = val
		case "config":
			p.Config = val
		case "data":
			p.Data = val
		default:
			return Paths{}, fmt.Errorf("%w: %q", ErrUnknownArg, a)
		}
	}

	switch {
	case p.Control == "":
		return Paths{}, fmt.Errorf("%w: control", ErrMissingArg)
	case p.Config == "":
		return Paths{}, fmt.Errorf("%w: config", ErrMissingArg)
	case p.Data == "":
		return Paths{}, fmt.Errorf("%w: data", ErrMissingArg)
	}
	return p, nil
}

// InDir returns the conventional pipe paths under dir.
func InDir(dir string) Paths {
	return Paths{
		Control: filepath.Join(dir, "control"),
		Config:  filepath.Join(dir, "config"),
		Data:    filepath.Join(dir, "data"),
	}
}

// Ensure creates any of the three FIFOs that do not exist yet.
// An existing path that is not a FIFO is an error.
func (p Paths) Ensure() error {
	for _, path := range []string{p.Control, p.Config, p.Data} {
		if err := mkfifo(path); err != nil {
			return err
		}
	}
	return nil
}

func mkfifo(path string) error {
	st, err := os.Stat(path)
	if err == nil {
		if st.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a fifo", path)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := unix.Mkfifo(path, Mode); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// Pipes holds the open streams.
type Pipes struct {
	Control *bufio.Reader
	Config  *bufio.Reader
	Data    io.WriteCloser

	files []*os.File
}

// Open opens control and config for reading, then data for writing.
// Opening a FIFO blocks until the peer end is opened.
func Open(p Paths) (*Pipes, error) {
	ps := &Pipes{}
	control, err := os.OpenFile(p.Control, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	ps.files = append(ps.files, control)

	config, err := os.OpenFile(p.Config, os.O_RDONLY, 0)
	if err != nil {
		ps.Close()
		return nil, err
	}
	ps.files = append(ps.files, config)

	data, err := os.OpenFile(p.Data, os.O_WRONLY, 0)
	if err != nil {
		ps.Close()
		return nil, err
	}
	ps.files = append(ps.files, data)

	ps.Control = bufio.NewReader(control)
	ps.Config = bufio.NewReader(config)
	ps.Data = data
	return ps, nil
}

// Close closes every stream still open and returns the first error.
func (ps *Pipes) Close() error {
	var first error
	for _, f := range ps.files {
		if err := f.Close(); err != nil && first == nil && !errors.Is(err, os.ErrClosed) {
			first = err
		}
	}
	ps.files = nil
	return first
}
