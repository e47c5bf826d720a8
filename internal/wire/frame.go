package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxFrame bounds the size a frame header may announce.
const MaxFrame = 64 << 20

// maxHeader bounds the decimal header line, newline included.
const maxHeader = 24

// ReadFrame reads one "<decimal length>\n<payload>" frame from r.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return nil, fmt.Errorf("%w: header %q", ErrTruncated, line)
			}
			return nil, err
		}
		if c == '\n' {
			break
		}
		line = append(line, c)
		if len(line) >= maxHeader {
			return nil, fmt.Errorf("%w: header too long", ErrBadFrame)
		}
	}

	n, err := strconv.ParseUint(strings.TrimSpace(string(line)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadFrame, line)
	}
	if n > MaxFrame {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrBadFrame, n, MaxFrame)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes", ErrTruncated, n)
		}
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes msg to w behind a decimal length header.
func WriteFrame(w io.Writer, msg []byte) error {
	hdr := strconv.AppendUint(nil, uint64(len(msg)), 10)
	hdr = append(hdr, '\n')
	if err := writeAll(w, hdr); err != nil {
		return err
	}
	return writeAll(w, msg)
}

// writeAll retries short writes until b is written.
func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// WriteData writes the encoded result message to w without a header.
func WriteData(w io.Writer, d *Data) error {
	return writeAll(w, d.Marshal())
}
