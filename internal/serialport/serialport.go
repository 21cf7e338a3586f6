package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/d21d3q/gosmartmeter/internal/config"
)

// ErrWindowOverflow is returned when a burst exceeds the window size. The
// burst is drained and discarded.
var ErrWindowOverflow = errors.New("serial: receive window overflow")

// Conn is the part of serial.Port the window reader needs.
type Conn interface {
	io.Reader
	SetReadTimeout(time.Duration) error
	Close() error
}

// Port splits the byte stream of a serial line into receive windows: bursts
// of bytes separated by at least the read timeout of idle line.
type Port struct {
	conn      Conn
	maxWindow int
	chunk     []byte
}

// Open opens the configured device with 8 data bits and one stop bit.
func Open(cfg config.SerialConfig) (*Port, error) {
	parity, err := parseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   parity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	p, err := New(port, cfg.ReadTimeout.Duration, cfg.MaxWindow)
	if err != nil {
		port.Close()
		return nil, err
	}
	return p, nil
}

// New wraps an open connection.
func New(conn Conn, readTimeout time.Duration, maxWindow int) (*Port, error) {
	if err := conn.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &Port{conn: conn, maxWindow: maxWindow, chunk: make([]byte, 256)}, nil
}

// ReadWindow blocks until the line becomes active, then collects bytes until
// a read times out without data. Cancelling ctx is noticed between reads.
func (p *Port) ReadWindow(ctx context.Context) ([]byte, error) {
	window := make([]byte, 0, p.maxWindow)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := p.conn.Read(p.chunk)
		if err != nil {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			if len(window) == 0 {
				continue
			}
			return window, nil
		}
		if len(window)+n > p.maxWindow {
			discarded := len(window) + n + p.drain(ctx)
			return nil, fmt.Errorf("%w: %d bytes discarded", ErrWindowOverflow, discarded)
		}
		window = append(window, p.chunk[:n]...)
	}
}

func (p *Port) drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := p.conn.Read(p.chunk)
		if err != nil || n == 0 {
			return total
		}
		total += n
	}
	return total
}

func (p *Port) Close() error {
	return p.conn.Close()
}

func parseParity(s string) (serial.Parity, error) {
	switch s {
	case "", "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	default:
		return serial.NoParity, fmt.Errorf("unsupported parity %q", s)
	}
}
