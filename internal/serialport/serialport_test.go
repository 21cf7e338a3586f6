package serialport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.bug.st/serial"
)

// scriptedConn replays reads; a nil entry is a read timeout.
type scriptedConn struct {
	reads   [][]byte
	timeout time.Duration
	closed  bool
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	if len(c.reads) == 0 {
		return 0, io.EOF
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	return copy(p, next), nil
}

func (c *scriptedConn) SetReadTimeout(d time.Duration) error {
	c.timeout = d
	return nil
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func TestReadWindowSplitsOnIdle(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{
		nil, nil,
		{0x68, 0x06}, {0x06, 0x68}, nil,
		{0x01, 0x02, 0x03}, nil,
	}}
	p, err := New(conn, 500*time.Millisecond, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if conn.timeout != 500*time.Millisecond {
		t.Fatalf("read timeout not applied: %v", conn.timeout)
	}

	first, err := p.ReadWindow(context.Background())
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if !bytes.Equal(first, []byte{0x68, 0x06, 0x06, 0x68}) {
		t.Fatalf("unexpected first window % X", first)
	}
	second, err := p.ReadWindow(context.Background())
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if !bytes.Equal(second, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("unexpected second window % X", second)
	}
	if _, err := p.ReadWindow(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if err := p.Close(); err != nil || !conn.closed {
		t.Fatalf("Close: %v", err)
	}
}

func TestReadWindowOverflow(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{
		bytes.Repeat([]byte{0xAA}, 8), bytes.Repeat([]byte{0xBB}, 8), {0xCC}, nil,
		{0x10}, nil,
	}}
	p, err := New(conn, time.Second, 12)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.ReadWindow(context.Background()); !errors.Is(err, ErrWindowOverflow) {
		t.Fatalf("expected ErrWindowOverflow, got %v", err)
	}
	next, err := p.ReadWindow(context.Background())
	if err != nil {
		t.Fatalf("ReadWindow after overflow: %v", err)
	}
	if !bytes.Equal(next, []byte{0x10}) {
		t.Fatalf("overflowed burst leaked into next window: % X", next)
	}
}

func TestReadWindowCancelled(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{nil, nil, nil}}
	p, err := New(conn, time.Second, 12)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ReadWindow(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseParity(t *testing.T) {
	cases := map[string]serial.Parity{"none": serial.NoParity, "odd": serial.OddParity, "even": serial.EvenParity, "": serial.NoParity}
	for in, want := range cases {
		got, err := parseParity(in)
		if err != nil || got != want {
			t.Fatalf("parseParity(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseParity("mark"); err == nil {
		t.Fatalf("expected error for mark parity")
	}
}
