package slcan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

var (
	ErrClosed       = errors.New("slcan: link closed")
	ErrAdapterError = errors.New("slcan: adapter reported an error")
)

const pollInterval = 20 * time.Millisecond

// Config describes the adapter and the XCP identifiers.
type Config struct {
	Port       string
	SerialBaud int
	Bitrate    int
	MasterID   uint32
	SlaveID    uint32
}

type opener func(name string, mode *serial.Mode) (serial.Port, error)

// Link carries XCP packets as CAN frames through an SLCAN adapter.
type Link struct {
	cfg  Config
	open opener

	mu   sync.Mutex
	port serial.Port
	rx   []byte
}

func New(cfg Config) (*Link, error) {
	if _, err := BitrateCommand(cfg.Bitrate); err != nil {
		return nil, err
	}
	if cfg.SerialBaud == 0 {
		cfg.SerialBaud = 115200
	}
	return &Link{cfg: cfg, open: serial.Open}, nil
}

func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		return nil
	}

	port, err := l.open(l.cfg.Port, &serial.Mode{
		BaudRate: l.cfg.SerialBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", l.cfg.Port, err)
	}

	bitrate, _ := BitrateCommand(l.cfg.Bitrate)
	// Close first in case the adapter was left open.
	for _, cmd := range []string{"C\r", bitrate, "O\r"} {
		if _, err := port.Write([]byte(cmd)); err != nil {
			port.Close()
			return fmt.Errorf("slcan setup: %w", err)
		}
	}
	l.port = port
	l.rx = l.rx[:0]
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	l.port.Write([]byte("C\r"))
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Link) Send(ctx context.Context, packet []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrClosed
	}
	frame, err := EncodeFrame(l.cfg.MasterID, packet)
	if err != nil {
		return err
	}
	if _, err := l.port.Write([]byte(frame)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Receive returns the data of the next frame from the slave identifier.
// Acknowledgements and frames from other identifiers are skipped.
func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil, ErrClosed
	}

	chunk := make([]byte, 64)
	for {
		for {
			line, term, ok := l.nextLine()
			if !ok {
				break
			}
			if term == '\a' {
				return nil, ErrAdapterError
			}
			if len(line) == 0 || (line[0] != 't' && line[0] != 'T') {
				continue
			}
			id, data, err := ParseFrame(string(line))
			if err != nil {
				continue
			}
			if id&idMask == l.cfg.SlaveID&idMask {
				return data, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.port.SetReadTimeout(pollInterval)
		n, err := l.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		l.rx = append(l.rx, chunk[:n]...)
	}
}

// nextLine pops one '\r' or '\a' terminated line from the receive buffer.
func (l *Link) nextLine() ([]byte, byte, bool) {
	i := bytes.IndexAny(l.rx, "\r\a")
	if i < 0 {
		return nil, 0, false
	}
	line := append([]byte(nil), l.rx[:i]...)
	term := l.rx[i]
	l.rx = l.rx[i+1:]
	return line, term, true
}
