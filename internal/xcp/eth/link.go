package eth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// HeaderSize is LEN (2) + CTR (2), both little endian.
const HeaderSize = 4

const maxDatagram = 65535

var ErrClosed = errors.New("xcp eth: link closed")

// Link carries XCP packets over TCP or UDP.
type Link struct {
	network string
	address string
	timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	ctr     uint16
	pending [][]byte
	buf     []byte
}

// New creates a link to host:port. protocol is "tcp" or "udp".
func New(protocol, host string, port int, timeout time.Duration) (*Link, error) {
	switch protocol {
	case "tcp", "udp":
	default:
		return nil, fmt.Errorf("xcp eth: unsupported protocol %q", protocol)
	}
	return &Link{
		network: protocol,
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
	}, nil
}

func (l *Link) Address() string { return l.address }

// Open stellt die Verbindung her
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: l.timeout}
	conn, err := d.DialContext(ctx, l.network, l.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	l.conn = conn
	l.ctr = 0
	l.pending = nil
	return nil
}

// Close schließt die Verbindung
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	l.pending = nil
	return err
}

// Encode frames one packet with the given counter.
func Encode(ctr uint16, packet []byte) []byte {
	frame := make([]byte, HeaderSize+len(packet))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(packet)))
	binary.LittleEndian.PutUint16(frame[2:4], ctr)
	copy(frame[HeaderSize:], packet)
	return frame
}

// Decode splits a buffer holding one or more frames into packets.
func Decode(data []byte) ([][]byte, error) {
	var packets [][]byte
	for len(data) > 0 {
		if len(data) < HeaderSize {
			return packets, fmt.Errorf("xcp eth: truncated header (%d bytes)", len(data))
		}
		n := int(binary.LittleEndian.Uint16(data[0:2]))
		if len(data) < HeaderSize+n {
			return packets, fmt.Errorf("xcp eth: frame needs %d bytes, have %d", n, len(data)-HeaderSize)
		}
		packets = append(packets, append([]byte(nil), data[HeaderSize:HeaderSize+n]...))
		data = data[HeaderSize+n:]
	}
	return packets, nil
}

func (l *Link) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(l.timeout)
}

func (l *Link) Send(ctx context.Context, packet []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return ErrClosed
	}

	frame := Encode(l.ctr, packet)
	l.ctr++

	// Timeout setzen
	l.conn.SetWriteDeadline(l.deadline(ctx))
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) > 0 {
		p := l.pending[0]
		l.pending = l.pending[1:]
		return p, nil
	}
	if l.conn == nil {
		return nil, ErrClosed
	}

	l.conn.SetReadDeadline(l.deadline(ctx))

	if l.network == "tcp" {
		return l.readStream()
	}
	return l.readDatagram()
}

func (l *Link) readStream() ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(l.conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	n := binary.LittleEndian.Uint16(header[0:2])
	packet := make([]byte, n)
	if _, err := io.ReadFull(l.conn, packet); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return packet, nil
}

// readDatagram returns the first packet of a datagram and queues the rest.
func (l *Link) readDatagram() ([]byte, error) {
	if l.buf == nil {
		l.buf = make([]byte, maxDatagram)
	}
	n, err := l.conn.Read(l.buf)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	packets, err := Decode(l.buf[:n])
	if len(packets) == 0 {
		if err == nil {
			err = fmt.Errorf("xcp eth: empty datagram")
		}
		return nil, err
	}
	l.pending = append(l.pending, packets[1:]...)
	return packets[0], nil
}
