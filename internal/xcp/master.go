package xcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
)

// Link carries whole XCP packets. Transport headers (Ethernet LEN/CTR,
// CAN framing) are the link's business.
type Link interface {
	Open(ctx context.Context) error
	Close() error
	Send(ctx context.Context, packet []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

const (
	defaultMaxCTO  = 8
	defaultTimeout = time.Second
)

var (
	ErrNotConnected  = errors.New("xcp: not connected")
	ErrPacketTooLong = errors.New("xcp: packet exceeds MAX_CTO")
	ErrShortResponse = errors.New("xcp: short response")
)

var _ calibration.Transport = (*Master)(nil)

// Master is an XCP master for calibration. It is safe for concurrent use;
// commands are serialised.
type Master struct {
	link    Link
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	open      bool
	connected bool
	maxCTO    int
	order     binary.ByteOrder
}

func NewMaster(link Link, logger *zap.Logger, timeout time.Duration) *Master {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Master{
		link:    link,
		logger:  logger,
		timeout: timeout,
		maxCTO:  defaultMaxCTO,
		order:   binary.LittleEndian,
	}
}

// MaxCTO is the command packet size negotiated on CONNECT.
func (m *Master) MaxCTO() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxCTO
}

func (m *Master) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		if err := m.link.Open(ctx); err != nil {
			return fmt.Errorf("open link: %w", err)
		}
		m.open = true
	}

	resp, err := m.command(ctx, []byte{CmdConnect, 0x00})
	if err != nil {
		// Reopen on the next attempt.
		m.link.Close()
		m.open = false
		return err
	}
	if len(resp) < 4 {
		return fmt.Errorf("%w: CONNECT returned %d bytes", ErrShortResponse, len(resp))
	}

	commMode := resp[2]
	if commMode&0x01 != 0 {
		m.order = binary.BigEndian
	} else {
		m.order = binary.LittleEndian
	}
	if resp[3] > 0 {
		m.maxCTO = int(resp[3])
	}
	m.connected = true

	m.logger.Debug("XCP connected",
		zap.Int("max_cto", m.maxCTO),
		zap.Bool("big_endian", m.order == binary.BigEndian))
	return nil
}

func (m *Master) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}
	m.connected = false
	_, err := m.command(ctx, []byte{CmdDisconnect})
	return err
}

func (m *Master) UserCommand(ctx context.Context, sub byte, payload []byte) error {
	req := append([]byte{CmdUserCmd, sub}, payload...)
	if limit := m.MaxCTO(); len(req) > limit {
		return fmt.Errorf("%w: USER_CMD of %d bytes, limit %d", ErrPacketTooLong, len(req), limit)
	}
	_, err := m.do(ctx, req)
	return err
}

func (m *Master) SetMTA(ctx context.Context, address uint32, extension uint8) error {
	req := make([]byte, 8)
	req[0] = CmdSetMTA
	req[3] = extension
	m.mu.Lock()
	m.order.PutUint32(req[4:], address)
	m.mu.Unlock()
	_, err := m.do(ctx, req)
	return err
}

// Upload reads size bytes from the MTA. Transfers larger than one CTO are
// split into several UPLOADs; the slave advances the MTA itself.
func (m *Master) Upload(ctx context.Context, size uint16) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, err := m.chunkSize(1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	for remaining := int(size); remaining > 0; {
		n := min(remaining, chunk)
		resp, err := m.command(ctx, []byte{CmdUpload, byte(n)})
		if err != nil {
			return nil, err
		}
		data, err := payload(resp, n)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		remaining -= n
	}
	return out, nil
}

// ShortUpload reads size bytes at address. Each chunk is addressed
// explicitly.
func (m *Master) ShortUpload(ctx context.Context, size uint16, address uint32, extension uint8) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, err := m.chunkSize(1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	for offset := 0; offset < int(size); {
		n := min(int(size)-offset, chunk)
		req := make([]byte, 8)
		req[0] = CmdShortUpload
		req[1] = byte(n)
		req[3] = extension
		m.order.PutUint32(req[4:], address+uint32(offset))

		resp, err := m.command(ctx, req)
		if err != nil {
			return nil, err
		}
		data, err := payload(resp, n)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		offset += n
	}
	return out, nil
}

// Download writes data at the MTA, one DOWNLOAD per CTO.
func (m *Master) Download(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, err := m.chunkSize(2)
	if err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), chunk)
		req := append([]byte{CmdDownload, byte(n)}, data[:n]...)
		if _, err := m.command(ctx, req); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (m *Master) SetCalPage(ctx context.Context, segment, page, mode uint8) error {
	_, err := m.do(ctx, []byte{CmdSetCalPage, mode, segment, page})
	return err
}

// Close closes the link without sending DISCONNECT.
func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}
	m.open = false
	m.connected = false
	return m.link.Close()
}

// chunkSize is the number of data bytes that fit in one command after
// overhead header bytes. Must be called with mu held.
func (m *Master) chunkSize(overhead int) (int, error) {
	if !m.connected {
		return 0, ErrNotConnected
	}
	n := m.maxCTO - overhead
	if n < 1 {
		return 0, fmt.Errorf("%w: MAX_CTO %d leaves no room for data", ErrPacketTooLong, m.maxCTO)
	}
	// LEN ist ein Byte
	return min(n, 0xFF), nil
}

func payload(resp []byte, size int) ([]byte, error) {
	if len(resp) < 1+size {
		return nil, fmt.Errorf("%w: want %d data bytes, got %d", ErrShortResponse, size, len(resp)-1)
	}
	return resp[1 : 1+size], nil
}

func (m *Master) do(ctx context.Context, req []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.command(ctx, req)
}

// command sends req and waits for its response. Must be called with mu
// held.
func (m *Master) command(ctx context.Context, req []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.link.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", commandName(req[0]), err)
	}

	for {
		resp, err := m.link.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("receive %s: %w", commandName(req[0]), err)
		}
		if len(resp) == 0 {
			continue
		}
		switch resp[0] {
		case PIDResponse:
			return resp, nil
		case PIDError:
			code := byte(0)
			if len(resp) > 1 {
				code = resp[1]
			}
			return nil, &CommandError{Command: req[0], Code: code}
		case PIDEvent, PIDService:
			m.logger.Debug("Skipping XCP event packet", zap.Binary("packet", resp))
		default:
			m.logger.Debug("Skipping unexpected XCP packet", zap.Uint8("pid", resp[0]))
		}
	}
}
