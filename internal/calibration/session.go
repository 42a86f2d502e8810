package calibration

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/conversion"
)

type Option func(*Session)

func WithCalPage(p CalPage) Option {
	return func(s *Session) { s.calPage = p }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// Session resolves variables against the loaded descriptor tables and
// transfers them over a Transport. One request at a time owns the
// transport, from connect to disconnect.
type Session struct {
	transport Transport
	logger    *zap.Logger
	calPage   CalPage
	recorder  Recorder

	tables atomic.Pointer[a2l.Tables]

	mu        sync.Mutex
	connected bool

	indexMu sync.RWMutex
	indexed map[string]map[int]float64
}

func NewSession(transport Transport, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		transport: transport,
		logger:    logger,
		calPage:   DefaultCalPage,
		indexed:   make(map[string]map[int]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load swaps in new descriptor tables. Requests already resolved keep
// using the tables they started with.
func (s *Session) Load(t *a2l.Tables) {
	s.tables.Store(t)
	s.logger.Info("Descriptor tables loaded",
		zap.Int("measurements", len(t.Measurements)),
		zap.Int("characteristics", len(t.Characteristics)))
}

func (s *Session) Tables() *a2l.Tables {
	return s.tables.Load()
}

func (s *Session) Loaded() bool {
	return s.tables.Load() != nil
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Reading is the physical result of one read.
type Reading struct {
	Name    string    `json:"name"`
	Values  []float64 `json:"values"`
	IsArray bool      `json:"is_array"`
	Unit    string    `json:"unit,omitempty"`
}

// Value returns the scalar or the whole slice for arrays.
func (r *Reading) Value() any {
	if r.IsArray {
		return r.Values
	}
	return r.Values[0]
}

var indexedName = regexp.MustCompile(`^([a-zA-Z_][\w.]*)\[(\d+)\]$`)

// SplitIndexed splits "base[i]" names.
func SplitIndexed(name string) (base string, index int, ok bool) {
	m := indexedName.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], index, true
}

// Read fetches all elements of name and converts them to physical values.
func (s *Session) Read(ctx context.Context, name string) (*Reading, error) {
	info, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	values, err := s.read(ctx, info)
	s.record(ctx, OperationRead, name, values, err)
	if err != nil {
		s.logger.Error("Read failed", zap.String("variable", name), zap.Error(err))
		return nil, err
	}

	reading := &Reading{
		Name:    name,
		Values:  values,
		IsArray: len(values) > 1,
		Unit:    info.Unit,
	}
	if base, idx, ok := SplitIndexed(name); ok && !reading.IsArray {
		s.setIndexed(base, idx, values[0])
	}
	return reading, nil
}

func (s *Session) read(ctx context.Context, info *VariableInfo) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	defer s.disconnect(ctx)

	size := uint16(info.DataType.Size())
	values := make([]float64, 0, info.Count())
	for i := 0; i < info.Count(); i++ {
		addr := info.ElementAddress(i)

		var (
			data []byte
			err  error
		)
		if info.Kind == KindCharacteristic {
			if err = s.transport.SetMTA(ctx, addr, info.Extension); err == nil {
				data, err = s.transport.Upload(ctx, size)
			}
		} else {
			data, err = s.transport.ShortUpload(ctx, size, addr, info.Extension)
		}
		if err != nil {
			return nil, fmt.Errorf("upload %s at 0x%X: %w", info.Name, addr, err)
		}

		raw, err := conversion.Decode(info.DataType, data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", info.Name, err)
		}
		phys, err := info.Formula.Physical(raw)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", info.Name, err)
		}
		values = append(values, phys)
	}

	s.logger.Debug("Variable read",
		zap.String("variable", info.Name),
		zap.Uint32("address", info.Address),
		zap.Float64s("values", values))
	return values, nil
}

// Write converts value to raw and downloads it to the working page.
func (s *Session) Write(ctx context.Context, name string, value float64) error {
	err := s.write(ctx, name, value)
	s.record(ctx, OperationWrite, name, []float64{value}, err)
	if err != nil {
		s.logger.Error("Write failed",
			zap.String("variable", name),
			zap.Float64("value", value),
			zap.Error(err))
	}
	return err
}

func (s *Session) write(ctx context.Context, name string, value float64) error {
	info, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if info.Kind != KindCharacteristic {
		return fmt.Errorf("%w: %s", ErrNotCharacteristic, name)
	}

	raw, err := info.Formula.Raw(value)
	if err != nil {
		return fmt.Errorf("convert %s: %w", name, err)
	}
	data, err := conversion.Encode(info.DataType, raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.disconnect(ctx)

	if err := s.transport.SetCalPage(ctx, s.calPage.Segment, s.calPage.Page, s.calPage.Mode); err != nil {
		return fmt.Errorf("set cal page: %w", err)
	}
	if err := s.transport.SetMTA(ctx, info.Address, info.Extension); err != nil {
		return fmt.Errorf("set mta for %s: %w", name, err)
	}
	if err := s.transport.Download(ctx, data); err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}

	s.logger.Info("Variable written",
		zap.String("variable", info.Name),
		zap.Float64("value", value),
		zap.Float64("raw", raw),
		zap.Uint32("address", info.Address))
	return nil
}

// connect must be called with mu held.
func (s *Session) connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	if err := s.connectAndUnlock(ctx); err != nil {
		s.logger.Warn("Connect failed, retrying", zap.Error(err))

		if derr := s.transport.Disconnect(ctx); derr != nil {
			s.logger.Error("Disconnect before retry failed", zap.Error(derr))
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		if err := s.connectAndUnlock(ctx); err != nil {
			s.logger.Error("Connect retry failed", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}

	s.connected = true
	return nil
}

func (s *Session) connectAndUnlock(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := s.transport.UserCommand(ctx, UnlockSubCommand, UnlockPayload()); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return nil
}

// disconnect must be called with mu held. The state is Disconnected
// afterwards even if the transport reports an error.
func (s *Session) disconnect(ctx context.Context) {
	if !s.connected {
		return
	}
	if err := s.transport.Disconnect(ctx); err != nil {
		s.logger.Warn("Disconnect failed", zap.Error(err))
	}
	s.connected = false
}

// Close disconnects and releases the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnect(context.Background())
	return s.transport.Close()
}

// Indexed returns a copy of the values read through "base[i]" names.
func (s *Session) Indexed(base string) map[int]float64 {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	src, ok := s.indexed[base]
	if !ok {
		return nil
	}
	out := make(map[int]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (s *Session) setIndexed(base string, index int, value float64) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	m, ok := s.indexed[base]
	if !ok {
		m = make(map[int]float64)
		s.indexed[base] = m
	}
	m[index] = value
}

func (s *Session) record(ctx context.Context, op Operation, name string, values []float64, err error) {
	if s.recorder == nil {
		return
	}
	if rerr := s.recorder.Record(ctx, newAuditEvent(op, name, values, err)); rerr != nil {
		s.logger.Warn("Audit record failed", zap.String("variable", name), zap.Error(rerr))
	}
}
