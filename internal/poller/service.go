package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
	"github.com/KevinKickass/OpenCalibrationCore/internal/signal"
)

const DefaultInterval = 2 * time.Second

// Loader provides descriptor tables, typically from the configured A2L file.
type Loader interface {
	Load(ctx context.Context) (*a2l.Tables, error)
}

// Service keeps the calibration session alive and executes bus commands.
type Service struct {
	session  *calibration.Session
	loader   Loader
	registry *signal.Registry
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	loadMu sync.Mutex
}

func NewService(
	session *calibration.Session,
	loader Loader,
	registry *signal.Registry,
	interval time.Duration,
	logger *zap.Logger,
) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		session:  session,
		loader:   loader,
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start startet die Polling-Schleife
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.stopChan = make(chan struct{})
	s.running = true
	s.wg.Add(1)

	go s.loop()

	s.logger.Info("Polling service started", zap.Duration("interval", s.interval))
	return nil
}

// Stop ends the loop and releases the transport.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()

	if err := s.session.Close(); err != nil {
		s.logger.Warn("Closing transport failed", zap.Error(err))
	}
	s.logger.Info("Polling service stopped")
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if err := s.EnsureLoaded(ctx); err != nil {
				s.logger.Error("Loading descriptor tables failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// EnsureLoaded loads descriptor tables if the session has none.
func (s *Service) EnsureLoaded(ctx context.Context) error {
	if s.session.Loaded() {
		return nil
	}
	return s.Reload(ctx)
}

// Reload parses the descriptor file again and swaps the tables.
func (s *Service) Reload(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.loader == nil {
		return errors.New("no descriptor loader configured")
	}
	tables, err := s.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load descriptor: %w", err)
	}
	s.session.Load(tables)
	return nil
}

// Read loads the descriptor if needed, reads name and publishes the
// result under cal_<name>. Indexed names also refresh cal_<base>.
func (s *Service) Read(ctx context.Context, name string) (*calibration.Reading, error) {
	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	reading, err := s.session.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	s.registry.Set(signal.ResultName(name), reading.Value())
	if base, _, ok := calibration.SplitIndexed(name); ok && !reading.IsArray {
		s.registry.Set(signal.ResultName(base), s.session.Indexed(base))
	}
	return reading, nil
}

// Write downloads value and publishes it under cal_<name>.
func (s *Service) Write(ctx context.Context, name string, value float64) error {
	if err := s.EnsureLoaded(ctx); err != nil {
		return err
	}

	if err := s.session.Write(ctx, name, value); err != nil {
		return err
	}
	s.registry.Set(signal.ResultName(name), value)
	return nil
}

// Dispatch executes cmd and returns the published value.
func (s *Service) Dispatch(ctx context.Context, cmd signal.Command) (any, error) {
	switch cmd.Kind {
	case signal.KindRead:
		reading, err := s.Read(ctx, cmd.Name)
		if err != nil {
			return nil, err
		}
		return reading.Value(), nil

	case signal.KindWrite:
		if err := s.Write(ctx, cmd.Name, cmd.Value); err != nil {
			return nil, err
		}
		return cmd.Value, nil
	}
	return nil, fmt.Errorf("unknown command kind %v", cmd.Kind)
}

// Session exposes the calibration session, e.g. for descriptor lookups.
func (s *Service) Session() *calibration.Session {
	return s.session
}

// HandleSignal runs a bus signal if it is a calibration command. Other
// signal names are ignored.
func (s *Service) HandleSignal(ctx context.Context, name string, payload any) error {
	cmd, err := signal.ParseCommand(name, payload)
	if errors.Is(err, signal.ErrNotCommand) {
		return nil
	}
	if err != nil {
		s.logger.Warn("Invalid calibration command", zap.String("signal", name), zap.Error(err))
		return err
	}

	s.logger.Debug("Calibration command",
		zap.String("kind", cmd.Kind.String()),
		zap.String("variable", cmd.Name))

	_, err = s.Dispatch(ctx, cmd)
	return err
}

func (s *Service) Registry() *signal.Registry {
	return s.registry
}
