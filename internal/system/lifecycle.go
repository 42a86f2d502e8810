package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/api/rest"
	"github.com/KevinKickass/OpenCalibrationCore/internal/api/websocket"
	"github.com/KevinKickass/OpenCalibrationCore/internal/auth"
	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
	"github.com/KevinKickass/OpenCalibrationCore/internal/dataset"
	"github.com/KevinKickass/OpenCalibrationCore/internal/interfaces"
	"github.com/KevinKickass/OpenCalibrationCore/internal/mqtt"
	"github.com/KevinKickass/OpenCalibrationCore/internal/poller"
	"github.com/KevinKickass/OpenCalibrationCore/internal/signal"
	"github.com/KevinKickass/OpenCalibrationCore/internal/storage"
	"github.com/KevinKickass/OpenCalibrationCore/internal/xcp"
)

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	registry    *signal.Registry
	session     *calibration.Session
	poller      *poller.Service
	datasets    *dataset.Loader
	audit       storage.AuditStore
	authService *auth.AuthService
	wsHub       *websocket.Hub
	bridge      *mqtt.Bridge

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *healthReporter

	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires all components from cfg. Nothing touches the
// bus or opens listeners until Start.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	audit, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	datasets, err := dataset.NewLoader(cfg.Datasets.SearchPaths)
	if err != nil {
		closeAudit(audit, logger)
		return nil, err
	}

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		registry:     signal.NewRegistry(),
		datasets:     datasets,
		audit:        audit,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	// Der Link wird erst beim ersten Connect gebaut, damit Host und Port
	// aus der geladenen A2L-Datei kommen können.
	link := xcp.NewLazyLink(linkBuilder(cfg.XCP, lm.tables, logger))
	master := xcp.NewMaster(link, logger, cfg.XCP.Timeout)

	opts := []calibration.Option{
		calibration.WithCalPage(calibration.CalPage{
			Mode:    cfg.XCP.CalPage.Mode,
			Segment: cfg.XCP.CalPage.Segment,
			Page:    cfg.XCP.CalPage.Page,
		}),
	}
	if audit != nil {
		opts = append(opts, calibration.WithRecorder(audit))
	}
	lm.session = calibration.NewSession(master, logger, opts...)

	loader := a2l.FileLoader{
		Path:     cfg.A2L.Path,
		Encoding: cfg.A2L.Encoding,
		Options: []a2l.Option{
			a2l.WithECUFamily(cfg.A2L.ECUFamily),
			a2l.WithLogger(logger),
		},
	}
	lm.poller = poller.NewService(lm.session, loader, lm.registry, cfg.Poller.Interval, logger)

	lm.authService = auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService, lm.poller)
	if cfg.MQTT.Enabled {
		lm.bridge = mqtt.NewBridge(cfg.MQTT, lm.poller, lm.registry, logger)
	}

	return lm, nil
}

func (lm *LifecycleManager) tables() *a2l.Tables {
	return lm.session.Tables()
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenCalibrationCore",
		zap.String("a2l", lm.config.A2L.Path),
		zap.String("transport", lm.config.XCP.Transport))

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.wsHub.Run(runCtx)
	}()
	lm.unsubscribe = lm.registry.Subscribe(lm.wsHub.OnUpdate)

	// Fehlende Datei ist nicht fatal, der Poller versucht es erneut
	if err := lm.poller.EnsureLoaded(ctx); err != nil {
		lm.logger.Warn("Descriptor not loaded yet", zap.Error(err))
	}
	if err := lm.poller.Start(); err != nil {
		lm.setError(err)
		return err
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if lm.bridge != nil {
		if err := lm.bridge.Start(ctx); err != nil {
			lm.logger.Error("MQTT bridge unavailable", zap.Error(err))
			lm.bridge = nil
		}
	}

	lm.wg.Add(1)
	go lm.watchDescriptor(runCtx)

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("mqtt", lm.bridge != nil))

	return nil
}

// watchDescriptor mirrors descriptor readiness into gRPC health and
// pushes a status message to websocket clients when it changes.
func (lm *LifecycleManager) watchDescriptor(ctx context.Context) {
	defer lm.wg.Done()

	interval := lm.config.Poller.Interval
	if interval <= 0 {
		interval = poller.DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	loaded := lm.session.Loaded()
	lm.health.set(loaded)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if now := lm.session.Loaded(); now != loaded {
				loaded = now
				lm.health.set(loaded)
				lm.broadcastStatus()
			}
		}
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health = newHealthReporter(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// ReloadDescriptor parses the A2L file again. The transport is closed so
// the next connect picks up changed bus parameters.
func (lm *LifecycleManager) ReloadDescriptor(ctx context.Context) error {
	lm.stateMu.RLock()
	previous := lm.currentState
	lm.stateMu.RUnlock()

	if previous == StateRunning {
		lm.setState(StateReloading)
		lm.broadcastStatus()
	}

	err := lm.poller.Reload(ctx)
	if err == nil {
		if cerr := lm.session.Close(); cerr != nil {
			lm.logger.Warn("Closing transport after reload failed", zap.Error(cerr))
		}
		if lm.health != nil {
			lm.health.set(true)
		}
	}

	if previous == StateRunning {
		lm.setState(StateRunning)
		lm.broadcastStatus()
	}
	return err
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// 1. Keine neuen Kommandos mehr annehmen
	if lm.bridge != nil {
		lm.bridge.Stop()
	}

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		lm.health.shutdown()
		stopped := make(chan struct{})
		go func() {
			lm.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, forcing gRPC stop")
			lm.grpcServer.Stop()
		}
	}

	// 4. Poller stoppen und Bus freigeben
	lm.poller.Stop()

	if lm.unsubscribe != nil {
		lm.unsubscribe()
	}
	if lm.cancel != nil {
		lm.cancel()
	}
	lm.wg.Wait()

	if lm.audit != nil {
		if err := lm.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit store close failed: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if lm.currentState == state {
		return
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
	lm.broadcastStatus()
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State:          lm.State().String(),
		DescriptorPath: lm.config.A2L.Path,
		Transport:      lm.config.XCP.Transport,
		Connected:      lm.session.IsConnected(),
		PollerRunning:  lm.poller.IsRunning(),
		Signals:        len(lm.registry.Names()),
	}

	if t := lm.session.Tables(); t != nil {
		status.Loaded = true
		status.Version = t.Version
		status.Vendor = t.Vendor
		status.Measurements = len(t.Measurements)
		status.Characteristics = len(t.Characteristics)
		status.Dropped = len(t.Dropped)
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast("", websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

func closeAudit(store storage.AuditStore, logger *zap.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Warn("Closing audit store failed", zap.Error(err))
	}
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Poller() *poller.Service {
	return lm.poller
}

func (lm *LifecycleManager) Datasets() *dataset.Loader {
	return lm.datasets
}

func (lm *LifecycleManager) Audit() storage.AuditStore {
	return lm.audit
}

func (lm *LifecycleManager) Registry() *signal.Registry {
	return lm.registry
}
