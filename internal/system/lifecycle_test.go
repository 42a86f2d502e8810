package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
)

const descriptor = `ASAP2_VERSION 1 61
/begin MEASUREMENT Speed "" UWORD NO_COMPU_METHOD 0 0 0 65535
  ECU_ADDRESS 0x1000
/end MEASUREMENT
/begin CHARACTERISTIC Offset "" VALUE 0x2000 RL_UBYTE 0 NO_COMPU_METHOD 0 255
/end CHARACTERISTIC
/begin RECORD_LAYOUT RL_UBYTE
  FNC_VALUES 1 UBYTE ROW_DIR DIRECT
/end RECORD_LAYOUT
`

func testConfig(t *testing.T, a2lPath string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.A2L.Path = a2lPath
	cfg.Datasets.SearchPaths = []string{t.TempDir()}
	return cfg
}

func TestLifecycleStatusAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecu.a2l")
	if err := os.WriteFile(path, []byte(descriptor), 0o600); err != nil {
		t.Fatal(err)
	}

	lm, err := NewLifecycleManager(context.Background(), testConfig(t, path), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	status := lm.GetCurrentStatus()
	if status.State != "INITIALIZING" || status.Loaded || status.Transport != "eth" {
		t.Errorf("initial status = %+v", status)
	}
	if lm.Audit() != nil {
		t.Error("audit store must be nil without a storage driver")
	}

	if err := lm.ReloadDescriptor(context.Background()); err != nil {
		t.Fatalf("ReloadDescriptor: %v", err)
	}
	status = lm.GetCurrentStatus()
	if !status.Loaded || status.Measurements != 1 || status.Characteristics != 1 {
		t.Errorf("status after reload = %+v", status)
	}
	if status.State != "INITIALIZING" {
		t.Errorf("reload before start must keep state, got %s", status.State)
	}
}

func TestLifecycleReloadMissingFile(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.a2l"))
	lm, err := NewLifecycleManager(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := lm.ReloadDescriptor(context.Background()); err == nil {
		t.Error("expected error for missing descriptor")
	}
	if lm.GetCurrentStatus().Loaded {
		t.Error("descriptor must not be loaded")
	}
}

func TestLifecycleShutdownIdempotent(t *testing.T) {
	lm, err := NewLifecycleManager(context.Background(), testConfig(t, ""), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := lm.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := lm.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-lm.Done():
	default:
		t.Error("Done must be closed after shutdown")
	}
	if lm.State() != StateStopped {
		t.Errorf("state = %s", lm.State())
	}
}

func TestHealthReporter(t *testing.T) {
	h := newHealthReporter(grpc.NewServer())
	ctx := context.Background()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.server.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}

	if got := check(CalibrationService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %v", got)
	}
	h.set(true)
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after load = %v", got)
	}
}
