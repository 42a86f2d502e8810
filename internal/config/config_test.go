package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 || cfg.Server.GRPCPort != 50051 {
		t.Errorf("server ports = %d/%d", cfg.Server.HTTPPort, cfg.Server.GRPCPort)
	}
	if cfg.Poller.Interval != 2*time.Second {
		t.Errorf("poller.interval = %v", cfg.Poller.Interval)
	}
	if cfg.XCP.CalPage != (CalPageConfig{Mode: 3, Segment: 0, Page: 1}) {
		t.Errorf("cal_page = %+v", cfg.XCP.CalPage)
	}
	if cfg.A2L.Encoding != "latin1" || cfg.Storage.Driver != DriverNone {
		t.Errorf("a2l.encoding = %q, storage.driver = %q", cfg.A2L.Encoding, cfg.Storage.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
a2l:
  path: /data/ecu.a2l
  ecu_family: BCM_X
xcp:
  transport: slcan
  serial_port: /dev/ttyUSB1
  cal_page:
    page: 0
auth:
  users:
    - username: tech
      password_hash: "$argon2id$..."
      role: technician
storage:
  driver: sqlite
  sqlite:
    path: /var/lib/occ/audit.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.A2L.Path != "/data/ecu.a2l" || cfg.A2L.ECUFamily != "BCM_X" {
		t.Errorf("a2l = %+v", cfg.A2L)
	}
	if cfg.XCP.Transport != "slcan" || cfg.XCP.SerialPort != "/dev/ttyUSB1" {
		t.Errorf("xcp = %+v", cfg.XCP)
	}
	if cfg.XCP.CalPage.Page != 0 || cfg.XCP.CalPage.Mode != 3 {
		t.Errorf("cal_page = %+v", cfg.XCP.CalPage)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Role != "technician" {
		t.Errorf("users = %+v", cfg.Auth.Users)
	}
	if cfg.Storage.SQLite.Path != "/var/lib/occ/audit.db" {
		t.Errorf("sqlite.path = %q", cfg.Storage.SQLite.Path)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("OCC_A2L_PATH", "/env/ecu.a2l")
	t.Setenv("OCC_POLLER_INTERVAL", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.A2L.Path != "/env/ecu.a2l" {
		t.Errorf("a2l.path = %q", cfg.A2L.Path)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("poller.interval = %v", cfg.Poller.Interval)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"transport", "xcp:\n  transport: lin\n"},
		{"protocol", "xcp:\n  protocol: sctp\n"},
		{"storage", "storage:\n  driver: mongo\n"},
		{"mqtt broker", "mqtt:\n  enabled: true\n  broker: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must fail")
	}
}

func TestJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OCC_TEST_SECRET"}

	t.Setenv("OCC_TEST_SECRET", "")
	if a.GetJWTSecret() != devSecret || a.IsProductionReady() {
		t.Error("empty secret must fall back to the development secret")
	}

	t.Setenv("OCC_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	if !a.IsProductionReady() {
		t.Error("32 byte secret is production ready")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Database: "occ", User: "u", Password: "p"}
	if got := d.DSN(); got != "postgres://u:p@db:5432/occ?sslmode=disable" {
		t.Errorf("DSN = %q", got)
	}
}
