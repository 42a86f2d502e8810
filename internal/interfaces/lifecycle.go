package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
	"github.com/KevinKickass/OpenCalibrationCore/internal/dataset"
	"github.com/KevinKickass/OpenCalibrationCore/internal/poller"
	"github.com/KevinKickass/OpenCalibrationCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State           string `json:"state"`
	DescriptorPath  string `json:"descriptor_path"`
	Loaded          bool   `json:"descriptor_loaded"`
	Version         string `json:"a2l_version,omitempty"`
	Vendor          string `json:"vendor,omitempty"`
	Measurements    int    `json:"measurements"`
	Characteristics int    `json:"characteristics"`
	Dropped         int    `json:"dropped_stanzas"`
	Transport       string `json:"transport"`
	Connected       bool   `json:"connected"`
	PollerRunning   bool   `json:"poller_running"`
	Signals         int    `json:"signals"`
}

type LifecycleManager interface {
	Config() *config.Config
	Poller() *poller.Service
	Datasets() *dataset.Loader
	// Audit is nil when no storage driver is configured.
	Audit() storage.AuditStore
	GetCurrentStatus() SystemStatus
	// ReloadDescriptor parses the A2L file again and rebuilds the link on
	// the next connect.
	ReloadDescriptor(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
