package system

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CalibrationService is the health service name reported next to the
// overall server status.
const CalibrationService = "occ.calibration.v1.Calibration"

// healthReporter publishes descriptor readiness through the standard gRPC
// health protocol.
type healthReporter struct {
	server *health.Server
}

func newHealthReporter(s *grpc.Server) *healthReporter {
	h := &healthReporter{server: health.NewServer()}
	healthpb.RegisterHealthServer(s, h.server)
	h.set(false)
	return h
}

func (h *healthReporter) set(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(CalibrationService, status)
}

func (h *healthReporter) shutdown() {
	h.server.Shutdown()
}
