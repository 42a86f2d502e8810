package calibration

import "context"

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/KevinKickass/OpenCalibrationCore/internal/calibration Transport

// Transport is the calibration protocol capability a Session drives. All
// calls block until the ECU answers or the transport's own timeout expires.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// UserCommand sends a vendor command with the given sub-command.
	UserCommand(ctx context.Context, sub byte, payload []byte) error
	// SetMTA sets the memory transfer address for Upload and Download.
	SetMTA(ctx context.Context, address uint32, extension uint8) error
	Upload(ctx context.Context, size uint16) ([]byte, error)
	ShortUpload(ctx context.Context, size uint16, address uint32, extension uint8) ([]byte, error)
	Download(ctx context.Context, data []byte) error
	SetCalPage(ctx context.Context, segment, page, mode uint8) error
	// Close releases the underlying link.
	Close() error
}

// Unlock command sent right after every connect.
const (
	UnlockSubCommand byte = 0xFF
)

var unlockPayload = []byte{0x00, 0xAA, 0x55, 0x00, 0x00, 0x00}

// UnlockPayload returns a copy of the unlock command payload.
func UnlockPayload() []byte {
	return append([]byte(nil), unlockPayload...)
}

// CalPage selects the page that receives downloads.
type CalPage struct {
	Mode    uint8 `mapstructure:"mode" json:"mode"`
	Segment uint8 `mapstructure:"segment" json:"segment"`
	Page    uint8 `mapstructure:"page" json:"page"`
}

// DefaultCalPage addresses the working page of segment 0 for ECU and XCP
// access.
var DefaultCalPage = CalPage{Mode: 3, Segment: 0, Page: 1}
