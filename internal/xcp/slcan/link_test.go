package slcan

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestBitrateCommand(t *testing.T) {
	tests := []struct {
		bitrate int
		want    string
		wantErr bool
	}{
		{500000, "S6\r", false},
		{1000000, "S8\r", false},
		{10000, "S0\r", false},
		{33333, "", true},
	}
	for _, tt := range tests {
		got, err := BitrateCommand(tt.bitrate)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("BitrateCommand(%d) = %q, %v", tt.bitrate, got, err)
		}
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name string
		id   uint32
		data []byte
		want string
	}{
		{"standard", 0x7E0, []byte{0xFF, 0x00}, "t7E02FF00\r"},
		{"extended by value", 0x18DA00F1, []byte{0xF5}, "T18DA00F11F5\r"},
		{"extended flag", 0x80000123, nil, "T000001230\r"},
		{"bit rate switch flag", 0x40000123, []byte{0x01}, "T40000123101\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeFrame(tt.id, tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("EncodeFrame = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := EncodeFrame(0x100, make([]byte, 9)); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("err = %v, want ErrFrameTooLong", err)
	}
}

func TestParseFrame(t *testing.T) {
	id, data, err := ParseFrame("t7E13FF0102")
	if err != nil || id != 0x7E1 || !bytes.Equal(data, []byte{0xFF, 0x01, 0x02}) {
		t.Errorf("ParseFrame = %X, % X, %v", id, data, err)
	}
	// Trailing timestamp is ignored.
	id, data, err = ParseFrame("T18DAF1001FF1234")
	if err != nil || id != 0x18DAF100 || !bytes.Equal(data, []byte{0xFF}) {
		t.Errorf("ParseFrame extended = %X, % X, %v", id, data, err)
	}

	for _, bad := range []string{"", "x123", "t12", "t7E19", "t7E12FF", "tXYZ1FF"} {
		if _, _, err := ParseFrame(bad); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("ParseFrame(%q) err = %v", bad, err)
		}
	}
}

// fakePort is a serial.Port fed from a byte script.
type fakePort struct {
	serial.Port
	written bytes.Buffer
	input   []byte
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.input) == 0 {
		return 0, nil
	}
	n := copy(b, p.input)
	p.input = p.input[n:]
	return n, nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func newTestLink(t *testing.T, port *fakePort) *Link {
	t.Helper()
	link, err := New(Config{Port: "/dev/ttyACM0", Bitrate: 500000, MasterID: 0x7E0, SlaveID: 0x7E1})
	if err != nil {
		t.Fatal(err)
	}
	link.open = func(name string, mode *serial.Mode) (serial.Port, error) {
		if name != "/dev/ttyACM0" || mode.BaudRate != 115200 {
			t.Errorf("open(%q, %+v)", name, mode)
		}
		return port, nil
	}
	if err := link.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	return link
}

func TestLinkSetupAndSend(t *testing.T) {
	port := &fakePort{}
	link := newTestLink(t, port)

	if err := link.Send(context.Background(), []byte{0xFF, 0x00}); err != nil {
		t.Fatal(err)
	}
	if got := port.written.String(); got != "C\rS6\rO\rt7E02FF00\r" {
		t.Errorf("written %q", got)
	}

	if err := link.Close(); err != nil {
		t.Fatal(err)
	}
	if !port.closed || !bytes.HasSuffix(port.written.Bytes(), []byte("C\r")) {
		t.Error("Close must close the channel and the port")
	}
}

func TestLinkReceiveFiltersSlaveID(t *testing.T) {
	port := &fakePort{input: []byte("\rz\rt1232AABB\rt7E12FF2A\r")}
	link := newTestLink(t, port)

	data, err := link.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xFF, 0x2A}) {
		t.Errorf("Receive = % X", data)
	}
}

func TestLinkReceiveAdapterError(t *testing.T) {
	port := &fakePort{input: []byte("\a")}
	link := newTestLink(t, port)

	if _, err := link.Receive(context.Background()); !errors.Is(err, ErrAdapterError) {
		t.Errorf("err = %v, want ErrAdapterError", err)
	}
}

func TestLinkReceiveTimeout(t *testing.T) {
	link := newTestLink(t, &fakePort{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := link.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
