package calibration

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration/mocks"
	"github.com/KevinKickass/OpenCalibrationCore/internal/conversion"
)

const sessionA2L = `/begin PROJECT demo ""
/begin MEASUREMENT Speed "" UWORD CM_Speed 0 0 0 65535
  ECU_ADDRESS 0x1000
  DISPLAY_IDENTIFIER VehSpd
/end MEASUREMENT
/begin MEASUREMENT Temps "" UWORD NO_COMPU_METHOD 0 0 0 65535
  ECU_ADDRESS 0x1100
  MATRIX_DIM 4 1 1
/end MEASUREMENT
/begin MEASUREMENT Arr[2] "" UBYTE NO_COMPU_METHOD 0 0 0 255
  ECU_ADDRESS 0x1200
/end MEASUREMENT
/begin MEASUREMENT RawWord "" UWORD NO_COMPU_METHOD 0 0 0 65535
  ECU_ADDRESS 0x1400
/end MEASUREMENT
/begin MEASUREMENT NoAddr "" UBYTE NO_COMPU_METHOD 0 0 0 255
/end MEASUREMENT
/begin MEASUREMENT Ghost "" UBYTE CM_Missing 0 0 0 255
  ECU_ADDRESS 0x1300
/end MEASUREMENT
/begin CHARACTERISTIC Offset "" VALUE 0x2000 RL_UBYTE 0 CM_Half 0 255
/end CHARACTERISTIC
/begin CHARACTERISTIC Orphan "" VALUE 0x2100 RL_MISSING 0 NO_COMPU_METHOD 0 255
/end CHARACTERISTIC
/begin CHARACTERISTIC Ident "" VALUE 0x2200 RL_UWORD 0 CM_Ident 0 65535
  ECU_ADDRESS_EXTENSION 0x2
/end CHARACTERISTIC
/begin COMPU_METHOD CM_Speed "Q = V*2" RAT_FUNC "%6.2" "km/h"
/end COMPU_METHOD
/begin COMPU_METHOD CM_Half "Q=V/2" RAT_FUNC "%6.2" ""
/end COMPU_METHOD
/begin COMPU_METHOD CM_Ident "" RAT_FUNC "%6.2" ""
  COEFFS 0 1 0 0 0 1
/end COMPU_METHOD
/begin RECORD_LAYOUT RL_UBYTE
  FNC_VALUES 1 UBYTE ROW_DIR DIRECT
/end RECORD_LAYOUT
/begin RECORD_LAYOUT RL_UWORD
  FNC_VALUES 1 UWORD ROW_DIR DIRECT
/end RECORD_LAYOUT
/end PROJECT
`

func newTestSession(t *testing.T, opts ...Option) (*Session, *mocks.MockTransport) {
	t.Helper()
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	tables, err := a2l.ParseString(sessionA2L)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	s := NewSession(transport, zaptest.NewLogger(t), opts...)
	s.Load(tables)
	return s, transport
}

func expectConnect(m *mocks.MockTransport) *gomock.Call {
	return m.EXPECT().Connect(gomock.Any()).Return(nil)
}

func expectUnlock(m *mocks.MockTransport) *gomock.Call {
	return m.EXPECT().UserCommand(gomock.Any(), byte(0xFF), []byte{0x00, 0xAA, 0x55, 0x00, 0x00, 0x00}).Return(nil)
}

func TestReadMeasurementEndToEnd(t *testing.T) {
	tests := []struct {
		name    string
		address uint32
		data    []byte
		want    float64
		unit    string
	}{
		{"RawWord", 0x1400, []byte{0x64, 0x00}, 100, ""},
		{"Speed", 0x1000, []byte{0xC8, 0x00}, 100, "km/h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m := newTestSession(t)

			gomock.InOrder(
				expectConnect(m),
				expectUnlock(m),
				m.EXPECT().ShortUpload(gomock.Any(), uint16(2), tt.address, uint8(0)).Return(tt.data, nil),
				m.EXPECT().Disconnect(gomock.Any()).Return(nil),
			)

			got, err := s.Read(context.Background(), tt.name)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got.IsArray || got.Value() != tt.want {
				t.Errorf("Read(%s) = %+v, want scalar %v", tt.name, got, tt.want)
			}
			if got.Unit != tt.unit {
				t.Errorf("Unit = %q, want %q", got.Unit, tt.unit)
			}
			if s.IsConnected() {
				t.Error("session must be disconnected after a request")
			}
		})
	}
}

func TestReadMatrixAddresses(t *testing.T) {
	s, m := newTestSession(t)

	expectConnect(m)
	expectUnlock(m)
	gomock.InOrder(
		m.EXPECT().ShortUpload(gomock.Any(), uint16(2), uint32(0x1100), uint8(0)).Return([]byte{1, 0}, nil),
		m.EXPECT().ShortUpload(gomock.Any(), uint16(2), uint32(0x1102), uint8(0)).Return([]byte{2, 0}, nil),
		m.EXPECT().ShortUpload(gomock.Any(), uint16(2), uint32(0x1104), uint8(0)).Return([]byte{3, 0}, nil),
		m.EXPECT().ShortUpload(gomock.Any(), uint16(2), uint32(0x1106), uint8(0)).Return([]byte{0, 1}, nil),
	)
	m.EXPECT().Disconnect(gomock.Any()).Return(nil)

	got, err := s.Read(context.Background(), "Temps")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.IsArray || !reflect.DeepEqual(got.Values, []float64{1, 2, 3, 256}) {
		t.Errorf("Read(Temps) = %+v", got)
	}
}

func TestReadCharacteristicUsesMTA(t *testing.T) {
	s, m := newTestSession(t)

	gomock.InOrder(
		expectConnect(m),
		expectUnlock(m),
		m.EXPECT().SetMTA(gomock.Any(), uint32(0x2200), uint8(2)).Return(nil),
		m.EXPECT().Upload(gomock.Any(), uint16(2)).Return([]byte{0xD2, 0x04}, nil),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	got, err := s.Read(context.Background(), "Ident")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(got.Values[0]-1234) > 1e-9 {
		t.Errorf("Read(Ident) = %v, want 1234", got.Values)
	}
}

func TestReadUnknownMakesNoTransportCalls(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.Read(context.Background(), "DoesNotExist")
	if !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("err = %v, want ErrUnknownVariable", err)
	}
	if err := s.Write(context.Background(), "DoesNotExist", 1); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("err = %v, want ErrUnknownVariable", err)
	}
}

func TestReadTransportErrorStillDisconnects(t *testing.T) {
	s, m := newTestSession(t)
	boom := errors.New("timeout")

	gomock.InOrder(
		expectConnect(m),
		expectUnlock(m),
		m.EXPECT().ShortUpload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, boom),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	if _, err := s.Read(context.Background(), "Speed"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped transport error", err)
	}
}

func TestReadShortResponse(t *testing.T) {
	s, m := newTestSession(t)

	expectConnect(m)
	expectUnlock(m)
	m.EXPECT().ShortUpload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{0xC8}, nil)
	m.EXPECT().Disconnect(gomock.Any()).Return(nil)

	if _, err := s.Read(context.Background(), "Speed"); !errors.Is(err, conversion.ErrShortBuffer) {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
}

func TestWriteCharacteristicEndToEnd(t *testing.T) {
	s, m := newTestSession(t)

	gomock.InOrder(
		expectConnect(m),
		expectUnlock(m),
		m.EXPECT().SetCalPage(gomock.Any(), uint8(0), uint8(1), uint8(3)).Return(nil),
		m.EXPECT().SetMTA(gomock.Any(), uint32(0x2000), uint8(0)).Return(nil),
		m.EXPECT().Download(gomock.Any(), []byte{5}).Return(nil),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	if err := s.Write(context.Background(), "Offset", 10); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestWriteCustomCalPage(t *testing.T) {
	s, m := newTestSession(t, WithCalPage(CalPage{Mode: 1, Segment: 2, Page: 0}))

	expectConnect(m)
	expectUnlock(m)
	m.EXPECT().SetCalPage(gomock.Any(), uint8(2), uint8(0), uint8(1)).Return(nil)
	m.EXPECT().SetMTA(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.EXPECT().Download(gomock.Any(), []byte{0xD2, 0x04}).Return(nil)
	m.EXPECT().Disconnect(gomock.Any()).Return(nil)

	if err := s.Write(context.Background(), "Ident", 1234); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestWriteRejectedBeforeConnect(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		variable string
		value    float64
		want     error
	}{
		{"measurement", "Speed", 1, ErrNotCharacteristic},
		{"out of range", "Offset", 1000, conversion.ErrOutOfRange},
		{"negative unsigned", "Offset", -2, conversion.ErrOutOfRange},
		{"missing record layout", "Orphan", 1, ErrNoRecordLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Write(ctx, tt.variable, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("Write(%s, %v) = %v, want %v", tt.variable, tt.value, err, tt.want)
			}
		})
	}
}

func TestWriteAbortsOnTransportError(t *testing.T) {
	s, m := newTestSession(t)
	denied := errors.New("ERR_ACCESS_DENIED")

	gomock.InOrder(
		expectConnect(m),
		expectUnlock(m),
		m.EXPECT().SetCalPage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(denied),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	if err := s.Write(context.Background(), "Offset", 10); !errors.Is(err, denied) {
		t.Errorf("err = %v", err)
	}
}

func TestConnectRetry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctrl := gomock.NewController(t)
	m := mocks.NewMockTransport(ctrl)
	tables, err := a2l.ParseString(sessionA2L)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSession(m, zap.New(core))
	s.Load(tables)

	gomock.InOrder(
		m.EXPECT().Connect(gomock.Any()).Return(errors.New("no response")),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
		expectConnect(m),
		expectUnlock(m),
		m.EXPECT().ShortUpload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{0xC8, 0x00}, nil),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	if _, err := s.Read(context.Background(), "VehSpd"); err != nil {
		t.Fatalf("Read after retry: %v", err)
	}
	if logs.FilterMessage("Connect failed, retrying").Len() != 1 {
		t.Error("expected one retry warning")
	}
}

func TestUnlockFailureRetries(t *testing.T) {
	s, m := newTestSession(t)

	gomock.InOrder(
		expectConnect(m),
		m.EXPECT().UserCommand(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("ERR_CMD_UNKNOWN")),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
		expectConnect(m),
		expectUnlock(m),
		m.EXPECT().ShortUpload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{0xC8, 0x00}, nil),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	if _, err := s.Read(context.Background(), "Speed"); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestConnectGivesUpAfterOneRetry(t *testing.T) {
	s, m := newTestSession(t)

	gomock.InOrder(
		m.EXPECT().Connect(gomock.Any()).Return(errors.New("no response")),
		m.EXPECT().Disconnect(gomock.Any()).Return(nil),
		m.EXPECT().Connect(gomock.Any()).Return(errors.New("still nothing")),
	)

	if _, err := s.Read(context.Background(), "Speed"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if s.IsConnected() {
		t.Error("session must stay disconnected")
	}
}

func TestConnectGivesUpWhenDisconnectFails(t *testing.T) {
	s, m := newTestSession(t)

	gomock.InOrder(
		m.EXPECT().Connect(gomock.Any()).Return(errors.New("no response")),
		m.EXPECT().Disconnect(gomock.Any()).Return(errors.New("link down")),
	)

	if err := s.Write(context.Background(), "Offset", 10); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestDisconnectErrorIsSwallowed(t *testing.T) {
	s, m := newTestSession(t)

	expectConnect(m)
	expectUnlock(m)
	m.EXPECT().ShortUpload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{0xC8, 0x00}, nil)
	m.EXPECT().Disconnect(gomock.Any()).Return(errors.New("no response"))

	if _, err := s.Read(context.Background(), "Speed"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.IsConnected() {
		t.Error("state must be Disconnected after a failed disconnect")
	}
}

func TestIndexedRead(t *testing.T) {
	s, m := newTestSession(t)

	expectConnect(m)
	expectUnlock(m)
	m.EXPECT().ShortUpload(gomock.Any(), uint16(1), uint32(0x1200), uint8(0)).Return([]byte{7}, nil)
	m.EXPECT().Disconnect(gomock.Any()).Return(nil)

	if _, err := s.Read(context.Background(), "Arr[2]"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := s.Indexed("Arr"); !reflect.DeepEqual(got, map[int]float64{2: 7}) {
		t.Errorf("Indexed(Arr) = %v", got)
	}
	if s.Indexed("Other") != nil {
		t.Error("unknown base must return nil")
	}
}

func TestSplitIndexed(t *testing.T) {
	tests := []struct {
		in    string
		base  string
		index int
		ok    bool
	}{
		{"Arr[2]", "Arr", 2, true},
		{"a.b_c[10]", "a.b_c", 10, true},
		{"Arr", "", 0, false},
		{"Arr[x]", "", 0, false},
		{"1Arr[0]", "", 0, false},
	}
	for _, tt := range tests {
		base, index, ok := SplitIndexed(tt.in)
		if base != tt.base || index != tt.index || ok != tt.ok {
			t.Errorf("SplitIndexed(%q) = %q, %d, %v", tt.in, base, index, ok)
		}
	}
}

func TestResolve(t *testing.T) {
	s, _ := newTestSession(t)

	info, err := s.Resolve("VehSpd")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := &VariableInfo{
		Name: "Speed", Kind: KindMeasurement, Address: 0x1000, DataType: conversion.DataTypeUWord,
		MatrixDim: [3]int{1, 1, 1}, Formula: "Q = V*2", HasConversion: true, Unit: "km/h",
	}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("Resolve(VehSpd) = %+v, want %+v", info, want)
	}

	tests := []struct {
		name string
		want error
	}{
		{"NoAddr", ErrNoAddress},
		{"Orphan", ErrNoRecordLayout},
		{"Ghost", ErrUnknownCompuMethod},
		{"Missing", ErrUnknownVariable},
	}
	for _, tt := range tests {
		if _, err := s.Resolve(tt.name); !errors.Is(err, tt.want) {
			t.Errorf("Resolve(%s) = %v, want %v", tt.name, err, tt.want)
		}
	}

	empty := NewSession(nil, nil)
	if _, err := empty.Resolve("Speed"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("err = %v, want ErrNotLoaded", err)
	}
}

func TestCloseReleasesTransport(t *testing.T) {
	s, m := newTestSession(t)
	m.EXPECT().Close().Return(nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *fakeRecorder) Record(_ context.Context, ev AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestRecorderSeesEveryTransfer(t *testing.T) {
	rec := &fakeRecorder{}
	s, m := newTestSession(t, WithRecorder(rec))

	expectConnect(m).Times(2)
	expectUnlock(m).Times(2)
	m.EXPECT().ShortUpload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{0xC8, 0x00}, nil)
	m.EXPECT().SetCalPage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.EXPECT().SetMTA(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.EXPECT().Download(gomock.Any(), gomock.Any()).Return(errors.New("ERR_WRITE_PROTECTED"))
	m.EXPECT().Disconnect(gomock.Any()).Return(nil).Times(2)

	ctx := context.Background()
	if _, err := s.Read(ctx, "Speed"); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, "Offset", 10); err == nil {
		t.Fatal("expected write error")
	}

	if len(rec.events) != 2 {
		t.Fatalf("got %d events, want 2", len(rec.events))
	}
	if ev := rec.events[0]; ev.Operation != OperationRead || !ev.Success || ev.Values[0] != 100 {
		t.Errorf("read event = %+v", ev)
	}
	if ev := rec.events[1]; ev.Operation != OperationWrite || ev.Success || ev.Error == "" {
		t.Errorf("write event = %+v", ev)
	}
}

// serialTransport fails the test when a second request connects before
// the first one disconnected. Transfers sleep so requests overlap.
type serialTransport struct {
	t      *testing.T
	active atomic.Int32

	mu     sync.Mutex
	events []string
}

func (f *serialTransport) log(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *serialTransport) Connect(context.Context) error {
	if n := f.active.Add(1); n != 1 {
		f.t.Errorf("connect while %d request(s) own the transport", n-1)
	}
	f.log("connect")
	return nil
}

func (f *serialTransport) Disconnect(context.Context) error {
	f.log("disconnect")
	f.active.Add(-1)
	return nil
}

func (f *serialTransport) UserCommand(context.Context, byte, []byte) error { return nil }

func (f *serialTransport) SetMTA(context.Context, uint32, uint8) error { return nil }

func (f *serialTransport) Upload(_ context.Context, size uint16) ([]byte, error) {
	return make([]byte, size), nil
}

func (f *serialTransport) ShortUpload(_ context.Context, size uint16, _ uint32, _ uint8) ([]byte, error) {
	f.log("upload")
	time.Sleep(time.Millisecond)
	return make([]byte, size), nil
}

func (f *serialTransport) Download(context.Context, []byte) error {
	f.log("download")
	time.Sleep(time.Millisecond)
	return nil
}

func (f *serialTransport) SetCalPage(context.Context, uint8, uint8, uint8) error { return nil }

func (f *serialTransport) Close() error { return nil }

func TestConcurrentRequestsOwnTransport(t *testing.T) {
	tables, err := a2l.ParseString(sessionA2L)
	if err != nil {
		t.Fatal(err)
	}
	transport := &serialTransport{t: t}
	s := NewSession(transport, zaptest.NewLogger(t))
	s.Load(tables)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Read(context.Background(), "Speed"); err != nil {
				t.Errorf("Read: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.Write(context.Background(), "Offset", 10); err != nil {
				t.Errorf("Write: %v", err)
			}
		}()
	}
	wg.Wait()

	// Every request is exactly connect, transfer, disconnect.
	ev := transport.events
	if len(ev) != 2*workers*3 {
		t.Fatalf("got %d events, want %d: %v", len(ev), 2*workers*3, ev)
	}
	for i := 0; i < len(ev); i += 3 {
		if ev[i] != "connect" || ev[i+2] != "disconnect" || (ev[i+1] != "upload" && ev[i+1] != "download") {
			t.Fatalf("interleaved requests at event %d: %v", i, ev[i:i+3])
		}
	}
	if s.IsConnected() {
		t.Error("session must be disconnected after all requests")
	}
}
