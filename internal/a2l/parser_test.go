package a2l

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const inlineA2L = `ASAP2_VERSION 1 60
/begin PROJECT demo ""
/begin MODULE ecu ""

/begin MEASUREMENT Speed "Vehicle speed" UWORD CM_Speed 0 0 0 65535
  ECU_ADDRESS 0x1000
  DISPLAY_IDENTIFIER VehSpd
  /begin IF_DATA XCP
    ECU_ADDRESS 0xDEAD
    DISPLAY_IDENTIFIER Wrong
  /end IF_DATA
/end MEASUREMENT

/begin MEASUREMENT Temps "" SWORD NO_COMPU_METHOD 0 0 -40 200
  ECU_ADDRESS 0x1100
  ECU_ADDRESS_EXTENSION 0x1
  MATRIX_DIM 4
/end MEASUREMENT

/begin MEASUREMENT Broken "no type here"
/end MEASUREMENT

/begin CHARACTERISTIC Offset "Offset value" VALUE 0x2000 RL_UBYTE 0 CM_Offset 0 255
  DISPLAY_IDENTIFIER OffsetDisp
/end CHARACTERISTIC

/begin CHARACTERISTIC Gain "" 0x2100 RL_UBYTE 0 CM_Offset
/end CHARACTERISTIC

/begin COMPU_METHOD CM_Speed "Q = V*2" RAT_FUNC "%6.2" "km/h"
/end COMPU_METHOD

/begin COMPU_METHOD CM_Offset "" RAT_FUNC "%6.2" ""
  COEFFS 0 1 0 0 0 1
/end COMPU_METHOD

/begin COMPU_METHOD CM_Lin "" LINEAR "%6.2" "rpm"
  COEFFS_LINEAR 2 5
/end COMPU_METHOD

/begin COMPU_METHOD CM_Form "" FORM "%6.2" ""
  /begin FORMULA
    "X1*10"
  /end FORMULA
/end COMPU_METHOD

/begin COMPU_METHOD CM_Ident "" IDENTICAL "%6.2" ""
/end COMPU_METHOD

/begin COMPU_METHOD CM_BadCoeffs "" RAT_FUNC "%6.2" ""
  COEFFS 0 1 0 0 x 1
/end COMPU_METHOD

/begin RECORD_LAYOUT RL_UBYTE
  FNC_VALUES 1 UBYTE ROW_DIR DIRECT
/end RECORD_LAYOUT

/begin COMPU_TAB TAB_Gear "" TAB_NOINTP 2
  0 1
  1 2
  DEFAULT_VALUE_NUMERIC 0
/end COMPU_TAB

/begin COMPU_VTAB VT_State "" TAB_VERB 2
  0 "OFF"
  1 "ON"
  DEFAULT_VALUE "UNKNOWN"
/end COMPU_VTAB

/end MODULE
/end PROJECT
`

func TestParseInline(t *testing.T) {
	tables, err := ParseString(inlineA2L)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}

	if tables.Version != DefaultVersion {
		t.Errorf("Version = %q, want %q", tables.Version, DefaultVersion)
	}

	speed := tables.Measurements["Speed"]
	if speed == nil {
		t.Fatal("Speed not parsed")
	}
	want := &Measurement{
		Name: "Speed", LongIdentifier: "Vehicle speed", DataType: "UWORD", Conversion: "CM_Speed",
		Resolution: "0", Accuracy: "0", LowerLimit: "0", UpperLimit: "65535",
		ECUAddress: "0x1000", DisplayIdentifier: "VehSpd",
	}
	if !reflect.DeepEqual(speed, want) {
		t.Errorf("Speed = %+v, want %+v", speed, want)
	}

	temps := tables.Measurements["Temps"]
	if temps == nil || !reflect.DeepEqual(temps.MatrixDim, []int{4, 1, 1}) || temps.ECUAddressExtension != "0x1" {
		t.Errorf("Temps = %+v", temps)
	}

	if _, ok := tables.Measurements["Broken"]; ok {
		t.Error("malformed measurement must be dropped")
	}

	offset := tables.Characteristics["Offset"]
	if offset == nil || offset.Type != KindValue || offset.ECUAddress != "0x2000" ||
		offset.Deposit != "RL_UBYTE" || offset.Conversion != "CM_Offset" || offset.UpperLimit != "255" {
		t.Errorf("Offset = %+v", offset)
	}

	gain := tables.Characteristics["Gain"]
	if gain == nil || gain.ECUAddress != "0x2100" || gain.Deposit != "RL_UBYTE" ||
		gain.MaxDiff != "0" || gain.Conversion != "CM_Offset" {
		t.Errorf("Gain (hex fallback) = %+v", gain)
	}

	if rl := tables.RecordLayouts["RL_UBYTE"]; rl == nil || rl.FncValues.DataType != "UBYTE" || rl.FncValues.AddressType != "DIRECT" {
		t.Errorf("RL_UBYTE = %+v", rl)
	}

	functions := map[string]string{
		"CM_Speed":  "Q = V*2",
		"CM_Offset": "Q = (0*V*V + 1*V + 0)/(0*V*V + 0*V + 1)",
		"CM_Lin":    "Q = (0*V*V + 1*V + -5)/(0*V*V + 0*V + 2)",
		"CM_Form":   "",
		"CM_Ident":  "Q=V",
	}
	for name, fn := range functions {
		cm := tables.CompuMethods[name]
		if cm == nil {
			t.Errorf("%s not parsed", name)
			continue
		}
		if cm.Function != fn {
			t.Errorf("%s.Function = %q, want %q", name, cm.Function, fn)
		}
	}
	if cm := tables.CompuMethods["CM_Form"]; cm != nil && cm.Formula != "X1*10" {
		t.Errorf("CM_Form.Formula = %q", cm.Formula)
	}
	if cm := tables.CompuMethods["CM_Speed"]; cm != nil && cm.Unit != "km/h" {
		t.Errorf("CM_Speed.Unit = %q", cm.Unit)
	}
	if _, ok := tables.CompuMethods["CM_BadCoeffs"]; ok {
		t.Error("compu method with malformed COEFFS must be dropped")
	}

	tab := tables.CompuTabs["TAB_Gear"]
	if tab == nil || tab.NumberValuePairs != 2 || len(tab.Pairs) != 2 || tab.DefaultValueNumeric != "0" {
		t.Errorf("TAB_Gear = %+v", tab)
	}
	vtab := tables.CompuVtabs["VT_State"]
	if vtab == nil || vtab.DefaultValue != "UNKNOWN" || vtab.Pairs[1] != (ValuePair{In: "1", Out: "ON"}) {
		t.Errorf("VT_State = %+v", vtab)
	}

	if len(tables.Dropped) != 2 {
		t.Errorf("Dropped = %d entries, want 2", len(tables.Dropped))
	}
}

func TestDisplayIdentifierResolution(t *testing.T) {
	tables, err := ParseString(inlineA2L)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"Speed", "Speed", true},
		{"VehSpd", "Speed", true},
		{"OffsetDisp", "Offset", true},
		{"Wrong", "", false},
		{"Nope", "", false},
	}
	for _, tt := range tests {
		got, ok := tables.Canonical(tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Canonical(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIFDataInvariance(t *testing.T) {
	base := `/begin MEASUREMENT Speed "" UWORD CM 0 0 0 100
  ECU_ADDRESS 0x1000
/end MEASUREMENT
`
	withIFData := `/begin MEASUREMENT Speed "" UWORD CM 0 0 0 100
  /begin IF_DATA ETK
    KP_BLOB 0x0 INTERN 2
    ECU_ADDRESS 0xFFFF
  /end IF_DATA
  ECU_ADDRESS 0x1000
  /begin IF_DATA CANAPE_EXT 100 /end IF_DATA
/end MEASUREMENT
`
	a, err := ParseString(base)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseString(withIFData)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Measurements, b.Measurements) {
		t.Errorf("IF_DATA changed the result:\n%+v\n%+v", a.Measurements["Speed"], b.Measurements["Speed"])
	}
}

const commentedA2L = `ASAP2_VERSION 1 61
/begin PROJECT demo ""
/begin MEASUREMENT
  /* Name                   */      Speed
  /* Long identifier        */      "Vehicle speed"
  /* Data type              */      UWORD
  /* Conversion method      */      CM_Speed
  /* Resolution             */      1
  /* Accuracy               */      0
  /* Lower limit            */      0
  /* Upper limit            */      65535
  ECU_ADDRESS 0x1000
/end MEASUREMENT
/begin CHARACTERISTIC
  /* Name                   */      Offset
  /* Long Identifier        */      ""
  /* Type                   */      VALUE
  /* ECU Address            */      0x2000
  /* Record Layout          */      RL_UBYTE
  /* Maximum Difference     */      0
  /* Conversion Method      */      CM_Offset
  /* Lower Limit            */      0
  /* Upper Limit            */      255
/end CHARACTERISTIC
/begin COMPU_METHOD
  /* Name of CompuMethod    */      CM_Speed
  /* Long identifier        */      "Q = V*2"
  /* Conversion Type        */      RAT_FUNC
  /* Format                 */      "%6.2"
  /* Unit                   */      "km/h"
/end COMPU_METHOD
/end PROJECT
`

func TestParseCommentedFields(t *testing.T) {
	tables, err := ParseString(commentedA2L)
	if err != nil {
		t.Fatal(err)
	}
	if tables.Version != VersionCommented {
		t.Fatalf("Version = %q", tables.Version)
	}

	speed := tables.Measurements["Speed"]
	if speed == nil || speed.DataType != "UWORD" || speed.Conversion != "CM_Speed" ||
		speed.LongIdentifier != "Vehicle speed" || speed.ECUAddress != "0x1000" || speed.Resolution != "1" {
		t.Errorf("Speed = %+v", speed)
	}
	offset := tables.Characteristics["Offset"]
	if offset == nil || offset.Type != KindValue || offset.ECUAddress != "0x2000" ||
		offset.Deposit != "RL_UBYTE" || offset.Conversion != "CM_Offset" || offset.MaxDiff != "0" {
		t.Errorf("Offset = %+v", offset)
	}
	cm := tables.CompuMethods["CM_Speed"]
	if cm == nil || cm.Function != "Q = V*2" || cm.Unit != "km/h" || cm.ConversionType != "RAT_FUNC" {
		t.Errorf("CM_Speed = %+v", cm)
	}
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"declared", []string{"ASAP2_VERSION 1 61", "/begin PROJECT"}, "1.61"},
		{"begin first", []string{"/begin PROJECT", "ASAP2_VERSION 1 61"}, DefaultVersion},
		{"empty", nil, DefaultVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectVersion(tt.lines); got != tt.want {
				t.Errorf("detectVersion = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLogsDroppedStanza(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	_, err := ParseString(`/begin MEASUREMENT Broken "x"
/end MEASUREMENT
`, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}

	entries := logs.FilterMessage("Dropping malformed stanza").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["block"] != BlockMeasurement || !strings.Contains(fields["text"].(string), "Broken") {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestParseErrorUnwrap(t *testing.T) {
	tables, err := ParseString("/begin RECORD_LAYOUT RL\n FNC_VALUES 1 UBYTE\n/end RECORD_LAYOUT\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables.Dropped) != 1 || !errors.Is(tables.Dropped[0], errBadFncValues) {
		t.Errorf("Dropped = %v", tables.Dropped)
	}
}

func TestParseFileLatin1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ecu.a2l")
	// 0xB0 is the degree sign in ISO-8859-1.
	content := []byte("/begin COMPU_METHOD CM_T \"\" IDENTICAL \"%6.2\" \"\xB0C\"\n/end COMPU_METHOD\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	tables, err := FileLoader{Path: path}.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cm := tables.CompuMethods["CM_T"]; cm == nil || cm.Unit != "°C" {
		t.Errorf("CM_T = %+v", cm)
	}

	if _, err := ParseFile(path, "ebcdic"); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}
