package a2l

// Characteristic kinds as declared in the Type field.
const (
	KindASCII  = "ASCII"
	KindValue  = "VALUE"
	KindCurve  = "CURVE"
	KindMap    = "MAP"
	KindCuboid = "CUBOID"
	KindCube4  = "CUBE_4"
	KindCube5  = "CUBE_5"
	KindValBlk = "VAL_BLK"
)

// NoCompuMethod marks a variable without a conversion.
const NoCompuMethod = "NO_COMPU_METHOD"

// Measurement is a read-only memory location.
type Measurement struct {
	Name                string `json:"name"`
	LongIdentifier      string `json:"long_identifier"`
	DataType            string `json:"data_type"`
	Conversion          string `json:"conversion"`
	Resolution          string `json:"resolution,omitempty"`
	Accuracy            string `json:"accuracy,omitempty"`
	LowerLimit          string `json:"lower_limit,omitempty"`
	UpperLimit          string `json:"upper_limit,omitempty"`
	ECUAddress          string `json:"ecu_address,omitempty"`
	ECUAddressExtension string `json:"ecu_address_extension,omitempty"`
	DisplayIdentifier   string `json:"display_identifier,omitempty"`
	MatrixDim           []int  `json:"matrix_dim,omitempty"`
}

// Characteristic is a writable calibration location.
type Characteristic struct {
	Name                string `json:"name"`
	LongIdentifier      string `json:"long_identifier"`
	Type                string `json:"type"`
	ECUAddress          string `json:"ecu_address,omitempty"`
	Deposit             string `json:"deposit"`
	MaxDiff             string `json:"max_diff,omitempty"`
	Conversion          string `json:"conversion"`
	LowerLimit          string `json:"lower_limit,omitempty"`
	UpperLimit          string `json:"upper_limit,omitempty"`
	ECUAddressExtension string `json:"ecu_address_extension,omitempty"`
	DisplayIdentifier   string `json:"display_identifier,omitempty"`
	MatrixDim           []int  `json:"matrix_dim,omitempty"`
}

type FncValues struct {
	Position    string `json:"position"`
	DataType    string `json:"data_type"`
	IndexMode   string `json:"index_mode"`
	AddressType string `json:"address_type"`
}

// RecordLayout describes how a characteristic's values are stored.
type RecordLayout struct {
	Name      string    `json:"name"`
	FncValues FncValues `json:"fnc_values"`
}

// CompuMethod relates raw (Q) and physical (V) values. Function holds the
// derived "Q = f(V)" string, empty when none could be derived.
type CompuMethod struct {
	Name            string   `json:"name"`
	LongIdentifier  string   `json:"long_identifier"`
	ConversionType  string   `json:"conversion_type"`
	Format          string   `json:"format,omitempty"`
	Unit            string   `json:"unit,omitempty"`
	Coeffs          []string `json:"coeffs,omitempty"`
	CoeffsLinear    []string `json:"coeffs_linear,omitempty"`
	CompuTabRef     string   `json:"compu_tab_ref,omitempty"`
	Formula         string   `json:"formula,omitempty"`
	RefUnit         string   `json:"ref_unit,omitempty"`
	StatusStringRef string   `json:"status_string_ref,omitempty"`
	Function        string   `json:"function,omitempty"`
}

type ValuePair struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

type CompuTab struct {
	Name                string      `json:"name"`
	LongIdentifier      string      `json:"long_identifier"`
	ConversionType      string      `json:"conversion_type"`
	NumberValuePairs    int         `json:"number_value_pairs"`
	Pairs               []ValuePair `json:"pairs,omitempty"`
	DefaultValue        string      `json:"default_value,omitempty"`
	DefaultValueNumeric string      `json:"default_value_numeric,omitempty"`
}

type CompuVtab struct {
	Name             string      `json:"name"`
	LongIdentifier   string      `json:"long_identifier"`
	ConversionType   string      `json:"conversion_type"`
	NumberValuePairs int         `json:"number_value_pairs"`
	Pairs            []ValuePair `json:"pairs,omitempty"`
	DefaultValue     string      `json:"default_value,omitempty"`
}

type CANConfig struct {
	MasterID    uint32 `json:"master_id"`
	SlaveID     uint32 `json:"slave_id"`
	Baudrate    int    `json:"baudrate"`
	SamplePoint int    `json:"sample_point"`
}

type EthernetConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// ProtocolConfig holds the bus parameters found in the file.
type ProtocolConfig struct {
	Timeouts []int           `json:"timeouts,omitempty"`
	MaxCTO   int             `json:"max_cto,omitempty"`
	MaxDTO   int             `json:"max_dto,omitempty"`
	CAN      *CANConfig      `json:"can,omitempty"`
	Ethernet *EthernetConfig `json:"ethernet,omitempty"`
}

// Tables is the descriptor model of one parsed file. It is not modified
// after Parse returns.
type Tables struct {
	Version         string                     `json:"version"`
	Vendor          string                     `json:"vendor,omitempty"`
	Measurements    map[string]*Measurement    `json:"measurements"`
	Characteristics map[string]*Characteristic `json:"characteristics"`
	RecordLayouts   map[string]*RecordLayout   `json:"record_layouts"`
	CompuMethods    map[string]*CompuMethod    `json:"compu_methods"`
	CompuTabs       map[string]*CompuTab       `json:"compu_tabs"`
	CompuVtabs      map[string]*CompuVtab      `json:"compu_vtabs"`
	DisplayIDs      map[string]string          `json:"display_ids"`
	Protocol        ProtocolConfig             `json:"protocol"`

	// Dropped lists the stanzas that could not be parsed.
	Dropped []*ParseError `json:"dropped,omitempty"`
}

func newTables() *Tables {
	return &Tables{
		Measurements:    make(map[string]*Measurement),
		Characteristics: make(map[string]*Characteristic),
		RecordLayouts:   make(map[string]*RecordLayout),
		CompuMethods:    make(map[string]*CompuMethod),
		CompuTabs:       make(map[string]*CompuTab),
		CompuVtabs:      make(map[string]*CompuVtab),
		DisplayIDs:      make(map[string]string),
	}
}

// Canonical returns the measurement or characteristic name for name,
// consulting the display identifier aliases once.
func (t *Tables) Canonical(name string) (string, bool) {
	if t.has(name) {
		return name, true
	}
	if alias, ok := t.DisplayIDs[name]; ok && t.has(alias) {
		return alias, true
	}
	return "", false
}

func (t *Tables) has(name string) bool {
	if _, ok := t.Measurements[name]; ok {
		return true
	}
	_, ok := t.Characteristics[name]
	return ok
}
