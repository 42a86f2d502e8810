package a2l

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/conversion"
)

// File format versions.
const (
	DefaultVersion   = "1.60"
	VersionCommented = "1.61"
)

// Ethernet fallbacks used when the file has no XCP_ON_*_IP block.
const (
	DefaultEthernetHost = "172.31.10.31"
	DefaultEthernetPort = 50000
)

type Option func(*Parser)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithECUFamily sets the ECU family used for CAN identifier adjustment.
func WithECUFamily(family string) Option {
	return func(p *Parser) { p.ecuFamily = family }
}

func WithEthernetDefaults(host string, port int) Option {
	return func(p *Parser) {
		if host != "" {
			p.defaultHost = host
		}
		if port > 0 {
			p.defaultPort = port
		}
	}
}

// Parser turns A2L text into Tables. A Parser holds no state between calls.
type Parser struct {
	logger      *zap.Logger
	ecuFamily   string
	defaultHost string
	defaultPort int
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		logger:      zap.NewNop(),
		defaultHost: DefaultEthernetHost,
		defaultPort: DefaultEthernetPort,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads a whole file. Malformed stanzas are logged and dropped; only
// read errors are returned.
func Parse(r io.Reader, opts ...Option) (*Tables, error) {
	return NewParser(opts...).Parse(r)
}

func ParseString(s string, opts ...Option) (*Tables, error) {
	return Parse(strings.NewReader(s), opts...)
}

func (p *Parser) Parse(r io.Reader) (*Tables, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("read a2l: %w", err)
	}

	t := newTables()
	t.Version = detectVersion(lines)
	t.Vendor = detectVendor(lines)

	for _, raw := range ExtractStanzas(lines, descriptorBlocks...) {
		st := ParseStanza(raw.Lines, OptionalParameters(raw.Block))
		if err := p.parseDescriptor(t, raw.Block, st); err != nil {
			perr := &ParseError{Block: raw.Block, Line: raw.Line, Text: st.Clause(), Err: err}
			t.Dropped = append(t.Dropped, perr)
			p.logger.Warn("Dropping malformed stanza",
				zap.String("block", raw.Block),
				zap.Int("line", raw.Line),
				zap.String("text", perr.Text),
				zap.Error(err))
		}
	}

	t.Protocol = p.parseProtocol(lines)

	p.logger.Info("A2L parsed",
		zap.String("version", t.Version),
		zap.String("vendor", t.Vendor),
		zap.Int("measurements", len(t.Measurements)),
		zap.Int("characteristics", len(t.Characteristics)),
		zap.Int("compu_methods", len(t.CompuMethods)),
		zap.Int("record_layouts", len(t.RecordLayouts)),
		zap.Int("dropped", len(t.Dropped)))

	return t, nil
}

func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func detectVersion(lines []string) string {
	for _, line := range lines {
		if strings.Contains(line, "/begin") {
			return DefaultVersion
		}
		if strings.Contains(line, "ASAP2_VERSION") {
			fields := strings.Fields(stripComments(line))
			for i, f := range fields {
				if f == "ASAP2_VERSION" && i+2 < len(fields) {
					return fields[i+1] + "." + fields[i+2]
				}
			}
		}
	}
	return DefaultVersion
}

func detectVendor(lines []string) string {
	for _, line := range lines {
		switch {
		case strings.Contains(line, "XCPonUDP"):
			return "INCA"
		case strings.Contains(line, "CANAPE"):
			return "CANAPE"
		}
	}
	return ""
}

func (p *Parser) parseDescriptor(t *Tables, block string, st Stanza) error {
	commented := t.Version == VersionCommented
	switch block {
	case BlockMeasurement:
		return parseMeasurement(t, st, commented)
	case BlockCharacteristic:
		return parseCharacteristic(t, st, commented)
	case BlockCompuMethod:
		return parseCompuMethod(t, st, commented)
	case BlockCompuTab:
		return parseCompuTab(t, st)
	case BlockCompuVtab:
		return parseCompuVtab(t, st)
	case BlockRecordLayout:
		return parseRecordLayout(t, st)
	}
	return nil
}

// stanzaTokens returns the positional tokens following the block keyword,
// up to the closing /end.
func stanzaTokens(st Stanza, block string) []string {
	tokens := tokenize(stripComments(st.Clause()))
	for i, tok := range tokens {
		if tok == block {
			tokens = tokens[i+1:]
			break
		}
	}
	for i, tok := range tokens {
		if tok == "/end" {
			return tokens[:i]
		}
	}
	return tokens
}

// commentedFields maps normalised "/* Header */" texts to the value that
// follows them on the same line.
func commentedFields(lines []string) map[string]string {
	fields := make(map[string]string)
	for _, line := range lines {
		start := strings.Index(line, "/*")
		end := strings.Index(line, "*/")
		if start < 0 || end < start {
			continue
		}
		header := strings.ToLower(strings.Join(strings.Fields(line[start+2:end]), " "))
		value := ""
		if rest := tokenize(stripComments(line[end+2:])); len(rest) > 0 {
			value = unquote(rest[0])
		}
		fields[header] = value
	}
	return fields
}

func lookup(fields map[string]string, headers ...string) string {
	for _, h := range headers {
		if v, ok := fields[h]; ok {
			return v
		}
	}
	return ""
}

// common holds the keyword parameters shared by measurements and
// characteristics.
type common struct {
	address   string
	extension string
	display   string
	matrixDim []int
}

func parseCommon(keyword []string) (common, error) {
	var c common
	for _, line := range keyword {
		f := tokenize(stripComments(line))
		if len(f) < 2 {
			continue
		}
		switch f[0] {
		case "ECU_ADDRESS":
			c.address = f[1]
		case "ECU_ADDRESS_EXTENSION":
			c.extension = f[1]
		case "DISPLAY_IDENTIFIER":
			c.display = unquote(f[1])
		case "MATRIX_DIM":
			dims, err := parseMatrixDim(f[1:])
			if err != nil {
				return c, err
			}
			c.matrixDim = dims
		}
	}
	return c, nil
}

func parseMatrixDim(values []string) ([]int, error) {
	dims := make([]int, 0, 3)
	for _, v := range values {
		if len(dims) == 3 {
			break
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MATRIX_DIM: %w", err)
		}
		dims = append(dims, n)
	}
	for len(dims) < 3 {
		dims = append(dims, 1)
	}
	return dims, nil
}

func parseMeasurement(t *Tables, st Stanza, commented bool) error {
	m := &Measurement{}
	tokens := stanzaTokens(st, BlockMeasurement)

	if commented {
		f := commentedFields(st.Positional)
		m.Name = lookup(f, "name")
		m.LongIdentifier = lookup(f, "long identifier", "long_identifier")
		m.DataType = lookup(f, "data type", "datatype")
		m.Conversion = lookup(f, "conversion method", "conversion")
		m.Resolution = lookup(f, "resolution")
		m.Accuracy = lookup(f, "accuracy")
		m.LowerLimit = lookup(f, "lower limit")
		m.UpperLimit = lookup(f, "upper limit")
		if m.Name == "" && len(tokens) > 0 {
			m.Name = tokens[0]
		}
	} else {
		if len(tokens) == 0 {
			return errMissingName
		}
		m.Name = tokens[0]
		dt := -1
		for i := 1; i < len(tokens); i++ {
			if conversion.DataType(tokens[i]).Valid() {
				dt = i
				break
			}
		}
		if dt < 0 {
			return errMissingDataType
		}
		m.DataType = tokens[dt]
		for _, tok := range tokens[1:dt] {
			if isQuoted(tok) {
				m.LongIdentifier = unquote(tok)
				break
			}
		}
		rest := tokens[dt+1:]
		if len(rest) == 0 {
			return errMissingConversion
		}
		m.Conversion = rest[0]
		for i, dst := range []*string{&m.Resolution, &m.Accuracy, &m.LowerLimit, &m.UpperLimit} {
			if i+1 < len(rest) {
				*dst = rest[i+1]
			}
		}
	}

	if m.Name == "" {
		return errMissingName
	}
	if m.DataType == "" {
		return errMissingDataType
	}

	c, err := parseCommon(st.Keyword)
	if err != nil {
		return err
	}
	m.ECUAddress = c.address
	m.ECUAddressExtension = c.extension
	m.DisplayIdentifier = c.display
	m.MatrixDim = c.matrixDim

	t.Measurements[m.Name] = m
	if m.DisplayIdentifier != "" {
		t.DisplayIDs[m.DisplayIdentifier] = m.Name
	}
	return nil
}

var hexLiteral = regexp.MustCompile(`^0[xX][0-9A-Fa-f]{2,8}$`)

var characteristicKinds = map[string]bool{
	KindASCII: true, KindValue: true, KindCurve: true, KindMap: true,
	KindCuboid: true, KindCube4: true, KindCube5: true, KindValBlk: true,
}

func isAddress(tok string) bool {
	_, err := strconv.ParseUint(tok, 0, 32)
	return err == nil
}

func parseCharacteristic(t *Tables, st Stanza, commented bool) error {
	c := &Characteristic{}
	tokens := stanzaTokens(st, BlockCharacteristic)

	if commented {
		f := commentedFields(st.Positional)
		c.Name = lookup(f, "name")
		c.LongIdentifier = lookup(f, "long identifier", "long_identifier")
		c.Type = lookup(f, "type")
		c.ECUAddress = lookup(f, "ecu address", "address")
		c.Deposit = lookup(f, "record layout", "deposit")
		c.MaxDiff = lookup(f, "maximum difference", "maxdiff", "max diff")
		c.Conversion = lookup(f, "conversion method", "conversion")
		c.LowerLimit = lookup(f, "lower limit")
		c.UpperLimit = lookup(f, "upper limit")
		if c.Name == "" && len(tokens) > 0 {
			c.Name = tokens[0]
		}
	} else {
		if len(tokens) == 0 {
			return errMissingName
		}
		c.Name = tokens[0]
		if err := c.positional(tokens[1:]); err != nil {
			return err
		}
	}

	if c.Name == "" {
		return errMissingName
	}
	if c.Deposit == "" {
		return errMissingDeposit
	}

	cm, err := parseCommon(st.Keyword)
	if err != nil {
		return err
	}
	if cm.address != "" && c.ECUAddress == "" {
		c.ECUAddress = cm.address
	}
	c.ECUAddressExtension = cm.extension
	c.DisplayIdentifier = cm.display
	c.MatrixDim = cm.matrixDim

	t.Characteristics[c.Name] = c
	if c.DisplayIdentifier != "" {
		t.DisplayIDs[c.DisplayIdentifier] = c.Name
	}
	return nil
}

// positional fills the fields after the name. The regular order is
// description, type, address, deposit, max-diff, conversion, limits; files
// that deviate are read relative to the first hex literal.
func (c *Characteristic) positional(rest []string) error {
	j := 0
	if j < len(rest) && isQuoted(rest[j]) {
		c.LongIdentifier = unquote(rest[j])
		j++
	}
	if len(rest) >= j+5 && characteristicKinds[rest[j]] && isAddress(rest[j+1]) && !isQuoted(rest[j+2]) {
		c.Type = rest[j]
		c.ECUAddress = rest[j+1]
		c.Deposit = rest[j+2]
		c.MaxDiff = rest[j+3]
		c.Conversion = rest[j+4]
		if len(rest) > j+5 {
			c.LowerLimit = rest[j+5]
		}
		if len(rest) > j+6 {
			c.UpperLimit = rest[j+6]
		}
		return nil
	}

	k := -1
	for i, tok := range rest {
		if hexLiteral.MatchString(tok) {
			k = i
			break
		}
	}
	if k < 0 {
		return errMissingAddress
	}
	if k+1 >= len(rest) {
		return errMissingDeposit
	}
	c.ECUAddress = rest[k]
	c.Deposit = rest[k+1]
	if k+2 < len(rest) {
		c.MaxDiff = rest[k+2]
	}
	if k+3 < len(rest) {
		c.Conversion = rest[k+3]
	}
	for i := k - 1; i >= 0; i-- {
		if characteristicKinds[rest[i]] {
			c.Type = rest[i]
			break
		}
	}
	if c.LongIdentifier == "" {
		for _, tok := range rest[:k] {
			if isQuoted(tok) {
				c.LongIdentifier = unquote(tok)
				break
			}
		}
	}
	return nil
}

func parseCompuMethod(t *Tables, st Stanza, commented bool) error {
	cm := &CompuMethod{}
	tokens := stanzaTokens(st, BlockCompuMethod)

	if commented {
		f := commentedFields(st.Positional)
		cm.Name = lookup(f, "name of compumethod", "name")
		cm.LongIdentifier = lookup(f, "long identifier", "long_identifier")
		cm.ConversionType = lookup(f, "conversion type")
		cm.Format = lookup(f, "format")
		cm.Unit = lookup(f, "unit")
		if cm.Name == "" && len(tokens) > 0 {
			cm.Name = tokens[0]
		}
	} else {
		if len(tokens) == 0 {
			return errMissingName
		}
		cm.Name = tokens[0]
		rest := tokens[1:]
		if len(rest) > 0 && isQuoted(rest[0]) {
			cm.LongIdentifier = unquote(rest[0])
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return errMissingConversion
		}
		cm.ConversionType = rest[0]
		if len(rest) > 1 {
			cm.Format = unquote(rest[1])
		}
		if len(rest) > 2 {
			cm.Unit = unquote(rest[2])
		}
	}

	if cm.Name == "" {
		return errMissingName
	}

	inFormula := false
	for _, line := range st.Keyword {
		f := tokenize(stripComments(line))
		if len(f) == 0 {
			continue
		}
		if inFormula {
			switch {
			case f[0] == "/end":
				inFormula = false
			case isQuoted(f[0]) && cm.Formula == "":
				cm.Formula = unquote(f[0])
			}
			continue
		}
		switch f[0] {
		case "COEFFS":
			coeffs, err := parseCoeffs(f[1:], 6)
			if err != nil {
				return err
			}
			cm.Coeffs = coeffs
		case "COEFFS_LINEAR":
			coeffs, err := parseCoeffs(f[1:], 2)
			if err != nil {
				return err
			}
			cm.CoeffsLinear = coeffs
		case "COMPU_TAB_REF":
			if len(f) > 1 {
				cm.CompuTabRef = f[1]
			}
		case "REF_UNIT":
			if len(f) > 1 {
				cm.RefUnit = f[1]
			}
		case "STATUS_STRING_REF":
			if len(f) > 1 {
				cm.StatusStringRef = f[1]
			}
		case "/begin":
			if len(f) > 1 && f[1] == "FORMULA" {
				if len(f) > 2 && isQuoted(f[2]) {
					cm.Formula = unquote(f[2])
				}
				inFormula = true
			}
		}
	}

	cm.Function = deriveFunction(cm)
	t.CompuMethods[cm.Name] = cm
	return nil
}

// parseCoeffs validates n numeric coefficients and returns them in
// canonical float formatting.
func parseCoeffs(values []string, n int) ([]string, error) {
	if len(values) < n {
		return nil, fmt.Errorf("%w: want %d values, got %d", errBadCoeffs, n, len(values))
	}
	out := make([]string, n)
	for i, v := range values[:n] {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %q", errBadCoeffs, v)
		}
		out[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return out, nil
}

// deriveFunction builds the "Q = f(V)" string used by the conversion engine.
func deriveFunction(cm *CompuMethod) string {
	d := cm.LongIdentifier
	if strings.Contains(d, "Q") && strings.Contains(d, "=") && strings.Contains(d, "V") {
		return d
	}
	if len(cm.Coeffs) == 6 {
		return rationalFunction(cm.Coeffs)
	}
	if len(cm.CoeffsLinear) == 2 {
		a, b := cm.CoeffsLinear[0], cm.CoeffsLinear[1]
		if a != "0" {
			return rationalFunction([]string{"0", "1", negate(b), "0", "0", a})
		}
	}
	if cm.ConversionType == "IDENTICAL" {
		return string(conversion.Identity)
	}
	return ""
}

func rationalFunction(c []string) string {
	return fmt.Sprintf("Q = (%s*V*V + %s*V + %s)/(%s*V*V + %s*V + %s)",
		c[0], c[1], c[2], c[3], c[4], c[5])
}

func negate(v string) string {
	f, _ := strconv.ParseFloat(v, 64)
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(-f, 'g', -1, 64)
}

// tabHeader reads name, description, conversion type and pair count.
func tabHeader(tokens []string) (name, desc, convType string, n int, rest []string, err error) {
	if len(tokens) == 0 {
		return "", "", "", 0, nil, errMissingName
	}
	name = tokens[0]
	rest = tokens[1:]
	if len(rest) > 0 && isQuoted(rest[0]) {
		desc = unquote(rest[0])
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return "", "", "", 0, nil, errMissingConversion
	}
	convType = rest[0]
	rest = rest[1:]
	if len(rest) == 0 {
		return "", "", "", 0, nil, errMissingPairs
	}
	n, convErr := strconv.Atoi(rest[0])
	if convErr != nil || n < 0 {
		return "", "", "", 0, nil, fmt.Errorf("%w: %q", errMissingPairs, rest[0])
	}
	return name, desc, convType, n, rest[1:], nil
}

func valuePairs(tokens []string, n int) []ValuePair {
	pairs := make([]ValuePair, 0, n)
	for i := 0; i < n && 2*i+1 < len(tokens); i++ {
		pairs = append(pairs, ValuePair{In: tokens[2*i], Out: unquote(tokens[2*i+1])})
	}
	return pairs
}

func defaults(keyword []string) (text, numeric string) {
	for _, line := range keyword {
		f := tokenize(stripComments(line))
		if len(f) < 2 {
			continue
		}
		switch f[0] {
		case "DEFAULT_VALUE":
			text = unquote(f[1])
		case "DEFAULT_VALUE_NUMERIC":
			numeric = f[1]
		}
	}
	return text, numeric
}

func parseCompuTab(t *Tables, st Stanza) error {
	name, desc, convType, n, rest, err := tabHeader(stanzaTokens(st, BlockCompuTab))
	if err != nil {
		return err
	}
	ct := &CompuTab{
		Name:             name,
		LongIdentifier:   desc,
		ConversionType:   convType,
		NumberValuePairs: n,
		Pairs:            valuePairs(rest, n),
	}
	ct.DefaultValue, ct.DefaultValueNumeric = defaults(st.Keyword)
	t.CompuTabs[name] = ct
	return nil
}

func parseCompuVtab(t *Tables, st Stanza) error {
	name, desc, convType, n, rest, err := tabHeader(stanzaTokens(st, BlockCompuVtab))
	if err != nil {
		return err
	}
	vt := &CompuVtab{
		Name:             name,
		LongIdentifier:   desc,
		ConversionType:   convType,
		NumberValuePairs: n,
		Pairs:            valuePairs(rest, n),
	}
	vt.DefaultValue, _ = defaults(st.Keyword)
	t.CompuVtabs[name] = vt
	return nil
}

func parseRecordLayout(t *Tables, st Stanza) error {
	tokens := stanzaTokens(st, BlockRecordLayout)
	if len(tokens) == 0 {
		return errMissingName
	}
	rl := &RecordLayout{Name: tokens[0]}
	for _, line := range st.Keyword {
		f := tokenize(stripComments(line))
		if len(f) == 0 || f[0] != "FNC_VALUES" {
			continue
		}
		if len(f) < 5 {
			return errBadFncValues
		}
		rl.FncValues = FncValues{Position: f[1], DataType: f[2], IndexMode: f[3], AddressType: f[4]}
	}
	t.RecordLayouts[rl.Name] = rl
	return nil
}
