package a2l

import (
	"regexp"
	"strings"
)

// Descriptor blocks handled by the parser.
const (
	BlockMeasurement    = "MEASUREMENT"
	BlockCharacteristic = "CHARACTERISTIC"
	BlockCompuMethod    = "COMPU_METHOD"
	BlockCompuTab       = "COMPU_TAB"
	BlockCompuVtab      = "COMPU_VTAB"
	BlockRecordLayout   = "RECORD_LAYOUT"
)

var descriptorBlocks = []string{
	BlockMeasurement,
	BlockCharacteristic,
	BlockCompuMethod,
	BlockCompuTab,
	BlockCompuVtab,
	BlockRecordLayout,
}

var optionalParameters = map[string][]string{
	BlockMeasurement: {
		"ADDRESS_TYPE", "ANNOTATION", "ARRAY_SIZE", "BIT_MASK", "BIT_OPERATION",
		"BYTE_ORDER", "DISCRETE", "DISPLAY_IDENTIFIER", "ECU_ADDRESS",
		"ECU_ADDRESS_EXTENSION", "ERROR_MASK", "FORMAT", "FUNCTION_LIST",
		"IF_DATA", "LAYOUT", "MATRIX_DIM", "MAX_REFRESH", "MODEL_LINK",
		"PHYS_UNIT", "READ_WRITE", "REF_MEMORY_SEGMENT", "SYMBOL_LINK", "VIRTUAL",
	},
	BlockCharacteristic: {
		"ANNOTATION", "AXIS_DESCR", "BIT_MASK", "BYTE_ORDER", "CALIBRATION_ACCESS",
		"COMPARISON_QUANTITY", "DEPENDENT_CHARACTERISTIC", "DISCRETE",
		"DISPLAY_IDENTIFIER", "ECU_ADDRESS_EXTENSION", "ENCODING",
		"EXTENDED_LIMITS", "FORMAT", "FUNCTION_LIST", "GUARD_RAILS", "IF_DATA",
		"MAP_LIST", "MATRIX_DIM", "MAX_REFRESH", "MODEL_LINK", "NUMBER",
		"PHYS_UNIT", "READ_ONLY", "REF_MEMORY_SEGMENT", "STEP_SIZE",
		"SYMBOL_LINK", "VIRTUAL_CHARACTERISTIC",
	},
	BlockCompuMethod: {
		"COEFFS", "COEFFS_LINEAR", "COMPU_TAB_REF", "FORMULA", "REF_UNIT",
		"STATUS_STRING_REF",
	},
	BlockCompuTab: {
		"DEFAULT_VALUE", "DEFAULT_VALUE_NUMERIC",
	},
	BlockCompuVtab: {
		"DEFAULT_VALUE",
	},
	BlockRecordLayout: {
		"ALIGNMENT_BYTE", "ALIGNMENT_FLOAT16_IEEE", "ALIGNMENT_FLOAT32_IEEE",
		"ALIGNMENT_FLOAT64_IEEE", "ALIGNMENT_INT64", "ALIGNMENT_LONG",
		"ALIGNMENT_WORD",
		"AXIS_PTS_X", "AXIS_PTS_Y", "AXIS_PTS_Z", "AXIS_PTS_4", "AXIS_PTS_5",
		"AXIS_RESCALE_X",
		"DIST_OP_X", "DIST_OP_Y", "DIST_OP_Z", "DIST_OP_4", "DIST_OP_5",
		"FIX_NO_AXIS_PTS_X", "FIX_NO_AXIS_PTS_Y", "FIX_NO_AXIS_PTS_Z",
		"FIX_NO_AXIS_PTS_4", "FIX_NO_AXIS_PTS_5",
		"FNC_VALUES", "IDENTIFICATION",
		"NO_AXIS_PTS_X", "NO_AXIS_PTS_Y", "NO_AXIS_PTS_Z", "NO_AXIS_PTS_4",
		"NO_AXIS_PTS_5", "NO_RESCALE_X",
		"OFFSET_X", "OFFSET_Y", "OFFSET_Z", "OFFSET_4", "OFFSET_5",
		"RESERVED",
		"RIP_ADDR_W", "RIP_ADDR_X", "RIP_ADDR_Y", "RIP_ADDR_Z", "RIP_ADDR_4",
		"RIP_ADDR_5",
		"SRC_ADDR_X", "SRC_ADDR_Y", "SRC_ADDR_Z", "SRC_ADDR_4", "SRC_ADDR_5",
		"SHIFT_OP_X", "SHIFT_OP_Y", "SHIFT_OP_Z", "SHIFT_OP_4", "SHIFT_OP_5",
		"STATIC_ADDRESS_OFFSETS", "STATIC_RECORD_LAYOUT",
	},
}

// OptionalParameters returns the keyword names recognised inside block.
func OptionalParameters(block string) []string {
	return optionalParameters[block]
}

// RawStanza is the text of one /begin ... /end block.
type RawStanza struct {
	Block string
	Line  int // 1-based line of the /begin
	Lines []string
}

var beginPattern = regexp.MustCompile(`^/begin\s+(\w+)(?:\s|$)`)

// ExtractStanzas collects every top-level block whose keyword is in blocks.
// An unterminated block at end of input is discarded.
func ExtractStanzas(lines []string, blocks ...string) []RawStanza {
	wanted := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		wanted[b] = true
	}

	var (
		stanzas []RawStanza
		current *RawStanza
		endRe   *regexp.Regexp
	)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if current == nil {
			m := beginPattern.FindStringSubmatch(trimmed)
			if m == nil || !wanted[m[1]] {
				continue
			}
			current = &RawStanza{Block: m[1], Line: i + 1, Lines: []string{trimmed}}
			endRe = regexp.MustCompile(`^/end\s+` + m[1] + `(?:\s|$)`)
			continue
		}
		current.Lines = append(current.Lines, trimmed)
		if endRe.MatchString(trimmed) {
			stanzas = append(stanzas, *current)
			current = nil
		}
	}
	return stanzas
}

// Stanza is a block split into positional lines and optional-parameter
// (keyword) lines.
type Stanza struct {
	Positional []string
	Keyword    []string
}

// Clause joins the positional lines with normalised whitespace.
func (s Stanza) Clause() string {
	return strings.Join(strings.Fields(strings.Join(s.Positional, " ")), " ")
}

// ParseStanza splits the lines of one block. IF_DATA regions are dropped.
// A line is a keyword line when its first token is in keywords; a nested
// "/begin <name>" with name in keywords makes the whole nested block keyword
// lines.
func ParseStanza(lines []string, keywords []string) Stanza {
	known := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		known[k] = true
	}

	var s Stanza
	inIFData := false
	depth := 0
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if inIFData {
			if strings.Contains(line, "/end IF_DATA") {
				inIFData = false
			}
			continue
		}
		if strings.Contains(line, "/begin IF_DATA") {
			inIFData = !strings.Contains(line, "/end IF_DATA")
			continue
		}

		fields := strings.Fields(line)
		if depth > 0 {
			s.Keyword = append(s.Keyword, line)
			switch fields[0] {
			case "/begin":
				depth++
			case "/end":
				depth--
			}
			continue
		}

		if fields[0] == "/begin" && len(fields) > 1 && known[fields[1]] {
			s.Keyword = append(s.Keyword, line)
			depth = 1
			continue
		}
		if known[fields[0]] {
			s.Keyword = append(s.Keyword, line)
			continue
		}
		s.Positional = append(s.Positional, line)
	}
	return s
}

var commentPattern = regexp.MustCompile(`/\*.*?\*/`)

func stripComments(s string) string {
	return commentPattern.ReplaceAllString(s, " ")
}

// tokenize splits a clause on whitespace, keeping quoted strings whole.
func tokenize(clause string) []string {
	var (
		tokens []string
		b      strings.Builder
		quoted bool
	)
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	runes := []rune(clause)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quoted && r == '\\' && i+1 < len(runes):
			b.WriteRune(r)
			i++
			b.WriteRune(runes[i])
		case r == '"' && quoted:
			b.WriteRune(r)
			quoted = false
			flush()
		case r == '"':
			flush()
			b.WriteRune(r)
			quoted = true
		case !quoted && (r == ' ' || r == '\t'):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func isQuoted(tok string) bool {
	return len(tok) >= 2 && strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`)
}

func unquote(tok string) string {
	if isQuoted(tok) {
		return strings.ReplaceAll(tok[1:len(tok)-1], `\"`, `"`)
	}
	return tok
}
