// Package report turns descriptor tables into rows for terminal output and
// spreadsheet export.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
)

// Sheet is one titled table. The first row is the header.
type Sheet struct {
	Title string
	Rows  [][]string
}

// Sheets returns all report tables in a fixed order.
func Sheets(t *a2l.Tables) []Sheet {
	return []Sheet{
		{Title: "Measurements", Rows: Measurements(t)},
		{Title: "Characteristics", Rows: Characteristics(t)},
		{Title: "CompuMethods", Rows: CompuMethods(t)},
		{Title: "Protocol", Rows: Protocol(t)},
		{Title: "Dropped", Rows: Dropped(t)},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unit(t *a2l.Tables, conversion string) string {
	if cm, ok := t.CompuMethods[conversion]; ok {
		return cm.Unit
	}
	return ""
}

func matrix(dim []int) string {
	if len(dim) == 0 {
		return ""
	}
	parts := make([]string, len(dim))
	for i, d := range dim {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, "x")
}

func limits(lower, upper string) string {
	if lower == "" && upper == "" {
		return ""
	}
	return fmt.Sprintf("%s .. %s", lower, upper)
}

func Measurements(t *a2l.Tables) [][]string {
	rows := [][]string{{"Name", "Description", "Type", "Address", "Ext", "Matrix", "Conversion", "Unit", "Limits"}}
	for _, name := range sortedKeys(t.Measurements) {
		m := t.Measurements[name]
		rows = append(rows, []string{
			m.Name, m.LongIdentifier, m.DataType, m.ECUAddress, m.ECUAddressExtension,
			matrix(m.MatrixDim), m.Conversion, unit(t, m.Conversion), limits(m.LowerLimit, m.UpperLimit),
		})
	}
	return rows
}

func Characteristics(t *a2l.Tables) [][]string {
	rows := [][]string{{"Name", "Description", "Kind", "Address", "Ext", "Deposit", "Raw type", "Matrix", "Conversion", "Unit", "Limits"}}
	for _, name := range sortedKeys(t.Characteristics) {
		c := t.Characteristics[name]
		raw := ""
		if rl, ok := t.RecordLayouts[c.Deposit]; ok {
			raw = rl.FncValues.DataType
		}
		rows = append(rows, []string{
			c.Name, c.LongIdentifier, c.Type, c.ECUAddress, c.ECUAddressExtension, c.Deposit, raw,
			matrix(c.MatrixDim), c.Conversion, unit(t, c.Conversion), limits(c.LowerLimit, c.UpperLimit),
		})
	}
	return rows
}

func CompuMethods(t *a2l.Tables) [][]string {
	rows := [][]string{{"Name", "Type", "Function", "Unit", "Format", "Table"}}
	for _, name := range sortedKeys(t.CompuMethods) {
		cm := t.CompuMethods[name]
		rows = append(rows, []string{cm.Name, cm.ConversionType, cm.Function, cm.Unit, cm.Format, cm.CompuTabRef})
	}
	return rows
}

// Protocol lists the bus parameters as key/value rows.
func Protocol(t *a2l.Tables) [][]string {
	rows := [][]string{{"Key", "Value"}, {"ASAP2 version", t.Version}}
	if t.Vendor != "" {
		rows = append(rows, []string{"Vendor", t.Vendor})
	}
	p := t.Protocol
	if p.MaxCTO > 0 {
		rows = append(rows, []string{"MAX_CTO", strconv.Itoa(p.MaxCTO)})
	}
	if p.MaxDTO > 0 {
		rows = append(rows, []string{"MAX_DTO", strconv.Itoa(p.MaxDTO)})
	}
	if p.CAN != nil {
		rows = append(rows,
			[]string{"CAN master ID", fmt.Sprintf("0x%X", p.CAN.MasterID)},
			[]string{"CAN slave ID", fmt.Sprintf("0x%X", p.CAN.SlaveID)},
			[]string{"CAN baudrate", strconv.Itoa(p.CAN.Baudrate)},
		)
	}
	if p.Ethernet != nil {
		rows = append(rows,
			[]string{"Ethernet protocol", p.Ethernet.Protocol},
			[]string{"Ethernet host", p.Ethernet.Host},
			[]string{"Ethernet port", strconv.Itoa(p.Ethernet.Port)},
		)
	}
	return rows
}

func Dropped(t *a2l.Tables) [][]string {
	rows := [][]string{{"Block", "Line", "Reason"}}
	for _, e := range t.Dropped {
		reason := ""
		if e.Err != nil {
			reason = e.Err.Error()
		}
		rows = append(rows, []string{e.Block, strconv.Itoa(e.Line), reason})
	}
	return rows
}
