// Command a2linfo prints the tables of an A2L file and optionally exports
// them to an XLSX workbook.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/report"
)

func main() {
	file := flag.String("file", "", "A2L file to inspect")
	encoding := flag.String("encoding", a2l.EncodingLatin1, "file encoding (latin1 or utf-8)")
	family := flag.String("family", "", "ECU family, adjusts CAN identifiers for EMS and BCM")
	sections := flag.String("show", "", "comma separated sections to print, e.g. Measurements,Protocol")
	xlsx := flag.String("xlsx", "", "write all tables to this XLSX file")
	verbose := flag.Bool("v", false, "log dropped stanzas while parsing")
	flag.Parse()

	if *file == "" {
		pterm.Error.Println("Usage: a2linfo -file <ecu.a2l> [-xlsx out.xlsx] [-show Measurements,Protocol]")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	spinner, _ := pterm.DefaultSpinner.Start("Parsing " + *file)
	tables, err := a2l.ParseFile(*file, *encoding, a2l.WithECUFamily(*family), a2l.WithLogger(logger))
	if err != nil {
		spinner.Fail(err.Error())
		os.Exit(1)
	}
	spinner.Success("Parsed " + *file)

	var only []string
	if *sections != "" {
		for _, s := range strings.Split(*sections, ",") {
			only = append(only, strings.TrimSpace(s))
		}
	}
	if err := report.Render(tables, only...); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	if *xlsx != "" {
		if err := report.WriteXLSX(tables, *xlsx); err != nil {
			pterm.Error.Printf("Export failed: %v\n", err)
			os.Exit(1)
		}
		pterm.Success.Printf("Tables exported to %s\n", *xlsx)
	}
}
