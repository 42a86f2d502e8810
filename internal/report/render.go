package report

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
)

// Render prints the selected sheets as terminal tables. An empty
// selection prints all of them.
func Render(t *a2l.Tables, only ...string) error {
	pterm.DefaultHeader.WithFullWidth().
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack)).
		Println("A2L descriptor")

	for _, sheet := range Sheets(t) {
		if !selected(sheet.Title, only) {
			continue
		}
		pterm.DefaultSection.Println(sheet.Title)
		if len(sheet.Rows) < 2 {
			pterm.Info.Println("None")
			continue
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData(sheet.Rows)).Render(); err != nil {
			return fmt.Errorf("render %s: %w", sheet.Title, err)
		}
	}

	pterm.Info.Printf("%d measurements, %d characteristics, %d dropped stanzas\n",
		len(t.Measurements), len(t.Characteristics), len(t.Dropped))
	return nil
}

func selected(title string, only []string) bool {
	if len(only) == 0 {
		return true
	}
	for _, o := range only {
		if o == title {
			return true
		}
	}
	return false
}
