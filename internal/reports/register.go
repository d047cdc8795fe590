package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// RegisterRow is one unit line of the unit register export.
type RegisterRow struct {
	Equipment  string
	Code       string
	Serial     string
	Sequence   int32
	Status     string
	Project    string
	Active     bool
	PickupDate *time.Time
	ReturnDate *time.Time
	Notes      string
}

var registerHeader = []string{"serial", "sequence", "status", "project", "active", "pickup_date", "return_date", "notes"}

// UnitRegisterXLSX writes one sheet per equipment, in the order the rows arrive.
func UnitRegisterXLSX(rows []RegisterRow) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheets := map[string]string{}
	next := map[string]int{}
	usedNames := map[string]bool{}
	for _, r := range rows {
		group := r.Code + "|" + r.Equipment
		name, ok := sheets[group]
		if !ok {
			base := sanitizeSheetName(fmt.Sprintf("%s %s", r.Code, r.Equipment))
			if base == "" {
				base = "Serials"
			}
			name = base
			for idx := 2; usedNames[name]; idx++ {
				name = truncateSheetName(fmt.Sprintf("%s_%d", base, idx))
			}
			usedNames[name] = true
			if len(sheets) == 0 {
				if err := xl.SetSheetName(xl.GetSheetName(0), name); err != nil {
					return nil, err
				}
			} else if _, err := xl.NewSheet(name); err != nil {
				return nil, err
			}
			sheets[group] = name
			if err := xl.SetSheetRow(name, "A1", &registerHeader); err != nil {
				return nil, err
			}
			next[name] = 2
		}

		record := []any{r.Serial, r.Sequence, r.Status, r.Project, r.Active, formatDate(r.PickupDate), formatDate(r.ReturnDate), r.Notes}
		cell, _ := excelize.CoordinatesToCellName(1, next[name])
		if err := xl.SetSheetRow(name, cell, &record); err != nil {
			return nil, err
		}
		next[name]++
	}
	if len(sheets) == 0 {
		if err := xl.SetSheetRow(xl.GetSheetName(0), "A1", &registerHeader); err != nil {
			return nil, err
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write register: %w", err)
	}
	return buf.Bytes(), nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain : \ / ? * [ ] and must be <= 31 chars
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	return truncateSheetName(strings.TrimSpace(replacer.Replace(name)))
}

func truncateSheetName(name string) string {
	r := []rune(name)
	if len(r) > 31 {
		return string(r[:31])
	}
	return name
}
