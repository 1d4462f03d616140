// Package report renders selection results as the summary table handed to
// reporting and plotting tools.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/RMahshie/dosefit/pkg/models"
)

// Header is the column layout of the summary table.
var Header = []string{"ID", "MODEL", "TARGET", "P", "AIC", "Total_SE", "ED10", "ED10_SE"}

// NA marks statistics that were not reported.
const NA = "NA"

// WriteCSV writes records in the given order under Header.
func WriteCSV(w io.Writer, records []models.SelectionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.ID),
			r.Model,
			r.Target,
			formatFloat(r.P),
			formatFloat(r.AIC),
			formatOptional(r.TotalSE),
			formatOptional(r.ED10),
			formatOptional(r.ED10SE),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", r.ID, err)
		}
	}
	cw.Flush()

	return cw.Error()
}

// Render returns the CSV table as bytes, ready for upload.
func Render(records []models.SelectionRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return NA
	}

	return formatFloat(*v)
}
