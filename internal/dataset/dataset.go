// Package dataset reads the observation table and partitions it by target.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/RMahshie/dosefit/pkg/models"
)

// Input table column names.
const (
	ColumnTarget       = "TARGET"
	ColumnDose         = "MEAS1_VALUE"
	ColumnResponse     = "MEAS2_VALUE"
	ColumnResponseUnit = "MEAS2_UNIT"
)

// ErrInvalidDataset is wrapped by every ParseCSV validation failure.
var ErrInvalidDataset = errors.New("invalid dataset")

// Group is the fitting sample of one target.
type Group struct {
	Target       string
	ResponseUnit string
	Observations []models.Observation
}

// Doses returns the group's doses in observation order.
func (g Group) Doses() []float64 {
	out := make([]float64, len(g.Observations))
	for i, o := range g.Observations {
		out[i] = o.Dose
	}

	return out
}

// Responses returns the group's responses in observation order.
func (g Group) Responses() []float64 {
	out := make([]float64, len(g.Observations))
	for i, o := range g.Observations {
		out[i] = o.Response
	}

	return out
}

// ParseCSV reads observations from a header-led CSV table. Header names are
// matched case-insensitively; extra columns are ignored and MEAS2_UNIT is
// optional. Row numbers in errors are 1-based and count the header.
func ParseCSV(r io.Reader) ([]models.Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidDataset)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrInvalidDataset, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		cols[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{ColumnTarget, ColumnDose, ColumnResponse} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", ErrInvalidDataset, required)
		}
	}
	unitCol, hasUnit := cols[ColumnResponseUnit]

	var obs []models.Observation
	for row := 2; ; row++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidDataset, row, err)
		}
		if blank(rec) {
			continue
		}

		field := func(col string) string {
			i := cols[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		target := field(ColumnTarget)
		if target == "" {
			return nil, fmt.Errorf("%w: row %d: empty %s", ErrInvalidDataset, row, ColumnTarget)
		}
		dose, err := parseNumber(field(ColumnDose))
		if err != nil || dose < 0 {
			return nil, fmt.Errorf("%w: row %d: %s must be a non-negative number, got %q",
				ErrInvalidDataset, row, ColumnDose, field(ColumnDose))
		}
		response, err := parseNumber(field(ColumnResponse))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %s must be a number, got %q",
				ErrInvalidDataset, row, ColumnResponse, field(ColumnResponse))
		}

		o := models.Observation{Target: target, Dose: dose, Response: response}
		if hasUnit && unitCol < len(rec) {
			o.ResponseUnit = strings.TrimSpace(rec[unitCol])
		}
		obs = append(obs, o)
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrInvalidDataset)
	}

	return obs, nil
}

// Partition groups observations by target in order of first appearance.
// Observations keep their input order within a group.
func Partition(obs []models.Observation) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, o := range obs {
		i, ok := index[o.Target]
		if !ok {
			i = len(groups)
			index[o.Target] = i
			groups = append(groups, Group{Target: o.Target})
		}
		if groups[i].ResponseUnit == "" {
			groups[i].ResponseUnit = o.ResponseUnit
		}
		groups[i].Observations = append(groups[i].Observations, o)
	}

	return groups
}

// parseNumber accepts decimal commas as written by some spreadsheet exports.
func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}

	return v, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}

	return true
}
