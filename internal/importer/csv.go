// Package importer loads remedy datasets from CSV exports into the store.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/store"
)

// ErrNoPlantColumn is returned when the header row has no plant name column.
var ErrNoPlantColumn = errors.New("importer: missing plant_name column")

const (
	colPlant           = "plant_name"
	colSymptoms        = "symptoms"
	colHerbs           = "herbs"
	colRecommendations = "recommendations"
	colPrecautions     = "precautions"
)

// Result summarises one import run.
type Result struct {
	Read     int
	Skipped  int
	Inserted int
}

// normalizeHeader maps "Plant Name", "plant_name" and " PLANT NAME " to the
// same key.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '_'
	}), "_")
}

// ParseCSV reads remedies from r. The first row is the header. Rows with a
// blank plant name are skipped and counted in the returned skip count.
func ParseCSV(r io.Reader) ([]domain.Remedy, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, ErrNoPlantColumn
		}
		return nil, 0, fmt.Errorf("importer: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	if _, ok := cols[colPlant]; !ok {
		return nil, 0, ErrNoPlantColumn
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var (
		remedies []domain.Remedy
		skipped  int
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("importer: line %d: %w", line, err)
		}

		plant := field(record, colPlant)
		if plant == "" {
			skipped++
			continue
		}
		remedies = append(remedies, domain.Remedy{
			PlantName:       plant,
			Symptoms:        field(record, colSymptoms),
			Herbs:           field(record, colHerbs),
			Recommendations: field(record, colRecommendations),
			Precautions:     domain.StringPtr(field(record, colPrecautions)),
		})
	}
	return remedies, skipped, nil
}

// Import parses r and inserts every remedy in a single transaction.
func Import(ctx context.Context, w store.RemedyWriter, r io.Reader) (Result, error) {
	remedies, skipped, err := ParseCSV(r)
	if err != nil {
		return Result{}, err
	}
	res := Result{Read: len(remedies) + skipped, Skipped: skipped}
	if len(remedies) == 0 {
		return res, nil
	}

	n, err := w.InsertRemedies(ctx, remedies)
	if err != nil {
		return res, fmt.Errorf("importer: insert remedies: %w", err)
	}
	res.Inserted = n
	return res, nil
}
