package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dataherd/internal/types"
)

// readBatchCSV loads records from a CSV file whose header row names the
// schema fields. A lot_id column is required; unknown columns are rejected
// so typos surface at load time instead of silently never matching a rule.
func readBatchCSV(path string) ([]types.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	lotCol := -1
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		header[i] = name
		if name == "lot_id" {
			lotCol = i
		} else if !types.KnownField(name) {
			return nil, fmt.Errorf("%s: unknown column %q (known fields: %s)",
				path, col, strings.Join(types.SchemaFields(), ", "))
		}
	}
	if lotCol < 0 {
		return nil, fmt.Errorf("%s: missing required lot_id column", path)
	}

	var records []types.Record
	line := 1
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		lotID := strings.TrimSpace(row[lotCol])
		if lotID == "" {
			return nil, fmt.Errorf("%s line %d: empty lot_id", path, line)
		}
		fields := make(map[string]string, len(header)-1)
		for i, value := range row {
			if i == lotCol || i >= len(header) {
				continue
			}
			fields[header[i]] = strings.TrimSpace(value)
		}
		records = append(records, types.Record{LotID: lotID, Fields: fields})
	}
	return records, nil
}
