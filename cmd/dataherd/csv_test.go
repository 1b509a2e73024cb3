package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadBatchCSV(t *testing.T) {
	path := writeCSV(t, "lot_id,weight,breed\nL001,450,angus\nL002,800,Hereford\n")
	records, err := readBatchCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].LotID != "L001" || records[0].Fields["weight"] != "450" {
		t.Errorf("record = %+v", records[0])
	}
	if records[1].Fields["breed"] != "Hereford" {
		t.Errorf("record = %+v", records[1])
	}
}

func TestReadBatchCSVRejectsUnknownColumn(t *testing.T) {
	path := writeCSV(t, "lot_id,ear_tag\nL001,red\n")
	if _, err := readBatchCSV(path); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestReadBatchCSVRequiresLotID(t *testing.T) {
	path := writeCSV(t, "weight,breed\n450,angus\n")
	if _, err := readBatchCSV(path); err == nil {
		t.Fatal("expected error for missing lot_id column")
	}

	path = writeCSV(t, "lot_id,weight\n,450\n")
	if _, err := readBatchCSV(path); err == nil {
		t.Fatal("expected error for empty lot_id value")
	}
}
