package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/epimetrics/rtwatch/internal/models"
)

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleEstimates() []models.Estimate {
	return []models.Estimate{
		{Region: "Alabama", Date: date("2020-03-10"), Mode: 1.23, Low: 0.81, High: 1.72},
		{Region: "Washington", Date: date("2020-03-10"), Mode: 0.94, Low: 0.62, High: 1.31},
	}
}

func TestWriteEstimates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estimates.csv")
	if err := WriteEstimates(path, sampleEstimates()); err != nil {
		t.Fatalf("WriteEstimates failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading exported CSV failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d rows", len(rows))
	}
	if strings.Join(rows[0], ",") != "region,date,mode,low,high" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if strings.Join(rows[1], ",") != "Alabama,2020-03-10,1.23,0.81,1.72" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
}

func TestWriteLatestAndBackup(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2020, 4, 1, 12, 30, 0, 0, time.UTC)

	latest, backup, err := WriteLatest(dir, sampleEstimates(), now)
	if err != nil {
		t.Fatalf("WriteLatest failed: %v", err)
	}

	if filepath.Base(latest) != "latest_estimates.csv" {
		t.Errorf("unexpected latest path: %s", latest)
	}
	if filepath.Base(backup) != "estimates_20200401123000.csv" {
		t.Errorf("unexpected backup path: %s", backup)
	}

	for _, path := range []string{latest, backup} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected file at %s: %v", path, err)
		}
	}
}

func TestWriteRawBackup(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2020, 4, 1, 12, 30, 0, 0, time.UTC)
	raw := []byte("date,state,cases\n2020-03-01,Washington,12\n")

	path, err := WriteRawBackup(dir, raw, now)
	if err != nil {
		t.Fatalf("WriteRawBackup failed: %v", err)
	}
	if filepath.Base(path) != "raw_20200401123000.csv" {
		t.Errorf("unexpected raw backup path: %s", path)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Error("raw backup does not match the source bytes")
	}
}

func TestWritesLeaveNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := WriteLatest(dir, sampleEstimates(), time.Now()); err != nil {
		t.Fatalf("WriteLatest failed: %v", err)
	}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.Contains(d.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
