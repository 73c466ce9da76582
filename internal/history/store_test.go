package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vibration-sentinel/internal/classifier"
)

func archivedResult(sensorID string, ts time.Time, x float64) classifier.Result {
	return classifier.Result{
		Timestamp:  ts.Format(time.RFC3339Nano),
		SensorID:   sensorID,
		X:          x,
		Distance:   0.2,
		Confidence: 0.8,
	}
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tempDir, "sentinel-history.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "deeper")); err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}

	nilStore := &Store{}
	if err := nilStore.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestStoreAndQueryResults(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		r := archivedResult("press-1", base.Add(time.Duration(i)*time.Minute), float64(i))
		if err := store.StoreResult(r); err != nil {
			t.Fatalf("StoreResult failed: %v", err)
		}
	}
	// A second sensor must not leak into the first sensor's range.
	other := archivedResult("press-2", base.Add(2*time.Minute), 99)
	if err := store.StoreResult(other); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}

	results, err := store.Results("press-1", base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, r := range results {
		if r.X != float64(i) {
			t.Errorf("result %d out of order: x=%v", i, r.X)
		}
		if r.SensorID != "press-1" {
			t.Errorf("unexpected sensor in range: %s", r.SensorID)
		}
	}

	// Range restricted to the middle of the window.
	mid, err := store.Results("press-1", base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(mid) != 3 {
		t.Errorf("expected 3 results in narrowed range, got %d", len(mid))
	}
}

func TestResults_PrefixSharingSensors(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	// Sensor names that are prefixes of each other, including one with a
	// space (sorts below the key separator) and one containing the
	// separator itself.
	base := time.Now().Add(-30 * time.Minute)
	counts := map[string]int{"a": 2, "a b": 1, "a_b": 3}
	for sensor, n := range counts {
		for i := 0; i < n; i++ {
			r := archivedResult(sensor, base.Add(time.Duration(i)*time.Minute), float64(i))
			if err := store.StoreResult(r); err != nil {
				t.Fatalf("StoreResult failed: %v", err)
			}
		}
	}

	for sensor, want := range counts {
		results, err := store.Results(sensor, base.Add(-time.Minute), base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("Results(%q) failed: %v", sensor, err)
		}
		if len(results) != want {
			t.Errorf("Results(%q): expected %d results, got %d", sensor, want, len(results))
		}
		for _, r := range results {
			if r.SensorID != sensor {
				t.Errorf("Results(%q): leaked record from sensor %q", sensor, r.SensorID)
			}
		}
	}
}

func TestResults_EmptyRange(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	results, err := store.Results("nobody", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
