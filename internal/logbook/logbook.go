// Package logbook provides the append-only persistence sinks for the
// serving pipeline: one delimited-text log for classification results and
// one for raw samples. Rows are only ever added, in arrival order, and the
// files stay human-inspectable.
//
// Writes to each file are serialized by a per-file mutex so the
// header-on-first-write decision and the row append are atomic across
// concurrent requests, and every append is flushed and synced before the
// call returns.
package logbook

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"vibration-sentinel/internal/classifier"
)

const (
	classificationsFile = "classifications.csv"
	rawSamplesFile      = "raw_samples.csv"
)

var (
	classificationHeader = []string{"timestamp", "sensor_id", "is_anomaly", "distance", "confidence", "x", "y", "z", "current"}
	rawHeader            = []string{"timestamp", "sensor_id", "x", "y", "z", "current"}
)

// Record is the on-disk projection of one classification log row.
type Record struct {
	Timestamp  string  `json:"timestamp"`
	SensorID   string  `json:"sensor_id"`
	IsAnomaly  bool    `json:"is_anomaly"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Current    float64 `json:"current"`
}

// Book owns the two log files under a single directory.
type Book struct {
	classMu   sync.Mutex
	rawMu     sync.Mutex
	classPath string
	rawPath   string
}

// New creates the log directory if needed and returns a Book over it.
// The log files themselves are created lazily on first append.
func New(dir string) (*Book, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	return &Book{
		classPath: filepath.Join(dir, classificationsFile),
		rawPath:   filepath.Join(dir, rawSamplesFile),
	}, nil
}

// AppendClassification appends one row to the classification log, writing
// the header first if the file is new.
func (b *Book) AppendClassification(r classifier.Result) error {
	b.classMu.Lock()
	defer b.classMu.Unlock()

	row := []string{
		r.Timestamp,
		r.SensorID,
		strconv.FormatBool(r.IsAnomaly),
		formatFloat(r.Distance),
		formatFloat(r.Confidence),
		formatFloat(r.X),
		formatFloat(r.Y),
		formatFloat(r.Z),
		formatFloat(r.Current),
	}
	return appendRows(b.classPath, classificationHeader, [][]string{row})
}

// AppendRawWindow appends one row per sample in the batch to the raw log,
// each stamped with the capture time.
func (b *Book) AppendRawWindow(sensorID string, batch classifier.Batch) error {
	b.rawMu.Lock()
	defer b.rawMu.Unlock()

	now := time.Now().Format(time.RFC3339Nano)
	rows := make([][]string, batch.Len())
	for i := range rows {
		rows[i] = []string{
			now,
			sensorID,
			formatFloat(batch.X[i]),
			formatFloat(batch.Y[i]),
			formatFloat(batch.Z[i]),
			formatFloat(batch.Current[i]),
		}
	}
	return appendRows(b.rawPath, rawHeader, rows)
}

// ReadAllClassifications returns every row ever appended, in append order.
// A log that does not exist yet yields an empty slice, not an error.
func (b *Book) ReadAllClassifications() ([]Record, error) {
	b.classMu.Lock()
	defer b.classMu.Unlock()

	f, err := os.Open(b.classPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open classification log: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read classification log: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("classification log row %d: %w", len(records)+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func appendRows(path string, header []string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}

	// Durable before the call returns.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

func parseRecord(row []string) (Record, error) {
	if len(row) != len(classificationHeader) {
		return Record{}, fmt.Errorf("expected %d fields, got %d", len(classificationHeader), len(row))
	}

	isAnomaly, err := strconv.ParseBool(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("is_anomaly: %w", err)
	}

	floats := make([]float64, 6)
	for i, raw := range row[3:] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", classificationHeader[i+3], err)
		}
		floats[i] = v
	}

	return Record{
		Timestamp:  row[0],
		SensorID:   row[1],
		IsAnomaly:  isAnomaly,
		Distance:   floats[0],
		Confidence: floats[1],
		X:          floats[2],
		Y:          floats[3],
		Z:          floats[4],
		Current:    floats[5],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
