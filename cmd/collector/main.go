// Command collector is a standalone capture server for training-data
// acquisition. It accepts the same batch payload as the classification
// server but only records the raw channels to disk, without scoring.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vibration-sentinel/internal/classifier"
)

var captureHeader = []string{"timestamp", "x", "y", "z", "current", "has_anomaly"}

// recorder appends capture rows to a session CSV file.
type recorder struct {
	mu   sync.Mutex
	path string
}

func newRecorder(dir string) (*recorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	name := fmt.Sprintf("capture_%s.csv", time.Now().Format("20060102_150405"))
	return &recorder{path: filepath.Join(dir, name)}, nil
}

func (r *recorder) appendWindow(b classifier.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat capture file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(captureHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	ts := time.Now().Format(time.RFC3339Nano)
	for i := 0; i < b.Len(); i++ {
		row := []string{
			ts,
			strconv.FormatFloat(b.X[i], 'g', -1, 64),
			strconv.FormatFloat(b.Y[i], 'g', -1, 64),
			strconv.FormatFloat(b.Z[i], 'g', -1, 64),
			strconv.FormatFloat(b.Current[i], 'g', -1, 64),
			"false",
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush capture file: %w", err)
	}
	return f.Sync()
}

func handle(rec *recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("1"))
		case http.MethodPost:
			var batch classifier.Batch
			if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
				http.Error(w, "invalid JSON payload", http.StatusBadRequest)
				return
			}
			if err := batch.Validate(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := rec.appendWindow(batch); err != nil {
				log.Error().Err(err).Msg("capture append failed")
				http.Error(w, "capture failed", http.StatusInternalServerError)
				return
			}
			log.Info().Int("samples", batch.Len()).Msg("window captured")
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func main() {
	dir := flag.String("d", "sensor_data", "directory for capture files")
	port := flag.Int("p", 4242, "listen port")
	flag.Parse()

	rec, err := newRecorder(*dir)
	if err != nil {
		log.Fatal().Err(err).Msg("recorder initialization failed")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           handle(rec),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	log.Info().Int("port", *port).Str("file", rec.path).Msg("capture server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("capture server failed")
	}
}
