// Package history provides an archival store of classification results
// using BoltDB. It complements the append-only text logs with efficient
// time-range queries per sensor, backing the history endpoint.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"vibration-sentinel/internal/classifier"
)

const resultsBucket = "classifications"

// Store archives classification results keyed by sensor and timestamp.
type Store struct {
	db *bbolt.DB
}

// New opens the archive database under dataPath, creating it and its
// bucket as needed.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "sentinel-history.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(resultsBucket)); err != nil {
			return fmt.Errorf("create results bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreResult archives one classification result. The key format
// "sensor_timestamp" keeps per-sensor records contiguous for range scans.
func (s *Store) StoreResult(r classifier.Result) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(resultsBucket))

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			ts = time.Now()
		}

		key := fmt.Sprintf("%s_%020d", r.SensorID, ts.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// Results retrieves archived results for a sensor within a time range,
// inclusive of both ends, ordered by timestamp.
func (s *Store) Results(sensorID string, start, end time.Time) ([]classifier.Result, error) {
	var results []classifier.Result

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(resultsBucket)).Cursor()

		prefix := []byte(sensorID + "_")
		startKey := []byte(fmt.Sprintf("%s_%020d", sensorID, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%020d", sensorID, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			// Keys sharing a prefix are contiguous; the first mismatch
			// means the sensor's region is exhausted.
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			var r classifier.Result
			if err := json.Unmarshal(v, &r); err != nil {
				continue // skip malformed records
			}
			results = append(results, r)
		}
		return nil
	})

	return results, err
}
