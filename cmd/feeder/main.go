// Command feeder replays a CSV capture against a running classification
// server, posting the samples in fixed-size windows. Useful for smoke
// testing a freshly trained model against recorded machine runs.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"vibration-sentinel/internal/classifier"
)

func main() {
	var (
		serverURL string
		filePath  string
		sensorID  string
		window    int
		interval  time.Duration
	)
	flag.StringVar(&serverURL, "url", "http://localhost:4242/", "classification server endpoint")
	flag.StringVar(&filePath, "file", "", "capture CSV to replay (required)")
	flag.StringVar(&sensorID, "sensor", "", "sensor id to attach to each window")
	flag.IntVar(&window, "window", 25, "samples per submitted window")
	flag.DurationVar(&interval, "interval", time.Second, "pause between windows")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		log.Fatal().Msg("-file is required")
	}
	if window < 1 {
		log.Fatal().Int("window", window).Msg("window must be at least 1")
	}

	batches, err := readCapture(filePath, window)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("capture read failed")
	}
	if len(batches) == 0 {
		log.Fatal().Str("file", filePath).Msg("capture holds no samples")
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(5 * time.Second)

	log.Info().Str("url", serverURL).Int("windows", len(batches)).Msg("replay starting")

	anomalies := 0
	for i, batch := range batches {
		results, err := submitWindow(client, serverURL, sensorID, batch)
		if err != nil {
			log.Fatal().Err(err).Int("window", i).Msg("submit failed")
		}
		for _, r := range results {
			if r.IsAnomaly {
				anomalies++
				log.Warn().
					Str("timestamp", r.Timestamp).
					Float64("distance", r.Distance).
					Float64("confidence", r.Confidence).
					Msg("anomaly reported")
			}
		}
		if i < len(batches)-1 {
			time.Sleep(interval)
		}
	}

	log.Info().Int("windows", len(batches)).Int("anomalies", anomalies).Msg("replay finished")
}

type feedPayload struct {
	classifier.Batch
	SensorID string `json:"sensor_id,omitempty"`
}

func submitWindow(client *resty.Client, url, sensorID string, batch classifier.Batch) ([]classifier.Result, error) {
	var results []classifier.Result
	resp, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(feedPayload{Batch: batch, SensorID: sensorID}).
		SetResult(&results).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("post window: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// readCapture parses a capture CSV into windows of at most `window`
// samples. The first four value columns after the timestamp are taken as
// x, y, z and current; files without a timestamp column work too.
func readCapture(path string, window int) ([]classifier.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var batches []classifier.Batch
	var current classifier.Batch
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read capture: %w", err)
		}

		sample, ok := parseRow(row)
		if !ok {
			// Header or malformed line.
			continue
		}

		current.X = append(current.X, sample[0])
		current.Y = append(current.Y, sample[1])
		current.Z = append(current.Z, sample[2])
		current.Current = append(current.Current, sample[3])
		if current.Len() == window {
			batches = append(batches, current)
			current = classifier.Batch{}
		}
	}
	if current.Len() > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

func parseRow(row []string) ([4]float64, bool) {
	var sample [4]float64
	if len(row) < 4 {
		return sample, false
	}

	// Skip a leading timestamp column when present.
	offset := 0
	if _, err := strconv.ParseFloat(row[0], 64); err != nil {
		offset = 1
	}
	if len(row) < offset+4 {
		return sample, false
	}

	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(row[offset+i], 64)
		if err != nil {
			return sample, false
		}
		sample[i] = v
	}
	return sample, true
}
