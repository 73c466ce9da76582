// Package classifier turns raw sensor batches into classification results
// by composing the scaler, the novelty model and the confidence mapping.
// The pipeline itself has no side effects; persistence and broadcast are
// orchestrated by the API layer.
package classifier

import (
	"fmt"
	"time"

	"vibration-sentinel/internal/model"
)

// Batch is one submission window: four equal-length channel arrays.
type Batch struct {
	X       []float64 `json:"x"`
	Y       []float64 `json:"y"`
	Z       []float64 `json:"z"`
	Current []float64 `json:"current"`
}

// Validate rejects empty batches and mismatched channel lengths. It must
// pass before any per-sample work happens.
func (b Batch) Validate() error {
	n := len(b.X)
	if n == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(b.Y) != n || len(b.Z) != n || len(b.Current) != n {
		return fmt.Errorf("channel length mismatch: x=%d y=%d z=%d current=%d",
			len(b.X), len(b.Y), len(b.Z), len(b.Current))
	}
	return nil
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.X) }

// Sample returns the i-th sample as a feature vector in channel order.
func (b Batch) Sample(i int) []float64 {
	return []float64{b.X[i], b.Y[i], b.Z[i], b.Current[i]}
}

// Result is one scored sample. Immutable once created: it is logged and
// broadcast, never mutated afterward.
type Result struct {
	Timestamp  string  `json:"timestamp"`
	SensorID   string  `json:"sensor_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Current    float64 `json:"current"`
	IsAnomaly  bool    `json:"is_anomaly"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Scorer evaluates the boundary function on a normalized sample.
type Scorer interface {
	Decision(x []float64) float64
}

// Pipeline scores batches against a fixed artifact.
type Pipeline struct {
	scaler model.ScalerParams
	scorer Scorer
}

// New builds a pipeline over a loaded artifact.
func New(art *model.Artifact) *Pipeline {
	svm := art.SVM
	return &Pipeline{scaler: art.Scaler, scorer: &svm}
}

// NewWithScorer builds a pipeline with a custom boundary function.
func NewWithScorer(scaler model.ScalerParams, scorer Scorer) *Pipeline {
	return &Pipeline{scaler: scaler, scorer: scorer}
}

// Classify scores every sample in the batch, preserving order: result i
// corresponds to sample i. The whole call fails before any scoring if the
// batch shape is invalid; there are no partial results.
func (p *Pipeline) Classify(b Batch, sensorID string) ([]Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	results := make([]Result, b.Len())
	for i := range results {
		raw := b.Sample(i)
		distance := p.scorer.Decision(p.scaler.Normalize(raw))

		results[i] = Result{
			Timestamp:  time.Now().Format(time.RFC3339Nano),
			SensorID:   sensorID,
			X:          raw[0],
			Y:          raw[1],
			Z:          raw[2],
			Current:    raw[3],
			IsAnomaly:  distance < 0,
			Distance:   distance,
			Confidence: model.Confidence(distance),
		}
	}
	return results, nil
}
