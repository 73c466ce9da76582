// Package model loads and evaluates the pretrained novelty-detection
// artifacts: per-channel min-max scaler bounds and the one-class SVM
// decision function. Both are produced offline and consumed here as
// read-only, versioned JSON parameter files.
//
// The artifacts are validated once at load time; the serving path never
// mutates them, so evaluation is safe for unlimited concurrent use.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
)

// FeatureCount is the number of channels per sample: x, y, z, current.
const FeatureCount = 4

// ScalerParams holds the per-channel min-max bounds recorded at training time.
type ScalerParams struct {
	Version int       `json:"version"`
	Min     []float64 `json:"min"`
	Max     []float64 `json:"max"`
}

// SVMParams holds the RBF one-class SVM boundary parameters.
type SVMParams struct {
	Version        int         `json:"version"`
	Gamma          float64     `json:"gamma"`
	Rho            float64     `json:"rho"`
	SupportVectors [][]float64 `json:"support_vectors"`
	DualCoefs      []float64   `json:"dual_coefs"`
}

// Artifact is the full pretrained parameter set loaded at startup.
type Artifact struct {
	Scaler ScalerParams
	SVM    SVMParams
}

// LoadArtifact reads and validates both parameter files. Any structural
// problem (missing file, dimension mismatch, zero-width scaler bound,
// non-positive gamma) is an error here, never deferred to scoring time.
func LoadArtifact(scalerPath, modelPath string) (*Artifact, error) {
	scaler, err := loadScalerParams(scalerPath)
	if err != nil {
		return nil, fmt.Errorf("load scaler params: %w", err)
	}

	svm, err := loadSVMParams(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model params: %w", err)
	}

	log.Info().
		Str("scaler_path", scalerPath).
		Str("model_path", modelPath).
		Int("scaler_version", scaler.Version).
		Int("model_version", svm.Version).
		Int("support_vectors", len(svm.SupportVectors)).
		Msg("model artifact loaded")

	return &Artifact{Scaler: *scaler, SVM: *svm}, nil
}

func loadScalerParams(path string) (*ScalerParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var params ScalerParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &params, nil
}

func loadSVMParams(path string) (*SVMParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var params SVMParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &params, nil
}

// Validate checks the scaler bounds for shape and degenerate ranges.
func (p *ScalerParams) Validate() error {
	if len(p.Min) != FeatureCount || len(p.Max) != FeatureCount {
		return fmt.Errorf("expected %d min/max bounds, got %d/%d", FeatureCount, len(p.Min), len(p.Max))
	}
	for i := range p.Min {
		if !isFinite(p.Min[i]) || !isFinite(p.Max[i]) {
			return fmt.Errorf("channel %d: non-finite bound", i)
		}
		if p.Max[i] <= p.Min[i] {
			return fmt.Errorf("channel %d: degenerate bounds min=%v max=%v", i, p.Min[i], p.Max[i])
		}
	}
	return nil
}

// Validate checks the SVM parameters for shape and finiteness.
func (p *SVMParams) Validate() error {
	if p.Gamma <= 0 || !isFinite(p.Gamma) {
		return fmt.Errorf("gamma must be positive and finite, got %v", p.Gamma)
	}
	if !isFinite(p.Rho) {
		return fmt.Errorf("rho is not finite")
	}
	if len(p.SupportVectors) == 0 {
		return fmt.Errorf("no support vectors")
	}
	if len(p.DualCoefs) != len(p.SupportVectors) {
		return fmt.Errorf("got %d dual coefficients for %d support vectors", len(p.DualCoefs), len(p.SupportVectors))
	}
	for i, sv := range p.SupportVectors {
		if len(sv) != FeatureCount {
			return fmt.Errorf("support vector %d: expected %d features, got %d", i, FeatureCount, len(sv))
		}
		for j, v := range sv {
			if !isFinite(v) {
				return fmt.Errorf("support vector %d: non-finite feature %d", i, j)
			}
		}
		if !isFinite(p.DualCoefs[i]) {
			return fmt.Errorf("dual coefficient %d is not finite", i)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
