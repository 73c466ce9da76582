package model

import "math"

// Decision evaluates the one-class SVM boundary function on a normalized
// sample:
//
//	f(x) = sum_i alpha_i * exp(-gamma * ||x - sv_i||^2) - rho
//
// A positive distance means the point sits inside the learned normal
// region; negative means outside it. The evaluation is stateless and
// deterministic for a given artifact.
func (p *SVMParams) Decision(x []float64) float64 {
	sum := 0.0
	for i, sv := range p.SupportVectors {
		var sq float64
		for j := range sv {
			d := x[j] - sv[j]
			sq += d * d
		}
		sum += p.DualCoefs[i] * math.Exp(-p.Gamma*sq)
	}
	return sum - p.Rho
}
