package model

// Normalize applies the training-time min-max transform to one sample.
// Values outside the observed range map outside [0,1]; no clamping is
// applied, since extrapolated points are exactly what the novelty model
// should see and flag. The input length is guaranteed by the caller and
// the bound widths by Validate.
func (p *ScalerParams) Normalize(sample []float64) []float64 {
	scaled := make([]float64, len(sample))
	for i, v := range sample {
		scaled[i] = (v - p.Min[i]) / (p.Max[i] - p.Min[i])
	}
	return scaled
}
