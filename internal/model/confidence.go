package model

import "math"

// Confidence maps a signed decision distance to [0,1] as
// clamp(1 - tanh(|distance|), 0, 1). The score expresses proximity to the
// decision surface: 1 on the boundary, decaying toward 0 as the point
// moves away in either direction. Points deep inside the normal region
// therefore score low as well; that matches the deployed behavior and is
// kept as-is pending product review.
func Confidence(distance float64) float64 {
	c := 1 - math.Tanh(math.Abs(distance))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
