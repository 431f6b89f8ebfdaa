package nums

import "math"

// Saturate clamps value into [min, max].
func Saturate(value float64, min float64, max float64) float64 {
	return math.Min(math.Max(value, min), max)
}

// ModPi reduces an angle with math.Mod into (-pi, pi). The result keeps the
// sign of the input rather than taking the shortest signed arc; the guidance
// law depends on this exact reduction.
func ModPi(angle float64) float64 {
	return math.Mod(angle, math.Pi)
}

// Trapezoid advances out by one trapezoidal integration step of gain k over
// dt, using the previous and the current value of the integrand.
func Trapezoid(out float64, inOld float64, inNew float64, k float64, dt float64) float64 {
	return out + k*dt*(inOld+inNew)/2
}
