package semantic

import "math"

// distanceFunc returns the ranking function for a metric.
func distanceFunc(d Distance) func(a, b []float32) float32 {
	switch d {
	case L2:
		return squaredL2
	case InnerProduct:
		return func(a, b []float32) float32 { return 1 - float32(dot(a, b)) }
	default:
		return cosineDistance
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// cosineDistance is 1 - cos(a, b). A zero vector has no direction, so it is
// treated as unrelated to everything (distance 1).
func cosineDistance(a, b []float32) float32 {
	var d, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		d += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - d/(math.Sqrt(na)*math.Sqrt(nb)))
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return float32(sum)
}
