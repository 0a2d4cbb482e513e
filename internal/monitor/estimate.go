package monitor

import "math"

// Estimate returns the production-impact percentage and a 0-100 confidence
// for a reading. Both interpolate linearly between the breached warning limit
// and the maximum plausible value, which sits as far past the critical limit
// as the critical limit sits past the warning limit.
func Estimate(t Threshold, value float64) (impactPct float64, confidence int) {
	frac := breachFraction(t, value)
	impactPct = math.Round(frac*1000) / 10
	confidence = int(math.Round(50 + frac*50))
	return impactPct, confidence
}

func breachFraction(t Threshold, value float64) float64 {
	warnMin, warnMax, critMin, critMax := t.Bounds()
	var frac float64
	switch {
	case value > warnMax:
		span := 2 * (critMax - warnMax)
		if span <= 0 {
			return 1
		}
		frac = (value - warnMax) / span
	case value < warnMin:
		span := 2 * (warnMin - critMin)
		if span <= 0 {
			return 1
		}
		frac = (warnMin - value) / span
	default:
		return 0
	}
	return clamp01(frac)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
