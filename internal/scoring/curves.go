package scoring

import "ecosim/internal/config"

// evalCurve evaluates a piecewise-linear curve at x. Values outside the
// breakpoint range are held at the nearest endpoint, never extrapolated.
func evalCurve(pts []config.CurvePoint, x float64) float64 {
	if len(pts) == 0 {
		return 0
	}
	if x <= pts[0].X {
		return pts[0].Y
	}
	last := pts[len(pts)-1]
	if x >= last.X {
		return last.Y
	}
	for i := 1; i < len(pts); i++ {
		if x <= pts[i].X {
			p0, p1 := pts[i-1], pts[i]
			t := (x - p0.X) / (p1.X - p0.X)
			return p0.Y + t*(p1.Y-p0.Y)
		}
	}
	return last.Y
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
