package dla

import "math"

// WedgeAngle is the opening angle of the simulated sector.
const WedgeAngle = math.Pi / 6

// maxFolds bounds the reflections needed to bring any point back into the
// wedge. Alternating reflections across the two edges rotate by 60°, so six
// pairs cover every direction.
const maxFolds = 12

var wedgeSlope = math.Tan(WedgeAngle)

// Line is y = Slope*x + Intercept.
type Line struct {
	Slope     float64
	Intercept float64
}

// WedgeBoundary is the upper edge of the wedge, through the origin at 30°.
func WedgeBoundary() Line {
	return Line{Slope: wedgeSlope}
}

// At evaluates the line at x.
func (l Line) At(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// Above reports whether p lies strictly above the line.
func (l Line) Above(p Point) bool {
	return p.Y > l.At(p.X)
}

// Mirror reflects p across the line. The foot of the perpendicular is
// found by projecting onto the line direction (1, Slope), which stays
// well defined for a horizontal line.
func (l Line) Mirror(p Point) Point {
	a := l.Slope
	// x coordinate of the foot of the perpendicular through p
	d := (p.X + (p.Y-l.Intercept)*a) / (1 + a*a)
	return Point{
		X: 2*d - p.X,
		Y: 2*d*a - p.Y + 2*l.Intercept,
	}
}

// ReflectLower folds a point below the x axis back above it.
func ReflectLower(p Point) Point {
	if p.Y < 0 {
		p.Y = -p.Y
	}
	return p
}

// Confine folds p into the wedge 0 <= y <= tan(30°)*x. A point that only
// crossed one edge is folded once; points that land far outside (large
// steps near the apex) are folded until they are inside.
func Confine(p Point, boundary Line) Point {
	for range maxFolds {
		switch {
		case p.Y < 0:
			p = ReflectLower(p)
		case boundary.Above(p):
			p = boundary.Mirror(p)
		default:
			return p
		}
	}
	return p
}

// InWedge reports whether p lies inside the closed wedge, allowing eps of
// floating point slack.
func InWedge(p Point, eps float64) bool {
	return p.Y >= -eps && p.Y <= wedgeSlope*p.X+eps
}
