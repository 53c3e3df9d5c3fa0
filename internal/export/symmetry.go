package export

import (
	"math"

	"github.com/daniacca/snowdla/internal/dla"
)

// Transform is a named linear map of the plane acting on column vectors.
type Transform struct {
	Name string
	M    [2][2]float64
}

var rot60 = math.Pi / 3

// Named transforms used to unfold the wedge.
var (
	Identity = Transform{Name: "identity", M: [2][2]float64{{1, 0}, {0, 1}}}
	// MirrorX reflects across the x axis (y -> -y).
	MirrorX = Transform{Name: "mirror-x", M: [2][2]float64{{1, 0}, {0, -1}}}
	// MirrorY reflects across the y axis (x -> -x).
	MirrorY = Transform{Name: "mirror-y", M: [2][2]float64{{-1, 0}, {0, 1}}}
	// Rotate60 multiplies the row vector (x, y) by the 60° rotation matrix,
	// which turns points clockwise by 60°.
	Rotate60 = Transform{Name: "rotate-60", M: [2][2]float64{
		{math.Cos(rot60), math.Sin(rot60)},
		{-math.Sin(rot60), math.Cos(rot60)},
	}}
)

// Apply maps p.
func (t Transform) Apply(p dla.Point) dla.Point {
	return dla.Point{
		X: t.M[0][0]*p.X + t.M[0][1]*p.Y,
		Y: t.M[1][0]*p.X + t.M[1][1]*p.Y,
	}
}

// Then returns the transform applying t first and next second.
func (t Transform) Then(next Transform) Transform {
	var m [2][2]float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			m[i][j] = next.M[i][0]*t.M[0][j] + next.M[i][1]*t.M[1][j]
		}
	}
	return Transform{Name: t.Name + "," + next.Name, M: m}
}

func thenAll(ts []Transform, next Transform) []Transform {
	out := make([]Transform, len(ts))
	for i, t := range ts {
		out[i] = t.Then(next)
	}
	return out
}

// Group returns the 12 transforms that tile the plane with copies of the
// wedge, in output order:
//
//	keep, then append a mirror-x copy         (2)
//	keep, then append a mirror-y copy         (4)
//	keep, append rotate-60 of everything so far,
//	then mirror-x of those rotated copies     (12)
func Group() []Transform {
	g := []Transform{Identity}
	g = append(g, thenAll(g, MirrorX)...)
	g = append(g, thenAll(g, MirrorY)...)
	rot := thenAll(g, Rotate60)
	g = append(g, rot...)
	return append(g, thenAll(rot, MirrorX)...)
}

// Replicate returns 12 copies of points, one block of len(points) per
// transform of Group.
func Replicate(points []dla.Point) []dla.Point {
	group := Group()
	out := make([]dla.Point, 0, len(group)*len(points))
	for _, t := range group {
		for _, p := range points {
			out = append(out, t.Apply(p))
		}
	}
	return out
}
