package dla

import "fmt"

// Point is a coordinate in the simulation plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistSq returns the squared euclidean distance between p and q.
func (p Point) DistSq(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

func (p Point) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", p.X, p.Y)
}

// Bond records that Child attached to Parent. Parent is always lower than Child.
type Bond struct {
	Parent int `json:"parent"`
	Child  int `json:"child"`
}

// Path is the trail of one walker: the spawn point followed by every
// position it visited before colliding.
type Path []Point

// Origin is the seed of every aggregate.
var Origin = Point{}
