package mot

import (
	"math"
)

// Point is a 2D position, in pixels unless stated otherwise
type Point struct {
	X float64
	Y float64
}

// Detection is a single blob found on a frame: centroid and area, both in pixel space.
type Detection struct {
	X    float64
	Y    float64
	Area float64
}

func NewDetection(x, y, area float64) Detection {
	return Detection{
		X:    x,
		Y:    y,
		Area: area,
	}
}

// Center returns blob's centroid
func (d Detection) Center() Point {
	return Point{X: d.X, Y: d.Y}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}
