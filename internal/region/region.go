package region

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// crossingEpsilon stabilises the edge-intersection denominator so that a
// horizontal edge never divides by zero.
const crossingEpsilon = 1e-8

// Rect is the axis-aligned counting rectangle in frame pixels, as produced by
// the region tuning tools.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Validate rejects rectangles that cannot describe a region. Zero width or
// height is accepted and yields a degenerate polygon.
func (r Rect) Validate() error {
	if r.W < 0 {
		return fmt.Errorf("region width must be non-negative, got %d", r.W)
	}
	if r.H < 0 {
		return fmt.Errorf("region height must be non-negative, got %d", r.H)
	}
	return nil
}

func (r Rect) String() string {
	return fmt.Sprintf("x=%d y=%d w=%d h=%d", r.X, r.Y, r.W, r.H)
}

// DefaultRect spans the full frame width with a quarter of the frame height,
// centred vertically.
func DefaultRect(frameWidth, frameHeight int) Rect {
	h := frameHeight / 4
	return Rect{
		X: 0,
		Y: frameHeight/2 - h/2,
		W: frameWidth,
		H: h,
	}
}

// Polygon is an ordered list of vertices. The last vertex implicitly closes
// to the first.
type Polygon []r2.Vec

// Contains reports whether pt lies inside p. See PointInPolygon.
func (p Polygon) Contains(pt r2.Vec) bool {
	return PointInPolygon(pt, p)
}

// Equal reports whether both polygons have identical vertices in the same order.
func (p Polygon) Equal(o Polygon) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// KeystoneShift returns the inward shear in pixels applied to the narrow
// edge for a tilt of tiltDeg degrees. The result never exceeds w/3.
func KeystoneShift(w int, tiltDeg float64) int {
	maxShift := w / 3
	tilt := math.Abs(tiltDeg * math.Pi / 180)
	return int(float64(maxShift) * math.Sin(tilt))
}

// Keystone builds the tilt-corrected quadrilateral for r. Positive tilt
// narrows the top edge, zero or negative tilt narrows the bottom edge.
// Vertices are ordered top-left, top-right, bottom-right, bottom-left, and
// x-coordinates are clamped to [0, frameWidth-1].
func Keystone(r Rect, tiltDeg float64, frameWidth int) Polygon {
	shift := KeystoneShift(r.W, tiltDeg)

	var pts [4][2]int
	if tiltDeg > 0 {
		pts = [4][2]int{
			{r.X + shift, r.Y},
			{r.X + r.W - shift, r.Y},
			{r.X + r.W, r.Y + r.H},
			{r.X, r.Y + r.H},
		}
	} else {
		pts = [4][2]int{
			{r.X, r.Y},
			{r.X + r.W, r.Y},
			{r.X + r.W - shift, r.Y + r.H},
			{r.X + shift, r.Y + r.H},
		}
	}

	poly := make(Polygon, len(pts))
	for i, pt := range pts {
		poly[i] = r2.Vec{X: float64(clampX(pt[0], frameWidth)), Y: float64(pt[1])}
	}
	return poly
}

func clampX(x, frameWidth int) int {
	if x < 0 {
		x = 0
	}
	if hi := frameWidth - 1; x > hi {
		x = hi
	}
	return x
}

// PointInPolygon is a crossing-number test over the edges of poly.
//
// A horizontal ray is cast towards +x and each edge whose y-span satisfies
// min < y <= max and that lies at or right of the point toggles the result.
// For an axis-aligned rectangle this puts the bottom and right edges inside
// and the top and left edges outside. Points are not clipped to any frame.
func PointInPolygon(pt r2.Vec, poly Polygon) bool {
	n := len(poly)
	if n == 0 {
		return false
	}

	inside := false
	p1 := poly[n-1]
	for _, p2 := range poly {
		if pt.Y > math.Min(p1.Y, p2.Y) && pt.Y <= math.Max(p1.Y, p2.Y) && pt.X <= math.Max(p1.X, p2.X) {
			if p1.X == p2.X {
				inside = !inside
			} else {
				// p1.Y != p2.Y is implied by the strict y-span test above.
				xinters := (pt.Y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y+crossingEpsilon) + p1.X
				if pt.X <= xinters {
					inside = !inside
				}
			}
		}
		p1 = p2
	}
	return inside
}
