// Package roi turns caller-supplied polygons into clipped bounding boxes and
// dense binary masks that can crop raw frames quickly.
package roi

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/andresmejia3/camrig/internal/faults"
)

// MaxCoordinate bounds the magnitude of a vertex coordinate. Anything larger
// cannot be a position in a video frame.
const MaxCoordinate = 1 << 24

// Point is a vertex in source-frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON accepts either an [x, y] pair or an {"x": .., "y": ..} object.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point needs 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	var obj struct{ X, Y float64 }
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("point must be [x, y] or {\"x\", \"y\"}: %w", err)
	}
	p.X, p.Y = obj.X, obj.Y
	return nil
}

// Region is one polygon to extract. An empty Label gets a positional default.
type Region struct {
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}

// span is a run of inside pixels [x0, x1) on one mask row.
type span struct{ x0, x1 int }

// Mask is a compiled region: the clipped, inclusive bounding box in frame
// coordinates and the rasterized polygon relative to that box.
type Mask struct {
	Label  string
	Bounds image.Rectangle
	rows   [][]span
}

// Width and Height of the cropped output frame. Never zero.
func (m *Mask) Width() int  { return m.Bounds.Dx() }
func (m *Mask) Height() int { return m.Bounds.Dy() }

// Contains reports whether box-local pixel (x, y) is inside the polygon.
func (m *Mask) Contains(x, y int) bool {
	if y < 0 || y >= len(m.rows) {
		return false
	}
	for _, s := range m.rows[y] {
		if x >= s.x0 && x < s.x1 {
			return true
		}
	}
	return false
}

// Area is the number of mask pixels set.
func (m *Mask) Area() int {
	n := 0
	for _, row := range m.rows {
		for _, s := range row {
			n += s.x1 - s.x0
		}
	}
	return n
}

// FrameSize is the byte length of one cropped frame at bpp bytes per pixel.
func (m *Mask) FrameSize(bpp int) int {
	return m.Width() * m.Height() * bpp
}

// Extract crops frame to the mask's bounding box into dst, zeroing every
// pixel outside the polygon. frame is packed rows of frameWidth pixels.
func (m *Mask) Extract(frame []byte, frameWidth, bpp int, dst []byte) error {
	w, h := m.Width(), m.Height()
	if len(dst) != w*h*bpp {
		return fmt.Errorf("%w: crop buffer is %d bytes, need %d", faults.ErrShapeMismatch, len(dst), w*h*bpp)
	}
	stride := frameWidth * bpp
	if last := (m.Bounds.Max.Y-1)*stride + m.Bounds.Max.X*bpp; m.Bounds.Max.X > frameWidth || len(frame) < last {
		return fmt.Errorf("%w: frame too small for region %q", faults.ErrShapeMismatch, m.Label)
	}

	rowBytes := w * bpp
	for y := 0; y < h; y++ {
		out := dst[y*rowBytes : (y+1)*rowBytes]
		clear(out)
		src := frame[(m.Bounds.Min.Y+y)*stride+m.Bounds.Min.X*bpp:]
		for _, s := range m.rows[y] {
			copy(out[s.x0*bpp:s.x1*bpp], src[s.x0*bpp:s.x1*bpp])
		}
	}
	return nil
}

// Compile validates regions against a width x height frame and rasterizes
// each one. Labels default to roi1, roi2, ... and spaces become underscores.
func Compile(regions []Region, margin, width, height int) ([]*Mask, error) {
	if len(regions) == 0 {
		return nil, faults.ErrNoTargets
	}
	if width <= 0 || height <= 0 {
		return nil, faults.Invalid("frame size %dx%d", width, height)
	}
	if margin < 0 {
		return nil, faults.Invalid("negative margin %d", margin)
	}

	seen := make(map[string]bool, len(regions))
	masks := make([]*Mask, 0, len(regions))
	for i, r := range regions {
		label, err := normalizeLabel(r.Label, i+1)
		if err != nil {
			return nil, err
		}
		if seen[label] {
			return nil, faults.Invalid("duplicate region label %q", label)
		}
		seen[label] = true

		if len(r.Points) == 0 {
			return nil, faults.Invalid("region %q has no points", label)
		}
		m, err := compileOne(label, r.Points, margin, width, height)
		if err != nil {
			return nil, err
		}
		masks = append(masks, m)
	}
	return masks, nil
}

func normalizeLabel(label string, position int) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = fmt.Sprintf("roi%d", position)
	}
	label = strings.ReplaceAll(label, " ", "_")
	if strings.ContainsAny(label, `/\`) || label == "." || label == ".." {
		return "", faults.Invalid("region label %q is not a valid directory name", label)
	}
	return label, nil
}

func compileOne(label string, pts []Point, margin, width, height int) (*Mask, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, faults.Invalid("region %q has a non-finite point", label)
		}
		if math.Abs(p.X) > MaxCoordinate || math.Abs(p.Y) > MaxCoordinate {
			return nil, faults.Invalid("region %q has a point (%g, %g) out of range", label, p.X, p.Y)
		}
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	// Inclusive box, clipped to the frame. A box that collapses after
	// clipping is floored to a single pixel.
	x0 := clamp(int(math.Floor(minX))-margin, 0, width-1)
	y0 := clamp(int(math.Floor(minY))-margin, 0, height-1)
	x1 := clamp(int(math.Ceil(maxX))+margin, 0, width-1)
	y1 := clamp(int(math.Ceil(maxY))+margin, 0, height-1)
	w, h := max(1, x1-x0+1), max(1, y1-y0+1)

	local := make([]image.Point, len(pts))
	for i, p := range pts {
		// Truncation matches integer vertex placement of the fill.
		local[i] = image.Pt(int(p.X)-x0, int(p.Y)-y0)
	}

	return &Mask{
		Label:  label,
		Bounds: image.Rect(x0, y0, x0+w, y0+h),
		rows:   rasterize(local, w, h),
	}, nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
