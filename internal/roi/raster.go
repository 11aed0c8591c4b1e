package roi

import (
	"image"
	"math"
	"slices"
)

// rasterize fills the polygon into a w x h grid. Edges are part of the
// polygon, so the interior fill is followed by an outline pass.
func rasterize(pts []image.Point, w, h int) [][]span {
	grid := make([]bool, w*h)
	set := func(x, y int) {
		if x >= 0 && x < w && y >= 0 && y < h {
			grid[y*w+x] = true
		}
	}

	fillInterior(pts, w, h, set)
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		if a, b, ok := clipEdge(a, b, w, h); ok {
			line(a, b, set)
		}
	}

	rows := make([][]span, h)
	for y := 0; y < h; y++ {
		row := grid[y*w : (y+1)*w]
		for x := 0; x < w; {
			if !row[x] {
				x++
				continue
			}
			start := x
			for x < w && row[x] {
				x++
			}
			rows[y] = append(rows[y], span{start, x})
		}
	}
	return rows
}

// fillInterior is an even-odd scanline fill. Each edge covers the half-open
// row range [minY, maxY) so shared vertices are not counted twice.
func fillInterior(pts []image.Point, w, h int, set func(x, y int)) {
	if len(pts) < 3 {
		return
	}
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	minY, maxY = max(minY, 0), min(maxY, h-1)

	xs := make([]float64, 0, len(pts))
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		for i := range pts {
			a, b := pts[i], pts[(i+1)%len(pts)]
			if a.Y == b.Y {
				continue
			}
			if a.Y > b.Y {
				a, b = b, a
			}
			if y < a.Y || y >= b.Y {
				continue
			}
			t := float64(y-a.Y) / float64(b.Y-a.Y)
			xs = append(xs, float64(a.X)+t*float64(b.X-a.X))
		}
		slices.Sort(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			from := max(int(math.Ceil(xs[i])), 0)
			to := min(int(math.Floor(xs[i+1])), w-1)
			for x := from; x <= to; x++ {
				set(x, y)
			}
		}
	}
}

// clipEdge trims segment ab to the box [-1, w] x [-1, h] (Liang-Barsky), so
// plotting it costs at most w+h steps however far the vertices lie.
func clipEdge(a, b image.Point, w, h int) (image.Point, image.Point, bool) {
	inside := func(p image.Point) bool { return p.X >= -1 && p.X <= w && p.Y >= -1 && p.Y <= h }
	if inside(a) && inside(b) {
		return a, b, true
	}

	x0, y0 := float64(a.X), float64(a.Y)
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	t0, t1 := 0.0, 1.0
	for _, e := range [4][2]float64{
		{-dx, x0 + 1},
		{dx, float64(w) - x0},
		{-dy, y0 + 1},
		{dy, float64(h) - y0},
	} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return a, b, false
			}
			t0 = max(t0, r)
		} else {
			if r < t0 {
				return a, b, false
			}
			t1 = min(t1, r)
		}
	}
	at := func(t float64) image.Point {
		return image.Pt(int(math.Round(x0+t*dx)), int(math.Round(y0+t*dy)))
	}
	return at(t0), at(t1), true
}

// line plots a Bresenham segment from a to b, endpoints included.
func line(a, b image.Point, set func(x, y int)) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		set(x, y)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
