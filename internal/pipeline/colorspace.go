package pipeline

// HSV is an 8-bit hue/saturation/value triple with hue halved to 0..179.
type HSV struct{ H, S, V uint8 }

// RGBToHSV converts one 8-bit RGB pixel.
func RGBToHSV(r, g, b uint8) HSV {
	maxc := max(r, g, b)
	minc := min(r, g, b)
	v := maxc
	if maxc == 0 {
		return HSV{0, 0, 0}
	}
	delta := int(maxc) - int(minc)
	s := uint8((255*delta + int(maxc)/2) / int(maxc))
	if delta == 0 {
		return HSV{0, s, v}
	}

	var h float64
	switch maxc {
	case r:
		h = 60 * float64(int(g)-int(b)) / float64(delta)
	case g:
		h = 120 + 60*float64(int(b)-int(r))/float64(delta)
	default:
		h = 240 + 60*float64(int(r)-int(g))/float64(delta)
	}
	if h < 0 {
		h += 360
	}
	hh := int(h/2 + 0.5)
	if hh >= 180 {
		hh -= 180
	}
	return HSV{uint8(hh), s, v}
}

// HSVRange is an inclusive per-channel range.
type HSVRange struct{ Lo, Hi HSV }

// ValueRange thresholds on the value channel only.
func ValueRange(lo, hi uint8) HSVRange {
	return HSVRange{Lo: HSV{0, 0, lo}, Hi: HSV{179, 255, hi}}
}

func (r HSVRange) valueOnly() bool {
	return r.Lo.H == 0 && r.Hi.H >= 179 && r.Lo.S == 0 && r.Hi.S == 255
}

// Fraction returns the share of rgb24 pixels in frame whose HSV value lies
// within r.
func (r HSVRange) Fraction(frame []byte) float64 {
	n := len(frame) / 3
	if n == 0 {
		return 0
	}
	fast := r.valueOnly()
	hits := 0
	for i := 0; i+2 < len(frame); i += 3 {
		red, green, blue := frame[i], frame[i+1], frame[i+2]
		v := max(red, green, blue)
		if v < r.Lo.V || v > r.Hi.V {
			continue
		}
		if !fast {
			c := RGBToHSV(red, green, blue)
			if c.H < r.Lo.H || c.H > r.Hi.H || c.S < r.Lo.S || c.S > r.Hi.S {
				continue
			}
		}
		hits++
	}
	return float64(hits) / float64(n)
}

// markerRadius and markerCenter place the detection dot in the top-left corner.
const (
	markerRadius  = 8
	markerCenterX = 12
	markerCenterY = 12
)

// drawMarker burns a filled red disc into an rgb24 frame.
func drawMarker(frame []byte, width, height int) {
	for dy := -markerRadius; dy <= markerRadius; dy++ {
		y := markerCenterY + dy
		if y < 0 || y >= height {
			continue
		}
		for dx := -markerRadius; dx <= markerRadius; dx++ {
			x := markerCenterX + dx
			if x < 0 || x >= width || dx*dx+dy*dy > markerRadius*markerRadius {
				continue
			}
			off := (y*width + x) * 3
			frame[off] = 255
			frame[off+1] = 0
			frame[off+2] = 0
		}
	}
}
