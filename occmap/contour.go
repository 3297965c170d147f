package occmap

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"github.com/rs/zerolog"
)

// ContourExtractor turns the occupied regions of a raster into boundary polygons
type ContourExtractor struct {
	Options ContourOptions
	Logger  zerolog.Logger
}

// NewContourExtractor creates an extractor with the given options and a silent logger
func NewContourExtractor(opts ContourOptions) *ContourExtractor {
	return &ContourExtractor{Options: opts, Logger: zerolog.Nop()}
}

// ExtractContours runs a default extractor
func ExtractContours(img *RasterImage, meta *MapMetadata) []Contour {
	return NewContourExtractor(ContourOptions{}).Extract(img, meta)
}

// Extract returns one clockwise polygon per 8-connected occupied region that
// borders a free or unknown cell. Vertices sit on pixel corners so a polygon
// encloses every pixel of its region. The raster is never modified and the
// output is identical for identical input. Failures degrade to an empty list.
func (e *ContourExtractor) Extract(img *RasterImage, meta *MapMetadata) (contours []Contour) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Warn().Interface("panic", r).Msg("contour extraction failed, returning no contours")
			contours = []Contour{}
		}
	}()

	contours = []Contour{}
	if img.Empty() || len(img.Pixels) != img.Width*img.Height {
		return contours
	}

	cells := ClassifyCells(img, meta)
	for _, c := range traceRegions(cells, img.Width, img.Height) {
		if e.Options.SimplifyTolerance > 0 {
			c = simplifyContour(c, e.Options.SimplifyTolerance)
		}
		contours = append(contours, c)
	}
	return contours
}

// ClassifyCells buckets every sample. The sample is normalised to an occupancy
// probability (dark is occupied unless negate is set), then compared against
// free_thresh first and occupied_thresh second.
func ClassifyCells(img *RasterImage, meta *MapMetadata) []CellClass {
	free, occ, negate := DefaultFreeThreshold, DefaultOccupiedThreshold, false
	if meta != nil {
		free, occ, negate = meta.FreeThreshold, meta.OccupiedThreshold, meta.Negate
	}

	// The 256 possible samples are classified once
	var lut [256]CellClass
	for v := 0; v < 256; v++ {
		p := float64(255-v) / 255.0
		if negate {
			p = float64(v) / 255.0
		}
		switch {
		case p <= free:
			lut[v] = CellFree
		case p >= occ:
			lut[v] = CellOccupied
		default:
			lut[v] = CellUnknown
		}
	}

	cells := make([]CellClass, len(img.Pixels))
	for i, v := range img.Pixels {
		cells[i] = lut[v]
	}
	return cells
}

// Direction encoding: 0=N, 1=E, 2=S, 3=W (pixel rows grow southward)
var dirs = []struct{ dx, dy int }{
	{0, -1},
	{1, 0},
	{0, 1},
	{-1, 0},
}

// traceRegions labels 8-connected occupied components in scan order and traces
// the outer boundary of each one that touches a non-occupied cell.
func traceRegions(cells []CellClass, width, height int) []Contour {
	labels := make([]int32, len(cells))
	var out []Contour
	var label int32

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if cells[i] != CellOccupied || labels[i] != 0 {
				continue
			}
			label++
			// The first pixel met in scan order is the top-left-most of its region
			if floodLabel(cells, labels, width, height, x, y, label) {
				out = append(out, traceOuterBoundary(labels, width, height, x, y, label))
			}
		}
	}
	return out
}

// floodLabel assigns label to the 8-connected occupied region containing (sx, sy)
// and reports whether any in-bounds neighbour of the region is free or unknown.
func floodLabel(cells []CellClass, labels []int32, width, height, sx, sy int, label int32) bool {
	touchesOpen := false
	stack := []int{sy*width + sx}
	labels[sy*width+sx] = label

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%width, i/width

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				nx, ny := x+dx, y+dy
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue
				}
				ni := ny*width + nx
				if cells[ni] != CellOccupied {
					touchesOpen = true
					continue
				}
				if labels[ni] == 0 {
					labels[ni] = label
					stack = append(stack, ni)
				}
			}
		}
	}
	return touchesOpen
}

// traceOuterBoundary walks the pixel-edge boundary of a labelled region with the
// region on the right hand, which is clockwise on screen. Corner (x, y) is the
// top-left corner of pixel (x, y). Diagonal neighbours count as connected, so
// the walk turns left whenever the pixel ahead-left belongs to the region.
// Only corners where the heading changes are emitted.
func traceOuterBoundary(labels []int32, width, height, sx, sy int, label int32) Contour {
	inRegion := func(x, y int) bool {
		if x < 0 || x >= width || y < 0 || y >= height {
			return false
		}
		return labels[y*width+x] == label
	}
	// pixel in the quadrant (qx, qy) around corner (cx, cy), qx and qy in {-1, 1}
	quadrant := func(cx, cy, qx, qy int) bool {
		return inRegion(cx+(qx-1)/2, cy+(qy-1)/2)
	}

	var contour Contour
	cx, cy := sx, sy
	facing := 1 // the top edge of the start pixel is walked eastward
	maxSteps := 4*(width+1)*(height+1) + 4

	for step := 0; ; step++ {
		if step > maxSteps {
			panic(fmt.Sprintf("boundary walk from (%d,%d) did not close", sx, sy))
		}

		d := dirs[facing]
		cx, cy = cx+d.dx, cy+d.dy

		left := dirs[(facing+3)%4]
		right := dirs[(facing+1)%4]
		next := facing
		switch {
		case quadrant(cx, cy, d.dx+left.dx, d.dy+left.dy):
			next = (facing + 3) % 4
		case quadrant(cx, cy, d.dx+right.dx, d.dy+right.dy):
		default:
			next = (facing + 1) % 4
		}

		if next != facing {
			contour = append(contour, Point{X: float64(cx), Y: float64(cy)})
		}
		facing = next

		if cx == sx && cy == sy {
			break
		}
	}

	// Rotate so the polygon starts at the top-left corner of the region
	last := len(contour) - 1
	contour = append(Contour{contour[last]}, contour[:last]...)

	if !IsClockwise(contour) {
		reverseContour(contour)
	}
	return contour
}

// IsClockwise reports whether the contour winds clockwise on screen.
// Pixel rows grow downward, so orb's counter-clockwise is clockwise here.
func IsClockwise(c Contour) bool {
	return contourRing(c).Orientation() == orb.CCW
}

// ContourArea returns the enclosed area in square pixels
func ContourArea(c Contour) float64 {
	return math.Abs(planar.Area(contourRing(c)))
}

// contourRing converts a contour into a closed orb ring
func contourRing(c Contour) orb.Ring {
	ring := make(orb.Ring, 0, len(c)+1)
	for _, p := range c {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(c) > 0 {
		ring = append(ring, orb.Point{c[0].X, c[0].Y})
	}
	return ring
}

func reverseContour(c Contour) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// simplifyContour applies Douglas-Peucker to the closed ring. Results that
// collapse below a triangle are discarded in favour of the original.
func simplifyContour(c Contour, tolerance float64) Contour {
	ring := simplify.DouglasPeucker(tolerance).Ring(contourRing(c))
	if len(ring) < 4 {
		return c
	}
	out := make(Contour, 0, len(ring)-1)
	for _, p := range ring[:len(ring)-1] {
		out = append(out, Point{X: p[0], Y: p[1]})
	}
	return out
}
