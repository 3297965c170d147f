package occmap

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SnapshotStyle holds the overlay colours used when exporting a session
type SnapshotStyle struct {
	Contour        color.NRGBA
	Marker         color.RGBA
	SelectedMarker color.RGBA
	MarkerRing     color.RGBA
	Ruler          color.RGBA
	LabelBox       color.RGBA
	LabelText      color.RGBA
	MarkerRadius   int
	RulerRadius    int
}

// DefaultSnapshotStyle matches the colours of the interactive editor
func DefaultSnapshotStyle() SnapshotStyle {
	return SnapshotStyle{
		Contour:        color.NRGBA{0, 100, 255, 128},
		Marker:         parseHexColor("#f44336"),
		SelectedMarker: parseHexColor("#ffeb3b"),
		MarkerRing:     parseHexColor("#ffffff"),
		Ruler:          parseHexColor("#4CAF50"),
		LabelBox:       parseHexColor("#000000"),
		LabelText:      parseHexColor("#ffffff"),
		MarkerRadius:   8,
		RulerRadius:    6,
	}
}

// ExportSnapshot renders the session at its current zoom (base raster,
// contours, markers and ruler) and returns PNG bytes. It only reads the session.
func ExportSnapshot(s *Session) ([]byte, error) {
	img, err := RenderSnapshot(s, DefaultSnapshotStyle())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}

// RenderSnapshot draws the session into an RGBA image
func RenderSnapshot(s *Session, style SnapshotStyle) (*image.RGBA, error) {
	view := s.View()
	if view.Raster.Empty() {
		return nil, &EncodingError{Reason: "empty raster"}
	}
	scale := s.Zoom()
	width := int(math.Round(float64(view.Raster.Width) * scale))
	height := int(math.Round(float64(view.Raster.Height) * scale))
	if width <= 0 || height <= 0 {
		return nil, &EncodingError{Reason: "empty raster"}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(img, img.Bounds(), view.Raster.ToImage(), image.Rect(0, 0, view.Raster.Width, view.Raster.Height), draw.Src, nil)

	for _, c := range view.Contours {
		for i := range c {
			a, b := c[i], c[(i+1)%len(c)]
			drawLine(img, a.X*scale, a.Y*scale, b.X*scale, b.Y*scale, 1, nil, style.Contour)
		}
	}

	selected := s.Selected()
	for _, rec := range s.Records() {
		x, y := int(math.Round(rec.Pixel.X*scale)), int(math.Round(rec.Pixel.Y*scale))
		fill := style.Marker
		if rec.ID == selected {
			fill = style.SelectedMarker
		}
		drawCircle(img, x, y, style.MarkerRadius+1, style.MarkerRing)
		drawCircle(img, x, y, style.MarkerRadius-1, fill)
	}

	ruler := s.Ruler()
	if ruler.Start != nil {
		sx, sy := ruler.Start.X*scale, ruler.Start.Y*scale
		if ruler.End != nil {
			ex, ey := ruler.End.X*scale, ruler.End.Y*scale
			drawLine(img, sx, sy, ex, ey, 3, []float64{5, 5}, rgbaToNRGBA(style.Ruler))
			drawRulerEnd(img, ex, ey, style)
			if ruler.Distance != nil {
				drawDistanceLabel(img, (sx+ex)/2, (sy+ey)/2, *ruler.Distance, style)
			}
		}
		drawRulerEnd(img, sx, sy, style)
	}

	return img, nil
}

func drawRulerEnd(img *image.RGBA, x, y float64, style SnapshotStyle) {
	cx, cy := int(math.Round(x)), int(math.Round(y))
	drawCircle(img, cx, cy, style.RulerRadius+1, style.MarkerRing)
	drawCircle(img, cx, cy, style.RulerRadius-1, style.Ruler)
}

// drawDistanceLabel draws "<distance>m" in a filled box centred on (x, y)
func drawDistanceLabel(img *image.RGBA, x, y, distance float64, style SnapshotStyle) {
	text := fmt.Sprintf("%.2fm", distance)
	cx, cy := int(math.Round(x)), int(math.Round(y))
	fillRect(img, image.Rect(cx-40, cy-15, cx+40, cy+5), style.LabelBox)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Round()
	drawText(img, cx-textWidth/2, cy-1, text, style.LabelText)
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawLine plots a line of the given width by stepping one pixel at a time.
// dashes alternates on/off lengths in pixels; nil draws a solid line.
// Colours are alpha-blended onto the existing pixels.
func drawLine(img *image.RGBA, x0, y0, x1, y1 float64, width int, dashes []float64, c color.NRGBA) {
	length := math.Hypot(x1-x0, y1-y0)
	steps := int(math.Ceil(length))
	if steps == 0 {
		steps = 1
	}
	half := width / 2
	bounds := img.Bounds()
	plotted := make(map[image.Point]bool)

	var period float64
	for _, d := range dashes {
		period += d
	}

	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		if period > 0 && !dashOn(t*length, dashes, period) {
			continue
		}
		px := int(math.Round(x0 + (x1-x0)*t))
		py := int(math.Round(y0 + (y1-y0)*t))
		for dy := -half; dy <= width-1-half; dy++ {
			for dx := -half; dx <= width-1-half; dx++ {
				p := image.Point{X: px + dx, Y: py + dy}
				if !p.In(bounds) || plotted[p] {
					continue
				}
				plotted[p] = true
				blended := blendColors(img.RGBAAt(p.X, p.Y), c)
				img.Set(p.X, p.Y, blended)
			}
		}
	}
}

func dashOn(pos float64, dashes []float64, period float64) bool {
	pos = math.Mod(pos, period)
	for i, d := range dashes {
		if pos < d {
			return i%2 == 0
		}
		pos -= d
	}
	return false
}

// blendColors alpha-blends fg over an opaque or premultiplied background
func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	var bgNRGBA color.NRGBA
	switch bg.A {
	case 0:
		bgNRGBA = color.NRGBA{0, 0, 0, 0}
	case 255:
		bgNRGBA = color.NRGBA{bg.R, bg.G, bg.B, 255}
	default:
		alpha32 := uint32(bg.A)
		bgNRGBA = color.NRGBA{
			R: uint8((uint32(bg.R) * 255) / alpha32),
			G: uint8((uint32(bg.G) * 255) / alpha32),
			B: uint8((uint32(bg.B) * 255) / alpha32),
			A: bg.A,
		}
	}

	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bgNRGBA.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bgNRGBA.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bgNRGBA.B)*invAlpha),
		A: 255,
	}
}

func rgbaToNRGBA(c color.RGBA) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	// Default to red if parsing fails
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
