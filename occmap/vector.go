package occmap

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// canvasRenderer is the subset of canvas.Renderer used by the vector exporter
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
	RenderImage(img image.Image, m canvas.Matrix)
}

// VectorExporter draws a session as vector paths, one canvas unit per raster pixel
type VectorExporter struct {
	Style SnapshotStyle
	// IncludeBase embeds the raster underneath the overlay
	IncludeBase bool
}

// NewVectorExporter creates an exporter with the editor colours
func NewVectorExporter() *VectorExporter {
	return &VectorExporter{Style: DefaultSnapshotStyle(), IncludeBase: true}
}

// ExportSVG writes the session overlay as SVG
func (v *VectorExporter) ExportSVG(w io.Writer, s *Session) error {
	view := s.View()
	if view.Raster.Empty() {
		return &EncodingError{Reason: "empty raster"}
	}
	width, height := float64(view.Raster.Width), float64(view.Raster.Height)

	svgRenderer := svg.New(w, width, height, nil)
	v.render(svgRenderer, s, width, height)
	return svgRenderer.Close()
}

// ExportPNG rasterises the vector overlay at the session zoom
func (v *VectorExporter) ExportPNG(w io.Writer, s *Session) error {
	view := s.View()
	if view.Raster.Empty() {
		return &EncodingError{Reason: "empty raster"}
	}
	width, height := float64(view.Raster.Width), float64(view.Raster.Height)

	rast := rasterizer.New(width, height, canvas.DPMM(s.Zoom()), canvas.DefaultColorSpace)
	v.render(rast, s, width, height)
	return png.Encode(w, rast)
}

// render draws base, contours, markers and ruler. Canvas y grows upward, so
// pixel rows are flipped.
func (v *VectorExporter) render(r canvasRenderer, s *Session, width, height float64) {
	view := s.View()
	toCanvas := func(p Point) (float64, float64) {
		return p.X, height - p.Y
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	r.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	if v.IncludeBase {
		r.RenderImage(view.Raster.ToImage(), canvas.Identity)
	}

	contourStyle := canvas.DefaultStyle
	contourStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	contourStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(v.Style.Contour)}
	contourStyle.StrokeWidth = 1.0
	for _, c := range view.Contours {
		if len(c) < 2 {
			continue
		}
		cp := &canvas.Path{}
		for i, pt := range c {
			x, y := toCanvas(pt)
			if i == 0 {
				cp.MoveTo(x, y)
			} else {
				cp.LineTo(x, y)
			}
		}
		cp.Close()
		r.RenderPath(cp, contourStyle, canvas.Identity)
	}

	selected := s.Selected()
	for _, rec := range s.Records() {
		markerStyle := canvas.DefaultStyle
		markerStyle.Fill = canvas.Paint{Color: v.Style.Marker}
		if rec.ID == selected {
			markerStyle.Fill = canvas.Paint{Color: v.Style.SelectedMarker}
		}
		markerStyle.Stroke = canvas.Paint{Color: v.Style.MarkerRing}
		markerStyle.StrokeWidth = 2.0
		x, y := toCanvas(rec.Pixel)
		r.RenderPath(canvas.Circle(float64(v.Style.MarkerRadius)).Translate(x, y), markerStyle, canvas.Identity)
	}

	ruler := s.Ruler()
	if ruler.Start == nil {
		return
	}
	endStyle := canvas.DefaultStyle
	endStyle.Fill = canvas.Paint{Color: v.Style.Ruler}
	endStyle.Stroke = canvas.Paint{Color: v.Style.MarkerRing}
	endStyle.StrokeWidth = 2.0

	sx, sy := toCanvas(*ruler.Start)
	if ruler.End != nil {
		ex, ey := toCanvas(*ruler.End)
		lineStyle := canvas.DefaultStyle
		lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		lineStyle.Stroke = canvas.Paint{Color: v.Style.Ruler}
		lineStyle.StrokeWidth = 3.0
		lineStyle.Dashes = []float64{5, 5}
		line := &canvas.Path{}
		line.MoveTo(sx, sy)
		line.LineTo(ex, ey)
		r.RenderPath(line, lineStyle, canvas.Identity)
		r.RenderPath(canvas.Circle(float64(v.Style.RulerRadius)).Translate(ex, ey), endStyle, canvas.Identity)
	}
	r.RenderPath(canvas.Circle(float64(v.Style.RulerRadius)).Translate(sx, sy), endStyle, canvas.Identity)
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
// canvas expects premultiplied colours.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}
