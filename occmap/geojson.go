package occmap

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ContoursGeoJSON converts pixel-space contours into world-frame polygons.
// Rings are closed and wound counter-clockwise as RFC 7946 asks for exterior rings.
func ContoursGeoJSON(contours []Contour, meta *MapMetadata, height int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	toWorld := PixelToWorldMatrix(meta, height)
	for i, c := range contours {
		if len(c) == 0 {
			continue
		}
		ring := make(orb.Ring, 0, len(c)+1)
		for _, w := range TransformPoints(c, toWorld) {
			ring = append(ring, orb.Point{w.X, w.Y})
		}
		ring = append(ring, ring[0])
		if ring.Orientation() == orb.CW {
			ring.Reverse()
		}

		f := geojson.NewFeature(orb.Polygon{ring})
		f.ID = i
		f.Properties["kind"] = "contour"
		f.Properties["vertices"] = len(c)
		f.Properties["area_px"] = ContourArea(c)
		f.Properties["area_world"] = planar.Area(ring)
		fc.Append(f)
	}
	return fc
}

// EvidenceGeoJSON converts markers at their current pixel position into world-frame points
func EvidenceGeoJSON(records []EvidenceRecord, meta *MapMetadata, height int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		w := PixelToWorld(rec.Pixel, meta, height)
		f := geojson.NewFeature(orb.Point{w.X, w.Y})
		f.ID = rec.ID
		f.Properties["kind"] = "evidence"
		f.Properties["label"] = rec.Label
		f.Properties["category"] = rec.Category
		f.Properties["notes"] = rec.Notes
		f.Properties["time"] = rec.Time
		f.Properties["locked"] = rec.Locked
		f.Properties["pixel"] = []float64{rec.Pixel.X, rec.Pixel.Y}
		if len(rec.Images) > 0 {
			f.Properties["images"] = rec.Images
		}
		for _, extra := range rec.Extra {
			if _, taken := f.Properties[extra.Key]; !taken {
				f.Properties[extra.Key] = extra.Value
			}
		}
		fc.Append(f)
	}
	return fc
}
