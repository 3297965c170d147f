package occmap

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContoursGeoJSON(t *testing.T) {
	meta := &MapMetadata{Resolution: 0.05}
	contours := []Contour{{{2, 2}, {5, 2}, {5, 5}, {2, 5}}}

	fc := ContoursGeoJSON(contours, meta, 10)
	require.Len(t, fc.Features, 1)
	f := fc.Features[0]

	poly, ok := f.Geometry.(orb.Polygon)
	require.True(t, ok, "geometry is a polygon")
	require.Len(t, poly, 1)
	ring := poly[0]
	assert.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring is closed")
	assert.Equal(t, orb.CCW, ring.Orientation())

	assert.Equal(t, 0, f.ID)
	assert.Equal(t, "contour", f.Properties["kind"])
	assert.Equal(t, 4, f.Properties["vertices"])
	assert.Equal(t, 9.0, f.Properties["area_px"])
	assert.InDelta(t, 0.0225, f.Properties["area_world"], 1e-9)

	for _, corner := range contours[0] {
		w := PixelToWorld(corner, meta, 10)
		found := false
		for _, p := range ring {
			found = found || pointsNear(Point{X: p[0], Y: p[1]}, w, floatTolerance)
		}
		assert.True(t, found, "corner %v maps to a ring vertex", corner)
	}

	for _, p := range ring {
		assert.GreaterOrEqual(t, p[0], 0.1-1e-9)
		assert.LessOrEqual(t, p[0], 0.25+1e-9)
		assert.GreaterOrEqual(t, p[1], 0.25-1e-9)
		assert.LessOrEqual(t, p[1], 0.4+1e-9)
	}
}

func TestContoursGeoJSON_SkipsEmpty(t *testing.T) {
	fc := ContoursGeoJSON([]Contour{{}, {{0, 0}, {1, 0}, {1, 1}, {0, 1}}}, defaultMeta(), 4)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, 1, fc.Features[0].ID, "ids follow the contour index")
}

func TestEvidenceGeoJSON(t *testing.T) {
	meta := &MapMetadata{Resolution: 0.05, Origin: Pose{X: -5, Y: -5}}
	records := []EvidenceRecord{
		{
			ID:       "m1",
			Pixel:    Point{X: 100, Y: 100},
			Label:    "Door",
			Category: "entry",
			Time:     "10:00:00",
			Locked:   true,
			Images:   []string{"case/m1.jpg"},
			Extra:    []Field{{Key: "room", Value: "kitchen"}, {Key: "label", Value: "shadowed"}},
		},
		{ID: "m2", Pixel: Point{X: 0, Y: 200}},
	}

	fc := EvidenceGeoJSON(records, meta, 200)
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	pt, ok := f.Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 0, pt[0], 1e-9)
	assert.InDelta(t, 0, pt[1], 1e-9)
	assert.Equal(t, "m1", f.ID)
	assert.Equal(t, "evidence", f.Properties["kind"])
	assert.Equal(t, "Door", f.Properties["label"], "extras never override fixed properties")
	assert.Equal(t, "kitchen", f.Properties["room"])
	assert.Equal(t, true, f.Properties["locked"])
	assert.Equal(t, []string{"case/m1.jpg"}, f.Properties["images"])
	assert.Equal(t, []float64{100, 100}, f.Properties["pixel"])

	pt2 := fc.Features[1].Geometry.(orb.Point)
	assert.InDelta(t, -5, pt2[0], 1e-9)
	assert.InDelta(t, -5, pt2[1], 1e-9)
	_, hasImages := fc.Features[1].Properties["images"]
	assert.False(t, hasImages)
}

func TestEvidenceGeoJSON_Marshal(t *testing.T) {
	fc := EvidenceGeoJSON([]EvidenceRecord{{ID: "m1"}}, defaultMeta(), 10)
	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "FeatureCollection", doc["type"])
}
