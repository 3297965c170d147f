package occmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridFromRows builds a raster from strings where '#' is occupied (0),
// '?' is unknown (205) and anything else is free (254)
func gridFromRows(rows ...string) *RasterImage {
	img := &RasterImage{Width: len(rows[0]), Height: len(rows)}
	for _, row := range rows {
		for _, c := range row {
			switch c {
			case '#':
				img.Pixels = append(img.Pixels, 0)
			case '?':
				img.Pixels = append(img.Pixels, 205)
			default:
				img.Pixels = append(img.Pixels, 254)
			}
		}
	}
	return img
}

func defaultMeta() *MapMetadata {
	return &MapMetadata{
		Resolution:        0.05,
		OccupiedThreshold: DefaultOccupiedThreshold,
		FreeThreshold:     DefaultFreeThreshold,
	}
}

func TestClassifyCells(t *testing.T) {
	img := &RasterImage{Width: 4, Height: 1, Pixels: []byte{0, 254, 205, 255}}

	got := ClassifyCells(img, defaultMeta())
	assert.Equal(t, []CellClass{CellOccupied, CellFree, CellUnknown, CellFree}, got)

	neg := defaultMeta()
	neg.Negate = true
	got = ClassifyCells(img, neg)
	assert.Equal(t, []CellClass{CellFree, CellOccupied, CellOccupied, CellOccupied}, got)
}

func TestClassifyCells_InvertedThresholdsPreferFree(t *testing.T) {
	meta := &MapMetadata{Resolution: 1, OccupiedThreshold: 0.2, FreeThreshold: 0.8}
	img := &RasterImage{Width: 3, Height: 1, Pixels: []byte{0, 128, 255}}

	got := ClassifyCells(img, meta)
	// p = 1.0, 0.498, 0.0
	assert.Equal(t, []CellClass{CellOccupied, CellFree, CellFree}, got)
}

func TestCellClassString(t *testing.T) {
	assert.Equal(t, "occupied", CellOccupied.String())
	assert.Equal(t, "free", CellFree.String())
	assert.Equal(t, "unknown", CellUnknown.String())
}

func TestExtractContours_Block(t *testing.T) {
	img := gridFromRows(
		"..........",
		"..........",
		"..###.....",
		"..###.....",
		"..###.....",
		"..........",
		"..........",
		"..........",
		"..........",
		"..........",
	)

	contours := ExtractContours(img, defaultMeta())
	require.Len(t, contours, 1)
	assert.Equal(t, Contour{{2, 2}, {5, 2}, {5, 5}, {2, 5}}, contours[0])
	assert.True(t, IsClockwise(contours[0]))
	assert.Equal(t, 9.0, ContourArea(contours[0]))
}

func TestExtractContours_SinglePixel(t *testing.T) {
	img := gridFromRows(
		".....",
		".....",
		"...#.",
		".....",
	)

	contours := ExtractContours(img, defaultMeta())
	require.Len(t, contours, 1)
	assert.Equal(t, Contour{{3, 2}, {4, 2}, {4, 3}, {3, 3}}, contours[0])
}

func TestExtractContours_DiagonalIsOneRegion(t *testing.T) {
	img := gridFromRows(
		"....",
		".#..",
		"..#.",
		"....",
	)

	contours := ExtractContours(img, defaultMeta())
	require.Len(t, contours, 1)
	c := contours[0]
	assert.Equal(t, Point{1, 1}, c[0])
	assert.Len(t, c, 8)
	assert.Equal(t, 2.0, ContourArea(c))
	assert.True(t, IsClockwise(c))
}

func TestExtractContours_Sliver(t *testing.T) {
	img := gridFromRows(
		"......",
		".####.",
		"......",
	)

	contours := ExtractContours(img, defaultMeta())
	require.Len(t, contours, 1)
	assert.Equal(t, Contour{{1, 1}, {5, 1}, {5, 2}, {1, 2}}, contours[0])
}

func TestExtractContours_MultipleRegionsInScanOrder(t *testing.T) {
	img := gridFromRows(
		"......",
		".#..##",
		"....##",
		"##....",
	)

	contours := ExtractContours(img, defaultMeta())
	require.Len(t, contours, 3)
	assert.Equal(t, Point{1, 1}, contours[0][0])
	assert.Equal(t, Point{4, 1}, contours[1][0])
	assert.Equal(t, Point{0, 3}, contours[2][0])
	for _, c := range contours {
		assert.True(t, IsClockwise(c))
	}
}

func TestExtractContours_RingKeepsOuterBoundaryOnly(t *testing.T) {
	img := gridFromRows(
		".....",
		".###.",
		".#.#.",
		".###.",
		".....",
	)

	contours := ExtractContours(img, defaultMeta())
	require.Len(t, contours, 1)
	assert.Equal(t, Contour{{1, 1}, {4, 1}, {4, 4}, {1, 4}}, contours[0])
}

func TestExtractContours_UnknownNeighbourCounts(t *testing.T) {
	img := gridFromRows(
		"???",
		"?#?",
		"???",
	)
	contours := ExtractContours(img, defaultMeta())
	assert.Len(t, contours, 1)
}

func TestExtractContours_NoOpenNeighbour(t *testing.T) {
	img := gridFromRows(
		"###",
		"###",
	)
	contours := ExtractContours(img, defaultMeta())
	assert.NotNil(t, contours)
	assert.Empty(t, contours)
}

func TestExtractContours_EmptyAndFree(t *testing.T) {
	tests := []struct {
		name string
		img  *RasterImage
	}{
		{"nil raster", nil},
		{"zero size", &RasterImage{}},
		{"short buffer", &RasterImage{Width: 3, Height: 3, Pixels: []byte{0, 0}}},
		{"all free", gridFromRows("....", "....")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractContours(tt.img, defaultMeta())
			if got == nil || len(got) != 0 {
				t.Errorf("ExtractContours() = %v, want empty non-nil list", got)
			}
		})
	}
}

func TestExtractContours_Restartable(t *testing.T) {
	img := gridFromRows(
		"#.......#.",
		".##..##...",
		".##..#..?.",
		"......###.",
		"#.#.......",
	)
	before := append([]byte(nil), img.Pixels...)

	first := ExtractContours(img, defaultMeta())
	second := ExtractContours(img, defaultMeta())

	assert.Equal(t, first, second)
	assert.Equal(t, before, img.Pixels, "raster must not be mutated")
}

func TestExtractContours_NilMetaUsesDefaults(t *testing.T) {
	img := gridFromRows("...", ".#.", "...")
	assert.Len(t, ExtractContours(img, nil), 1)
}

func TestContourExtractor_Simplify(t *testing.T) {
	// A staircase collapses to fewer vertices under a generous tolerance
	img := gridFromRows(
		"........",
		".#......",
		".##.....",
		".###....",
		".####...",
		"........",
	)

	raw := ExtractContours(img, defaultMeta())
	require.Len(t, raw, 1)

	simplified := NewContourExtractor(ContourOptions{SimplifyTolerance: 1.0}).Extract(img, defaultMeta())
	require.Len(t, simplified, 1)
	assert.Less(t, len(simplified[0]), len(raw[0]))
	assert.GreaterOrEqual(t, len(simplified[0]), 3)
}

func TestContourExtractor_MismatchedBuffer(t *testing.T) {
	e := NewContourExtractor(ContourOptions{})
	img := gridFromRows("...", ".#.", "...")
	img.Pixels = img.Pixels[:4]
	assert.Equal(t, []Contour{}, e.Extract(img, defaultMeta()))
}
