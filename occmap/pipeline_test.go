package occmap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMetaYAML = "image: map.pgm\nresolution: 0.05\norigin: [-5.0, -5.0, 0.0]\nnegate: 0\n"

// binaryPGM serialises a raster as P5 with maxval 255
func binaryPGM(r *RasterImage) []byte {
	return append([]byte(fmt.Sprintf("P5\n%d %d\n255\n", r.Width, r.Height)), r.Pixels...)
}

// scenarioRaster is 200x200 free space with one 10x10 occupied block
func scenarioRaster() *RasterImage {
	r := &RasterImage{Width: 200, Height: 200, Pixels: make([]byte, 200*200)}
	for i := range r.Pixels {
		r.Pixels[i] = 254
	}
	for y := 50; y < 60; y++ {
		for x := 50; x < 60; x++ {
			r.Pixels[y*200+x] = 0
		}
	}
	return r
}

func seedCase(t *testing.T, store *DirStore, caseID string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		require.NoError(t, store.Put(context.Background(), caseID+"/"+name, data, ""))
	}
}

func newTestImporter(t *testing.T) (*Importer, *DirStore, *MockClient) {
	t.Helper()
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	store := NewDirStore(t.TempDir())
	im := NewImporter(store, zerolog.Nop(), ContourOptions{})
	mock := NewMockClient()
	mock.SetConnected(true)
	im.Events = NewPublisher(mock, "casemap")
	im.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return im, store, mock
}

func TestImporter_Import(t *testing.T) {
	im, store, mock := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":      binaryPGM(scenarioRaster()),
		"map.yaml":     []byte(testMetaYAML),
		"evidence.csv": []byte("id,x,y,label\ne1,0,0,Door\nbad,zz,0,Broken\n"),
	})

	result, err := im.Import(context.Background(), "case-1")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 200, result.Map.Width)
	assert.Equal(t, 200, result.Map.Height)
	require.Len(t, result.Map.Contours, 1)
	assert.Equal(t, Contour{{50, 50}, {60, 50}, {60, 60}, {50, 60}}, result.Map.Contours[0])

	require.Len(t, result.Evidence, 1)
	e1 := result.Evidence[0]
	assert.Equal(t, "e1", e1.ID)
	assert.True(t, pointsNear(e1.Pixel, Point{X: 100, Y: 100}, 1e-9))
	require.NotNil(t, e1.OriginalPixel)
	assert.Equal(t, e1.Pixel, *e1.OriginalPixel)

	require.Len(t, result.SkippedRows, 1)
	assert.Equal(t, 3, result.SkippedRows[0].Line)
	assert.Equal(t, "x", result.SkippedRows[0].Column)
	assert.NotEmpty(t, result.SkippedRows[0].Reason)

	assert.True(t, strings.HasPrefix(result.BaseImage, "data:image/png;base64,"))
	back, err := DecodeRaster(result.BasePNG)
	require.NoError(t, err)
	assert.Equal(t, result.Raster.Pixels, back.Pixels)

	assert.Equal(t, "case-1", result.Summary.ID)
	assert.Equal(t, FileKeys{PGM: "case-1/map.pgm", YAML: "case-1/map.yaml", CSV: "case-1/evidence.csv"}, result.Summary.Files)
	assert.Equal(t, 1, result.Summary.EvidenceCount)
	assert.Equal(t, 1, result.Summary.SkippedRows)

	msgs := mock.Published("casemap/cases/case-1/imported")
	require.Len(t, msgs, 1)
	var event ImportedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, "case-1", event.CaseID)
	assert.Equal(t, 1, event.Contours)
	assert.Equal(t, 1, event.Evidence)
	assert.Equal(t, 1, event.Skipped)
}

func TestImporter_ImportJSON(t *testing.T) {
	im, store, _ := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":  binaryPGM(gridFromRows("....", ".#..", "....")),
		"map.yaml": []byte(testMetaYAML),
	})

	result, err := im.Import(context.Background(), "case-1")
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"success", "map", "evidence", "baseImage", "summary", "skippedRows"} {
		assert.Contains(t, doc, key)
	}
	assert.NotContains(t, doc, "Raster")
}

func TestImporter_MissingEvidenceIsNotAnError(t *testing.T) {
	im, store, _ := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":  binaryPGM(scenarioRaster()),
		"map.yaml": []byte(testMetaYAML),
	})

	result, err := im.Import(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Empty(t, result.Evidence)
	assert.Empty(t, result.SkippedRows)
	assert.Empty(t, result.Summary.Files.CSV)
}

func TestImporter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		caseID  string
		files   map[string][]byte
		wantErr error
	}{
		{"unknown case", "nope", nil, ErrNotFound},
		{"empty id", "/", nil, ErrNotFound},
		{"no metadata", "case-1", map[string][]byte{"map.pgm": binaryPGM(scenarioRaster())}, ErrMissingInput},
		{"no raster", "case-1", map[string][]byte{"map.yaml": []byte(testMetaYAML)}, ErrMissingInput},
		{"malformed raster", "case-1", map[string][]byte{
			"map.pgm":  []byte("P5\n4 4\n255\nshort"),
			"map.yaml": []byte(testMetaYAML),
		}, ErrMalformedRaster},
		{"bad metadata", "case-1", map[string][]byte{
			"map.pgm":  binaryPGM(scenarioRaster()),
			"map.yaml": []byte("origin: [0, 0, 0]\n"),
		}, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, store, mock := newTestImporter(t)
			if tt.files != nil {
				seedCase(t, store, tt.caseID, tt.files)
			}
			_, err := im.Import(context.Background(), tt.caseID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, mock.Published(""), "failed imports publish nothing")
		})
	}
}

func TestImporter_PublishFailureDoesNotFailImport(t *testing.T) {
	im, store, mock := newTestImporter(t)
	mock.SetConnected(false)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":  binaryPGM(scenarioRaster()),
		"map.yaml": []byte(testMetaYAML),
	})

	_, err := im.Import(context.Background(), "case-1")
	assert.NoError(t, err)
}

func TestImporter_Save(t *testing.T) {
	im, store, mock := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":      binaryPGM(scenarioRaster()),
		"map.yaml":     []byte(testMetaYAML),
		"evidence.csv": []byte("id,x,y,label,room\ne1,0,0,Door,hall\n"),
	})
	ctx := context.Background()

	result, err := im.Import(ctx, "case-1")
	require.NoError(t, err)

	s := NewSession(result.View(), result.Evidence)
	require.True(t, s.BeginDrag("e1"))
	require.True(t, s.UpdateDrag(Point{X: 110, Y: 100}, 1))
	s.EndDrag()
	require.True(t, s.AttachImage("e1", "data:image/png;base64,AQID"))

	key, err := im.Save(ctx, "case-1", result.Files, s)
	require.NoError(t, err)
	assert.Equal(t, "case-1/evidence.csv", key)

	imageKey := "case-1/markers/e1-1700000000000.png"
	rec, ok := s.Record("e1")
	require.True(t, ok)
	assert.Equal(t, []string{imageKey}, rec.Images, "data URLs are replaced by stored keys")
	img, err := store.Get(ctx, imageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, img)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	table, err := ParseEvidence(data)
	require.NoError(t, err)
	require.Len(t, table.Records, 1)
	saved := table.Records[0]
	assert.Equal(t, "e1", saved.ID)
	assert.InDelta(t, 0.5, *saved.WorldX, 1e-9)
	assert.InDelta(t, 0, *saved.WorldY, 1e-9)
	assert.Equal(t, imageKey, saved.ImageKey)
	assert.Equal(t, "Door", saved.Label)

	msgs := mock.Published("casemap/cases/case-1/saved")
	require.Len(t, msgs, 1)
	var event SavedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, key, event.Key)
	assert.Equal(t, 1, event.Markers)
}

func TestImporter_SaveWithoutEvidenceFile(t *testing.T) {
	im, store, _ := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":  binaryPGM(scenarioRaster()),
		"map.yaml": []byte(testMetaYAML),
	})
	ctx := context.Background()

	result, err := im.Import(ctx, "case-1")
	require.NoError(t, err)
	s := NewSession(result.View(), nil, WithIDGenerator(func() string { return "new-1" }))
	s.AddMarker()

	key, err := im.Save(ctx, "case-1", result.Files, s)
	require.NoError(t, err)
	assert.Equal(t, "case-1/evidence.csv", key)

	again, err := im.Import(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, again.Evidence, 1)
	assert.Equal(t, "new-1", again.Evidence[0].ID)
	assert.True(t, pointsNear(again.Evidence[0].Pixel, Point{X: 100, Y: 100}, 1e-6))
}

func TestImporter_SaveWithoutMap(t *testing.T) {
	im, _, _ := newTestImporter(t)
	_, err := im.Save(context.Background(), "case-1", nil, NewSession(MapView{}, nil))
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestImporter_SaveKeepsEveryImage(t *testing.T) {
	im, store, _ := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":      binaryPGM(scenarioRaster()),
		"map.yaml":     []byte(testMetaYAML),
		"evidence.csv": []byte("id,x,y,image\ne1,0,0,case-1/a.png\n"),
		"a.png":        {1},
		"c.png":        {3},
	})
	ctx := context.Background()

	result, err := im.Import(ctx, "case-1")
	require.NoError(t, err)
	s := NewSession(result.View(), result.Evidence)
	require.True(t, s.AttachImage("e1", "data:image/png;base64,AQID"))
	require.True(t, s.AttachImage("e1", "data:image/png;base64,BAUG"))
	require.True(t, s.AttachImage("e1", "case-1/c.png"))

	_, err = im.Save(ctx, "case-1", result.Files, s)
	require.NoError(t, err)

	again, err := im.Import(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, again.Evidence, 1)
	want := []string{
		"case-1/a.png",
		"case-1/markers/e1-1700000000000.png",
		"case-1/markers/e1-1-1700000000000.png",
		"case-1/c.png",
	}
	assert.Equal(t, want, again.Evidence[0].Images)
	assert.Equal(t, "case-1/a.png", again.Evidence[0].ImageKey)

	second, err := store.Get(ctx, want[2])
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, second)
}

func TestImporter_SaveDropsRemovedImage(t *testing.T) {
	im, store, _ := newTestImporter(t)
	seedCase(t, store, "case-1", map[string][]byte{
		"map.pgm":      binaryPGM(scenarioRaster()),
		"map.yaml":     []byte(testMetaYAML),
		"evidence.csv": []byte("id,x,y,image\ne1,0,0,case-1/a.png\n"),
		"a.png":        {1},
	})
	ctx := context.Background()

	result, err := im.Import(ctx, "case-1")
	require.NoError(t, err)
	s := NewSession(result.View(), result.Evidence)
	require.True(t, s.RemoveImage("e1", 0))

	_, err = im.Save(ctx, "case-1", result.Files, s)
	require.NoError(t, err)

	again, err := im.Import(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, again.Evidence, 1)
	assert.Empty(t, again.Evidence[0].Images)
	assert.Equal(t, "", again.Evidence[0].ImageKey)
	assert.Nil(t, again.Evidence[0].ImageURL)
}
