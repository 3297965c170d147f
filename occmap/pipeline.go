package occmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EventPublisher receives notifications about imports and saves
type EventPublisher interface {
	PublishImported(result *ImportResult) error
	PublishSaved(caseID, key string, markers int) error
}

// MapPayload is the map part of an import response
type MapPayload struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Contours []Contour `json:"contours"`
}

// SkippedRow is an evidence row diagnostic surfaced to the caller
type SkippedRow struct {
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

// ImportResult is everything the editor needs to open a case
type ImportResult struct {
	Success     bool             `json:"success"`
	Map         MapPayload       `json:"map"`
	Evidence    []EvidenceRecord `json:"evidence"`
	BaseImage   string           `json:"baseImage"`
	Summary     CaseSummary      `json:"summary"`
	SkippedRows []SkippedRow     `json:"skippedRows"`

	Raster  *RasterImage `json:"-"`
	Meta    *MapMetadata `json:"-"`
	BasePNG []byte       `json:"-"`
	Files   *CaseFiles   `json:"-"`
}

// View returns the map data for opening an editor session
func (r *ImportResult) View() MapView {
	return MapView{Raster: r.Raster, Meta: r.Meta, Contours: r.Map.Contours}
}

// Importer loads a case from a Store and assembles the editor payload
type Importer struct {
	Store    Store
	Media    *MediaResolver
	Contours *ContourExtractor
	Events   EventPublisher
	Logger   zerolog.Logger
	now      func() time.Time
}

// NewImporter creates an importer with a media resolver on the same store
func NewImporter(store Store, logger zerolog.Logger, contours ContourOptions, fetchOpts ...FetchOption) *Importer {
	extractor := NewContourExtractor(contours)
	extractor.Logger = logger
	return &Importer{
		Store:    store,
		Media:    NewMediaResolver(store, logger, fetchOpts...),
		Contours: extractor,
		Logger:   logger,
		now:      time.Now,
	}
}

// Import fetches and parses the raster, metadata and evidence of a case
// concurrently, then places evidence, extracts contours and encodes the base
// image. Parse failures abort the import; a missing evidence file does not.
func (im *Importer) Import(ctx context.Context, caseID string) (*ImportResult, error) {
	caseID = strings.Trim(caseID, "/")
	if caseID == "" {
		return nil, fmt.Errorf("%w: empty case id", ErrNotFound)
	}
	start := time.Now()

	objects, err := im.Store.List(ctx, caseID+"/")
	if err != nil {
		return nil, fmt.Errorf("listing case %s: %w", caseID, err)
	}
	files := GroupCase(caseID, objects)
	if files == nil {
		return nil, fmt.Errorf("%w: no files found for case %s", ErrNotFound, caseID)
	}
	if files.PGMKey == "" || files.YAMLKey == "" {
		return nil, fmt.Errorf("%w: case %s needs a .pgm raster and a .yaml metadata file", ErrMissingInput, caseID)
	}

	var (
		raster *RasterImage
		meta   *MapMetadata
		table  = &EvidenceTable{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := im.Store.Get(gctx, files.PGMKey)
		if err != nil {
			return fmt.Errorf("fetching raster: %w", err)
		}
		raster, err = DecodeRaster(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", files.PGMKey, err)
		}
		return nil
	})
	g.Go(func() error {
		data, err := im.Store.Get(gctx, files.YAMLKey)
		if err != nil {
			return fmt.Errorf("fetching metadata: %w", err)
		}
		meta, err = ParseMetadata(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", files.YAMLKey, err)
		}
		return nil
	})
	if files.CSVKey != "" {
		g.Go(func() error {
			data, err := im.Store.Get(gctx, files.CSVKey)
			if errors.Is(err, ErrNotFound) {
				im.Logger.Warn().Str("case", caseID).Str("key", files.CSVKey).Msg("evidence file vanished, continuing without evidence")
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching evidence: %w", err)
			}
			t, err := ParseEvidence(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", files.CSVKey, err)
			}
			table = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("importing case %s: %w", caseID, err)
	}

	if meta.ThresholdsInverted() {
		im.Logger.Warn().Str("case", caseID).
			Float64("free_thresh", meta.FreeThreshold).
			Float64("occupied_thresh", meta.OccupiedThreshold).
			Msg("free threshold exceeds occupied threshold, free wins where both match")
	}
	for _, skipped := range table.Skipped {
		im.Logger.Warn().Str("case", caseID).Err(skipped).Msg("skipping evidence row")
	}

	extractor := im.Contours
	if extractor == nil {
		extractor = NewContourExtractor(ContourOptions{})
	}
	contours := extractor.Extract(raster, meta)
	evidence := PlaceEvidence(table.Records, meta, raster.Height)
	if im.Media != nil {
		evidence = im.Media.Attach(ctx, evidence)
	}

	basePNG, err := EncodeRaster(raster)
	if err != nil {
		return nil, fmt.Errorf("importing case %s: %w", caseID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ImportResult{
		Success:     true,
		Map:         MapPayload{Width: raster.Width, Height: raster.Height, Contours: contours},
		Evidence:    evidence,
		BaseImage:   DataURI("image/png", basePNG),
		Summary:     files.Summary(table),
		SkippedRows: skippedRows(table.Skipped),
		Raster:      raster,
		Meta:        meta,
		BasePNG:     basePNG,
		Files:       files,
	}

	im.Logger.Info().
		Str("case", caseID).
		Int("width", raster.Width).
		Int("height", raster.Height).
		Int("contours", len(contours)).
		Int("evidence", len(evidence)).
		Int("skipped", len(table.Skipped)).
		Dur("took", time.Since(start)).
		Msg("case imported")

	if im.Events != nil {
		if err := im.Events.PublishImported(result); err != nil {
			im.Logger.Warn().Err(err).Str("case", caseID).Msg("failed to publish import event")
		}
	}
	return result, nil
}

func skippedRows(errs []*RowError) []SkippedRow {
	out := make([]SkippedRow, 0, len(errs))
	for _, e := range errs {
		reason := "invalid row"
		if e.Err != nil {
			reason = e.Err.Error()
		}
		out = append(out, SkippedRow{Line: e.Line, Column: e.Column, Value: e.Value, Reason: reason})
	}
	return out
}

// Save writes the session's markers back to the case as an evidence table.
// Data-URL images are stored under <caseID>/markers/ first and replaced by
// their keys. Returns the key of the written table.
func (im *Importer) Save(ctx context.Context, caseID string, files *CaseFiles, s *Session) (string, error) {
	caseID = strings.Trim(caseID, "/")
	media := im.Media
	if media == nil {
		media = NewMediaResolver(im.Store, im.Logger)
	}
	now := time.Now
	if im.now != nil {
		now = im.now
	}

	for _, rec := range s.Records() {
		changed := false
		refs := make([]string, len(rec.Images))
		for i, ref := range rec.Images {
			refs[i] = ref
			if !strings.HasPrefix(ref, "data:") {
				continue
			}
			// later images of the same marker get an index so keys stay distinct
			name := rec.ID
			if i > 0 {
				name = fmt.Sprintf("%s-%d", rec.ID, i)
			}
			key, err := media.SaveDataURL(ctx, caseID, name, ref, now())
			if err != nil {
				return "", fmt.Errorf("saving image for marker %s: %w", rec.ID, err)
			}
			refs[i] = key
			changed = true
		}
		if changed {
			s.SetImages(rec.ID, refs)
		}
	}

	view := s.View()
	if view.Raster == nil || view.Meta == nil {
		return "", fmt.Errorf("%w: session has no map", ErrMissingInput)
	}
	var buf bytes.Buffer
	if err := WriteEvidenceCSV(&buf, s.Records(), view.Meta, view.Raster.Height); err != nil {
		return "", err
	}

	key := caseID + "/evidence.csv"
	if files != nil && files.CSVKey != "" {
		key = files.CSVKey
	}
	if err := im.Store.Put(ctx, key, buf.Bytes(), "text/csv"); err != nil {
		return "", fmt.Errorf("saving evidence: %w", err)
	}

	markers := len(s.Records())
	im.Logger.Info().Str("case", caseID).Str("key", key).Int("markers", markers).Msg("evidence saved")
	if im.Events != nil {
		if err := im.Events.PublishSaved(caseID, key, markers); err != nil {
			im.Logger.Warn().Err(err).Str("case", caseID).Msg("failed to publish save event")
		}
	}
	return key, nil
}
