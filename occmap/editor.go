package occmap

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Editor defaults
const (
	DefaultPickRadius  = 8.0
	DefaultMinZoom     = 1.0
	DefaultMaxZoom     = 4.0
	DefaultZoomStep    = 0.5
	DefaultZoomScale   = 2.0
	DefaultMarkerLabel = "New Marker"
	DefaultCategory    = "uncategorized"
)

// DefaultEditorConfig returns the stock editor constants
func DefaultEditorConfig() EditorConfig {
	return EditorConfig{
		PickRadius:  DefaultPickRadius,
		MinZoom:     DefaultMinZoom,
		MaxZoom:     DefaultMaxZoom,
		ZoomStep:    DefaultZoomStep,
		DefaultZoom: DefaultZoomScale,
	}
}

// withDefaults fills zero fields from DefaultEditorConfig
func (c EditorConfig) withDefaults() EditorConfig {
	d := DefaultEditorConfig()
	if c.PickRadius <= 0 {
		c.PickRadius = d.PickRadius
	}
	if c.MinZoom <= 0 {
		c.MinZoom = d.MinZoom
	}
	if c.MaxZoom <= 0 {
		c.MaxZoom = d.MaxZoom
	}
	if c.MaxZoom < c.MinZoom {
		c.MaxZoom = c.MinZoom
	}
	if c.ZoomStep <= 0 {
		c.ZoomStep = d.ZoomStep
	}
	if c.DefaultZoom <= 0 {
		c.DefaultZoom = d.DefaultZoom
	}
	return c
}

// RulerPhase is the measurement sub-state of a session
type RulerPhase string

const (
	RulerInactive      RulerPhase = "inactive"
	RulerAwaitingStart RulerPhase = "awaiting_start"
	RulerAwaitingEnd   RulerPhase = "awaiting_end"
	RulerMeasured      RulerPhase = "measured"
)

// RulerState holds the two ruler endpoints (pixel space) and the measured
// distance in world units
type RulerState struct {
	Start    *Point   `json:"start"`
	End      *Point   `json:"end"`
	Distance *float64 `json:"distance"`
}

func (r RulerState) clone() RulerState {
	var c RulerState
	if r.Start != nil {
		p := *r.Start
		c.Start = &p
	}
	if r.End != nil {
		p := *r.End
		c.End = &p
	}
	if r.Distance != nil {
		d := *r.Distance
		c.Distance = &d
	}
	return c
}

// MapView is the read-only map data a session edits markers on top of
type MapView struct {
	Raster   *RasterImage
	Meta     *MapMetadata
	Contours []Contour
}

// MarkerPatch carries free-text edits; nil fields are left alone
type MarkerPatch struct {
	Label    *string `json:"label,omitempty"`
	Category *string `json:"category,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Time     *string `json:"time,omitempty"`
}

// Session is one open map in the editor. It owns the marker collection and
// all interaction state. A Session is not safe for concurrent use.
type Session struct {
	view     MapView
	cfg      EditorConfig
	records  []EvidenceRecord
	initial  []EvidenceRecord
	selected string
	dragging string
	zoom     float64
	ruling   bool
	ruler    RulerState
	index    *hitIndex

	newID func() string
	now   func() time.Time
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithIDGenerator overrides how new marker ids are minted
func WithIDGenerator(fn func() string) SessionOption {
	return func(s *Session) { s.newID = fn }
}

// WithClock overrides the clock used for new marker timestamps
func WithClock(fn func() time.Time) SessionOption {
	return func(s *Session) { s.now = fn }
}

// WithEditorConfig overrides the editor constants
func WithEditorConfig(cfg EditorConfig) SessionOption {
	return func(s *Session) { s.cfg = cfg.withDefaults() }
}

// NewSession opens an editor session over view with the given markers.
// Records are deep-copied; any record without an original pixel gets its
// current pixel as reset target. The resulting collection is snapshotted
// for ResetAll.
func NewSession(view MapView, records []EvidenceRecord, opts ...SessionOption) *Session {
	s := &Session{
		view:  view,
		cfg:   DefaultEditorConfig(),
		index: newHitIndex(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.zoom = s.clampZoom(s.cfg.DefaultZoom)

	s.records = cloneRecords(records)
	for i := range s.records {
		if s.records[i].OriginalPixel == nil {
			p := s.records[i].Pixel
			s.records[i].OriginalPixel = &p
		}
	}
	s.initial = cloneRecords(s.records)
	return s
}

// View returns the map data the session was opened over
func (s *Session) View() MapView {
	return s.view
}

// Records returns a deep copy of the markers in rendering order
func (s *Session) Records() []EvidenceRecord {
	return cloneRecords(s.records)
}

// Record returns a copy of one marker
func (s *Session) Record(id string) (EvidenceRecord, bool) {
	if i := s.find(id); i >= 0 {
		return s.records[i].Clone(), true
	}
	return EvidenceRecord{}, false
}

func (s *Session) Selected() string { return s.selected }
func (s *Session) Dragging() string { return s.dragging }
func (s *Session) Zoom() float64    { return s.zoom }
func (s *Session) RulerMode() bool  { return s.ruling }

// Ruler returns a copy of the ruler state
func (s *Session) Ruler() RulerState {
	return s.ruler.clone()
}

// RulerPhase reports where the ruler is in its click cycle
func (s *Session) RulerPhase() RulerPhase {
	switch {
	case !s.ruling:
		return RulerInactive
	case s.ruler.Start == nil:
		return RulerAwaitingStart
	case s.ruler.End == nil:
		return RulerAwaitingEnd
	default:
		return RulerMeasured
	}
}

func (s *Session) find(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

// HitTest returns the marker under a screen-space pointer. Pointer and marker
// are compared after dividing by scale, so the pick radius is constant in
// pixel units. The nearest marker wins; equal distances keep list order.
func (s *Session) HitTest(pointer Point, scale float64) (string, bool) {
	if scale <= 0 || len(s.records) == 0 {
		return "", false
	}
	q := Point{X: pointer.X / scale, Y: pointer.Y / scale}
	r := s.cfg.PickRadius

	best, bestDist := -1, math.Inf(1)
	for _, i := range s.index.candidates(s.records, q, r) {
		p := s.records[i].Pixel
		d := math.Hypot(pointer.X-p.X*scale, pointer.Y-p.Y*scale)
		if d <= r*scale && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return "", false
	}
	return s.records[best].ID, true
}

// Select marks id as the selected marker. An empty id clears the selection.
func (s *Session) Select(id string) bool {
	if id == "" {
		s.selected = ""
		return true
	}
	if s.find(id) < 0 {
		return false
	}
	s.selected = id
	return true
}

// BeginDrag starts dragging id. Locked or unknown markers are ignored.
func (s *Session) BeginDrag(id string) bool {
	i := s.find(id)
	if i < 0 || s.records[i].Locked {
		return false
	}
	s.selected = id
	s.dragging = id
	return true
}

// UpdateDrag moves the dragged marker to pointer/scale. Without an active
// drag it does nothing. A drag whose marker became locked is ended instead.
func (s *Session) UpdateDrag(pointer Point, scale float64) bool {
	if s.dragging == "" || scale <= 0 {
		return false
	}
	i := s.find(s.dragging)
	if i < 0 || s.records[i].Locked {
		s.dragging = ""
		return false
	}
	s.records[i].Pixel = Point{X: pointer.X / scale, Y: pointer.Y / scale}
	s.index.invalidate()
	return true
}

// EndDrag finishes the current drag; the marker stays selected
func (s *Session) EndDrag() bool {
	if s.dragging == "" {
		return false
	}
	s.dragging = ""
	return true
}

// ResetOne moves a marker back to its original pixel
func (s *Session) ResetOne(id string) bool {
	i := s.find(id)
	if i < 0 || s.records[i].OriginalPixel == nil {
		return false
	}
	s.records[i].Pixel = *s.records[i].OriginalPixel
	s.index.invalidate()
	return true
}

// ResetAll restores the collection captured when the session was opened.
// The snapshot is copied again so later edits never reach it.
func (s *Session) ResetAll() {
	s.records = cloneRecords(s.initial)
	s.dragging = ""
	if s.find(s.selected) < 0 {
		s.selected = ""
	}
	s.index.invalidate()
}

// AddMarker appends an unlocked marker at the raster centre and selects it
func (s *Session) AddMarker() string {
	var center Point
	if s.view.Raster != nil {
		center = Point{X: float64(s.view.Raster.Width) / 2, Y: float64(s.view.Raster.Height) / 2}
	}
	orig := center
	rec := EvidenceRecord{
		ID:            s.newID(),
		Pixel:         center,
		OriginalPixel: &orig,
		Time:          s.now().Format("15:04:05"),
		Label:         DefaultMarkerLabel,
		Category:      DefaultCategory,
	}
	for s.find(rec.ID) >= 0 {
		rec.ID = uuid.NewString()
	}
	s.records = append(s.records, rec)
	s.selected = rec.ID
	s.index.invalidate()
	return rec.ID
}

// DeleteSelected removes the selected marker and clears the selection
func (s *Session) DeleteSelected() bool {
	i := s.find(s.selected)
	if i < 0 {
		return false
	}
	if s.dragging == s.selected {
		s.dragging = ""
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	s.selected = ""
	s.index.invalidate()
	return true
}

// ToggleLock flips a marker's lock. Locking the dragged marker ends the drag.
func (s *Session) ToggleLock(id string) bool {
	i := s.find(id)
	if i < 0 {
		return false
	}
	s.records[i].Locked = !s.records[i].Locked
	if s.records[i].Locked && s.dragging == id {
		s.dragging = ""
	}
	return true
}

// UpdateMarker applies free-text edits to a marker
func (s *Session) UpdateMarker(id string, patch MarkerPatch) bool {
	i := s.find(id)
	if i < 0 {
		return false
	}
	rec := &s.records[i]
	if patch.Label != nil {
		rec.Label = *patch.Label
	}
	if patch.Category != nil {
		rec.Category = *patch.Category
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	if patch.Time != nil {
		rec.Time = *patch.Time
	}
	return true
}

// AttachImage appends an image reference to a marker
func (s *Session) AttachImage(id, ref string) bool {
	i := s.find(id)
	if i < 0 || ref == "" {
		return false
	}
	s.records[i].Images = append(s.records[i].Images, ref)
	s.records[i].syncImageKey()
	return true
}

// RemoveImage drops the image reference at index
func (s *Session) RemoveImage(id string, index int) bool {
	i := s.find(id)
	if i < 0 || index < 0 || index >= len(s.records[i].Images) {
		return false
	}
	imgs := s.records[i].Images
	s.records[i].Images = append(imgs[:index:index], imgs[index+1:]...)
	s.records[i].syncImageKey()
	return true
}

// SetImages replaces a marker's image references
func (s *Session) SetImages(id string, refs []string) bool {
	i := s.find(id)
	if i < 0 {
		return false
	}
	s.records[i].Images = append([]string(nil), refs...)
	s.records[i].syncImageKey()
	return true
}

// SetRulerMode switches between marker editing and measuring. Both directions
// clear the ruler and the selection.
func (s *Session) SetRulerMode(on bool) {
	s.ruling = on
	s.ruler = RulerState{}
	s.selected = ""
	s.dragging = ""
}

// MeasureRuler records a ruler click at a pixel-space point. The first click
// sets the start, the second sets the end and the distance in world units,
// and a third starts a new measurement at the clicked point.
func (s *Session) MeasureRuler(p Point) RulerState {
	s.ruling = true
	switch {
	case s.ruler.Start == nil || s.ruler.End != nil:
		start := p
		s.ruler = RulerState{Start: &start}
	default:
		end := p
		d := Distance(*s.ruler.Start, end) * s.resolution()
		s.ruler.End = &end
		s.ruler.Distance = &d
	}
	return s.ruler.clone()
}

func (s *Session) resolution() float64 {
	if s.view.Meta == nil || s.view.Meta.Resolution <= 0 {
		return 1
	}
	return s.view.Meta.Resolution
}

// SetZoom sets the zoom factor, clamped to the configured bounds
func (s *Session) SetZoom(z float64) float64 {
	s.zoom = s.clampZoom(z)
	return s.zoom
}

func (s *Session) ZoomIn() float64  { return s.SetZoom(s.zoom + s.cfg.ZoomStep) }
func (s *Session) ZoomOut() float64 { return s.SetZoom(s.zoom - s.cfg.ZoomStep) }

func (s *Session) clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return s.cfg.DefaultZoom
	}
	return math.Max(s.cfg.MinZoom, math.Min(s.cfg.MaxZoom, z))
}

// PointerDown dispatches a press at a screen-space point: a ruler click in
// ruler mode, otherwise select-and-drag of the marker under the pointer.
// Pressing empty space clears the selection.
func (s *Session) PointerDown(pointer Point, scale float64) {
	if scale <= 0 {
		return
	}
	if s.ruling {
		s.MeasureRuler(Point{X: pointer.X / scale, Y: pointer.Y / scale})
		return
	}
	id, ok := s.HitTest(pointer, scale)
	if !ok {
		s.selected = ""
		return
	}
	s.selected = id
	s.BeginDrag(id)
}

// PointerMove forwards a move to the active drag
func (s *Session) PointerMove(pointer Point, scale float64) bool {
	if s.ruling {
		return false
	}
	return s.UpdateDrag(pointer, scale)
}

// PointerUp ends any active drag
func (s *Session) PointerUp() {
	s.EndDrag()
}

// SessionState is the JSON view of a session
type SessionState struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Evidence   []EvidenceRecord `json:"evidence"`
	Selected   *string          `json:"selectedId"`
	Dragging   *string          `json:"draggingId"`
	Zoom       float64          `json:"zoom"`
	RulerMode  bool             `json:"rulerMode"`
	RulerPhase RulerPhase       `json:"rulerPhase"`
	Ruler      RulerState       `json:"ruler"`
}

// State captures the session for serialisation
func (s *Session) State() SessionState {
	st := SessionState{
		Evidence:   s.Records(),
		Zoom:       s.zoom,
		RulerMode:  s.ruling,
		RulerPhase: s.RulerPhase(),
		Ruler:      s.Ruler(),
	}
	if s.view.Raster != nil {
		st.Width, st.Height = s.view.Raster.Width, s.view.Raster.Height
	}
	if s.selected != "" {
		sel := s.selected
		st.Selected = &sel
	}
	if s.dragging != "" {
		drag := s.dragging
		st.Dragging = &drag
	}
	return st
}
