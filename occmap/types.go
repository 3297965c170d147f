package occmap

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose is a world-frame position plus heading (radians)
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// RasterImage is a decoded single-channel grid, row-major, 8 bits per sample.
// It is never mutated after decoding.
type RasterImage struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels []byte `json:"-"`
}

// At returns the sample at (x, y). Callers must stay in bounds.
func (r *RasterImage) At(x, y int) byte {
	return r.Pixels[y*r.Width+x]
}

// Empty reports whether the raster has no samples
func (r *RasterImage) Empty() bool {
	return r == nil || r.Width <= 0 || r.Height <= 0 || len(r.Pixels) == 0
}

// MapMetadata describes the physical placement of a raster
type MapMetadata struct {
	Image             string  `json:"image,omitempty"`
	Resolution        float64 `json:"resolution"` // world units per pixel
	Origin            Pose    `json:"origin"`     // pose of the bottom-left pixel
	OccupiedThreshold float64 `json:"occupiedThresh"`
	FreeThreshold     float64 `json:"freeThresh"`
	Negate            bool    `json:"negate"`
	Mode              string  `json:"mode,omitempty"` // trinary, scale or raw; informational only
}

// ThresholdsInverted reports whether free_thresh exceeds occupied_thresh.
// Classification still runs; the free bucket wins where both match.
func (m *MapMetadata) ThresholdsInverted() bool {
	return m.FreeThreshold > m.OccupiedThreshold
}

// CellClass is the occupancy bucket of a single raster cell
type CellClass uint8

const (
	CellUnknown CellClass = iota
	CellFree
	CellOccupied
)

func (c CellClass) String() string {
	switch c {
	case CellFree:
		return "free"
	case CellOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Contour is a closed polygon in pixel space. The first vertex is not repeated.
type Contour []Point

// Field is one pass-through column of an evidence row
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// EvidenceRecord is a single marker: imported from an evidence row or added in the editor.
// Pixel is authoritative after import; OriginalPixel is the reset target.
type EvidenceRecord struct {
	ID            string   `json:"id"`
	WorldX        *float64 `json:"worldX,omitempty"`
	WorldY        *float64 `json:"worldY,omitempty"`
	Pixel         Point    `json:"pixel"`
	OriginalPixel *Point   `json:"originalPixel,omitempty"`
	Time          string   `json:"time"`
	Label         string   `json:"label"`
	Category      string   `json:"category"`
	Notes         string   `json:"notes"`
	ImageKey      string   `json:"imageKey,omitempty"`
	Images        []string `json:"images,omitempty"`
	ImageURL      *string  `json:"imageUrl"`
	Locked        bool     `json:"locked"`
	Extra         []Field  `json:"extra,omitempty"`
}

// Clone returns a deep copy of the record
func (r EvidenceRecord) Clone() EvidenceRecord {
	c := r
	if r.WorldX != nil {
		v := *r.WorldX
		c.WorldX = &v
	}
	if r.WorldY != nil {
		v := *r.WorldY
		c.WorldY = &v
	}
	if r.OriginalPixel != nil {
		p := *r.OriginalPixel
		c.OriginalPixel = &p
	}
	if r.ImageURL != nil {
		u := *r.ImageURL
		c.ImageURL = &u
	}
	if r.Images != nil {
		c.Images = append([]string(nil), r.Images...)
	}
	if r.Extra != nil {
		c.Extra = append([]Field(nil), r.Extra...)
	}
	return c
}

// syncImageKey keeps ImageKey pointing at the first image reference
func (r *EvidenceRecord) syncImageKey() {
	if len(r.Images) == 0 {
		r.Images = nil
		r.ImageKey = ""
		return
	}
	r.ImageKey = r.Images[0]
}

// cloneRecords deep-copies a record slice
func cloneRecords(records []EvidenceRecord) []EvidenceRecord {
	out := make([]EvidenceRecord, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

// Config represents the full configuration file
type Config struct {
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Contours ContourOptions `yaml:"contours" json:"contours"`
	Editor   EditorConfig   `yaml:"editor" json:"editor"`
	Media    MediaConfig    `yaml:"media" json:"media"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// StorageConfig points at the directory holding case folders
type StorageConfig struct {
	Root string `yaml:"root" json:"root"`
}

// HTTPConfig holds the API listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ContourOptions tunes contour extraction
type ContourOptions struct {
	// SimplifyTolerance is the Douglas-Peucker threshold in pixels. 0 keeps every corner.
	SimplifyTolerance float64 `yaml:"simplifyTolerance" json:"simplifyTolerance"`
}

// EditorConfig holds the interactive editor constants
type EditorConfig struct {
	PickRadius  float64 `yaml:"pickRadius" json:"pickRadius"`
	MinZoom     float64 `yaml:"minZoom" json:"minZoom"`
	MaxZoom     float64 `yaml:"maxZoom" json:"maxZoom"`
	ZoomStep    float64 `yaml:"zoomStep" json:"zoomStep"`
	DefaultZoom float64 `yaml:"defaultZoom" json:"defaultZoom"`
}

// MediaConfig controls how remote marker images are fetched
type MediaConfig struct {
	FetchTimeout string `yaml:"fetchTimeout" json:"fetchTimeout"` // Go duration, e.g. "10s"
	MaxRetries   int    `yaml:"maxRetries" json:"maxRetries"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}
