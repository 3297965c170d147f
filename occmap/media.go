package occmap

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultImageMIME is assumed for image references whose type cannot be told
const DefaultImageMIME = "image/png"

var extensionByMIME = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

var mimeByExtension = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
}

var dataURLPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.*)$`)

// DataURL is a decoded base64 data URL
type DataURL struct {
	MIME      string
	Extension string
	Data      []byte
}

// ParseDataURL decodes "data:<mime>;base64,<payload>". Unknown image types
// keep their MIME but are stored with a png extension.
func ParseDataURL(s string) (*DataURL, bool) {
	m := dataURLPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || m[1] == "" || m[2] == "" {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, false
	}
	ext, ok := extensionByMIME[strings.ToLower(m[1])]
	if !ok {
		ext = "png"
	}
	return &DataURL{MIME: m[1], Extension: ext, Data: data}, true
}

// MIMEFromKey guesses an image type from the key extension
func MIMEFromKey(key string) string {
	lower := strings.ToLower(key)
	if i := strings.LastIndexByte(lower, '.'); i >= 0 {
		if mime, ok := mimeByExtension[lower[i+1:]]; ok {
			return mime
		}
	}
	return DefaultImageMIME
}

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_-]`)

// SanitizeID makes a marker id safe for use in an object key
func SanitizeID(id string) string {
	s := unsafeIDChars.ReplaceAllString(strings.ToLower(id), "-")
	if len(s) > 48 {
		s = s[:48]
	}
	if s == "" {
		return "marker"
	}
	return s
}

// MediaResolver turns marker image references into data URLs
type MediaResolver struct {
	Store     Store
	FetchOpts []FetchOption
	Logger    zerolog.Logger
	fetchFunc func(ctx context.Context, url string, opts ...FetchOption) ([]byte, string, error)
}

// NewMediaResolver creates a resolver reading object keys from store
func NewMediaResolver(store Store, logger zerolog.Logger, opts ...FetchOption) *MediaResolver {
	return &MediaResolver{Store: store, FetchOpts: opts, Logger: logger, fetchFunc: FetchObject}
}

// Resolve returns a data URL for ref. Data URLs pass through, http(s) refs are
// downloaded, anything else is read from the store. Failures are logged and
// yield "".
func (m *MediaResolver) Resolve(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "data:"):
		return ref
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		fetch := m.fetchFunc
		if fetch == nil {
			fetch = FetchObject
		}
		data, contentType, err := fetch(ctx, ref, m.FetchOpts...)
		if err != nil {
			m.Logger.Warn().Err(err).Str("ref", ref).Msg("failed to fetch marker image")
			return ""
		}
		mime := MIMEFromKey(ref)
		if strings.HasPrefix(contentType, "image/") {
			mime = contentType
		}
		return DataURI(mime, data)
	default:
		if m.Store == nil {
			return ""
		}
		data, err := m.Store.Get(ctx, ref)
		if err != nil {
			m.Logger.Warn().Err(err).Str("ref", ref).Msg("failed to read marker image")
			return ""
		}
		return DataURI(MIMEFromKey(ref), data)
	}
}

// Attach fills ImageURL on every record from its first image reference.
// A reference shared by several records is resolved once.
func (m *MediaResolver) Attach(ctx context.Context, records []EvidenceRecord) []EvidenceRecord {
	cache := make(map[string]string)
	out := make([]EvidenceRecord, len(records))
	for i, rec := range records {
		rec = rec.Clone()
		rec.ImageURL = nil
		ref := strings.TrimSpace(rec.ImageKey)
		if ref == "" && len(rec.Images) > 0 {
			ref = strings.TrimSpace(rec.Images[0])
		}
		if ref != "" {
			url, ok := cache[ref]
			if !ok {
				url = m.Resolve(ctx, ref)
				cache[ref] = url
			}
			if url != "" {
				rec.ImageURL = &url
			}
		}
		out[i] = rec
	}
	return out
}

// SaveDataURL stores a data-URL image under <caseID>/markers/ and returns its key
func (m *MediaResolver) SaveDataURL(ctx context.Context, caseID, markerID, dataURL string, now time.Time) (string, error) {
	parsed, ok := ParseDataURL(dataURL)
	if !ok {
		return "", fmt.Errorf("%w: not a base64 data URL", ErrInvalidValue)
	}
	key := fmt.Sprintf("%s/markers/%s-%d.%s", strings.Trim(caseID, "/"), SanitizeID(markerID), now.UnixMilli(), parsed.Extension)
	if err := m.Store.Put(ctx, key, parsed.Data, parsed.MIME); err != nil {
		return "", fmt.Errorf("saving marker image: %w", err)
	}
	return key, nil
}
