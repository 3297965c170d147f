package occmap

import (
	"strings"
	"time"
)

// CaseFiles is the set of objects that make up one case, located by extension
type CaseFiles struct {
	ID        string
	PGMKey    string
	YAMLKey   string
	CSVKey    string
	Files     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CaseSummary is the case metadata returned alongside an import
type CaseSummary struct {
	ID            string    `json:"id"`
	Files         FileKeys  `json:"files"`
	FileList      []string  `json:"fileList"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	EvidenceCount int       `json:"evidenceCount"`
	SkippedRows   int       `json:"skippedRows"`
}

// FileKeys names the object backing each input
type FileKeys struct {
	PGM  string `json:"pgm,omitempty"`
	YAML string `json:"yaml,omitempty"`
	CSV  string `json:"csv,omitempty"`
}

// GroupCase picks the raster, metadata and evidence objects of a case. The
// first match per extension wins. Returns nil when no object belongs to caseID.
func GroupCase(caseID string, objects []ObjectInfo) *CaseFiles {
	prefix := strings.Trim(caseID, "/") + "/"
	var group *CaseFiles
	seen := make(map[string]bool)

	for _, obj := range objects {
		rel := strings.TrimLeft(obj.Key, "/")
		if !strings.HasPrefix(rel, prefix) {
			continue
		}
		file := rel[len(prefix):]
		if file == "" {
			continue
		}
		if group == nil {
			group = &CaseFiles{ID: caseID}
		}

		lower := strings.ToLower(file)
		switch {
		case strings.HasSuffix(lower, ".pgm"):
			if group.PGMKey == "" {
				group.PGMKey = obj.Key
			}
		case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
			if group.YAMLKey == "" {
				group.YAMLKey = obj.Key
			}
		case strings.HasSuffix(lower, ".csv"):
			if group.CSVKey == "" {
				group.CSVKey = obj.Key
			}
		}

		if !seen[file] {
			seen[file] = true
			group.Files = append(group.Files, file)
		}
		if !obj.LastModified.IsZero() {
			if group.UpdatedAt.IsZero() || obj.LastModified.After(group.UpdatedAt) {
				group.UpdatedAt = obj.LastModified
			}
			if group.CreatedAt.IsZero() || obj.LastModified.Before(group.CreatedAt) {
				group.CreatedAt = obj.LastModified
			}
		}
	}
	return group
}

// Summary builds the case summary for an import with the given evidence table
func (c *CaseFiles) Summary(table *EvidenceTable) CaseSummary {
	s := CaseSummary{
		ID:        c.ID,
		Files:     FileKeys{PGM: c.PGMKey, YAML: c.YAMLKey, CSV: c.CSVKey},
		FileList:  append([]string(nil), c.Files...),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if table != nil {
		s.EvidenceCount = len(table.Records)
		s.SkippedRows = len(table.Skipped)
	}
	return s
}
