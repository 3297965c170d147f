package occmap

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EvidenceTable is the parsed evidence file. Skipped holds one entry per row
// that could not be turned into a record.
type EvidenceTable struct {
	Columns []string
	Records []EvidenceRecord
	Skipped []*RowError
}

// column roles understood by the parser; anything else passes through as Extra
const (
	colID = iota + 1
	colX
	colY
	colTime
	colLabel
	colCategory
	colNotes
	colImage
)

var recognizedColumns = map[string]int{
	"id":          colID,
	"x":           colX,
	"world_x":     colX,
	"worldx":      colX,
	"y":           colY,
	"world_y":     colY,
	"worldy":      colY,
	"time":        colTime,
	"timestamp":   colTime,
	"datetime":    colTime,
	"label":       colLabel,
	"name":        colLabel,
	"category":    colCategory,
	"type":        colCategory,
	"notes":       colNotes,
	"note":        colNotes,
	"description": colNotes,
	"image":       colImage,
	"imagekey":    colImage,
	"image_key":   colImage,
	"imageurl":    colImage,
	"image_url":   colImage,
}

// ParseEvidence parses a delimited evidence table with a header row.
// Rows with a missing or malformed x/y are skipped and reported in Skipped;
// they never fail the table. Empty input yields an empty table.
func ParseEvidence(data []byte) (*EvidenceTable, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	table := &EvidenceTable{}
	if len(bytes.TrimSpace(data)) == 0 {
		return table, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading evidence header: %w", err)
	}

	// The first column of each role wins; later columns with the same role
	// pass through as Extra.
	roles := make([]int, len(header))
	taken := make(map[int]bool)
	xCol, yCol := -1, -1
	for i, h := range header {
		name := strings.TrimSpace(h)
		table.Columns = append(table.Columns, name)
		role := recognizedColumns[strings.ToLower(name)]
		if role == 0 || taken[role] {
			continue
		}
		taken[role] = true
		roles[i] = role
		switch role {
		case colX:
			xCol = i
		case colY:
			yCol = i
		}
	}

	seen := make(map[string]bool)
	rowIndex := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowIndex++
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				table.Skipped = append(table.Skipped, &RowError{Line: pe.Line, Err: pe.Err})
				continue
			}
			return nil, fmt.Errorf("reading evidence: %w", err)
		}
		line, _ := r.FieldPos(0)

		wx, rowErr := coordinate(row, xCol, "x", line)
		if rowErr != nil {
			table.Skipped = append(table.Skipped, rowErr)
			continue
		}
		wy, rowErr := coordinate(row, yCol, "y", line)
		if rowErr != nil {
			table.Skipped = append(table.Skipped, rowErr)
			continue
		}

		rec := EvidenceRecord{WorldX: &wx, WorldY: &wy}
		for i, role := range roles {
			val := ""
			if i < len(row) {
				val = strings.TrimSpace(row[i])
			}
			switch role {
			case colID:
				rec.ID = val
			case colTime:
				rec.Time = val
			case colLabel:
				rec.Label = val
			case colCategory:
				rec.Category = val
			case colNotes:
				rec.Notes = val
			case colImage:
				rec.Images = splitImageRefs(val)
			case colX, colY:
			default:
				rec.Extra = append(rec.Extra, Field{Key: table.Columns[i], Value: val})
			}
		}

		if rec.ID == "" || seen[rec.ID] {
			rec.ID = strconv.Itoa(rowIndex)
			if seen[rec.ID] {
				rec.ID = uuid.NewString()
			}
		}
		seen[rec.ID] = true
		rec.syncImageKey()
		table.Records = append(table.Records, rec)
	}

	return table, nil
}

// imageSeparator joins a marker's ordered image references in one cell
const imageSeparator = "|"

func splitImageRefs(cell string) []string {
	var refs []string
	for _, ref := range strings.Split(cell, imageSeparator) {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

func coordinate(row []string, col int, name string, line int) (float64, *RowError) {
	if col < 0 {
		return 0, &RowError{Line: line, Column: name, Err: errors.New("column missing from header")}
	}
	if col >= len(row) {
		return 0, &RowError{Line: line, Column: name, Err: errors.New("field missing")}
	}
	raw := strings.TrimSpace(row[col])
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &RowError{Line: line, Column: name, Value: raw, Err: errors.New("not a finite number")}
	}
	return v, nil
}

// sniffDelimiter picks comma, semicolon or tab by counting them in the header line
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if c := bytes.Count(line, []byte{byte(d)}); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

// WriteEvidenceCSV writes records back out as an evidence table, converting
// each record's current pixel position to world coordinates.
func WriteEvidenceCSV(w io.Writer, records []EvidenceRecord, meta *MapMetadata, height int) error {
	header := []string{"id", "x", "y", "time", "label", "category", "notes", "image"}
	var extraKeys []string
	known := make(map[string]bool)
	for _, rec := range records {
		for _, f := range rec.Extra {
			if !known[f.Key] {
				known[f.Key] = true
				extraKeys = append(extraKeys, f.Key)
			}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(header, extraKeys...)); err != nil {
		return fmt.Errorf("writing evidence header: %w", err)
	}

	for _, rec := range records {
		world := PixelToWorld(rec.Pixel, meta, height)
		image := rec.ImageKey
		if len(rec.Images) > 0 {
			image = strings.Join(rec.Images, imageSeparator)
		}
		row := []string{
			rec.ID,
			strconv.FormatFloat(world.X, 'f', -1, 64),
			strconv.FormatFloat(world.Y, 'f', -1, 64),
			rec.Time,
			rec.Label,
			rec.Category,
			rec.Notes,
			image,
		}
		for _, key := range extraKeys {
			val := ""
			for _, f := range rec.Extra {
				if f.Key == key {
					val = f.Value
					break
				}
			}
			row = append(row, val)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing evidence row %s: %w", rec.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
