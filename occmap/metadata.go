package occmap

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults used by ROS map_server when the thresholds are omitted
const (
	DefaultOccupiedThreshold = 0.65
	DefaultFreeThreshold     = 0.196
)

// metadataFile mirrors the map YAML. Scalars are kept as nodes so bad values
// surface as field errors instead of generic YAML type errors.
type metadataFile struct {
	Image          string     `yaml:"image"`
	Resolution     *yaml.Node `yaml:"resolution"`
	Origin         *yaml.Node `yaml:"origin"`
	Negate         *yaml.Node `yaml:"negate"`
	OccupiedThresh *yaml.Node `yaml:"occupied_thresh"`
	FreeThresh     *yaml.Node `yaml:"free_thresh"`
	Mode           string     `yaml:"mode"`
}

// ParseMetadata parses map metadata YAML.
// resolution and origin are required; negate and the thresholds fall back to
// the map_server defaults.
func ParseMetadata(data []byte) (*MapMetadata, error) {
	var raw metadataFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &FieldError{Field: "document", Value: err.Error(), Kind: ErrInvalidValue}
	}

	meta := &MapMetadata{
		Image:             raw.Image,
		OccupiedThreshold: DefaultOccupiedThreshold,
		FreeThreshold:     DefaultFreeThreshold,
		Mode:              raw.Mode,
	}

	if isNull(raw.Resolution) {
		return nil, &FieldError{Field: "resolution", Kind: ErrMissingField}
	}
	res, err := scalarFloat("resolution", raw.Resolution)
	if err != nil {
		return nil, err
	}
	if res <= 0 || math.IsInf(res, 0) {
		return nil, &FieldError{Field: "resolution", Value: raw.Resolution.Value, Kind: ErrInvalidValue}
	}
	meta.Resolution = res

	if isNull(raw.Origin) {
		return nil, &FieldError{Field: "origin", Kind: ErrMissingField}
	}
	origin, err := parseOrigin(raw.Origin)
	if err != nil {
		return nil, err
	}
	meta.Origin = origin

	if !isNull(raw.Negate) {
		neg, err := parseBoolish(raw.Negate)
		if err != nil {
			return nil, err
		}
		meta.Negate = neg
	}

	if !isNull(raw.OccupiedThresh) {
		if meta.OccupiedThreshold, err = parseThreshold("occupied_thresh", raw.OccupiedThresh); err != nil {
			return nil, err
		}
	}
	if !isNull(raw.FreeThresh) {
		if meta.FreeThreshold, err = parseThreshold("free_thresh", raw.FreeThresh); err != nil {
			return nil, err
		}
	}

	return meta, nil
}

// LoadMetadata reads and parses a metadata file
func LoadMetadata(path string) (*MapMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return ParseMetadata(data)
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func scalarFloat(field string, n *yaml.Node) (float64, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, &FieldError{Field: field, Value: nodeText(n), Kind: ErrInvalidValue}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(n.Value), 64)
	if err != nil || math.IsNaN(v) {
		return 0, &FieldError{Field: field, Value: n.Value, Kind: ErrInvalidValue}
	}
	return v, nil
}

func parseOrigin(n *yaml.Node) (Pose, error) {
	if n.Kind != yaml.SequenceNode || (len(n.Content) != 2 && len(n.Content) != 3) {
		return Pose{}, &FieldError{Field: "origin", Value: nodeText(n), Kind: ErrInvalidValue}
	}
	vals := make([]float64, 3)
	for i, c := range n.Content {
		v, err := scalarFloat("origin", c)
		if err != nil || math.IsInf(v, 0) {
			return Pose{}, &FieldError{Field: "origin", Value: nodeText(n), Kind: ErrInvalidValue}
		}
		vals[i] = v
	}
	return Pose{X: vals[0], Y: vals[1], Theta: vals[2]}, nil
}

// parseBoolish accepts YAML booleans as well as 0/1 integers
func parseBoolish(n *yaml.Node) (bool, error) {
	if n.Kind == yaml.ScalarNode {
		switch strings.ToLower(strings.TrimSpace(n.Value)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
	}
	return false, &FieldError{Field: "negate", Value: nodeText(n), Kind: ErrInvalidValue}
}

func parseThreshold(field string, n *yaml.Node) (float64, error) {
	v, err := scalarFloat(field, n)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, &FieldError{Field: field, Value: n.Value, Kind: ErrInvalidValue}
	}
	return v, nil
}

func nodeText(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return n.Tag
	}
	return strings.TrimSpace(string(out))
}
