package occmap

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"strconv"

	_ "github.com/jbuchbinder/gopnm"
)

// maxRasterSamples bounds width*height so a hostile header cannot force a huge allocation
const maxRasterSamples = 1 << 28

// DecodeRaster decodes an occupancy grid raster.
// P2 (ASCII) and P5 (binary) greymaps are parsed natively and strictly; the
// remaining PNM variants and PNG are decoded through image.Decode and reduced
// to grey. Samples are always rescaled to 0..255.
func DecodeRaster(data []byte) (*RasterImage, error) {
	if len(data) < 2 {
		return nil, malformed("empty data")
	}

	switch {
	case data[0] == 'P' && data[1] == '2':
		return decodeGreymap(data, false)
	case data[0] == 'P' && data[1] == '5':
		return decodeGreymap(data, true)
	case data[0] == 'P' && bytes.IndexByte([]byte("1346"), data[1]) >= 0:
		return decodeImage(data)
	case IsPNG(data):
		return decodeImage(data)
	default:
		return nil, malformed("unrecognized header token %q", string(data[:2]))
	}
}

// LoadRaster reads and decodes a raster file
func LoadRaster(path string) (*RasterImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading raster: %w", err)
	}
	return DecodeRaster(data)
}

// IsPNG checks if data starts with PNG magic bytes
func IsPNG(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G'
}

// headerScanner walks the text header of a PNM file, skipping '#' comments
type headerScanner struct {
	data []byte
	pos  int
}

func isPNMSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// skip advances past whitespace and comments
func (s *headerScanner) skip() {
	for s.pos < len(s.data) {
		b := s.data[s.pos]
		switch {
		case isPNMSpace(b):
			s.pos++
		case b == '#':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		default:
			return
		}
	}
}

// int reads the next unsigned decimal header token
func (s *headerScanner) int(name string) (int, error) {
	s.skip()
	start := s.pos
	for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
		s.pos++
	}
	if start == s.pos {
		return 0, malformed("missing or non-numeric %s", name)
	}
	if s.pos < len(s.data) && !isPNMSpace(s.data[s.pos]) && s.data[s.pos] != '#' {
		return 0, malformed("invalid %s token", name)
	}
	v, err := strconv.Atoi(string(s.data[start:s.pos]))
	if err != nil {
		return 0, malformed("%s out of range", name)
	}
	return v, nil
}

func decodeGreymap(data []byte, binary bool) (*RasterImage, error) {
	s := &headerScanner{data: data, pos: 2}
	if len(data) > 2 && !isPNMSpace(data[2]) && data[2] != '#' {
		return nil, malformed("unrecognized header token %q", string(data[:3]))
	}

	width, err := s.int("width")
	if err != nil {
		return nil, err
	}
	height, err := s.int("height")
	if err != nil {
		return nil, err
	}
	maxVal, err := s.int("maxValue")
	if err != nil {
		return nil, err
	}

	if width <= 0 || height <= 0 {
		return nil, malformed("non-positive dimensions %dx%d", width, height)
	}
	if width > maxRasterSamples/height {
		return nil, malformed("dimensions %dx%d too large", width, height)
	}
	if maxVal <= 0 || maxVal > 65535 {
		return nil, malformed("maxValue %d out of range", maxVal)
	}

	n := width * height
	img := &RasterImage{Width: width, Height: height, Pixels: make([]byte, n)}

	if binary {
		// Exactly one whitespace byte separates maxValue from the sample data
		if s.pos >= len(data) || !isPNMSpace(data[s.pos]) {
			return nil, malformed("missing data separator")
		}
		body := data[s.pos+1:]
		if err := readBinarySamples(body, img.Pixels, maxVal); err != nil {
			return nil, err
		}
		return img, nil
	}

	if err := readTextSamples(data[s.pos:], img.Pixels, maxVal); err != nil {
		return nil, err
	}
	return img, nil
}

func readBinarySamples(body, out []byte, maxVal int) error {
	wide := maxVal > 255
	bps := 1
	if wide {
		bps = 2
	}
	if len(body) != len(out)*bps {
		return malformed("sample count mismatch: expected %d bytes, got %d", len(out)*bps, len(body))
	}
	for i := range out {
		var v int
		if wide {
			v = int(body[2*i])<<8 | int(body[2*i+1])
		} else {
			v = int(body[i])
		}
		if v > maxVal {
			return malformed("sample %d exceeds maxValue %d", v, maxVal)
		}
		out[i] = rescale(v, maxVal)
	}
	return nil
}

func readTextSamples(body, out []byte, maxVal int) error {
	count := 0
	pos := 0
	for {
		for pos < len(body) && isPNMSpace(body[pos]) {
			pos++
		}
		if pos >= len(body) {
			break
		}
		start := pos
		for pos < len(body) && !isPNMSpace(body[pos]) {
			pos++
		}
		if count >= len(out) {
			return malformed("sample count mismatch: more than %d samples", len(out))
		}
		v, err := strconv.Atoi(string(body[start:pos]))
		if err != nil || v < 0 {
			return malformed("invalid sample %q", string(body[start:pos]))
		}
		if v > maxVal {
			return malformed("sample %d exceeds maxValue %d", v, maxVal)
		}
		out[count] = rescale(v, maxVal)
		count++
	}
	if count != len(out) {
		return malformed("sample count mismatch: expected %d, got %d", len(out), count)
	}
	return nil
}

// rescale maps v in [0, maxVal] linearly onto [0, 255] with rounding
func rescale(v, maxVal int) byte {
	if maxVal == 255 {
		return byte(v)
	}
	return byte((v*255 + maxVal/2) / maxVal)
}

// decodeImage handles formats registered with the image package
func decodeImage(data []byte) (*RasterImage, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &MalformedRasterError{Reason: err.Error()}
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, malformed("non-positive dimensions %dx%d", b.Dx(), b.Dy())
	}
	img := &RasterImage{Width: b.Dx(), Height: b.Dy(), Pixels: make([]byte, b.Dx()*b.Dy())}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			img.Pixels[y*img.Width+x] = color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return img, nil
}
