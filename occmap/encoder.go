package occmap

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"io"
)

// ToImage wraps the raster samples in an 8-bit greyscale image.
// The samples are copied so the raster stays immutable.
func (r *RasterImage) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	copy(img.Pix, r.Pixels)
	return img
}

// EncodeRaster serialises the raster as a greyscale PNG. The output carries no
// timestamps or other ancillary chunks, so identical input gives identical bytes.
func EncodeRaster(r *RasterImage) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRasterPNG(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRasterPNG writes the PNG encoding of the raster to w
func WriteRasterPNG(w io.Writer, r *RasterImage) error {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return &EncodingError{Reason: "empty raster"}
	}
	if len(r.Pixels) != r.Width*r.Height {
		return &EncodingError{Reason: "sample buffer does not match dimensions"}
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(w, r.ToImage()); err != nil {
		return &EncodingError{Reason: err.Error()}
	}
	return nil
}

// DataURI formats data as a base64 data URI
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
