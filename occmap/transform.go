package occmap

import "math"

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// Scale creates a scaling transform
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, B: 0, Tx: 0, C: 0, D: sy, Ty: 0}
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	return math.Hypot(p2.X-p1.X, p2.Y-p1.Y)
}

// WorldToPixelMatrix builds the world -> pixel transform for a raster of the given height.
// The offset from the origin is rotated by -theta into the map frame, divided by
// the resolution, and flipped so pixel rows grow downward from the top edge.
func WorldToPixelMatrix(meta *MapMetadata, height int) AffineMatrix {
	m := Translation(-meta.Origin.X, -meta.Origin.Y)
	if meta.Origin.Theta != 0 {
		m = MultiplyMatrices(Rotation(-meta.Origin.Theta), m)
	}
	m = MultiplyMatrices(Scale(1/meta.Resolution, -1/meta.Resolution), m)
	return MultiplyMatrices(Translation(0, float64(height)), m)
}

// PixelToWorldMatrix is the exact inverse of WorldToPixelMatrix, composed
// step by step rather than inverted numerically.
func PixelToWorldMatrix(meta *MapMetadata, height int) AffineMatrix {
	m := Translation(0, -float64(height))
	m = MultiplyMatrices(Scale(meta.Resolution, -meta.Resolution), m)
	if meta.Origin.Theta != 0 {
		m = MultiplyMatrices(Rotation(meta.Origin.Theta), m)
	}
	return MultiplyMatrices(Translation(meta.Origin.X, meta.Origin.Y), m)
}

// WorldToPixel maps a world coordinate into pixel space. No clamping is applied.
func WorldToPixel(world Point, meta *MapMetadata, height int) Point {
	if meta.Origin.Theta == 0 {
		return Point{
			X: (world.X - meta.Origin.X) / meta.Resolution,
			Y: float64(height) - (world.Y-meta.Origin.Y)/meta.Resolution,
		}
	}
	return TransformPoint(world, WorldToPixelMatrix(meta, height))
}

// PixelToWorld maps a pixel coordinate back into the world frame
func PixelToWorld(pixel Point, meta *MapMetadata, height int) Point {
	if meta.Origin.Theta == 0 {
		return Point{
			X: pixel.X*meta.Resolution + meta.Origin.X,
			Y: (float64(height)-pixel.Y)*meta.Resolution + meta.Origin.Y,
		}
	}
	return TransformPoint(pixel, PixelToWorldMatrix(meta, height))
}

// PlaceEvidence converts each record's world position into pixel space and
// captures the reset target. Records without world coordinates keep their pixel.
func PlaceEvidence(records []EvidenceRecord, meta *MapMetadata, height int) []EvidenceRecord {
	out := make([]EvidenceRecord, len(records))
	for i, rec := range records {
		rec = rec.Clone()
		if rec.WorldX != nil && rec.WorldY != nil {
			rec.Pixel = WorldToPixel(Point{X: *rec.WorldX, Y: *rec.WorldY}, meta, height)
		}
		if rec.OriginalPixel == nil {
			p := rec.Pixel
			rec.OriginalPixel = &p
		}
		out[i] = rec
	}
	return out
}
