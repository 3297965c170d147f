package occmap

import (
	"sort"

	"github.com/dhconnelly/rtreego"
)

// markerEntry is one marker position stored in the R-tree
type markerEntry struct {
	idx  int
	rect rtreego.Rect
}

func (m *markerEntry) Bounds() rtreego.Rect {
	return m.rect
}

// hitIndex narrows hit tests to markers near the pointer. It is rebuilt lazily
// after any change to marker positions or membership.
type hitIndex struct {
	tree  *rtreego.Rtree
	dirty bool
}

func newHitIndex() *hitIndex {
	return &hitIndex{dirty: true}
}

func (h *hitIndex) invalidate() {
	h.dirty = true
}

func (h *hitIndex) rebuild(records []EvidenceRecord) {
	objs := make([]rtreego.Spatial, 0, len(records))
	for i, rec := range records {
		objs = append(objs, &markerEntry{
			idx:  i,
			rect: rtreego.Point{rec.Pixel.X, rec.Pixel.Y}.ToRect(0.5),
		})
	}
	h.tree = rtreego.NewTree(2, 25, 50, objs...)
	h.dirty = false
}

// candidates returns the indices of markers whose box intersects the square
// of half-size radius around p, in ascending order
func (h *hitIndex) candidates(records []EvidenceRecord, p Point, radius float64) []int {
	if h.dirty || h.tree == nil {
		h.rebuild(records)
	}
	found := h.tree.SearchIntersect(rtreego.Point{p.X, p.Y}.ToRect(radius))
	idx := make([]int, 0, len(found))
	for _, s := range found {
		idx = append(idx, s.(*markerEntry).idx)
	}
	sort.Ints(idx)
	return idx
}

