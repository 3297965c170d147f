package occmap

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionResult() *ImportResult {
	raster := gridFromRows("....", "....")
	return &ImportResult{
		Map:      MapPayload{Width: raster.Width, Height: raster.Height},
		Evidence: []EvidenceRecord{{ID: "a", Pixel: Point{X: 1, Y: 1}}},
		Raster:   raster,
		Meta:     defaultMeta(),
		Files:    &CaseFiles{ID: "case-1", CSVKey: "case-1/evidence.csv"},
	}
}

func TestSessionRegistry_OpenWithClose(t *testing.T) {
	r := NewSessionRegistry()
	id := r.Open("case-1", sessionResult())
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{id}, r.IDs())

	err := r.With(id, func(caseID string, files *CaseFiles, s *Session) error {
		assert.Equal(t, "case-1", caseID)
		assert.Equal(t, "case-1/evidence.csv", files.CSVKey)
		assert.True(t, s.BeginDrag("a"))
		return nil
	})
	require.NoError(t, err)

	err = r.With(id, func(_ string, _ *CaseFiles, s *Session) error {
		assert.Equal(t, "a", s.Dragging(), "state persists between calls")
		return errors.New("handler failed")
	})
	assert.EqualError(t, err, "handler failed")

	assert.True(t, r.Close(id))
	assert.False(t, r.Close(id))
	assert.ErrorIs(t, r.With(id, func(string, *CaseFiles, *Session) error { return nil }), ErrSessionNotFound)
}

func TestSessionRegistry_SessionsAreIndependent(t *testing.T) {
	r := NewSessionRegistry()
	result := sessionResult()
	a := r.Open("case-1", result)
	b := r.Open("case-1", result)
	require.NotEqual(t, a, b)

	require.NoError(t, r.With(a, func(_ string, _ *CaseFiles, s *Session) error {
		s.Select("a")
		return nil
	}))
	require.NoError(t, r.With(b, func(_ string, _ *CaseFiles, s *Session) error {
		assert.Empty(t, s.Selected())
		return nil
	}))
	assert.Equal(t, "a", result.Evidence[0].ID, "opening a session does not touch the import result")
}

func TestSessionRegistry_ConcurrentAccess(t *testing.T) {
	r := NewSessionRegistry()
	id := r.Open("case-1", sessionResult())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.With(id, func(_ string, _ *CaseFiles, s *Session) error {
				s.BeginDrag("a")
				s.UpdateDrag(Point{X: float64(i), Y: 1}, 1)
				s.EndDrag()
				return nil
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, r.With(id, func(_ string, _ *CaseFiles, s *Session) error {
		assert.Empty(t, s.Dragging())
		return nil
	}))
}

func TestSessionRegistry_Prune(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale := r.Open("case-1", sessionResult())
	now = now.Add(30 * time.Minute)
	fresh := r.Open("case-1", sessionResult())
	now = now.Add(20 * time.Minute)

	assert.Equal(t, 1, r.Prune(30*time.Minute))
	assert.Equal(t, []string{fresh}, r.IDs())
	assert.ErrorIs(t, r.With(stale, func(string, *CaseFiles, *Session) error { return nil }), ErrSessionNotFound)
}
