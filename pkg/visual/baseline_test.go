package visual

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *BaselineStore {
	t.Helper()
	s, err := NewBaselineStore(filepath.Join(t.TempDir(), "baselines"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBaselineStore_Establish(t *testing.T) {
	s := newStore(t)
	cand := writeImage(t, filepath.Join(t.TempDir(), "HeroButton-desktop.png"), 8, 8, gradient)

	assert.False(t, s.Exists("HeroButton-desktop"))

	path, err := s.Establish("HeroButton-desktop", cand)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "HeroButton-desktop.png"), path)
	assert.Equal(t, path, s.Path("HeroButton-desktop"))
	assert.True(t, s.Exists("HeroButton-desktop"))

	want, err := os.ReadFile(cand)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBaselineStore_EstablishRejectsBadNames(t *testing.T) {
	s := newStore(t)
	cand := writeImage(t, filepath.Join(t.TempDir(), "c.png"), 2, 2, gradient)

	for _, name := range []string{"", "..", "../escape", "a/b"} {
		_, err := s.Establish(name, cand)
		assert.Error(t, err, name)
	}

	_, err := s.Establish("ok", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestBaselineStore_List(t *testing.T) {
	s := newStore(t)
	cand := writeImage(t, filepath.Join(t.TempDir(), "c.png"), 2, 2, gradient)

	for _, name := range []string{"Card-mobile", "Card-desktop", "HeroButton-desktop"} {
		_, err := s.Establish(name, cand)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "README.txt"), []byte("x"), 0o644))

	all, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Card-desktop", "Card-mobile", "HeroButton-desktop"}, all)

	cards, err := s.List("Card-*.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"Card-desktop", "Card-mobile"}, cards)

	_, err = s.List("[")
	assert.Error(t, err)
}

func TestBaselineStore_ImageCachesDecodes(t *testing.T) {
	s := newStore(t)
	cand := writeImage(t, filepath.Join(t.TempDir(), "c.png"), 6, 4, gradient)
	path, err := s.Establish("Hero", cand)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		img, err := s.Image(path)
		require.NoError(t, err)
		assert.Equal(t, 6, img.Bounds().Dx())
	}
	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Loads)
	assert.EqualValues(t, 2, stats.Hits)

	// re-establishing replaces the cached decode
	bigger := writeImage(t, filepath.Join(t.TempDir(), "c2.png"), 9, 4, gradient)
	_, err = s.Establish("Hero", bigger)
	require.NoError(t, err)
	img, err := s.Image(path)
	require.NoError(t, err)
	assert.Equal(t, 9, img.Bounds().Dx())

	// outside the store nothing is cached
	_, err = s.Image(cand)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.Stats().Loads)
}

func TestBaselineStore_WatchInvalidates(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Watch())
	require.NoError(t, s.Watch())

	path := writeImage(t, s.Path("Card"), 4, 4, solid(color.White))
	img, err := s.Image(path)
	require.NoError(t, err)
	require.Equal(t, 4, img.Bounds().Dx())

	writeImage(t, path, 7, 4, solid(color.White))

	assert.Eventually(t, func() bool {
		img, err := s.Image(path)
		return err == nil && img.Bounds().Dx() == 7
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, s.Watch())
}

func TestCompare_UsesBaselineStore(t *testing.T) {
	s := newStore(t)
	cand := writeImage(t, filepath.Join(t.TempDir(), "Hero.png"), 5, 5, gradient)
	base, err := s.Establish("Hero", cand)
	require.NoError(t, err)

	c := NewComparer(s, nil, nil)
	for i := 0; i < 2; i++ {
		res := c.Compare(t.Context(), base, cand, DefaultThreshold)
		require.True(t, res.Success, res.Error)
		assert.True(t, res.Data.Passed)
	}
	assert.EqualValues(t, 1, s.Stats().Loads)
	assert.EqualValues(t, 1, s.Stats().Hits)
}
