package visual

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnana997/designflow/pkg/remote"
)

// writeImage encodes a w×h PNG whose pixels come from fill.
func writeImage(t *testing.T, path string, w, h int, fill func(x, y int) color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func solid(c color.Color) func(int, int) color.Color {
	return func(int, int) color.Color { return c }
}

func gradient(x, y int) color.Color {
	return color.NRGBA{R: uint8(x * 12), G: uint8(y * 20), B: uint8((x + y) * 7), A: 255}
}

func TestCompare_SelfIsIdentical(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, filepath.Join(dir, "shot.png"), 20, 10, gradient)

	res := NewComparer(nil, nil, nil).Compare(context.Background(), path, path, DefaultThreshold)
	require.True(t, res.Success, res.Error)

	cmp := res.Data
	assert.Equal(t, 100.0, cmp.Similarity)
	assert.Zero(t, cmp.DiffPixels)
	assert.Equal(t, 200, cmp.TotalPixels)
	assert.True(t, cmp.Passed)
	assert.Equal(t, filepath.Join(dir, "shot-diff.png"), cmp.DiffPath)
	assert.FileExists(t, cmp.DiffPath)
}

func TestCompare_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, filepath.Join(dir, "base.png"), 10, 10, solid(color.White))
	cand := writeImage(t, filepath.Join(dir, "cand.png"), 10, 12, solid(color.White))

	res := NewComparer(nil, nil, nil).Compare(context.Background(), base, cand, DefaultThreshold)
	require.False(t, res.Success)
	assert.Equal(t, remote.KindDimensionMismatch, res.Kind)
	assert.Contains(t, res.Error, "10x10")
	assert.Contains(t, res.Error, "10x12")
	assert.NoFileExists(t, DiffPath(cand))
}

func TestCompare_InputFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeImage(t, filepath.Join(dir, "good.png"), 4, 4, solid(color.White))
	text := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(text, []byte("not an image"), 0o644))

	tests := []struct {
		name      string
		base      string
		cand      string
		threshold float64
		want      remote.Kind
	}{
		{"missing baseline", filepath.Join(dir, "nope.png"), good, 0.1, remote.KindNotFound},
		{"missing candidate", good, filepath.Join(dir, "nope.png"), 0.1, remote.KindNotFound},
		{"not a png", good, text, 0.1, remote.KindInvalidInput},
		{"negative threshold", good, good, -0.1, remote.KindInvalidInput},
		{"threshold above one", good, good, 1.5, remote.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewComparer(nil, nil, nil).Compare(context.Background(), tt.base, tt.cand, tt.threshold)
			require.False(t, res.Success)
			assert.Equal(t, tt.want, res.Kind)
		})
	}
}

func TestCompare_CountsDifferingPixels(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, filepath.Join(dir, "base.png"), 10, 10, solid(color.White))
	cand := writeImage(t, filepath.Join(dir, "cand.png"), 10, 10, func(x, y int) color.Color {
		if y == 0 && x < 5 {
			return color.Black
		}
		return color.White
	})

	c := NewComparer(nil, nil, nil)

	res := c.Compare(context.Background(), base, cand, 0.1)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 5, res.Data.DiffPixels)
	assert.InDelta(t, 95.0, res.Data.Similarity, 1e-9)
	assert.True(t, res.Data.Passed, "95 percent clears the 90 percent bar")

	// a tighter tolerance also raises the whole-image bar to 99%
	res = c.Compare(context.Background(), base, cand, 0.01)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 5, res.Data.DiffPixels)
	assert.False(t, res.Data.Passed)

	f, err := os.Open(res.Data.DiffPath)
	require.NoError(t, err)
	defer f.Close()
	diff, err := png.Decode(f)
	require.NoError(t, err)

	r, g, b, _ := diff.At(0, 0).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b}, "differing pixel is red")
	r, g, b, _ = diff.At(9, 9).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b, "unchanged pixel is grey")
}

func TestCompare_ThresholdTolerance(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, filepath.Join(dir, "base.png"), 10, 10, solid(color.White))
	cand := writeImage(t, filepath.Join(dir, "cand.png"), 10, 10, solid(color.NRGBA{R: 250, G: 250, B: 250, A: 255}))

	c := NewComparer(nil, nil, nil)

	loose := c.Compare(context.Background(), base, cand, 0.1)
	require.True(t, loose.Success, loose.Error)
	assert.Zero(t, loose.Data.DiffPixels)

	strict := c.Compare(context.Background(), base, cand, 0.01)
	require.True(t, strict.Success, strict.Error)
	assert.Equal(t, 100, strict.Data.DiffPixels)
	assert.Zero(t, strict.Data.Similarity)
}

func TestColorDelta(t *testing.T) {
	white := []uint8{255, 255, 255, 255}
	black := []uint8{0, 0, 0, 255}

	assert.Zero(t, colorDelta(white, white))
	assert.Greater(t, colorDelta(white, black), 30000.0)
	assert.LessOrEqual(t, colorDelta(white, black), maxDelta)
	assert.Equal(t, colorDelta(white, black), colorDelta(black, white))

	// fully transparent blends to white
	assert.Zero(t, colorDelta(white, []uint8{0, 0, 0, 0}))
}

func TestDiffPath(t *testing.T) {
	assert.Equal(t, filepath.Join("shots", "HeroButton-desktop-diff.png"), DiffPath(filepath.Join("shots", "HeroButton-desktop.png")))
	assert.Equal(t, "x-diff.png", DiffPath("x"))
}

func TestOpenMapped(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	mf, err := OpenMapped(empty)
	require.NoError(t, err)
	assert.Empty(t, mf.Bytes())
	require.NoError(t, mf.Close())

	full := filepath.Join(dir, "full.bin")
	require.NoError(t, os.WriteFile(full, []byte("pixels"), 0o644))
	mf, err = OpenMapped(full)
	require.NoError(t, err)
	data := mf.Bytes()
	require.NoError(t, mf.Close())
	require.NoError(t, mf.Close())
	assert.Equal(t, "pixels", string(data))

	_, err = OpenMapped(dir)
	assert.Error(t, err)
}
