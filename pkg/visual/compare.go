// Package visual diffs screenshots pixel by pixel and manages baseline images.
package visual

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/remote"
)

// DefaultThreshold is the per-pixel tolerance used when none is configured.
const DefaultThreshold = 0.1

// maxDelta is the largest possible YIQ distance between two colours.
const maxDelta = 35215.0

// fadeAlpha is how strongly unchanged pixels show through in the diff image.
const fadeAlpha = 0.1

var diffColor = color.NRGBA{R: 255, A: 255}

// Comparison is the outcome of diffing a candidate against a baseline.
type Comparison struct {
	BaselinePath  string  `json:"baseline_path"`
	CandidatePath string  `json:"candidate_path"`
	DiffPath      string  `json:"diff_path"`
	Similarity    float64 `json:"similarity"`
	DiffPixels    int     `json:"diff_pixels"`
	TotalPixels   int     `json:"total_pixels"`
	Threshold     float64 `json:"threshold"`
	Passed        bool    `json:"passed"`
}

// ImageSource decodes images by path.
type ImageSource interface {
	Image(path string) (image.Image, error)
}

type fileSource struct{}

func (fileSource) Image(path string) (image.Image, error) { return LoadPNG(path) }

// Comparer runs image comparisons.
type Comparer struct {
	baselines ImageSource
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewComparer builds a Comparer. Baseline images are decoded through baselines
// when it is non-nil, which lets a BaselineStore serve them from memory.
func NewComparer(baselines ImageSource, logger *slog.Logger, m *metrics.Metrics) *Comparer {
	if baselines == nil {
		baselines = fileSource{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Comparer{baselines: baselines, logger: logger.With("component", "visual"), metrics: m}
}

// Compare diffs candidatePath against basePath and writes the diff image next
// to the candidate as <name>-diff.png.
//
// A pixel differs when its YIQ distance exceeds 35215 × threshold². The
// comparison passes when similarity ≥ 100 − threshold×100.
func (c *Comparer) Compare(ctx context.Context, basePath, candidatePath string, threshold float64) remote.Result[Comparison] {
	const op = "visual.compare"
	start := time.Now()

	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return c.finish(op, start, remote.Failf[Comparison](remote.KindInvalidInput, "threshold %v is outside 0..1", threshold))
	}

	base, err := c.baselines.Image(basePath)
	if err != nil {
		return c.finish(op, start, remote.Fail[Comparison](err))
	}
	cand, err := LoadPNG(candidatePath)
	if err != nil {
		return c.finish(op, start, remote.Fail[Comparison](err))
	}

	bb, cb := base.Bounds(), cand.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return c.finish(op, start, remote.Failf[Comparison](remote.KindDimensionMismatch,
			"baseline is %dx%d but candidate is %dx%d", bb.Dx(), bb.Dy(), cb.Dx(), cb.Dy()))
	}

	diff, diffPixels, err := diffImages(ctx, toNRGBA(base), toNRGBA(cand), maxDelta*threshold*threshold)
	if err != nil {
		return c.finish(op, start, remote.Fail[Comparison](remote.Wrap(op, err)))
	}

	diffPath := DiffPath(candidatePath)
	if err := writePNG(diffPath, diff); err != nil {
		return c.finish(op, start, remote.Fail[Comparison](remote.Errorf(remote.KindInternal, op, "write diff image: %v", err)))
	}

	total := bb.Dx() * bb.Dy()
	similarity := 100.0
	if total > 0 {
		similarity = float64(total-diffPixels) / float64(total) * 100
	}

	cmp := Comparison{
		BaselinePath:  basePath,
		CandidatePath: candidatePath,
		DiffPath:      diffPath,
		Similarity:    similarity,
		DiffPixels:    diffPixels,
		TotalPixels:   total,
		Threshold:     threshold,
		Passed:        similarity >= 100-threshold*100,
	}
	c.logger.Debug("images compared", "candidate", candidatePath, "similarity", similarity, "diff_pixels", diffPixels, "passed", cmp.Passed)
	return c.finish(op, start, remote.OK(cmp))
}

func (c *Comparer) finish(op string, start time.Time, r remote.Result[Comparison]) remote.Result[Comparison] {
	elapsed := time.Since(start)
	c.metrics.ObserveRemote("visual", op, r.Kind, elapsed)
	if !r.Success {
		c.logger.Warn("image comparison failed", "kind", r.Kind, "error", r.Error, "duration", elapsed)
	}
	return r
}

// DiffPath returns the sibling path the diff image for candidate is written to.
func DiffPath(candidate string) string {
	dir, file := filepath.Split(candidate)
	name := strings.TrimSuffix(file, filepath.Ext(file))
	return filepath.Join(dir, name+"-diff.png")
}

// diffImages counts pixels whose delta exceeds limit and renders the diff buffer.
func diffImages(ctx context.Context, a, b *image.NRGBA, limit float64) (*image.NRGBA, int, error) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	count := 0

	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		rowA := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rowB := b.Pix[y*b.Stride : y*b.Stride+w*4]
		rowOut := out.Pix[y*out.Stride : y*out.Stride+w*4]

		for x := 0; x < w*4; x += 4 {
			pa, pb := rowA[x:x+4], rowB[x:x+4]
			if colorDelta(pa, pb) > limit {
				count++
				rowOut[x], rowOut[x+1], rowOut[x+2], rowOut[x+3] = diffColor.R, diffColor.G, diffColor.B, diffColor.A
				continue
			}
			r, g, bl, al := float64(pa[0]), float64(pa[1]), float64(pa[2]), float64(pa[3])
			v := uint8(math.Round(blend(rgb2y(r, g, bl), fadeAlpha*al/255)))
			rowOut[x], rowOut[x+1], rowOut[x+2], rowOut[x+3] = v, v, v, 255
		}
	}
	return out, count, nil
}

// colorDelta is the squared YIQ distance between two NRGBA pixels, with
// translucent pixels blended onto white first.
func colorDelta(p, q []uint8) float64 {
	if p[0] == q[0] && p[1] == q[1] && p[2] == q[2] && p[3] == q[3] {
		return 0
	}
	r1, g1, b1 := blendPixel(p)
	r2, g2, b2 := blendPixel(q)

	y := rgb2y(r1, g1, b1) - rgb2y(r2, g2, b2)
	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	k := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)
	return 0.5053*y*y + 0.299*i*i + 0.1957*k*k
}

func blendPixel(p []uint8) (r, g, b float64) {
	r, g, b = float64(p[0]), float64(p[1]), float64(p[2])
	if p[3] < 255 {
		a := float64(p[3]) / 255
		r, g, b = blend(r, a), blend(g, a), blend(b, a)
	}
	return r, g, b
}

func blend(c, a float64) float64 { return 255 + (c-255)*a }

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

// toNRGBA returns img as a zero-origin NRGBA image.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
