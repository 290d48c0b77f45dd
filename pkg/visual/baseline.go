package visual

import (
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDecodedBaselines bounds how many decoded baselines are held in memory.
const DefaultDecodedBaselines = 16

// DefaultListPattern matches every baseline.
const DefaultListPattern = "**/*.png"

// BaselineStats reports decoded-image cache activity.
type BaselineStats struct {
	Cached        int   `json:"cached"`
	Loads         int64 `json:"loads"`
	Hits          int64 `json:"hits"`
	Invalidations int64 `json:"invalidations"`
}

// BaselineStore owns the directory of reference screenshots. Baselines are
// named by test, e.g. "HeroButton-desktop", and stored as <dir>/<name>.png.
//
// Decoded baselines are cached in memory. Watch keeps that cache honest when
// files change underneath it.
type BaselineStore struct {
	dir     string
	logger  *slog.Logger
	decoded *lru.Cache[string, image.Image]

	loads         atomic.Int64
	hits          atomic.Int64
	invalidations atomic.Int64

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopped  bool
}

// NewBaselineStore creates dir if needed and returns a store rooted there.
func NewBaselineStore(dir string, logger *slog.Logger) (*BaselineStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve baseline dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create baseline dir: %w", err)
	}
	decoded, err := lru.New[string, image.Image](DefaultDecodedBaselines)
	if err != nil {
		return nil, err
	}
	return &BaselineStore{
		dir:     abs,
		logger:  logger.With("component", "baselines"),
		decoded: decoded,
	}, nil
}

// Dir returns the absolute baseline directory.
func (s *BaselineStore) Dir() string { return s.dir }

// Path returns the file a baseline named name lives at.
func (s *BaselineStore) Path(name string) string {
	name = strings.TrimSuffix(filepath.Base(name), ".png")
	return filepath.Join(s.dir, name+".png")
}

// Exists reports whether a baseline has been established for name.
func (s *BaselineStore) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Establish copies candidatePath into the baseline slot for name and returns
// the baseline path. The copy is written to a temp file and renamed into place.
func (s *BaselineStore) Establish(name, candidatePath string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	src, err := OpenMapped(candidatePath)
	if err != nil {
		return "", fmt.Errorf("read candidate: %w", err)
	}
	data := src.Bytes()
	if err := src.Close(); err != nil {
		s.logger.Debug("candidate close failed", "path", candidatePath, "error", err)
	}

	dst := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, ".baseline-*")
	if err != nil {
		return "", fmt.Errorf("create temp baseline: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write baseline: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("install baseline: %w", err)
	}

	s.invalidate(dst)
	s.logger.Info("baseline established", "name", name, "path", dst)
	return dst, nil
}

// List returns baseline names matching a doublestar pattern relative to the
// store directory. An empty pattern lists everything.
func (s *BaselineStore) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultListPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid baseline pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(s.dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !strings.HasSuffix(m, ".png") || strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(m, ".png"))
	}
	sort.Strings(names)
	return names, nil
}

// Image decodes the baseline at path, serving repeat reads from memory.
// Paths outside the store are decoded directly and never cached.
func (s *BaselineStore) Image(path string) (image.Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil || !s.owns(abs) {
		return LoadPNG(path)
	}
	if img, ok := s.decoded.Get(abs); ok {
		s.hits.Add(1)
		return img, nil
	}
	img, err := LoadPNG(abs)
	if err != nil {
		return nil, err
	}
	s.loads.Add(1)
	s.decoded.Add(abs, img)
	return img, nil
}

// Stats returns cache counters.
func (s *BaselineStore) Stats() BaselineStats {
	return BaselineStats{
		Cached:        s.decoded.Len(),
		Loads:         s.loads.Load(),
		Hits:          s.hits.Load(),
		Invalidations: s.invalidations.Load(),
	}
}

// Watch starts an fsnotify watcher on the store directory that drops decoded
// images whenever their file is written, replaced or removed.
func (s *BaselineStore) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("baseline watcher already stopped")
	}
	if s.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create baseline watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	s.watcher = w
	s.stopChan = make(chan struct{})
	go s.eventLoop(w, s.stopChan)

	s.logger.Debug("baseline watcher started", "dir", s.dir)
	return nil
}

// Close stops the watcher. It is safe to call more than once.
func (s *BaselineStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.watcher == nil {
		return nil
	}
	close(s.stopChan)
	return s.watcher.Close()
}

func (s *BaselineStore) eventLoop(w *fsnotify.Watcher, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".png") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.logger.Debug("baseline changed", "op", event.Op.String(), "file", event.Name)
				s.invalidate(event.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("baseline watcher error", "error", err)
		}
	}
}

func (s *BaselineStore) invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if s.decoded.Remove(abs) {
		s.invalidations.Add(1)
	}
}

func (s *BaselineStore) owns(abs string) bool {
	rel, err := filepath.Rel(s.dir, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || !fs.ValidPath(name) {
		return fmt.Errorf("invalid baseline name %q", name)
	}
	return nil
}
