package visual

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	"github.com/gnana997/designflow/pkg/remote"
)

// mmapFailures counts files that could not be mapped and were read instead.
var mmapFailures atomic.Int64

// MappedFile is a read-only view of a file on disk.
type MappedFile struct {
	Path string

	// Data is the mapped region, or a heap copy when mapping failed.
	// Nil for empty files.
	Data mmap.MMap

	file   *os.File
	mapped bool
}

// OpenMapped maps path read-only, falling back to os.ReadFile when mmap fails.
// Callers must Close the result.
func OpenMapped(path string) (*MappedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if stat.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%q is a directory", path)
	}

	// zero-length files cannot be mapped
	if stat.Size() == 0 {
		file.Close()
		return &MappedFile{Path: path}, nil
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		mmapFailures.Add(1)

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("mmap failed and fallback failed for %q: mmap error: %v, read error: %w", path, err, readErr)
		}
		return &MappedFile{Path: path, Data: mmap.MMap(raw)}, nil
	}

	return &MappedFile{Path: path, Data: data, file: file, mapped: true}, nil
}

// Bytes returns a heap copy of the file contents, safe to use after Close.
func (m *MappedFile) Bytes() []byte {
	return bytes.Clone([]byte(m.Data))
}

// Close unmaps the region and closes the descriptor.
func (m *MappedFile) Close() error {
	var errs []error
	if m.mapped && m.Data != nil {
		if err := m.Data.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmap %q: %w", m.Path, err))
		}
		m.Data = nil
		m.mapped = false
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", m.Path, err))
		}
		m.file = nil
	}
	return errors.Join(errs...)
}

// LoadPNG decodes the PNG at path. A missing file is NotFound and anything that
// does not decode as PNG is InvalidInput.
func LoadPNG(path string) (image.Image, error) {
	const op = "visual.load"

	mf, err := OpenMapped(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &remote.Error{Kind: remote.KindNotFound, Op: op, Message: fmt.Sprintf("image %q does not exist", path), Err: err}
		}
		return nil, &remote.Error{Kind: remote.KindInternal, Op: op, Message: err.Error(), Err: err}
	}
	defer mf.Close()

	// png.Decode copies pixels out, so the mapping can go once it returns.
	img, err := png.Decode(bytes.NewReader(mf.Data))
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindInvalidInput, Op: op, Message: fmt.Sprintf("%q is not a valid PNG: %v", path, err), Err: err}
	}
	return img, nil
}

// MmapFailures reports how many loads fell back to a plain read.
func MmapFailures() int64 {
	return mmapFailures.Load()
}
