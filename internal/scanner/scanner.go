// Package scanner discovers candidate frames and probes their headers.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/maruel/natural"
	"github.com/panjf2000/ants/v2"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"frame-converter-go/internal/logger"

	// Decoders for header probing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// InputMode selects how the input path is interpreted.
type InputMode string

const (
	ModeFolder InputMode = "folder"
	ModeFile   InputMode = "file"
)

var (
	ErrNotFound = errors.New("input not found")
	ErrIO       = errors.New("input not readable")
)

// DefaultExtensions are the frame extensions accepted in folder mode.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif", ".apng"}

// FrameFile is one probed input frame.
type FrameFile struct {
	Path     string `json:"path"`
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	ByteSize uint64 `json:"byteSize"`
}

// Size is a frame's pixel dimensions.
type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// ScanResult is the outcome of a scan. BaseSize is set only when every frame
// has the first frame's dimensions.
type ScanResult struct {
	Files       []FrameFile `json:"files"`
	Total       int         `json:"total"`
	AllSameSize bool        `json:"allSameSize"`
	BaseSize    *Size       `json:"baseSize,omitempty"`
}

// Options configures a Scanner.
type Options struct {
	Workers    int
	Extensions []string
	Cache      *ProbeCache
}

// Scanner finds frame files and reads their dimensions without decoding pixels.
type Scanner struct {
	logger  *logrus.Logger
	workers int
	exts    map[string]struct{}
	cache   *ProbeCache
}

// New returns a Scanner.
func New(log *logrus.Logger, opts Options) *Scanner {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Scanner{logger: log, workers: workers, exts: set, cache: opts.Cache}
}

// Cache returns the probe cache, which may be nil.
func (s *Scanner) Cache() *ProbeCache { return s.cache }

// Scan lists the frames for mode. In folder mode inputPath is a directory
// whose matching files are returned in natural order. In file mode
// inputPaths is used as given, or inputPath alone when inputPaths is empty.
// Files that cannot be probed are left out.
func (s *Scanner) Scan(ctx context.Context, mode InputMode, inputPath string, inputPaths []string) (*ScanResult, error) {
	var paths []string
	switch mode {
	case ModeFolder:
		var err error
		if paths, err = s.listFolder(inputPath); err != nil {
			return nil, err
		}
	case ModeFile:
		paths = inputPaths
		if len(paths) == 0 && inputPath != "" {
			paths = []string{inputPath}
		}
	default:
		return nil, fmt.Errorf("unknown input mode %q", mode)
	}

	files, err := s.probeAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{Files: files, Total: len(files), AllSameSize: true}
	for _, f := range files[min(1, len(files)):] {
		if f.Width != files[0].Width || f.Height != files[0].Height {
			res.AllSameSize = false
			break
		}
	}
	if res.AllSameSize && res.Total > 0 {
		res.BaseSize = &Size{Width: files[0].Width, Height: files[0].Height}
	}

	s.logger.WithFields(logrus.Fields{
		"mode":          mode,
		"input":         inputPath,
		"total":         res.Total,
		"all_same_size": res.AllSameSize,
	}).Info("Scan completed")
	return res, nil
}

func (s *Scanner) listFolder(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := s.exts[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return natural.Less(names[i], names[j]) })

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// probeAll probes paths on a bounded pool. Results keep the input order.
func (s *Scanner) probeAll(ctx context.Context, paths []string) ([]FrameFile, error) {
	if len(paths) == 0 {
		return []FrameFile{}, nil
	}

	pool, err := ants.NewPool(min(s.workers, len(paths)))
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}
	defer pool.Release()

	probed := make([]*FrameFile, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			f, err := s.probe(p)
			if err != nil {
				logger.ForFrame(s.logger, i, len(paths), p).WithError(err).Warn("Skipping unreadable frame")
				return
			}
			probed[i] = &f
		})
		if err != nil {
			wg.Done()
			return nil, fmt.Errorf("submit probe: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := make([]FrameFile, 0, len(paths))
	for _, f := range probed {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files, nil
}

// probe reads a file's dimensions from its header.
func (s *Scanner) probe(path string) (FrameFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FrameFile{}, err
	}
	if !info.Mode().IsRegular() {
		return FrameFile{}, fmt.Errorf("not a regular file")
	}
	if f, ok := s.cache.Get(path, info); ok {
		return f, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return FrameFile{}, err
	}
	defer file.Close()

	header := make([]byte, 261)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FrameFile{}, err
	}
	if !filetype.IsImage(header[:n]) {
		return FrameFile{}, fmt.Errorf("not an image")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return FrameFile{}, err
	}

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return FrameFile{}, fmt.Errorf("decode header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return FrameFile{}, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	// Frames are decoded upright, so report the dimensions they decode to.
	if format == "jpeg" && transposed(file) {
		cfg.Width, cfg.Height = cfg.Height, cfg.Width
	}

	f := FrameFile{
		Path:     path,
		Width:    uint32(cfg.Width),
		Height:   uint32(cfg.Height),
		ByteSize: uint64(info.Size()),
	}
	s.cache.Put(path, info, f)
	return f, nil
}

// transposed reports whether the JPEG's EXIF orientation (5 to 8) swaps its
// width and height once applied. Missing or unreadable EXIF counts as upright.
func transposed(r io.ReadSeeker) bool {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	x, err := exif.Decode(r)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return false
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return false
	}
	return orientation >= 5 && orientation <= 8
}
