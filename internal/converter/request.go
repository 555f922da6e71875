package converter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"frame-converter-go/internal/encoder"
	"frame-converter-go/internal/scanner"
)

// Request describes one conversion job.
type Request struct {
	InputMode  scanner.InputMode `json:"inputMode"`
	InputPath  string            `json:"inputPath"`
	InputPaths []string          `json:"inputPaths,omitempty"`
	OutputDir  string            `json:"outputDir"`
	OutputName string            `json:"outputName,omitempty"`

	FPS       float64          `json:"fps"`
	LoopCount uint32           `json:"loopCount"` // 0 = infinite
	Formats   []encoder.Format `json:"formats"`

	UseLocalCompression  bool `json:"useLocalCompression"`
	UseRemoteCompression bool `json:"useRemoteCompression"`
	CompressionQuality   int  `json:"compressionQuality"`
}

// Validate checks the request fields that do not need the file system.
// Duplicate formats are dropped, keeping the first occurrence.
func (r *Request) Validate() error {
	switch r.InputMode {
	case scanner.ModeFolder:
		if strings.TrimSpace(r.InputPath) == "" {
			return validationErrorf("input folder is required")
		}
	case scanner.ModeFile:
		if len(r.InputPaths) == 0 && strings.TrimSpace(r.InputPath) == "" {
			return validationErrorf("at least one input file is required")
		}
	default:
		return validationErrorf("unknown input mode %q", r.InputMode)
	}

	if strings.TrimSpace(r.OutputDir) == "" {
		return validationErrorf("output directory is required")
	}
	if r.OutputName != "" && (strings.ContainsAny(r.OutputName, `/\`) || r.OutputName == "." || r.OutputName == "..") {
		return validationErrorf("output name %q must be a plain file name", r.OutputName)
	}
	if !(r.FPS > 0) || math.IsInf(r.FPS, 0) {
		return validationErrorf("fps must be a positive number, got %v", r.FPS)
	}
	if r.CompressionQuality < 1 || r.CompressionQuality > 100 {
		return validationErrorf("compression quality must be within 1-100, got %d", r.CompressionQuality)
	}

	if len(r.Formats) == 0 {
		return validationErrorf("at least one output format is required")
	}
	seen := make(map[encoder.Format]bool, len(r.Formats))
	formats := make([]encoder.Format, 0, len(r.Formats))
	for _, f := range r.Formats {
		parsed, err := encoder.ParseFormat(string(f))
		if err != nil {
			return newError(KindValidation, "validate", err)
		}
		if !seen[parsed] {
			seen[parsed] = true
			formats = append(formats, parsed)
		}
	}
	r.Formats = formats
	return nil
}

// ensureOutputDir creates dir if needed and checks that it is writable.
func ensureOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return validationErrorf("create output directory: %v", err)
	}
	probe, err := os.CreateTemp(dir, ".frame-converter-*")
	if err != nil {
		return validationErrorf("output directory %s is not writable: %v", dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

var sequenceSuffix = regexp.MustCompile(`[_\-. ]*\d+$`)

// DeriveOutputName returns "{base}_{w}x{h}" where base is the first input's
// file name without its extension and trailing frame number.
func DeriveOutputName(firstInput string, width, height uint32) string {
	stem := strings.TrimSuffix(filepath.Base(firstInput), filepath.Ext(firstInput))
	base := sequenceSuffix.ReplaceAllString(stem, "")
	if base == "" {
		base = stem
	}
	if base == "" {
		base = "output"
	}
	return fmt.Sprintf("%s_%dx%d", base, width, height)
}
