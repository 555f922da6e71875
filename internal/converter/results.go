package converter

import (
	"sync"

	"frame-converter-go/internal/encoder"
)

// ConvertResult is the outcome for one requested format. A format that
// succeeded may still carry an Error when compression failed and the
// uncompressed artifact was kept.
type ConvertResult struct {
	Format         string  `json:"format"`
	Path           string  `json:"path"`
	Success        bool    `json:"success"`
	Error          string  `json:"error,omitempty"`
	ErrorKind      Kind    `json:"errorKind,omitempty"`
	OriginalSize   *uint64 `json:"originalSize,omitempty"`
	CompressedSize *uint64 `json:"compressedSize,omitempty"`
}

func (r *ConvertResult) fail(err error) {
	r.Success = false
	r.Error = err.Error()
	r.ErrorKind = classify(err)
}

// Aggregator collects one result per format in the order they were attempted.
type Aggregator struct {
	mu      sync.Mutex
	results []ConvertResult
}

// Add appends a result.
func (a *Aggregator) Add(r ConvertResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

// AddCancelled records formats that were never started because the job was
// cancelled.
func (a *Aggregator) AddCancelled(formats []encoder.Format, pathFor func(encoder.Format) string) {
	for _, f := range formats {
		a.Add(ConvertResult{
			Format:    string(f),
			Path:      pathFor(f),
			Error:     "conversion cancelled before this format started",
			ErrorKind: KindCancelled,
		})
	}
}

// Results returns a copy of the collected results.
func (a *Aggregator) Results() []ConvertResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConvertResult, len(a.results))
	copy(out, a.results)
	return out
}

// Succeeded returns how many formats succeeded.
func (a *Aggregator) Succeeded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.results {
		if r.Success {
			n++
		}
	}
	return n
}

func sizePtr(n int) *uint64 {
	v := uint64(n)
	return &v
}
