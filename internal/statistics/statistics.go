package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics accumulates counters across conversion jobs.
type Statistics struct {
	JobsStarted   int64
	JobsCompleted int64
	JobsFailed    int64
	JobsCancelled int64

	FramesScanned int64
	FramesEncoded int64

	FormatsSucceeded int64
	FormatsFailed    int64

	BytesEncoded      int64
	BytesWritten      int64
	CompressionRuns   int64
	CompressionErrors int64

	CacheHits    int64
	CacheMisses  int64
	CacheHitRate float64

	StartTime time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// StatError is one recorded failure.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

func (s *Statistics) IncrementJobsStarted()   { atomic.AddInt64(&s.JobsStarted, 1) }
func (s *Statistics) IncrementJobsCompleted() { atomic.AddInt64(&s.JobsCompleted, 1) }
func (s *Statistics) IncrementJobsFailed()    { atomic.AddInt64(&s.JobsFailed, 1) }
func (s *Statistics) IncrementJobsCancelled() { atomic.AddInt64(&s.JobsCancelled, 1) }

// AddFramesScanned adds n probed frames.
func (s *Statistics) AddFramesScanned(n int) {
	atomic.AddInt64(&s.FramesScanned, int64(n))
}

// AddFramesEncoded adds n encoded frames.
func (s *Statistics) AddFramesEncoded(n int) {
	atomic.AddInt64(&s.FramesEncoded, int64(n))
}

// RecordFormat counts a finished format and the bytes it produced.
func (s *Statistics) RecordFormat(format string, success bool, encoded, written int64) {
	if success {
		atomic.AddInt64(&s.FormatsSucceeded, 1)
		atomic.AddInt64(&s.BytesEncoded, encoded)
		atomic.AddInt64(&s.BytesWritten, written)
	} else {
		atomic.AddInt64(&s.FormatsFailed, 1)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

// RecordCompression counts a compression pass.
func (s *Statistics) RecordCompression(err error) {
	atomic.AddInt64(&s.CompressionRuns, 1)
	if err != nil {
		atomic.AddInt64(&s.CompressionErrors, 1)
	}
}

// SetCacheStats stores the probe cache counters.
func (s *Statistics) SetCacheStats(hits, misses int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.CacheHits = hits
	s.CacheMisses = misses
	if total := hits + misses; total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize records the elapsed time.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Duration = time.Since(s.StartTime)
}

// BytesSaved returns encoded minus written bytes over successful formats.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesEncoded) - atomic.LoadInt64(&s.BytesWritten)
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`Frame Converter Statistics Summary:

Jobs:
		Started: %d
		Completed: %d
		Failed: %d
		Cancelled: %d

Frames:
		Scanned: %d
		Encoded: %d

Formats:
		Succeeded: %d
		Failed: %d

Output:
		Encoded: %s
		Written: %s
		Saved: %s
		Compression Runs: %d
		Compression Errors: %d

Cache:
		Hits: %d
		Misses: %d
		Hit Rate: %.2f%%

Duration: %v`,
		atomic.LoadInt64(&s.JobsStarted),
		atomic.LoadInt64(&s.JobsCompleted),
		atomic.LoadInt64(&s.JobsFailed),
		atomic.LoadInt64(&s.JobsCancelled),
		atomic.LoadInt64(&s.FramesScanned),
		atomic.LoadInt64(&s.FramesEncoded),
		atomic.LoadInt64(&s.FormatsSucceeded),
		atomic.LoadInt64(&s.FormatsFailed),
		formatBytes(atomic.LoadInt64(&s.BytesEncoded)),
		formatBytes(atomic.LoadInt64(&s.BytesWritten)),
		formatBytes(s.BytesSaved()),
		atomic.LoadInt64(&s.CompressionRuns),
		atomic.LoadInt64(&s.CompressionErrors),
		s.CacheHits,
		s.CacheMisses,
		s.CacheHitRate*100,
		s.Duration)
}

// GetFormatBreakdown returns how many times each format was attempted.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	formats := make([]string, 0, len(s.FormatStats))
	for f := range s.FormatStats {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	var b strings.Builder
	b.WriteString("Format Breakdown:\n")
	for _, f := range formats {
		fmt.Fprintf(&b, "  %s: %d\n", f, s.FormatStats[f])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	return formatBytes(bytes)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	sign := ""
	if bytes < 0 {
		sign, bytes = "-", -bytes
	}
	if bytes < unit {
		return fmt.Sprintf("%s%d B", sign, bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %cB", sign, float64(bytes)/float64(div), "KMGTPE"[exp])
}
