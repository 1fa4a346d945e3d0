package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all statistics for a batch run.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesCopied         int64
	FilesTransformed    int64
	FilesWithErrors     int64

	QualityRetries int64
	OverCeiling    int64
	BytesIn        int64
	BytesOut       int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	QualityHistogram map[int]int64
	ErrorKinds       map[string]int64

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Kind      string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:        time.Now(),
		Errors:           make([]StatError, 0),
		QualityHistogram: make(map[int]int64),
		ErrorKinds:       make(map[string]int64),
	}
}

// SetFilesFound records the size of the source snapshot.
func (s *Statistics) SetFilesFound(n int) {
	atomic.StoreInt64(&s.TotalFilesFound, int64(n))
}

// RecordCompressed counts a file that went through the quality loop.
func (s *Statistics) RecordCompressed(bytesIn, bytesOut int64, quality, retries int, overCeiling bool) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.FilesCompressed, 1)
	atomic.AddInt64(&s.QualityRetries, int64(retries))
	atomic.AddInt64(&s.BytesIn, bytesIn)
	atomic.AddInt64(&s.BytesOut, bytesOut)
	if overCeiling {
		atomic.AddInt64(&s.OverCeiling, 1)
	}

	s.mutex.Lock()
	s.QualityHistogram[quality]++
	s.mutex.Unlock()
}

// RecordCopied counts a file copied verbatim.
func (s *Statistics) RecordCopied(size int64) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.FilesCopied, 1)
	atomic.AddInt64(&s.BytesIn, size)
	atomic.AddInt64(&s.BytesOut, size)
}

// RecordTransformed counts a file written by resize or convert.
func (s *Statistics) RecordTransformed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.FilesTransformed, 1)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, kind, errorMsg string) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.FilesWithErrors, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ErrorKinds[kind]++
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Kind:      kind,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// BytesSaved returns how many bytes the run saved overall.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesIn) - atomic.LoadInt64(&s.BytesOut)
}

// PercentageSaved returns the saved bytes as a percentage of the input.
func (s *Statistics) PercentageSaved() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(s.BytesSaved()) * 100 / float64(in)
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	fps := s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Batch Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Compressed: %d
		Copied: %d
		Transformed: %d
		Errors: %d

Compression:
		Quality Retries: %d
		Above Ceiling: %d
		Bytes In: %s
		Bytes Out: %s
		Saved: %s (%.1f%%)

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesCopied),
		atomic.LoadInt64(&s.FilesTransformed),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.QualityRetries),
		atomic.LoadInt64(&s.OverCeiling),
		FormatBytes(atomic.LoadInt64(&s.BytesIn)),
		FormatBytes(atomic.LoadInt64(&s.BytesOut)),
		FormatBytes(s.BytesSaved()),
		s.PercentageSaved(),
		duration,
		fps)
}

// GetQualityBreakdown returns how many files ended at each quality level.
func (s *Statistics) GetQualityBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.QualityHistogram) == 0 {
		return "No files were compressed"
	}

	qualities := make([]int, 0, len(s.QualityHistogram))
	for q := range s.QualityHistogram {
		qualities = append(qualities, q)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(qualities)))

	var b strings.Builder
	b.WriteString("Final Quality Breakdown:\n")
	for _, q := range qualities {
		fmt.Fprintf(&b, "  q%d: %d\n", q, s.QualityHistogram[q])
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
		result += fmt.Sprintf("  [%s] %s/%s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Kind,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetFilesWithErrors returns the total number of files with errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	return atomic.LoadInt64(&s.FilesWithErrors)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}

// Snapshot returns the counters as a map, for JSON responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_found":     atomic.LoadInt64(&s.TotalFilesFound),
		"total_processed": atomic.LoadInt64(&s.TotalFilesProcessed),
		"compressed":      atomic.LoadInt64(&s.FilesCompressed),
		"copied":          atomic.LoadInt64(&s.FilesCopied),
		"transformed":     atomic.LoadInt64(&s.FilesTransformed),
		"errors":          atomic.LoadInt64(&s.FilesWithErrors),
		"quality_retries": atomic.LoadInt64(&s.QualityRetries),
		"over_ceiling":    atomic.LoadInt64(&s.OverCeiling),
		"bytes_in":        atomic.LoadInt64(&s.BytesIn),
		"bytes_out":       atomic.LoadInt64(&s.BytesOut),
	}
}
