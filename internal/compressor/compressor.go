package compressor

import (
	"context"
	"errors"
	"time"

	"imgbatch/internal/batch"
)

const (
	// DefaultEligibilityThreshold is the size above which a file is recompressed
	// instead of copied.
	DefaultEligibilityThreshold int64 = 100 * 1024
	// DefaultSizeCeiling is the size the quality loop tries to get under.
	DefaultSizeCeiling int64 = 70 * 1024
	// DefaultQualityStep is how much quality drops on each retry.
	DefaultQualityStep = 10
)

var (
	// ErrInvalidQuality is returned when the initial quality is outside 1..100.
	ErrInvalidQuality = errors.New("quality must be between 1 and 100")
	// ErrAborted is returned when a batch stops early under the Abort policy.
	ErrAborted = errors.New("batch aborted")
)

// Action describes what happened to a single file.
type Action string

const (
	ActionCompressed Action = "compressed"
	ActionCopied     Action = "copied"
	ActionFailed     Action = "failed"
)

// Settings holds the tunable thresholds of a compression run.
type Settings struct {
	EligibilityThreshold int64
	SizeCeiling          int64
	QualityStep          int
	Extensions           []string
	IgnoreCase           bool
	OnError              batch.ErrorPolicy
	// ReuseDecoded keeps the first decode in memory for retries instead of
	// decoding the source again on every attempt.
	ReuseDecoded     bool
	PreserveMetadata bool
}

// DefaultSettings returns Settings with the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		EligibilityThreshold: DefaultEligibilityThreshold,
		SizeCeiling:          DefaultSizeCeiling,
		QualityStep:          DefaultQualityStep,
		Extensions:           append([]string(nil), batch.DefaultExtensions...),
		OnError:              batch.Continue,
	}
}

func (s Settings) withDefaults() Settings {
	if s.EligibilityThreshold <= 0 {
		s.EligibilityThreshold = DefaultEligibilityThreshold
	}
	if s.SizeCeiling <= 0 {
		s.SizeCeiling = DefaultSizeCeiling
	}
	if s.QualityStep <= 0 {
		s.QualityStep = DefaultQualityStep
	}
	if len(s.Extensions) == 0 {
		s.Extensions = append([]string(nil), batch.DefaultExtensions...)
	}
	return s
}

// Job describes one compression run over a source directory.
type Job struct {
	SourceDir   string
	TargetDir   string
	Quality     int
	CompressAll bool
	Settings    Settings

	// Found, if set, is called once with the size of the source snapshot,
	// before any file is written.
	Found func(files int)
	// Observer, if set, is called with every outcome as soon as it is known.
	Observer func(Outcome)
}

// Outcome is the result of processing one source file.
type Outcome struct {
	Source       string
	Target       string
	Action       Action
	OriginalSize int64
	FinalSize    int64
	FinalQuality int
	Attempts     int
	Fallback     bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Err          *batch.FileError
}

// Retries returns how many encodes happened after the first one.
func (o Outcome) Retries() int {
	if o.Attempts <= 1 {
		return 0
	}
	return o.Attempts - 1
}

// Compressor defines the interface for batch image compression.
type Compressor interface {
	// Compress processes every eligible file in job.SourceDir and returns one
	// outcome per file in directory order.
	Compress(ctx context.Context, job Job) ([]Outcome, error)
}

// MetadataPreserver copies tags from an original file onto its recompressed copy.
type MetadataPreserver interface {
	Preserve(src, dst string) error
}
