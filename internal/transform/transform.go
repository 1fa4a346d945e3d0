package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"imgbatch/internal/batch"
	"imgbatch/internal/logger"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidBounds is returned when a resize has neither width nor height.
	ErrInvalidBounds = errors.New("width and height must not both be zero")
	// ErrInvalidFormat is returned for a target format imaging cannot encode.
	ErrInvalidFormat = errors.New("unsupported output format")
)

// Result is the outcome of resizing or converting one file.
type Result struct {
	Source string
	Target string
	Width  int
	Height int
	Err    *batch.FileError
}

// Selection picks the source files of a transform run.
type Selection struct {
	SourceDir  string
	TargetDir  string
	Extensions []string
	IgnoreCase bool
	OnError    batch.ErrorPolicy

	// Found, if set, receives the size of the source snapshot before any write.
	Found func(files int)
	// Observer, if set, is called with every result as soon as it is known.
	Observer func(Result)
}

// ResizeJob fits every image inside Width x Height.
// A zero bound is derived from the other one.
type ResizeJob struct {
	Selection
	Width  int
	Height int
}

// ConvertJob re-encodes every image as Format ("png", "jpg", "gif", "tif", "bmp").
type ConvertJob struct {
	Selection
	Format  string
	Quality int
}

// Transformer runs resize and convert batches.
type Transformer struct {
	log *logrus.Logger
}

// NewTransformer returns a Transformer that logs through log.
func NewTransformer(log *logrus.Logger) *Transformer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transformer{log: log}
}

// Resize scales every selected image, up or down, to the largest size that
// fits the job's bounds with the aspect ratio kept, using the Lanczos filter.
// Output keeps the source file name.
func (t *Transformer) Resize(ctx context.Context, job ResizeJob) ([]Result, error) {
	if job.Width < 0 || job.Height < 0 || (job.Width == 0 && job.Height == 0) {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInvalidBounds, job.Width, job.Height)
	}

	return t.run(ctx, "resize", job.Selection, func(f batch.File) (string, image.Image, error) {
		img, err := imaging.Open(f.Path, imaging.AutoOrientation(true))
		if err != nil {
			return "", nil, batch.Classify("decode", f.Path, err, batch.DecodeError)
		}
		return batch.TargetPath(job.TargetDir, f.Name), fit(img, job.Width, job.Height), nil
	}, nil)
}

// Convert re-encodes every selected image into job.Format, writing
// <stem>.<format> into the target directory.
func (t *Transformer) Convert(ctx context.Context, job ConvertJob) ([]Result, error) {
	ext, err := NormalizeFormat(job.Format)
	if err != nil {
		return nil, err
	}
	if job.Quality < 0 || job.Quality > 100 {
		return nil, fmt.Errorf("%w: quality %d", ErrInvalidFormat, job.Quality)
	}

	var opts []imaging.EncodeOption
	if job.Quality > 0 {
		opts = append(opts, imaging.JPEGQuality(job.Quality))
	}

	return t.run(ctx, "convert", job.Selection, func(f batch.File) (string, image.Image, error) {
		img, err := imaging.Open(f.Path, imaging.AutoOrientation(true))
		if err != nil {
			return "", nil, batch.Classify("decode", f.Path, err, batch.DecodeError)
		}
		stem := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		return filepath.Join(job.TargetDir, stem+"."+ext), img, nil
	}, opts)
}

// NormalizeFormat lowercases format, drops a leading dot and checks that
// imaging can encode it.
func NormalizeFormat(format string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(format, "."))
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
	return ext, nil
}

type produceFunc func(batch.File) (target string, img image.Image, err error)

func (t *Transformer) run(ctx context.Context, op string, sel Selection, produce produceFunc, opts []imaging.EncodeOption) ([]Result, error) {
	files, err := batch.Snapshot(sel.SourceDir, sel.Extensions, sel.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	if err := batch.EnsureDir(sel.TargetDir); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}
	if err := batch.CheckDistinct(sel.SourceDir, sel.TargetDir); err != nil {
		return nil, err
	}
	if sel.Found != nil {
		sel.Found(len(files))
	}

	logger.WithOperation(t.log, op).WithFields(logrus.Fields{
		"source": sel.SourceDir,
		"target": sel.TargetDir,
		"files":  len(files),
	}).Info("Starting batch")

	results := make([]Result, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		entry := logger.WithFileOperation(t.log, f.Path, op)
		res := Result{Source: f.Path}

		target, img, err := produce(f)
		if err == nil {
			res.Target = target
			res.Width = img.Bounds().Dx()
			res.Height = img.Bounds().Dy()
			if err = imaging.Save(img, target, opts...); err != nil {
				err = batch.Classify("encode", target, err, batch.EncodeError)
			}
		}

		if err != nil {
			res.Err = batch.Classify(op, f.Path, err, batch.IOError)
			entry.WithField("kind", res.Err.Kind.String()).WithError(res.Err.Err).Error("Processing failed")
			results = append(results, res)
			sel.observe(res)
			if sel.OnError == batch.Abort {
				return results, fmt.Errorf("%s aborted: %w", op, res.Err)
			}
			continue
		}

		entry.WithFields(logrus.Fields{"target": target, "width": res.Width, "height": res.Height}).Info("Image written")
		results = append(results, res)
		sel.observe(res)
	}
	return results, nil
}

func (s Selection) observe(r Result) {
	if s.Observer != nil {
		s.Observer(r)
	}
}

// fit scales img to the largest size inside w x h that keeps the aspect
// ratio, enlarging small images. A zero bound is treated as unconstrained.
func fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW == 0 || srcH == 0 {
		return img
	}

	scale := float64(w) / float64(srcW)
	if hs := float64(h) / float64(srcH); w == 0 || (h != 0 && hs < scale) {
		scale = hs
	}

	dstW := max(int(math.Round(float64(srcW)*scale)), 1)
	dstH := max(int(math.Round(float64(srcH)*scale)), 1)
	return imaging.Resize(img, dstW, dstH, imaging.Lanczos)
}
