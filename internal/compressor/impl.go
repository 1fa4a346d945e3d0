package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"imgbatch/internal/batch"
	"imgbatch/internal/logger"

	"github.com/sirupsen/logrus"
)

// DefaultCompressor is the default implementation of the Compressor interface.
// Files are processed one at a time in directory order.
type DefaultCompressor struct {
	log       *logrus.Logger
	codec     Codec
	preserver MetadataPreserver
}

// Option configures a DefaultCompressor.
type Option func(*DefaultCompressor)

// WithCodec replaces the imaging-backed codec.
func WithCodec(codec Codec) Option {
	return func(c *DefaultCompressor) {
		c.codec = codec
	}
}

// WithMetadataPreserver sets the preserver used when Settings.PreserveMetadata is on.
func WithMetadataPreserver(p MetadataPreserver) Option {
	return func(c *DefaultCompressor) {
		c.preserver = p
	}
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(log *logrus.Logger, opts ...Option) *DefaultCompressor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &DefaultCompressor{
		log:   log,
		codec: ImagingCodec{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress performs image compression according to the provided job.
func (c *DefaultCompressor) Compress(ctx context.Context, job Job) ([]Outcome, error) {
	if job.Quality < 1 || job.Quality > 100 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuality, job.Quality)
	}
	settings := job.Settings.withDefaults()

	files, err := batch.Snapshot(job.SourceDir, settings.Extensions, settings.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}

	if err := batch.EnsureDir(job.TargetDir); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}
	if err := batch.CheckDistinct(job.SourceDir, job.TargetDir); err != nil {
		return nil, err
	}
	if job.Found != nil {
		job.Found(len(files))
	}

	c.log.WithFields(logrus.Fields{
		"source":       job.SourceDir,
		"target":       job.TargetDir,
		"files":        len(files),
		"quality":      job.Quality,
		"compress_all": job.CompressAll,
	}).Info("Starting compression")

	outcomes := make([]Outcome, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		out := c.compressOne(file, job, settings)
		outcomes = append(outcomes, out)
		if job.Observer != nil {
			job.Observer(out)
		}

		if out.Err != nil && settings.OnError == batch.Abort {
			c.log.WithField("file", file.Path).Warn("Stopping batch after failure")
			return outcomes, fmt.Errorf("%w: %w", ErrAborted, out.Err)
		}
	}

	c.log.WithField("files", len(outcomes)).Info("Compression finished")
	return outcomes, nil
}

func (c *DefaultCompressor) eligible(file batch.File, job Job, settings Settings) bool {
	return job.CompressAll || file.Size > settings.EligibilityThreshold
}

// compressOne either recompresses or copies a single file.
func (c *DefaultCompressor) compressOne(file batch.File, job Job, settings Settings) Outcome {
	out := Outcome{
		Source:       file.Path,
		Target:       batch.TargetPath(job.TargetDir, file.Name),
		OriginalSize: file.Size,
		StartedAt:    time.Now(),
	}

	if !c.eligible(file, job, settings) {
		entry := logger.WithFileOperation(c.log, file.Path, "copy")
		if err := batch.CopyVerbatim(file.Path, out.Target); err != nil {
			return c.fail(entry, out, batch.Classify("copy", file.Path, err, batch.IOError))
		}
		out.Action = ActionCopied
		out.Fallback = true
		out.FinalSize = file.Size
		out.FinishedAt = time.Now()
		entry.WithField("size", file.Size).Debug("Below eligibility threshold, copied verbatim")
		return out
	}

	entry := logger.WithFileOperation(c.log, file.Path, "compress")
	var cached image.Image

	decode := func() (image.Image, error) {
		if settings.ReuseDecoded && cached != nil {
			return cached, nil
		}
		img, err := c.codec.Decode(file.Path)
		if err != nil {
			return nil, batch.Classify("decode", file.Path, err, batch.DecodeError)
		}
		if settings.ReuseDecoded {
			cached = img
		}
		return img, nil
	}

	attempt := func(quality int) (int64, error) {
		img, err := decode()
		if err != nil {
			return 0, err
		}
		var buf bytes.Buffer
		if err := c.codec.EncodeJPEG(&buf, img, quality); err != nil {
			return 0, batch.Classify("encode", file.Path, err, batch.EncodeError)
		}
		if err := os.WriteFile(out.Target, buf.Bytes(), 0644); err != nil {
			return 0, batch.Classify("write", out.Target, err, batch.IOError)
		}
		info, err := os.Stat(out.Target)
		if err != nil {
			return 0, batch.Classify("stat", out.Target, err, batch.IOError)
		}
		entry.WithFields(logrus.Fields{"quality": quality, "size": info.Size()}).Debug("Encoded")
		return info.Size(), nil
	}

	search, err := SearchQuality(job.Quality, settings.SizeCeiling, settings.QualityStep, attempt)
	out.FinalQuality = search.FinalQuality
	out.FinalSize = search.FinalSize
	out.Attempts = search.Attempts
	if err != nil {
		return c.fail(entry, out, batch.Classify("compress", file.Path, err, batch.IOError))
	}

	if settings.PreserveMetadata && c.preserver != nil {
		if err := c.preserver.Preserve(file.Path, out.Target); err != nil {
			entry.WithError(err).Warn("Metadata not preserved")
		} else if info, err := os.Stat(out.Target); err == nil {
			if out.FinalSize <= settings.SizeCeiling && info.Size() > settings.SizeCeiling {
				entry.WithFields(logrus.Fields{
					"encoded_size": out.FinalSize,
					"final_size":   info.Size(),
				}).Warn("Preserved metadata pushed file over size ceiling")
			}
			out.FinalSize = info.Size()
		}
	}

	out.Action = ActionCompressed
	out.FinishedAt = time.Now()

	fields := logrus.Fields{
		"original_size": out.OriginalSize,
		"final_size":    out.FinalSize,
		"quality":       out.FinalQuality,
		"attempts":      out.Attempts,
	}
	if out.FinalSize > settings.SizeCeiling {
		entry.WithFields(fields).Warn("Could not reach size ceiling, kept last attempt")
	} else {
		entry.WithFields(fields).Info("Image compressed")
	}
	return out
}

func (c *DefaultCompressor) fail(entry *logrus.Entry, out Outcome, fe *batch.FileError) Outcome {
	out.Action = ActionFailed
	out.Err = fe
	out.FinishedAt = time.Now()
	entry.WithFields(logrus.Fields{
		"kind": fe.Kind.String(),
	}).WithError(fe.Err).Error("Processing failed")
	return out
}
