package metadata

import (
	"fmt"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"
)

// preservedTags are copied from the original onto the recompressed file.
// Orientation is deliberately absent: the pixels are already upright.
var preservedTags = []string{
	"Make", "Model", "LensModel", "Software", "Artist", "Copyright",
	"ImageDescription", "UserComment",
	"DateTimeOriginal", "CreateDate", "ModifyDate", "OffsetTimeOriginal",
	"ExposureTime", "FNumber", "ISO", "FocalLength", "Flash", "WhiteBalance",
}

// preservedPrefixes select whole tag families (GPSLatitude, GPSLongitude, ...).
var preservedPrefixes = []string{"GPS"}

// Preserver copies descriptive EXIF tags between files through a long-running
// exiftool process. It is safe for sequential use from one goroutine at a time.
type Preserver struct {
	et *exiftool.Exiftool
	mu sync.Mutex
}

// NewPreserver starts exiftool. It fails when the exiftool binary is not available.
func NewPreserver(opts ...func(*exiftool.Exiftool) error) (*Preserver, error) {
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &Preserver{et: et}, nil
}

// Preserve reads tags from src and writes the preserved subset onto dst.
func (p *Preserver) Preserve(src, dst string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	read := p.et.ExtractMetadata(src)
	if len(read) == 0 {
		return fmt.Errorf("exiftool returned nothing for %s", src)
	}
	if read[0].Err != nil {
		return fmt.Errorf("exiftool read %s: %w", src, read[0].Err)
	}

	out := exiftool.EmptyFileMetadata()
	out.File = dst
	for k, v := range read[0].Fields {
		if keepTag(k) && v != nil {
			out.Fields[k] = v
		}
	}
	if len(out.Fields) == 0 {
		return nil
	}

	write := []exiftool.FileMetadata{out}
	p.et.WriteMetadata(write)
	if write[0].Err != nil {
		return fmt.Errorf("exiftool write %s: %w", dst, write[0].Err)
	}
	return nil
}

// Close stops the exiftool process.
func (p *Preserver) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.et.Close()
}

func keepTag(name string) bool {
	for _, t := range preservedTags {
		if name == t {
			return true
		}
	}
	for _, prefix := range preservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
