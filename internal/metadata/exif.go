package metadata

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Info describes a single image file as seen before any processing.
type Info struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Format      string    `json:"format"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Orientation int       `json:"orientation"`
	Camera      string    `json:"camera,omitempty"`
	Taken       time.Time `json:"taken,omitempty"`
	HasEXIF     bool      `json:"has_exif"`
}

// Rotated reports whether the orientation tag swaps width and height.
func (i Info) Rotated() bool {
	return i.Orientation >= 5 && i.Orientation <= 8
}

// Orientation returns the EXIF orientation (1..8) of the image at path.
// Files without EXIF data, or without the tag, report 1.
func Orientation(path string) (int, error) {
	x, err := decodeEXIF(path)
	if err != nil {
		return 0, err
	}
	return orientationOf(x), nil
}

// Probe reads the header and EXIF block of path without decoding pixels.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat file: %w", err)
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read image header: %w", err)
	}

	info := Info{
		Path:        path,
		Size:        st.Size(),
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: 1,
	}

	x, err := decodeEXIF(path)
	if err != nil {
		return info, err
	}
	if x == nil {
		return info, nil
	}

	info.HasEXIF = true
	info.Orientation = orientationOf(x)
	info.Camera = cameraOf(x)
	if tm, err := x.DateTime(); err == nil {
		info.Taken = tm
	}
	return info, nil
}

// decodeEXIF returns nil and no error when the file is not a JPEG or simply
// carries no EXIF.
func decodeEXIF(path string) (*exif.Exif, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil || magic != [2]byte{0xFF, 0xD8} {
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind file: %w", err)
	}

	x, err := exif.Decode(f)
	if err != nil {
		if x != nil && !exif.IsCriticalError(err) {
			return x, nil
		}
		return nil, nil
	}
	return x, nil
}

func orientationOf(x *exif.Exif) int {
	if x == nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

func cameraOf(x *exif.Exif) string {
	var parts []string
	for _, name := range []exif.FieldName{exif.Make, exif.Model} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		if s, err := tag.StringVal(); err == nil && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, " ")
}
