package compressor

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Codec decodes source images and encodes JPEG output.
type Codec interface {
	Decode(path string) (image.Image, error)
	EncodeJPEG(w io.Writer, img image.Image, quality int) error
}

// ImagingCodec is the Codec backed by disintegration/imaging. Decoding
// applies the EXIF orientation so the pixels come out upright.
type ImagingCodec struct{}

// Decode opens path and normalizes its orientation.
func (ImagingCodec) Decode(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

// EncodeJPEG writes img to w as a JPEG at the given quality.
func (ImagingCodec) EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}
