// Package vision prepares chest radiographs for classification and provides a
// local intensity-based classifier for development use.
package vision

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/radprogressor-server/internal/domain"
)

// InputSize is the side length of the normalized square image.
const InputSize = 224

const dicomMagicOffset = 128

// Decode reads a PNG, JPEG or GIF image. DICOM input is rejected.
func Decode(r io.Reader, filename string) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(filename), ".dcm") {
		return nil, domain.NewValidationError("image", "DICOM input is not supported; upload PNG or JPEG", filename)
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(dicomMagicOffset + 4); err == nil && bytes.Equal(head[dicomMagicOffset:], []byte("DICM")) {
		return nil, domain.NewValidationError("image", "DICOM input is not supported; upload PNG or JPEG", filename)
	}

	head, _ := br.Peek(8)
	var (
		img image.Image
		err error
	)
	switch {
	case bytes.HasPrefix(head, []byte("\x89PNG")):
		img, err = png.Decode(br)
	case bytes.HasPrefix(head, []byte("\xff\xd8")):
		img, err = jpeg.Decode(br)
	case bytes.HasPrefix(head, []byte("GIF8")):
		img, err = gif.Decode(br)
	default:
		return nil, domain.NewValidationError("image", "unrecognized image format", filename)
	}
	if err != nil {
		return nil, domain.Wrap(domain.ErrInvalidInput, "failed to decode image", err)
	}
	return img, nil
}

// Normalize converts img to grayscale and scales it to InputSize×InputSize.
func Normalize(img image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, InputSize, InputSize))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// DecodeNormalized decodes and normalizes in one step.
func DecodeNormalized(r io.Reader, filename string) (*image.Gray, error) {
	img, err := Decode(r, filename)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, domain.NewValidationError("image", "image has no pixels", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))
	}
	return Normalize(img), nil
}

// EncodePNG serializes a grayscale image as PNG.
func EncodePNG(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
