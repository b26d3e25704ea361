// Package imaging prepares uploaded images for storage and inference:
// EXIF orientation is applied, metadata is stripped by re-encoding, and
// unusual formats are transcoded to JPEG.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp" // registers the WebP decoder for DecodeConfig
)

const (
	// DefaultContentType is assumed when neither the bytes nor the upload
	// declare a type
	DefaultContentType = "image/jpeg"

	// TranscodeQuality is the JPEG quality used for re-encoding
	TranscodeQuality = 95
)

// Result is a normalized image. Width and Height are zero when the image
// could not be decoded.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// Normalized is false when the original bytes were kept
	Normalized bool
}

// DetectContentType sniffs data, falling back to declared and then to
// DefaultContentType.
func DetectContentType(data []byte, declared string) string {
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
		return mt.String()
	}
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return DefaultContentType
}

// Normalize applies EXIF orientation and re-encodes the image. PNG and JPEG
// keep their format, WebP is passed through unchanged and any other decodable
// image becomes a JPEG. On any failure the original bytes are returned with
// the declared type.
func Normalize(data []byte, declared string) Result {
	contentType := DetectContentType(data, declared)
	fallback := Result{Data: data, ContentType: fallbackType(declared, contentType)}
	fallback.Width, fallback.Height = Dimensions(data)

	if contentType == "image/webp" {
		fallback.ContentType = contentType
		return fallback
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fallback
	}

	var (
		format    imaging.Format
		outType   string
		encodeOpt []imaging.EncodeOption
	)
	switch contentType {
	case "image/png":
		format, outType = imaging.PNG, "image/png"
	default:
		format, outType = imaging.JPEG, "image/jpeg"
		encodeOpt = append(encodeOpt, imaging.JPEGQuality(TranscodeQuality))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, encodeOpt...); err != nil {
		return fallback
	}

	bounds := img.Bounds()
	return Result{
		Data:        buf.Bytes(),
		ContentType: outType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Normalized:  true,
	}
}

func fallbackType(declared, detected string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return detected
}

// Dimensions reads the image header. It returns zeros for unknown formats.
func Dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// FitDimensions scales width x height so that the longer side equals target,
// keeping the aspect ratio. Square and portrait images pin the height.
// Unknown dimensions yield target x target.
func FitDimensions(width, height, target int) (int, int) {
	if width <= 0 || height <= 0 {
		return target, target
	}

	aspect := float64(width) / float64(height)
	if aspect > 1 {
		return target, atLeastOne(math.Round(float64(target) / aspect))
	}
	return atLeastOne(math.Round(float64(target) * aspect)), target
}

func atLeastOne(v float64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}

// Extension returns the file extension for a generated image content type
func Extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	default:
		return "webp"
	}
}

// Describe is used in log fields
func (r Result) Describe() string {
	return fmt.Sprintf("%s %dx%d (%d bytes)", r.ContentType, r.Width, r.Height, len(r.Data))
}
