package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"landscape", 800, 400, 1024, 512},
		{"portrait", 400, 800, 512, 1024},
		{"square", 500, 500, 1024, 1024},
		{"already large", 4000, 3000, 1024, 768},
		{"rounding", 1000, 3, 1024, 3},
		{"extreme", 100000, 1, 1024, 1},
		{"unknown", 0, 0, 1024, 1024},
		{"negative", -1, 10, 1024, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitDimensions(tt.width, tt.height, 1024)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestNormalize_PNGStaysPNG(t *testing.T) {
	result := Normalize(encodePNG(t, 80, 40), "image/png")

	assert.True(t, result.Normalized)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, 80, result.Width)
	assert.Equal(t, 40, result.Height)

	_, format, err := image.DecodeConfig(bytes.NewReader(result.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestNormalize_JPEGStaysJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(30, 60), nil))

	// a wrong declared type does not override the sniffed one
	result := Normalize(buf.Bytes(), "application/octet-stream")
	assert.True(t, result.Normalized)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, 30, result.Width)
}

func TestNormalize_GIFBecomesJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, solid(16, 16), nil))

	result := Normalize(buf.Bytes(), "image/gif")
	assert.True(t, result.Normalized)
	assert.Equal(t, "image/jpeg", result.ContentType)

	_, format, err := image.DecodeConfig(bytes.NewReader(result.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestNormalize_UndecodableKeepsOriginal(t *testing.T) {
	data := []byte("definitely not an image")
	result := Normalize(data, "image/heic")

	assert.False(t, result.Normalized)
	assert.Equal(t, data, result.Data)
	assert.Equal(t, "image/heic", result.ContentType)
	assert.Zero(t, result.Width)
}

func TestNormalize_WebPPassesThrough(t *testing.T) {
	// RIFF....WEBPVP8 header is enough for content sniffing
	data := append([]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), make([]byte, 24)...)
	result := Normalize(data, "")

	assert.False(t, result.Normalized)
	assert.Equal(t, "image/webp", result.ContentType)
	assert.Equal(t, data, result.Data)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/png", DetectContentType(encodePNG(t, 2, 2), "image/jpeg"))
	assert.Equal(t, "image/heic", DetectContentType([]byte("??"), "image/heic"))
	assert.Equal(t, DefaultContentType, DetectContentType([]byte("??"), ""))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("image/jpeg"))
	assert.Equal(t, "png", Extension("image/png"))
	assert.Equal(t, "webp", Extension("image/webp"))
	assert.Equal(t, "webp", Extension("application/octet-stream"))
}

func TestDimensions(t *testing.T) {
	w, h := Dimensions(encodePNG(t, 7, 3))
	assert.Equal(t, 7, w)
	assert.Equal(t, 3, h)

	w, h = Dimensions([]byte("nope"))
	assert.Zero(t, w)
	assert.Zero(t, h)
}
