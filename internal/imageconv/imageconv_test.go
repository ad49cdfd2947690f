package imageconv

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 200})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"png": PNG, "JPEG": JPG, ".jpg": JPG, "webp": WEBP, " SVG ": SVG}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("tiff")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestConvertPNGToJPG(t *testing.T) {
	out, err := Convert(samplePNG(t, 32, 16), JPG, Options{})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestConvertResizes(t *testing.T) {
	out, err := Convert(samplePNG(t, 64, 32), PNG, Options{MaxWidth: 16})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestConvertToWebPRoundTrips(t *testing.T) {
	out, err := Convert(samplePNG(t, 20, 20), WEBP, Options{})
	require.NoError(t, err)

	img, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
}

func TestConvertToSVGWrapsPNG(t *testing.T) {
	out, err := Convert(samplePNG(t, 10, 12), SVG, Options{})
	require.NoError(t, err)

	doc := string(out)
	assert.True(t, strings.HasPrefix(doc, "<svg"))
	assert.Contains(t, doc, `width="10" height="12"`)
	assert.Contains(t, doc, "data:image/png;base64,")
	assert.True(t, IsSVG(out))
}

func TestConvertVectorSource(t *testing.T) {
	svg := []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"><rect width="1" height="1"/></svg>`)

	out, err := Convert(svg, SVG, Options{})
	require.NoError(t, err)
	assert.Equal(t, svg, out)

	_, err = Convert(svg, PNG, Options{})
	assert.ErrorIs(t, err, ErrVectorSource)
}

func TestConvertRejectsGarbage(t *testing.T) {
	_, err := Convert([]byte("not an image"), PNG, Options{})
	require.Error(t, err)
}
