// Package imageconv re-encodes stored images for download.
package imageconv

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

type Format string

const (
	PNG  Format = "png"
	JPG  Format = "jpg"
	WEBP Format = "webp"
	SVG  Format = "svg"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrVectorSource      = errors.New("vector images can only be downloaded as svg")
)

// ParseFormat accepts common spellings such as "JPEG" or ".png".
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPG, nil
	case "webp":
		return WEBP, nil
	case "svg":
		return SVG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case JPG:
		return "image/jpeg"
	case WEBP:
		return "image/webp"
	case SVG:
		return "image/svg+xml"
	default:
		return "image/png"
	}
}

func (f Format) Ext() string {
	return "." + string(f)
}

type Options struct {
	// MaxWidth downsizes wider images, keeping the aspect ratio. Zero keeps the original size.
	MaxWidth    int
	JPEGQuality int
	WebPQuality float32
}

// IsSVG sniffs for an SVG document.
func IsSVG(data []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(data[:min(len(data), 512)])))
	return strings.HasPrefix(head, "<svg") || (strings.HasPrefix(head, "<?xml") && strings.Contains(head, "<svg"))
}

// Convert re-encodes data into the target format.
func Convert(data []byte, to Format, opts Options) ([]byte, error) {
	if IsSVG(data) {
		if to != SVG {
			return nil, ErrVectorSource
		}
		return data, nil
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if opts.MaxWidth > 0 && img.Bounds().Dx() > opts.MaxWidth {
		img = imaging.Resize(img, opts.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch to {
	case PNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case JPG:
		quality := opts.JPEGQuality
		if quality <= 0 {
			quality = 90
		}
		if err := imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case WEBP:
		quality := opts.WebPQuality
		if quality <= 0 {
			quality = 90
		}
		options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
		if err != nil {
			return nil, fmt.Errorf("webp encoder options: %w", err)
		}
		if err := webp.Encode(&buf, img, options); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case SVG:
		return wrapSVG(img)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, to)
	}
	return buf.Bytes(), nil
}

// Decode reads PNG, JPEG, GIF and WebP rasters.
func Decode(data []byte) (image.Image, error) {
	if http.DetectContentType(data) == "image/webp" {
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// flatten composites transparent pixels onto white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// wrapSVG embeds a PNG rendition in an SVG document of the same size.
func wrapSVG(img image.Image) ([]byte, error) {
	var png bytes.Buffer
	if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png for svg: %w", err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var out bytes.Buffer
	fmt.Fprintf(&out, `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)
	fmt.Fprintf(&out, `<image width="%d" height="%d" xlink:href="data:image/png;base64,%s"/>`, w, h, base64.StdEncoding.EncodeToString(png.Bytes()))
	out.WriteString(`</svg>`)
	return out.Bytes(), nil
}
