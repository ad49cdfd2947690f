// Package imagegen talks to third-party text-to-image providers.
package imagegen

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/digkill/skechum/internal/models"
)

type Options struct {
	Prompt string
	Style  models.Style
	Model  string
	Size   string
	// Steps is forwarded to providers that expose inference steps. Recraft
	// has no such control and ignores it.
	Steps int
}

type Image struct {
	URL    string
	Format models.ImageFormat
}

// Generator produces a single image for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, opts Options) (*Image, error)
}

// DetectFormat guesses the stored format from the result URL, falling back to
// the style: vector styles yield SVG, everything else PNG.
func DetectFormat(rawURL string, style models.Style) models.ImageFormat {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".svg":
		return models.FormatSVG
	case ".jpg", ".jpeg":
		return models.FormatJPG
	case ".png", ".webp":
		return models.FormatPNG
	}
	if style.IsVector() {
		return models.FormatSVG
	}
	return models.FormatPNG
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
