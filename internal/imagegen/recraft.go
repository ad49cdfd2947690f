package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/skechum/internal/config"
	"github.com/digkill/skechum/internal/models"
)

// RecraftClient calls the Recraft synchronous generation endpoint.
type RecraftClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewRecraftClient(cfg config.Config, log *slog.Logger) *RecraftClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RecraftClient{
		apiKey:     cfg.RecraftAPIKey,
		baseURL:    strings.TrimRight(cfg.RecraftBaseURL, "/"),
		model:      cfg.RecraftModel,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *RecraftClient) Name() string { return "recraft" }

type recraftRequest struct {
	Prompt         string `json:"prompt"`
	Style          string `json:"style,omitempty"`
	Model          string `json:"model,omitempty"`
	Size           string `json:"size,omitempty"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type recraftResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL     string `json:"url"`
		ImageID string `json:"image_id"`
	} `json:"data"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *RecraftClient) Generate(ctx context.Context, opts Options) (*Image, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	size := opts.Size
	if size == "" {
		size = models.DefaultImageSize
	}

	body, err := json.Marshal(recraftRequest{
		Prompt:         opts.Prompt,
		Style:          string(opts.Style),
		Model:          model,
		Size:           size,
		N:              1,
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/v1/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.log != nil {
		c.log.Info("recraft generation started", "model", model, "style", opts.Style, "size", size)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post recraft: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("recraft generation failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("recraft error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed recraftResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode recraft response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		msg := parsed.Message
		if msg == "" {
			msg = "no images in response"
		}
		return nil, fmt.Errorf("recraft returned no image: %s", msg)
	}

	imageURL := parsed.Data[0].URL
	return &Image{
		URL:    imageURL,
		Format: DetectFormat(imageURL, opts.Style),
	}, nil
}
