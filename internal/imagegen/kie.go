package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/skechum/internal/config"
	"github.com/digkill/skechum/internal/models"
)

// KIEClient drives the KIE jobs API: create a task, then poll until it settles.
type KIEClient struct {
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
	log          *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
}

func NewKIEClient(cfg config.Config, log *slog.Logger) *KIEClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &KIEClient{
		apiKey:       cfg.KIEAPIKey,
		baseURL:      strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:        cfg.KIEModel,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
		pollInterval: 2 * time.Second,
		maxAttempts:  60,
	}
}

func (c *KIEClient) Name() string { return "kie" }

// styleHints steer general-purpose models towards the Recraft-style presets.
var styleHints = map[models.Style]string{
	models.StyleRealistic: "photorealistic, natural lighting, high detail",
	models.StyleDigital:   "digital illustration, clean shapes, vibrant colors",
	models.StyleVector:    "flat vector illustration, solid colors, crisp edges",
	models.StyleIcon:      "minimal flat icon, centered, plain background",
}

func (c *KIEClient) Generate(ctx context.Context, opts Options) (*Image, error) {
	model := opts.Model
	if model == "" || strings.HasPrefix(model, "recraft") {
		model = c.model
	}

	prompt := opts.Prompt
	if hint, ok := styleHints[opts.Style]; ok {
		prompt = prompt + ", " + hint
	}

	input := map[string]any{
		"prompt":        prompt,
		"aspect_ratio":  aspectRatio(opts.Size),
		"output_format": "png",
	}
	if opts.Steps > 0 {
		input["num_inference_steps"] = opts.Steps
	}
	payload := map[string]any{
		"model": model,
		"input": input,
	}

	taskID, err := c.createTask(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	resultURL, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Image{URL: resultURL, Format: DetectFormat(resultURL, "")}, nil
}

func (c *KIEClient) endpoint(p string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

type kieEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *KIEClient) do(req *http.Request) (*kieEnvelope, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("kie request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var env kieEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("decode kie response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("kie request failed: code=%d msg=%s", env.Code, env.Msg)
	}
	return &env, nil
}

func (c *KIEClient) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req)
	if err != nil {
		return "", err
	}
	var data struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decode task id: %w", err)
	}
	if data.TaskID == "" {
		return "", errors.New("empty taskId in response")
	}
	if c.log != nil {
		c.log.Info("kie task created", "task_id", data.TaskID, "model", payload["model"])
	}
	return data.TaskID, nil
}

func (c *KIEClient) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		env, err := c.do(req)
		if err != nil {
			return "", fmt.Errorf("get task status: %w", err)
		}

		var data struct {
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("decode task status: %w", err)
		}

		switch data.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(data.ResultJSON), &result); err != nil {
				return "", fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return "", errors.New("no resultUrls in result")
			}
			return result.ResultURLs[0], nil
		case "fail":
			msg := data.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("task failed: %s (code: %s)", msg, data.FailCode)
		case "waiting", "generating", "processing", "queued", "queueing":
			if c.log != nil && attempt%10 == 0 {
				c.log.Debug("kie task waiting", "task_id", taskID, "attempt", attempt+1)
			}
		default:
			return "", fmt.Errorf("unknown task state: %s", data.State)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return "", fmt.Errorf("task timeout after %d attempts", c.maxAttempts)
}

// aspectRatio converts "WxH" into a reduced "w:h" ratio. Unparseable sizes map to 1:1.
func aspectRatio(size string) string {
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return "1:1"
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return "1:1"
	}
	g := gcd(wi, hi)
	return fmt.Sprintf("%d:%d", wi/g, hi/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
