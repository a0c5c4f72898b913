package video

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GoogleOptions controls how the Google video client is configured.
type GoogleOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// GoogleClient talks to the generativelanguage long-running video API. A
// submit call returns only an opaque operation name; the artifact becomes
// available once the polled operation reports done.
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewGoogleClient constructs a Google client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with sensible timeouts will be
// created.
func NewGoogleClient(opts GoogleOptions) *GoogleClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &GoogleClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}
}

// Configured reports whether credentials are present.
func (c *GoogleClient) Configured() bool {
	return c.apiKey != ""
}

type googlePredictRequest struct {
	Instances  []googleInstance `json:"instances"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

type googleInstance struct {
	Prompt string       `json:"prompt"`
	Image  *googleImage `json:"image,omitempty"`
}

type googleImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

type googleOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Submit starts a long-running generation and returns the operation name.
func (c *GoogleClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	payload := googlePredictRequest{
		Instances: []googleInstance{{
			Prompt: req.Prompt,
			Image: &googleImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.ImageData),
				MimeType:           req.ImageMIME,
			},
		}},
		Parameters: c.buildParameters(req),
	}

	var op googleOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(req.Model))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("google: submit returned no operation name")
	}
	return op.Name, nil
}

// buildParameters only includes fields the target model accepts: veo-2 models
// reject the resolution parameter.
func (c *GoogleClient) buildParameters(req SubmitRequest) map[string]any {
	params := map[string]any{
		"durationSeconds": req.DurationSeconds,
	}
	if req.AspectRatio != "" && req.AspectRatio != "auto" {
		params["aspectRatio"] = req.AspectRatio
	}
	if req.Resolution != "" && strings.HasPrefix(req.Model, "veo-3") {
		params["resolution"] = req.Resolution
	}
	if req.NegativePrompt != "" {
		params["negativePrompt"] = req.NegativePrompt
	}
	return params
}

// Operation fetches the status of a long-running operation by name.
func (c *GoogleClient) Operation(ctx context.Context, name string) (OperationStatus, error) {
	var op googleOperation
	if err := c.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(name, "/"), nil, &op); err != nil {
		return OperationStatus{}, err
	}

	status := OperationStatus{Done: op.Done}
	if op.Error != nil && op.Error.Message != "" {
		status.ErrorMessage = op.Error.Message
		return status, nil
	}
	if op.Done {
		status.VideoURL = extractVideoURI(op.Response)
	}
	return status, nil
}

// videoURIExtractors lists the known response shapes for the generated video
// location, in priority order. The upstream schema has varied across
// versions, so each shape is tried in sequence and the first non-empty match
// wins. Do not collapse this to a single assumed shape.
var videoURIExtractors = []func(map[string]any) string{
	func(m map[string]any) string {
		return lookupPath(m, "generateVideoResponse", "generatedSamples", "0", "video", "uri")
	},
	func(m map[string]any) string {
		return lookupPath(m, "generateVideoResponse", "generatedVideos", "0", "video", "uri")
	},
	func(m map[string]any) string {
		return lookupPath(m, "generatedVideos", "0", "video", "uri")
	},
	func(m map[string]any) string {
		return lookupPath(m, "videos", "0", "uri")
	},
}

func extractVideoURI(response map[string]any) string {
	if response == nil {
		return ""
	}
	for _, extract := range videoURIExtractors {
		if uri := extract(response); uri != "" {
			return uri
		}
	}
	return ""
}

// lookupPath walks nested maps and arrays; numeric segments index into arrays.
func lookupPath(m map[string]any, path ...string) string {
	var cur any = m
	for _, segment := range path {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[segment]
		case []any:
			idx := -1
			if segment == "0" {
				idx = 0
			} else {
				if _, err := fmt.Sscanf(segment, "%d", &idx); err != nil {
					return ""
				}
			}
			if idx < 0 || idx >= len(node) {
				return ""
			}
			cur = node[idx]
		default:
			return ""
		}
	}
	if s, ok := cur.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// downloadAttempt applies one authentication strategy to a download request.
type downloadAttempt struct {
	name  string
	apply func(req *http.Request, apiKey string)
}

// downloadAttempts lists authentication strategies in priority order; the
// first attempt returning a non-empty 2xx body wins.
var downloadAttempts = []downloadAttempt{
	{name: "key query", apply: func(req *http.Request, apiKey string) {
		q := req.URL.Query()
		q.Set("key", apiKey)
		req.URL.RawQuery = q.Encode()
	}},
	{name: "key query with alt=media", apply: func(req *http.Request, apiKey string) {
		q := req.URL.Query()
		q.Set("key", apiKey)
		q.Set("alt", "media")
		req.URL.RawQuery = q.Encode()
	}},
	{name: "api key header", apply: func(req *http.Request, apiKey string) {
		req.Header.Set("x-goog-api-key", apiKey)
	}},
}

// Download fetches the artifact bytes, trying each authentication strategy in
// order until one succeeds.
func (c *GoogleClient) Download(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for _, attempt := range downloadAttempts {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("google: create download request: %w", err)
		}
		attempt.apply(req, c.apiKey)

		data, err := c.doDownload(req)
		if err != nil {
			c.logger.Debug().Err(err).Str("attempt", attempt.name).Msg("video: download attempt failed")
			lastErr = err
			continue
		}
		if len(data) == 0 {
			lastErr = fmt.Errorf("google: empty artifact body")
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("google: all download attempts failed: %w", lastErr)
}

func (c *GoogleClient) doDownload(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google: download status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return io.ReadAll(resp.Body)
}

func (c *GoogleClient) invoke(ctx context.Context, method, path string, payload, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("google: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("google: create request: %w", err)
	}
	q := req.URL.Query()
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("google: invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr googleErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("google: status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("google: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("google: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("google: decode response: %w", err)
	}
	return nil
}
