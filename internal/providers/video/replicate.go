package video

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ReplicateOptions controls how the Replicate client is configured.
type ReplicateOptions struct {
	APIToken   string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// ReplicateClient talks to Replicate's blocking prediction API. One submit
// call waits for upstream completion and returns the artifact location in the
// same response, so jobs backed by it are terminal the moment they exist.
type ReplicateClient struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewReplicateClient constructs a Replicate client. The HTTP client timeout
// must cover the blocking wait; a generous default is applied when nil.
func NewReplicateClient(opts ReplicateOptions) *ReplicateClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &ReplicateClient{
		apiToken:   strings.TrimSpace(opts.APIToken),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}
}

// Configured reports whether credentials are present.
func (c *ReplicateClient) Configured() bool {
	return c.apiToken != ""
}

type replicatePredictionRequest struct {
	Input map[string]any `json:"input"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// Submit issues one blocking prediction call and returns the output video URL.
// Replicate models take no negative-prompt field, so it is never sent.
func (c *ReplicateClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	input := map[string]any{
		"image":    fmt.Sprintf("data:%s;base64,%s", req.ImageMIME, base64.StdEncoding.EncodeToString(req.ImageData)),
		"prompt":   req.Prompt,
		"duration": req.DurationSeconds,
	}
	if req.Resolution != "" {
		input["resolution"] = req.Resolution
	}
	if req.AspectRatio != "" && req.AspectRatio != "auto" {
		input["aspect_ratio"] = req.AspectRatio
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", c.baseURL, req.Model)
	body, err := json.Marshal(replicatePredictionRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("replicate: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "wait=120")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("replicate: invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var prediction replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return "", fmt.Errorf("replicate: decode response: %w", err)
	}
	if prediction.Error != nil && *prediction.Error != "" {
		return "", fmt.Errorf("replicate: prediction failed: %s", *prediction.Error)
	}
	if prediction.Status != "succeeded" {
		return "", fmt.Errorf("replicate: prediction ended in status %q", prediction.Status)
	}

	outputURL := decodeOutputURL(prediction.Output)
	if outputURL == "" {
		return "", fmt.Errorf("replicate: prediction succeeded but returned no output url")
	}
	return outputURL, nil
}

// decodeOutputURL accepts both observed output encodings: a bare URL string
// and an array of URLs.
func decodeOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return strings.TrimSpace(many[0])
	}
	return ""
}

// Download fetches the artifact bytes from a delivery URL.
func (c *ReplicateClient) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("replicate: download status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return io.ReadAll(resp.Body)
}
