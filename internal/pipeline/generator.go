package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GenerateRequest is the JSON body posted to the external generator.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse maps the generator's response body.
type GenerateResponse struct {
	Text string `json:"text"`
}

// Generator abstracts the external AI completion service. It may be slow or
// fail; stages always call it under a bounded timeout and substitute a
// deterministic fallback when it misbehaves.
// Mocking this interface in tests gives full control over generator
// behaviour without making real HTTP calls.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HTTPGenerator calls a completion endpoint over HTTP.
// The base URL is injected from config so tests can point to a local mock.
type HTTPGenerator struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected generator status: %d", resp.StatusCode)
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return genResp.Text, nil
}

// compile-time check that HTTPGenerator implements Generator
var _ Generator = (*HTTPGenerator)(nil)
