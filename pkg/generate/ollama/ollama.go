// Package ollama implements generate.Generator against an Ollama-compatible /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/generate"
	"github.com/papercomputeco/medfit/pkg/llm"
)

// Client sends single-message chat requests to an Ollama server.
type Client struct {
	baseURL    string
	settings   generate.Settings
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Client. baseURL is e.g. "http://localhost:11434".
func New(baseURL string, settings generate.Settings, logger *zap.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	logger.Debug("ollama ignores safety thresholds", zap.Int("configured", len(settings.Safety)))

	return &Client{
		baseURL:  baseURL,
		settings: settings,
		httpClient: &http.Client{
			// Local models can be slow to load on first use
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// Generate implements generate.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) (generate.Response, error) {
	stream := false
	topK := c.settings.TopK
	numPredict := c.settings.MaxOutputTokens
	req := llm.ChatRequest{
		Model:    c.settings.Model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Stream:   &stream,
		Options: &llm.Options{
			Temperature: &c.settings.Temperature,
			TopP:        &c.settings.TopP,
			TopK:        &topK,
			NumPredict:  &numPredict,
		},
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return generate.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/api/chat"
	c.logger.Debug("sending chat request",
		zap.String("url", url),
		zap.String("model", req.Model),
		zap.Int("body_size", len(reqBody)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return generate.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generate.Response{}, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return generate.Response{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var errResp llm.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return generate.Response{}, &generate.StatusError{Code: httpResp.StatusCode, Message: msg}
	}

	var resp llm.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return generate.Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return generate.Response{Text: resp.Message.Content, Model: resp.Model}, nil
}
