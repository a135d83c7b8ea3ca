// Package gemini implements generate.Generator on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/papercomputeco/medfit/pkg/generate"
)

// Config configures the Gemini client.
type Config struct {
	// APIKey is the Gemini API key.
	APIKey string

	// BaseURL overrides the API endpoint (tests, regional proxies). Empty uses the default.
	BaseURL string

	Settings generate.Settings

	// HTTPClient overrides the HTTP client used by the SDK.
	HTTPClient *http.Client
}

// Client is a generate.Generator backed by a Gemini model.
type Client struct {
	client   *genai.Client
	model    string
	contents *genai.GenerateContentConfig
	logger   *zap.Logger
}

// New creates a Gemini generator.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{
		client:   client,
		model:    cfg.Settings.Model,
		contents: contentConfig(cfg.Settings),
		logger:   logger,
	}, nil
}

// Generate implements generate.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) (generate.Response, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.contents)
	if err != nil {
		return generate.Response{}, translateError(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		c.logger.Warn("prompt blocked by safety settings",
			zap.String("model", c.model),
			zap.String("reason", string(resp.PromptFeedback.BlockReason)),
		)
	}

	return generate.Response{Text: resp.Text(), Model: resp.ModelVersion}, nil
}

// contentConfig maps generator settings onto the SDK request configuration.
func contentConfig(s generate.Settings) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(s.Temperature),
		TopP:            genai.Ptr(s.TopP),
		TopK:            genai.Ptr(float32(s.TopK)),
		MaxOutputTokens: int32(s.MaxOutputTokens),
	}

	for _, category := range generate.HarmCategories {
		threshold, ok := s.Safety[category]
		if !ok {
			continue
		}
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}

	return cfg
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &generate.StatusError{Code: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &generate.StatusError{Code: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini generate: %w", err)
}
