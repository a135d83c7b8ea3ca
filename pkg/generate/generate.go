// Package generate defines the text generation client consumed by the chat assistant.
package generate

import (
	"context"
	"fmt"
	"net/http"
)

// Response is the text produced by a single generation call.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// Generator produces text for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Response, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (Response, error) {
	return f(ctx, prompt)
}

// HarmCategory is a content-safety category.
type HarmCategory string

const (
	HarmHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmSexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

// HarmCategories lists every category a Settings value can configure.
var HarmCategories = []HarmCategory{
	HarmHarassment,
	HarmHateSpeech,
	HarmSexuallyExplicit,
	HarmDangerousContent,
}

// BlockThreshold is the severity at which content in a category is blocked.
type BlockThreshold string

const (
	BlockNone           BlockThreshold = "BLOCK_NONE"
	BlockOnlyHigh       BlockThreshold = "BLOCK_ONLY_HIGH"
	BlockMediumAndAbove BlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockLowAndAbove    BlockThreshold = "BLOCK_LOW_AND_ABOVE"
)

// Valid reports whether t is a known threshold.
func (t BlockThreshold) Valid() bool {
	switch t {
	case BlockNone, BlockOnlyHigh, BlockMediumAndAbove, BlockLowAndAbove:
		return true
	}
	return false
}

// Settings holds the sampling, length and safety configuration of a generator.
type Settings struct {
	Model           string
	Temperature     float32
	TopK            int
	TopP            float32
	MaxOutputTokens int
	Safety          map[HarmCategory]BlockThreshold
}

// DefaultSettings mirrors the free-tier Gemini configuration the assistant was tuned with.
func DefaultSettings() Settings {
	safety := make(map[HarmCategory]BlockThreshold, len(HarmCategories))
	for _, c := range HarmCategories {
		safety[c] = BlockMediumAndAbove
	}
	return Settings{
		Model:           "gemini-1.5-flash",
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 1024,
		Safety:          safety,
	}
}

// Validate checks that every configured safety threshold is known.
func (s Settings) Validate() error {
	for c, t := range s.Safety {
		if !t.Valid() {
			return fmt.Errorf("invalid threshold %q for %s", t, c)
		}
	}
	return nil
}

// StatusError is returned when the remote API answers with a non-success status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.Code)
	if text == "" {
		text = "status"
	}
	if e.Message == "" {
		return fmt.Sprintf("generation api returned %d %s", e.Code, text)
	}
	return fmt.Sprintf("generation api returned %d %s: %s", e.Code, text, e.Message)
}

// RateLimited reports whether the status signals an exhausted quota.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}

// Forbidden reports whether the status signals a permission problem.
func (e *StatusError) Forbidden() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}
