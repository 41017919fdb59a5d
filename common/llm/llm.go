package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ReasoningEffort controls the amount of reasoning for supported models.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// Config holds LLM client configuration.
type Config struct {
	Provider        string          // "openai" or "anthropic"
	APIKey          string          // Required: API key for the provider
	BaseURL         string          // Optional: custom API endpoint
	Model           string          // Model name
	ReasoningEffort ReasoningEffort // Optional: for models that support reasoning
}

// Client returns one structured, schema-conforming answer per request.
type Client interface {
	Structured(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	// UserName labels the user turn where the provider supports it.
	UserName    string
	SchemaName  string
	Schema      any
	MaxTokens   int
	Temperature *float64 // nil = model default, explicit 0 = deterministic
}

type Response struct {
	PromptTokens     int
	CompletionTokens int
	// Raw is the JSON document the model returned.
	Raw json.RawMessage
}

// New creates a Client for cfg.Provider, defaulting to OpenAI.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	switch cfg.Provider {
	case "", ProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// APIError is a provider failure with the HTTP status it returned.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// wrapAPIError lifts provider SDK errors into APIError so callers can
// classify them without importing either SDK.
func wrapAPIError(op string, err error) error {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return fmt.Errorf("%s: %w", op, &APIError{Provider: ProviderOpenAI, StatusCode: oaErr.StatusCode, Err: err})
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return fmt.Errorf("%s: %w", op, &APIError{Provider: ProviderAnthropic, StatusCode: anErr.StatusCode, Err: err})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether a failed call is worth repeating.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry",
				"provider", apiErr.Provider,
				"status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry",
				"provider", apiErr.Provider,
				"status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"provider", apiErr.Provider,
				"status_code", apiErr.StatusCode)
			return false
		}
	}

	// Network errors (no API response) are generally retryable
	return true
}

func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// SchemaDocument renders a schema produced by GenerateSchema as a plain JSON
// object, for providers and validators that want maps rather than structs.
func SchemaDocument(schema any) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return doc, nil
}

func Temp(t float64) *float64 {
	return &t
}

// SanitizeName converts a username to a valid OpenAI name parameter.
// The name must match ^[a-zA-Z0-9_-]{1,64}$.
// Invalid characters are replaced with underscores, and the result is truncated to 64 characters.
func SanitizeName(username string) string {
	sanitized := nameInvalidChars.ReplaceAllString(username, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
