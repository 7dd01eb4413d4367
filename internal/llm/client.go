package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/config"
	"github.com/niyazmukh/content-pipeline-sub001/internal/jsonx"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

// maxChainAttempts bounds the model-fallback loop in GenerateWithRetry.
const maxChainAttempts = 3

// Client issues prompts through the shared Gate and layers model-tier
// fallback and structured parsing on top.
type Client struct {
	gate *Gate
	cfg  config.Gemini
}

// NewClient wires a client to a gate with server-default Gemini settings.
func NewClient(gate *Gate, cfg config.Gemini) *Client {
	return &Client{gate: gate, cfg: cfg}
}

// Options shapes one structured generation. APIKey and RPM override the
// server defaults when a request carries its own credentials.
type Options struct {
	APIKey           string
	RPM              int
	Model            string
	ResponseMIMEType string
	Temperature      *float32
	MaxOutputTokens  int32
}

func (c *Client) resolve(opts Options) (key string, rpm int, chain []string) {
	key = opts.APIKey
	if key == "" {
		key = c.cfg.APIKey
	}
	rpm = opts.RPM
	if rpm == 0 {
		rpm = c.cfg.RequestsPerMinute
	}
	rpm = config.ClampRPM(rpm)

	primary := opts.Model
	if primary == "" {
		primary = c.cfg.Model
	}
	for _, m := range []string{primary, c.cfg.FlashModel, c.cfg.FlashLiteModel} {
		if m == "" {
			continue
		}
		seen := false
		for _, existing := range chain {
			if existing == m {
				seen = true
				break
			}
		}
		if !seen {
			chain = append(chain, m)
		}
	}
	return key, rpm, chain
}

// GenerateWithRetry issues the prompt with up to three attempts, walking down
// the model chain (primary, flash, flash-lite) after a transient failure or
// from the second attempt on. An empty response body counts as transient.
func (c *Client) GenerateWithRetry(ctx context.Context, prompt string, opts Options) (string, error) {
	key, rpm, chain := c.resolve(opts)

	var lastErr error
	modelIdx := 0
	for attempt := 0; attempt < maxChainAttempts; attempt++ {
		if modelIdx >= len(chain) {
			modelIdx = len(chain) - 1
		}
		model := chain[modelIdx]
		text, err := c.gate.Generate(ctx, key, rpm, model, prompt, CallOptions{
			ResponseMIMEType: opts.ResponseMIMEType,
			Temperature:      opts.Temperature,
			MaxOutputTokens:  opts.MaxOutputTokens,
		})
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("Empty response from LLM")
		}
		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrAborted) {
			return "", err
		}
		lastErr = err
		if attempt == maxChainAttempts-1 {
			break
		}
		if IsTransient(err) || attempt >= 1 {
			modelIdx++
		}
		logger.Warn("LLM attempt failed, retrying", "model", model, "attempt", attempt+1, "error", err.Error())
	}
	return "", lastErr
}

// GenerateAndParse issues a JSON-mode prompt and parses the (possibly fenced
// or truncated) response into T. When parsing fails and fallback is non-nil,
// the raw text is handed to it instead of failing.
func GenerateAndParse[T any](ctx context.Context, c *Client, prompt string, opts Options, fallback func(raw string) (T, error)) (T, string, error) {
	var out T
	if opts.ResponseMIMEType == "" {
		opts.ResponseMIMEType = "application/json"
	}
	raw, err := c.GenerateWithRetry(ctx, prompt, opts)
	if err != nil {
		return out, "", err
	}
	if perr := jsonx.Parse(raw, &out); perr != nil {
		if fallback != nil {
			out, err = fallback(raw)
			return out, raw, err
		}
		return out, raw, perr
	}
	return out, raw, nil
}
