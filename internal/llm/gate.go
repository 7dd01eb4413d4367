package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

// ErrAborted is returned when the caller's context is cancelled while a call
// is gated, sleeping between retries, or in flight.
var ErrAborted = errors.New("llm: aborted")

const (
	// maxKeyStates bounds the per-API-key state cache; least recently used
	// keys are evicted beyond this.
	maxKeyStates = 32
	// rateWindow is the sliding window the request budget applies to.
	rateWindow = time.Minute
	// maxCallAttempts bounds transient-failure retries for one gated call.
	maxCallAttempts = 5
)

var (
	transientMsgRe = regexp.MustCompile(`(?i)quota|unavailable|overload|temporar`)
	retryDelayRe   = regexp.MustCompile(`(?i)retryDelay"?\s*[:=]\s*"?(\d+(?:\.\d+)?)s`)
	retryInRe      = regexp.MustCompile(`(?i)retry\s+(?:in|after)\s+(\d+(?:\.\d+)?)\s*s`)
)

// keyState is the rate window and client cached for one API key.
type keyState struct {
	mu     sync.Mutex
	client *genai.Client
	stamps []time.Time
}

// Gate serializes LLM requests behind a per-key sliding-window budget and
// wraps each call with transient-failure retries. It is shared across runs;
// the per-key window is the only cross-run mutable state besides the per-host
// extraction semaphores.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*keyState
	order   []string // LRU order, most recently used last

	// Injection points for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	invoke func(ctx context.Context, client *genai.Client, model, prompt string, opts CallOptions) (string, error)
}

// CallOptions shapes one model invocation.
type CallOptions struct {
	ResponseMIMEType string
	Temperature      *float32
	MaxOutputTokens  int32
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		entries: make(map[string]*keyState),
		now:     time.Now,
		sleep:   sleepCtx,
		invoke:  invokeGemini,
	}
}

// NewScriptedGate returns a gate whose model invocations are served by fn
// instead of the Gemini API and whose clock only advances when the gate
// sleeps. Tests in dependent packages use it to script model responses
// without touching the network or the wall clock.
func NewScriptedGate(fn func(ctx context.Context, model, prompt string, opts CallOptions) (string, error)) *Gate {
	var mu sync.Mutex
	cur := time.Now()
	g := NewGate()
	g.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	g.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		cur = cur.Add(d)
		mu.Unlock()
		return nil
	}
	g.invoke = func(ctx context.Context, _ *genai.Client, model, prompt string, opts CallOptions) (string, error) {
		return fn(ctx, model, prompt, opts)
	}
	return g
}

// state returns the cached state for key, creating it and evicting the least
// recently used entry when the cache is full. The map lock is never held
// across I/O; client construction does not dial.
func (g *Gate) state(key string) (*keyState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.entries[key]; ok {
		g.touch(key)
		return st, nil
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	st := &keyState{client: client}
	g.entries[key] = st
	g.order = append(g.order, key)
	if len(g.order) > maxKeyStates {
		evicted := g.order[0]
		g.order = g.order[1:]
		delete(g.entries, evicted)
	}
	return st, nil
}

func (g *Gate) touch(key string) {
	for i, k := range g.order {
		if k == key {
			g.order = append(append(g.order[:i:i], g.order[i+1:]...), key)
			return
		}
	}
}

// reserve blocks until the key's sliding window has room for one more
// request, then records it. The check-and-reserve is atomic under the per-key
// mutex so concurrent callers sharing a key cannot overshoot the budget.
func (g *Gate) reserve(ctx context.Context, st *keyState, rpm int) error {
	for {
		st.mu.Lock()
		now := g.now()
		cutoff := now.Add(-rateWindow)
		kept := st.stamps[:0]
		for _, ts := range st.stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		st.stamps = kept
		if len(st.stamps) < rpm {
			st.stamps = append(st.stamps, now)
			st.mu.Unlock()
			return nil
		}
		wait := st.stamps[0].Add(rateWindow).Sub(now)
		st.mu.Unlock()
		logger.Debug("LLM rate window full, waiting", "wait_ms", wait.Milliseconds(), "rpm", rpm)
		if err := g.sleep(ctx, wait); err != nil {
			return ErrAborted
		}
	}
}

// Generate performs one gated, retried model call.
func (g *Gate) Generate(ctx context.Context, apiKey string, rpm int, model, prompt string, opts CallOptions) (string, error) {
	if apiKey == "" {
		return "", errors.New("gemini API key is required")
	}
	if rpm < 1 {
		rpm = 1
	}
	if rpm > 10 {
		rpm = 10
	}
	st, err := g.state(apiKey)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < maxCallAttempts; attempt++ {
		if err := g.reserve(ctx, st, rpm); err != nil {
			return "", err
		}
		text, err := g.invoke(ctx, st.client, model, prompt, opts)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ErrAborted
		}
		if !IsTransient(err) {
			return "", err
		}
		lastErr = err
		if attempt == maxCallAttempts-1 {
			break
		}
		backoff := backoffDelay(attempt)
		if hint, ok := retryHint(err); ok {
			backoff = hint
		}
		logger.Warn("transient LLM failure, backing off",
			"model", model, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds(), "error", err.Error())
		if err := g.sleep(ctx, backoff); err != nil {
			return "", ErrAborted
		}
	}
	return "", fmt.Errorf("LLM call failed after %d attempts: %w", maxCallAttempts, lastErr)
}

// IsTransient reports whether an error is worth retrying: HTTP 429/503 or a
// message naming quota, unavailability, overload or a temporary condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae genai.APIError
	if errors.As(err, &ae) {
		if ae.Code == 429 || ae.Code == 503 {
			return true
		}
	}
	return transientMsgRe.MatchString(err.Error())
}

// retryHint extracts a server-provided retry delay from the error detail.
func retryHint(err error) (time.Duration, bool) {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{retryDelayRe, retryInRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}

// backoffDelay is min(60s, 1s*2^attempt) plus up to 1s of jitter.
func backoffDelay(attempt int) time.Duration {
	base := time.Second << uint(attempt)
	if base > time.Minute {
		base = time.Minute
	}
	return base + time.Duration(rand.Intn(1000))*time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// invokeGemini issues the request through the genai SDK. Safety settings are
// pinned to BLOCK_NONE for the four standard categories; this is a contract
// with the upstream prompt templates.
func invokeGemini(ctx context.Context, client *genai.Client, model, prompt string, opts CallOptions) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}
	if opts.ResponseMIMEType != "" {
		cfg.ResponseMIMEType = opts.ResponseMIMEType
	}
	if opts.Temperature != nil {
		cfg.Temperature = opts.Temperature
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = opts.MaxOutputTokens
	}
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return resp.Text(), nil
}
