package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
	"github.com/niyazmukh/content-pipeline-sub001/internal/search"
)

// Per-request override headers.
const (
	headerGeminiKey        = "X-Gemini-Api-Key"
	headerGeminiRPM        = "X-Gemini-RPM"
	headerGoogleCSEKey     = "X-Google-Cse-Api-Key"
	headerGoogleCSECX      = "X-Google-Cse-Cx"
	headerNewsAPIKey       = "X-Newsapi-Key"
	headerEventRegistryKey = "X-Eventregistry-Api-Key"
)

const (
	minRecencyHours = 6
	maxRecencyHours = 720
)

// ParseRecencyHours interprets the recencyHours request value: rounded to
// whole hours and clamped to [6, 720]. An empty value, an unparseable value,
// or a value equal to the configured default all mean "unset" (0), so
// downstream code applies its own defaults.
func ParseRecencyHours(raw string, configured int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	hours := int(math.Round(f))
	if hours < minRecencyHours {
		hours = minRecencyHours
	}
	if hours > maxRecencyHours {
		hours = maxRecencyHours
	}
	if hours == configured {
		return 0
	}
	return hours
}

// llmOptions builds per-request LLM overrides from headers. A missing or
// malformed RPM header leaves the server default in place.
func llmOptions(r *http.Request) llm.Options {
	opts := llm.Options{APIKey: strings.TrimSpace(r.Header.Get(headerGeminiKey))}
	if raw := strings.TrimSpace(r.Header.Get(headerGeminiRPM)); raw != "" {
		if rpm, err := strconv.Atoi(raw); err == nil && rpm > 0 {
			opts.RPM = rpm
		}
	}
	return opts
}

// searchKeys resolves provider credentials: request headers first, then
// server configuration.
func (s *Server) searchKeys(r *http.Request) search.Keys {
	pick := func(header, fallback string) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return fallback
	}
	return search.Keys{
		GoogleCSEKey:     pick(headerGoogleCSEKey, s.cfg.Providers.GoogleCSE.APIKey),
		GoogleCSECX:      pick(headerGoogleCSECX, s.cfg.Providers.GoogleCSE.CX),
		NewsAPIKey:       pick(headerNewsAPIKey, s.cfg.Providers.NewsAPI.APIKey),
		EventRegistryKey: pick(headerEventRegistryKey, s.cfg.Providers.EventRegistry.APIKey),
	}
}

// decodeJSON reads a bounded JSON request body into v. An empty body is not
// an error; handlers fall back to query parameters.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
