// Package search defines the candidate search provider interface and its
// connectors: Google Custom Search, a news REST API, an event-registry API
// and Google News RSS.
package search

import (
	"context"
	"errors"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
)

// Provider names as they appear in candidate records and metrics.
const (
	ProviderGoogle        = "google"
	ProviderNewsAPI       = "newsapi"
	ProviderEventRegistry = "eventregistry"
	ProviderGoogleNews    = "googlenews"
)

var (
	// ErrMissingAPIKey is returned when a provider requires a key that was
	// not configured.
	ErrMissingAPIKey = errors.New("search: missing API key")
	// ErrMissingSearchID is returned when Google CSE is configured without
	// its engine ID.
	ErrMissingSearchID = errors.New("search: missing Google CSE engine id")
)

// Provider is one candidate search connector.
type Provider interface {
	// Search returns candidates for the query. Implementations must honor
	// ctx and never panic on malformed provider payloads.
	Search(ctx context.Context, query string, cfg Config) ([]core.Candidate, error)

	// Name returns the provider identifier used in metrics and candidates.
	Name() string
}

// Config bounds one search request.
type Config struct {
	MaxResults   int
	RecencyHours int
}

// Keys carries the per-request provider credentials. Empty fields fall back
// to server configuration upstream; a provider with no usable key is simply
// not constructed.
type Keys struct {
	GoogleCSEKey     string
	GoogleCSECX      string
	NewsAPIKey       string
	EventRegistryKey string
}

// Enabled builds the list of providers that have what they need to run.
// Google News RSS requires no credentials and is always included unless
// disabled.
func Enabled(keys Keys, googleNewsDisabled bool) []Provider {
	var providers []Provider
	if keys.GoogleCSEKey != "" && keys.GoogleCSECX != "" {
		providers = append(providers, NewGoogleProvider(keys.GoogleCSEKey, keys.GoogleCSECX))
	}
	if keys.NewsAPIKey != "" {
		providers = append(providers, NewNewsAPIProvider(keys.NewsAPIKey))
	}
	if keys.EventRegistryKey != "" {
		providers = append(providers, NewEventRegistryProvider(keys.EventRegistryKey))
	}
	if !googleNewsDisabled {
		providers = append(providers, NewGoogleNewsProvider())
	}
	return providers
}

// IsGoogleLike reports whether a provider may contribute candidates without
// publication dates; the freshness filter exempts those.
func IsGoogleLike(provider string) bool {
	return provider == ProviderGoogle || provider == ProviderGoogleNews
}
