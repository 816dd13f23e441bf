package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/common"
)

// APIError mirrors the teacher's clients/eodhd.APIError shape: a
// provider HTTP failure carries enough context to log without a stack
// trace.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search provider error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// FixtureProvider is a deterministic in-process Provider for tests and
// local development: it answers from a query->candidates map rather
// than reaching the network, so pipeline tests can exercise the full
// search/select/compose flow without external dependencies.
type FixtureProvider struct {
	Name      string
	Fixtures  map[string][]types.Candidate
	FailQuery map[string]bool
}

// NewFixtureProvider creates a FixtureProvider answering from fixtures.
func NewFixtureProvider(name string, fixtures map[string][]types.Candidate) *FixtureProvider {
	return &FixtureProvider{Name: name, Fixtures: fixtures}
}

// Search implements Provider by looking up query in the fixture map.
func (p *FixtureProvider) Search(_ context.Context, query string, maxResults int) ([]types.Candidate, error) {
	if p.FailQuery[query] {
		return nil, fmt.Errorf("fixture provider %s: simulated failure for %q", p.Name, query)
	}
	candidates := p.Fixtures[query]
	if maxResults > 0 && len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	out := make([]types.Candidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

// httpSearchResult is the small JSON candidate array an HTTPProvider
// expects back from its configured endpoint.
type httpSearchResult struct {
	Results []struct {
		URL    string `json:"url"`
		Title  string `json:"title"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"results"`
}

// HTTPProvider issues a single rate-limited GET against a configurable
// search endpoint template and parses a small JSON candidate array.
// Grounded on clients/eodhd.Client.get's request-building shape
// (context-aware http.NewRequestWithContext, typed APIError on
// non-200), generalized from a fixed API surface to a templated one
// since each real search backend has its own query parameter.
type HTTPProvider struct {
	Name           string
	EndpointTmpl   string // e.g. "https://example.com/search?q=%s"
	httpClient     *http.Client
	logger         *common.Logger
}

// NewHTTPProvider creates an HTTPProvider against endpointTmpl, a
// fmt.Sprintf template taking exactly one %s for the URL-escaped query.
func NewHTTPProvider(name, endpointTmpl string, httpClient *http.Client, logger *common.Logger) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &HTTPProvider{Name: name, EndpointTmpl: endpointTmpl, httpClient: httpClient, logger: logger}
}

// Search implements Provider against the configured HTTP endpoint.
func (p *HTTPProvider) Search(ctx context.Context, query string, maxResults int) ([]types.Candidate, error) {
	reqURL := fmt.Sprintf(p.EndpointTmpl, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	p.logger.Debug().Str("provider", p.Name).Str("url", reqURL).Msg("search provider request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status, Endpoint: reqURL}
	}

	var parsed httpSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	var out []types.Candidate
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		out = append(out, types.Candidate{
			URL: r.URL, Title: r.Title, Width: r.Width, Height: r.Height, Provider: p.Name,
		})
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
	}
	return out, nil
}
