// Package scholar implements the citation-source client against the Semantic
// Scholar graph API. It fetches the single-hop reference list of one paper
// and keys it deterministically for the persisted references.json.
package scholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/DinhLiu/arXiv-Crawler/internal/apiclient"
	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
)

const (
	defaultBaseURL = "https://api.semanticscholar.org/graph/v1/paper"

	referenceFields = "references.title,references.authors,references.year,references.externalIds"
)

// Reference is one cited work in the persisted reference record.
type Reference struct {
	Title       string            `json:"title"`
	Authors     []string          `json:"authors"`
	Year        int               `json:"year,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
}

// Client talks to the citation API through a rate-limited apiclient.
type Client struct {
	api     *apiclient.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithAPIKey sets the x-api-key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a Client on top of the given rate-limited API client.
func New(api *apiclient.Client, opts ...Option) *Client {
	c := &Client{
		api:     api,
		baseURL: defaultBaseURL,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchReferences returns the paper's direct references keyed by the cited
// work's directory-form arXiv id when it has one, otherwise by the citation
// API's own paper id. References are never expanded recursively.
func (c *Client) FetchReferences(ctx context.Context, id ident.ID) (map[string]Reference, error) {
	u := fmt.Sprintf("%s/arXiv:%s?fields=%s", c.baseURL, id.String(), referenceFields)
	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"X-Api-Key": []string{c.apiKey}}
	}

	body, err := c.api.Get(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("fetch references for %s: %w", id.String(), err)
	}

	var payload paperPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apiclient.Malformed(fmt.Errorf("decode references for %s: %w", id.String(), err))
	}

	refs := make(map[string]Reference, len(payload.References))
	for _, raw := range payload.References {
		key := referenceKey(raw)
		if key == "" {
			continue
		}
		ref := Reference{Title: raw.Title, Year: raw.Year}
		for _, a := range raw.Authors {
			ref.Authors = append(ref.Authors, a.Name)
		}
		if len(raw.ExternalIDs) > 0 {
			ref.ExternalIDs = make(map[string]string, len(raw.ExternalIDs))
			for k, v := range raw.ExternalIDs {
				ref.ExternalIDs[k] = fmt.Sprint(v)
			}
		}
		refs[key] = ref
	}

	c.logger.Debug("references fetched",
		zap.String("paper", id.String()),
		zap.Int("count", len(refs)),
	)
	return refs, nil
}

// Graph API payload shapes, trimmed to the requested fields.
type paperPayload struct {
	References []rawReference `json:"references"`
}

type rawReference struct {
	PaperID     string         `json:"paperId"`
	Title       string         `json:"title"`
	Year        int            `json:"year"`
	Authors     []rawAuthor    `json:"authors"`
	ExternalIDs map[string]any `json:"externalIds"`
}

type rawAuthor struct {
	Name string `json:"name"`
}

// referenceKey prefers the cited work's arXiv id, normalized to the
// directory form with any version suffix stripped.
func referenceKey(r rawReference) string {
	if v, ok := r.ExternalIDs["ArXiv"]; ok {
		if s := normalizeArxivID(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return r.PaperID
}

func normalizeArxivID(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "v"); i > 0 {
		if rest := s[i+1:]; rest != "" && allDigits(rest) {
			s = s[:i]
		}
	}
	return strings.ReplaceAll(s, ".", "-")
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
