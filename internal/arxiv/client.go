// Package arxiv implements the metadata-source client: Atom feed queries for
// paper metadata and revision history, plus raw source bundle downloads.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DinhLiu/arXiv-Crawler/internal/apiclient"
	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
)

const (
	defaultQueryURL  = "http://export.arxiv.org/api/query"
	defaultSourceURL = "https://arxiv.org/src"

	dateLayout = "2006-01-02"
)

// versionSuffix extracts the trailing vN from an Atom entry id.
var versionSuffix = regexp.MustCompile(`v(\d+)$`)

// Metadata is the persisted per-paper record. Field names follow the
// metadata.json contract and never change once written.
type Metadata struct {
	Title        string   `json:"paper_title"`
	Authors      []string `json:"authors"`
	Venue        string   `json:"publication_venue,omitempty"`
	Submitted    string   `json:"submission_date"`
	RevisedDates []string `json:"revised_dates"`
}

// Client talks to the arXiv export API through a rate-limited apiclient.
type Client struct {
	api       *apiclient.Client
	queryURL  string
	sourceURL string
	logger    *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURLs overrides the query and source endpoints, for tests.
func WithBaseURLs(queryURL, sourceURL string) Option {
	return func(c *Client) {
		c.queryURL = queryURL
		c.sourceURL = sourceURL
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a Client on top of the given rate-limited API client.
func New(api *apiclient.Client, opts ...Option) *Client {
	c := &Client{
		api:       api,
		queryURL:  defaultQueryURL,
		sourceURL: defaultSourceURL,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMetadata queries the export API for id and returns the assembled
// metadata record together with the latest version number. The bare query
// yields the latest version; intermediate revision dates come from one
// follow-up query per version beyond the first.
func (c *Client) FetchMetadata(ctx context.Context, id ident.ID) (Metadata, int, error) {
	entry, err := c.queryEntry(ctx, id.String())
	if err != nil {
		return Metadata{}, 0, err
	}

	latest, err := parseVersion(entry.ID)
	if err != nil {
		return Metadata{}, 0, apiclient.Malformed(err)
	}

	meta := Metadata{
		Title:        strings.TrimSpace(entry.Title),
		Venue:        strings.TrimSpace(entry.JournalRef),
		RevisedDates: []string{},
	}
	for _, a := range entry.Authors {
		meta.Authors = append(meta.Authors, strings.TrimSpace(a.Name))
	}
	meta.Submitted, err = normalizeDate(entry.Published)
	if err != nil {
		return Metadata{}, 0, apiclient.Malformed(fmt.Errorf("published date: %w", err))
	}

	// Same-day revisions collapse to one date.
	seenDates := make(map[string]struct{})
	addRevised := func(d string) {
		if _, ok := seenDates[d]; ok {
			return
		}
		seenDates[d] = struct{}{}
		meta.RevisedDates = append(meta.RevisedDates, d)
	}

	if latest > 1 {
		last, err := normalizeDate(entry.Updated)
		if err != nil {
			return Metadata{}, 0, apiclient.Malformed(fmt.Errorf("updated date: %w", err))
		}
		addRevised(last)
	}
	for v := 2; v < latest; v++ {
		ventry, err := c.queryEntry(ctx, id.VersionString(v))
		if err != nil {
			return Metadata{}, 0, fmt.Errorf("version %d metadata: %w", v, err)
		}
		d, err := normalizeDate(ventry.Updated)
		if err != nil {
			return Metadata{}, 0, apiclient.Malformed(fmt.Errorf("version %d updated date: %w", v, err))
		}
		addRevised(d)
	}
	sort.Strings(meta.RevisedDates)

	c.logger.Debug("metadata assembled",
		zap.String("paper", id.String()),
		zap.Int("versions", latest),
	)
	return meta, latest, nil
}

// DownloadSource fetches the raw source bundle for one version of a paper.
func (c *Client) DownloadSource(ctx context.Context, id ident.ID, version int) ([]byte, error) {
	u := fmt.Sprintf("%s/%s", c.sourceURL, id.VersionString(version))
	body, err := c.api.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("download source %s: %w", id.VersionString(version), err)
	}
	return body, nil
}

func (c *Client) queryEntry(ctx context.Context, paperID string) (*atomEntry, error) {
	u := fmt.Sprintf("%s?id_list=%s&max_results=1", c.queryURL, url.QueryEscape(paperID))
	body, err := c.api.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", paperID, err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, apiclient.Malformed(fmt.Errorf("decode feed for %s: %w", paperID, err))
	}
	if len(feed.Entries) == 0 || feed.Entries[0].ID == "" {
		return nil, fmt.Errorf("%w: no feed entry for %s", apiclient.ErrNotFound, paperID)
	}
	return &feed.Entries[0], nil
}

// Atom feed shapes. Fields match by local name so the arxiv namespace on
// journal_ref does not need declaring.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string       `xml:"id"`
	Title      string       `xml:"title"`
	Published  string       `xml:"published"`
	Updated    string       `xml:"updated"`
	Authors    []atomAuthor `xml:"author"`
	JournalRef string       `xml:"journal_ref"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func parseVersion(entryID string) (int, error) {
	m := versionSuffix.FindStringSubmatch(strings.TrimSpace(entryID))
	if m == nil {
		return 0, fmt.Errorf("entry id %q carries no version suffix", entryID)
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 1 {
		return 0, fmt.Errorf("entry id %q carries invalid version %q", entryID, m[1])
	}
	return v, nil
}

func normalizeDate(s string) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return t.UTC().Format(dateLayout), nil
}
