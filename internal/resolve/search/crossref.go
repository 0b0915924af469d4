package search

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	CrossrefID          = "crossref"
	defaultCrossrefURL  = "https://api.crossref.org"
	defaultCrossrefRows = 3
)

// Crossref searches the Crossref REST API and fetches work metadata from it.
type Crossref struct {
	baseURL string
	rows    int
	client  httpClient
	now     func() time.Time
}

// NewCrossref creates a Crossref client. A nil doer gets an *http.Client with
// cfg.Timeout.
func NewCrossref(cfg ClientConfig, doer HTTPDoer) *Crossref {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCrossrefURL
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultCrossrefRows
	}
	return &Crossref{
		baseURL: cfg.BaseURL,
		rows:    cfg.Rows,
		client:  newHTTPClient(CrossrefID, cfg, doer),
		now:     time.Now,
	}
}

func (c *Crossref) ID() string { return CrossrefID }

type crossrefWork struct {
	DOI   string   `json:"DOI"`
	Title []string `json:"title"`
}

type crossrefSearchResponse struct {
	Message struct {
		Items []crossrefWork `json:"items"`
	} `json:"message"`
}

type crossrefWorkResponse struct {
	Message json.RawMessage `json:"message"`
}

// Search queries /works with the title as a bibliographic query and the
// authors as an author query. The year only adds a term to the bibliographic
// query; a date filter would drop works whose recorded year is off by one.
func (c *Crossref) Search(ctx context.Context, q Query) ([]Candidate, error) {
	params := url.Values{}
	bibliographic := q.Title
	if q.Year > 0 {
		bibliographic += " " + strconv.Itoa(q.Year)
	}
	params.Set("query.bibliographic", bibliographic)
	if len(q.Authors) > 0 {
		params.Set("query.author", strings.Join(q.Authors, " "))
	}
	params.Set("rows", strconv.Itoa(c.rows))
	params.Set("select", "DOI,title")

	var resp crossrefSearchResponse
	if err := c.client.getJSON(ctx, joinURL(c.baseURL, "works")+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(resp.Message.Items))
	for _, item := range resp.Message.Items {
		if item.DOI == "" {
			continue
		}
		candidates = append(candidates, Candidate{Identifier: item.DOI, Title: firstTitle(item.Title)})
		if len(candidates) == c.rows {
			break
		}
	}
	return candidates, nil
}

// Fetch retrieves /works/{doi}. The payload is the raw "message" object.
func (c *Crossref) Fetch(ctx context.Context, identifier string) (*Metadata, error) {
	var resp crossrefWorkResponse
	if err := c.client.getJSON(ctx, joinURL(c.baseURL, "works/"+url.PathEscape(identifier)), &resp); err != nil {
		return nil, err
	}
	if len(resp.Message) == 0 {
		return nil, NewProviderError(ErrorBadData, CrossrefID, "empty message", nil)
	}
	var work crossrefWork
	if err := json.Unmarshal(resp.Message, &work); err != nil {
		return nil, NewProviderError(ErrorBadData, CrossrefID, "decode work", err)
	}
	return &Metadata{
		Identifier: identifier,
		Title:      firstTitle(work.Title),
		Source:     CrossrefID,
		Payload:    []byte(resp.Message),
		FetchedAt:  c.now().UTC(),
	}, nil
}

func firstTitle(titles []string) string {
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}
