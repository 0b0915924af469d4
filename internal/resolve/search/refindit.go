package search

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const (
	RefinditID          = "refindit"
	defaultRefinditURL  = "https://refinder.org"
	defaultRefinditRows = 5
)

// Refindit queries the ReFindIt aggregator's advanced search.
type Refindit struct {
	baseURL string
	rows    int
	client  httpClient
}

func NewRefindit(cfg ClientConfig, doer HTTPDoer) *Refindit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRefinditURL
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRefinditRows
	}
	return &Refindit{
		baseURL: cfg.BaseURL,
		rows:    cfg.Rows,
		client:  newHTTPClient(RefinditID, cfg, doer),
	}
}

func (r *Refindit) ID() string { return RefinditID }

// The aggregator is not consistent about the identifier key's case.
type refinditResult struct {
	Title    string `json:"title"`
	DOI      string `json:"DOI"`
	LowerDOI string `json:"doi"`
}

func (r *Refindit) Search(ctx context.Context, q Query) ([]Candidate, error) {
	params := url.Values{}
	params.Set("search", "advanced")
	params.Set("limit", strconv.Itoa(r.rows))
	params.Set("title", q.Title)
	for _, a := range q.Authors {
		params.Add("author", a)
	}

	var results []refinditResult
	if err := r.client.getJSON(ctx, joinURL(r.baseURL, "find")+"?"+params.Encode(), &results); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		id := res.DOI
		if id == "" {
			id = res.LowerDOI
		}
		if id == "" || strings.TrimSpace(res.Title) == "" {
			continue
		}
		candidates = append(candidates, Candidate{Identifier: id, Title: strings.TrimSpace(res.Title)})
		if len(candidates) == r.rows {
			break
		}
	}
	return candidates, nil
}
