package doi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromURL(t *testing.T) {
	tests := []struct {
		name          string
		url           string
		wantDOI       string
		wantPublisher string
		wantOK        bool
	}{
		{name: "empty", url: "", wantOK: false},
		{name: "unknown host ignored", url: "https://example.com/10.1234/abc", wantOK: false},
		{name: "doi resolver", url: "https://doi.org/10.1234/ABC", wantDOI: "10.1234/abc", wantPublisher: "doi.org", wantOK: true},
		{name: "dx resolver without scheme", url: "dx.doi.org/10.1234/abc", wantDOI: "10.1234/abc", wantPublisher: "doi.org", wantOK: true},
		{name: "encoded slash", url: "https://doi.org/10.1234%2Fabc", wantDOI: "10.1234/abc", wantPublisher: "doi.org", wantOK: true},
		{
			name:          "wiley full text",
			url:           "https://onlinelibrary.wiley.com/doi/10.1111/een.12345/full",
			wantDOI:       "10.1111/een.12345",
			wantPublisher: "wiley",
			wantOK:        true,
		},
		{
			name:          "plos query parameter",
			url:           "https://journals.plos.org/plosone/article?id=10.1371/journal.pone.0123456&type=printable",
			wantDOI:       "10.1371/journal.pone.0123456",
			wantPublisher: "plos",
			wantOK:        true,
		},
		{
			name:          "mapress zootaxa",
			url:           "http://www.mapress.com/j/zt/article/view/zootaxa.4205.6.2",
			wantDOI:       "10.11646/zootaxa.4205.6.2",
			wantPublisher: "mapress",
			wantOK:        true,
		},
		{
			name:          "nature springer id",
			url:           "https://www.nature.com/articles/s41586-019-1234-5",
			wantDOI:       "10.1038/s41586-019-1234-5",
			wantPublisher: "nature",
			wantOK:        true,
		},
		{
			name:          "nature legacy article",
			url:           "https://www.nature.com/articles/nature12345",
			wantDOI:       "10.1038/nature12345",
			wantPublisher: "nature",
			wantOK:        true,
		},
		{
			name:          "cambridge file id",
			url:           "https://www.cambridge.org/action/displayAbstract?fromPage=online&aid=123&fileId=S0007485300012345",
			wantDOI:       "10.1017/s0007485300012345",
			wantPublisher: "cambridge",
			wantOK:        true,
		},
		{
			name:          "doi path on unlisted host",
			url:           "https://academic.oup.com/botlinnean/article/doi/10.1093/botlinnean/boab012",
			wantDOI:       "10.1093/botlinnean/boab012",
			wantPublisher: "doi-path",
			wantOK:        true,
		},
		{
			name:          "doi abs path on unlisted host",
			url:           "https://www.journals.uchicago.edu/doi/abs/10.1086/123456",
			wantDOI:       "10.1086/123456",
			wantPublisher: "doi-path",
			wantOK:        true,
		},
		{
			name:          "jstor stable path",
			url:           "https://www.jstor.org/stable/10.2307/3503456?seq=1",
			wantDOI:       "10.2307/3503456",
			wantPublisher: "doi-path",
			wantOK:        true,
		},
		{
			name:          "jstor stable number is not a doi",
			url:           "https://www.jstor.org/stable/3503456",
			wantOK:        false,
		},
		{
			name:          "known publisher without identifier",
			url:           "https://www.cambridge.org/core/journals/bulletin",
			wantPublisher: "cambridge",
			wantOK:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, publisher, ok := FromURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDOI, got)
			assert.Equal(t, tt.wantPublisher, publisher)
		})
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("https://zookeys.pensoft.net/article/1234/"))
	assert.False(t, Known("https://example.org/paper"))
	assert.False(t, Known("https://www.jstor.org/stable/10.2307/3503456"), "path rules do not make a host known")
	assert.False(t, Known("::not a url::"))
}
