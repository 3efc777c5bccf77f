package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/model"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want, host string
	}{
		{"https://www.Example.com/Path/", "https://example.com/Path", "example.com"},
		{"http://example.com", "https://example.com", "example.com"},
		{"https://example.com/a?utm_source=x&b=2&a=1#frag", "https://example.com/a?a=1&b=2", "example.com"},
		{"https://example.com:443/x?fbclid=1", "https://example.com/x", "example.com"},
		{"https://example.com:8443/x", "https://example.com:8443/x", "example.com"},
	}
	for _, tt := range tests {
		got, host, ok := NormalizeURL(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
	}

	for _, bad := range []string{"", "not a url", "ftp://example.com/x", "/relative"} {
		_, _, ok := NormalizeURL(bad)
		assert.False(t, ok, bad)
	}
}

func TestCollect(t *testing.T) {
	responses := []model.RawResponse{
		{QuestionID: "visibility.02", Answers: []model.ProviderAnswer{
			{Provider: "perplexity", Citations: []model.Citation{
				{URL: "https://www.g2.com/crm?utm_medium=ai", Title: "G2 CRM"},
				{URL: "https://g2.com/crm"},
			}},
			{Provider: "anthropic", Citations: []model.Citation{{URL: "https://g2.com/crm/"}}},
		}},
		{QuestionID: "visibility.01", Answers: []model.ProviderAnswer{
			{Provider: "perplexity", Citations: []model.Citation{
				{URL: "https://g2.com/crm"},
				{URL: "https://blog.example/x"},
				{URL: "javascript:alert(1)"},
			}},
			{Provider: "anthropic", Failed: true, Citations: []model.Citation{{URL: "https://ignored.example"}}},
		}},
	}

	sources := Collect(responses)
	require.Len(t, sources, 2)

	assert.Equal(t, "https://blog.example/x", sources[0].URL)
	assert.Equal(t, 1, sources[0].CitationCount)

	g2 := sources[1]
	assert.Equal(t, "https://g2.com/crm", g2.URL)
	assert.Equal(t, "g2.com", g2.Domain)
	assert.Equal(t, "G2 CRM", g2.Title)
	assert.Equal(t, 3, g2.CitationCount)
	assert.Equal(t, []string{"anthropic", "perplexity"}, g2.Providers)
	assert.Equal(t, []string{"visibility.01", "visibility.02"}, g2.QuestionIDs)
}

func TestCollect_Deterministic(t *testing.T) {
	responses := []model.RawResponse{
		{QuestionID: "q1", Answers: []model.ProviderAnswer{{Provider: "p", Citations: []model.Citation{
			{URL: "https://z.example"}, {URL: "https://a.example"}, {URL: "https://m.example"},
		}}}},
	}
	assert.Equal(t, Collect(responses), Collect(responses))
}

func TestChannelFor(t *testing.T) {
	tests := []struct {
		url  string
		want *model.ChannelMetadata
	}{
		{"https://youtube.com/watch?v=abc", &model.ChannelMetadata{Platform: "youtube", VideoID: "abc"}},
		{"https://youtu.be/xyz", &model.ChannelMetadata{Platform: "youtube", VideoID: "xyz"}},
		{"https://www.youtube.com/@acme", &model.ChannelMetadata{Platform: "youtube", Handle: "@acme"}},
		{"https://youtube.com/channel/UC123", &model.ChannelMetadata{Platform: "youtube", ChannelID: "UC123"}},
		{"https://m.youtube.com/shorts/s1", &model.ChannelMetadata{Platform: "youtube", VideoID: "s1"}},
		{"https://vimeo.com/123456", &model.ChannelMetadata{Platform: "vimeo", VideoID: "123456"}},
		{"https://vimeo.com/channels/staff/987", &model.ChannelMetadata{Platform: "vimeo", ChannelID: "staff", VideoID: "987"}},
		{"https://vimeo.com/acmefilms", &model.ChannelMetadata{Platform: "vimeo", Handle: "acmefilms"}},
		{"https://tiktok.com/@acme/video/42", &model.ChannelMetadata{Platform: "tiktok", Handle: "@acme", VideoID: "42"}},
		{"https://tiktok.com/discover", nil},
		{"https://youtube.com/", nil},
		{"https://example.com/watch?v=abc", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChannelFor(tt.url), tt.url)
	}
}

func TestRules(t *testing.T) {
	r := Rules{Target: "Acme", OwnedDomains: []string{"www.acme-group.com"}, Competitors: []string{"Globex Corp", "Initech"}}

	assert.True(t, r.Owned("acme-group.com"))
	assert.True(t, r.Owned("shop.acme-group.com"))
	assert.True(t, r.Owned("acme.co.uk"))
	assert.False(t, r.Owned("notacme-group.com"))

	name, ok := r.Competitor("blog.initech.com")
	assert.True(t, ok)
	assert.Equal(t, "Initech", name)
	_, ok = r.Competitor("globex.com")
	assert.False(t, ok, "multi-word names must match the whole label")
	_, ok = r.Competitor("globexcorp.io")
	assert.True(t, ok)
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct{ host, want string }{
		{"de.wikipedia.org", "wikipedia.org"},
		{"www.bbc.co.uk", "bbc.co.uk"},
		{"news.example", "news.example"},
		{"Shop.Acme.COM", "acme.com"},
		{"localhost", "localhost"},
		{"10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RegistrableDomain(tt.host), tt.host)
	}
}

func TestAuthority(t *testing.T) {
	assert.InDelta(t, 0.95, authority("nytimes.com", model.CategoryJournalism, model.ConfidenceLow), 1e-9)
	assert.InDelta(t, 0.30, authority("nytimes.com", model.CategoryOther, model.ConfidenceLow), 1e-9)
	assert.InDelta(t, 0.30, authority("reddit.com", model.CategorySocialUGC, model.ConfidenceLow), 1e-9)
	assert.InDelta(t, 0.4, authority("reddit.com", model.CategorySocialUGC, model.ConfidenceHigh), 1e-9)
	assert.InDelta(t, 0.9, authority("agency.gov", model.CategoryGovernmentNGO, model.ConfidenceMedium), 1e-9)
	assert.InDelta(t, 0.30, authority("x.example", model.CategoryOther, model.ConfidenceHigh), 1e-9)
}
