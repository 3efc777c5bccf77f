package classify

import (
	"strings"

	"github.com/sells-group/brand-radar/internal/model"
)

// domainRule is a static classification for a well-known domain. A
// non-zero Authority is trusted even when confidence is low.
type domainRule struct {
	Category  model.SourceCategory
	Authority float64
}

var domainTable = map[string]domainRule{
	// journalism
	"nytimes.com":         {model.CategoryJournalism, 0.95},
	"wsj.com":             {model.CategoryJournalism, 0.95},
	"reuters.com":         {model.CategoryJournalism, 0.95},
	"apnews.com":          {model.CategoryJournalism, 0.95},
	"bloomberg.com":       {model.CategoryJournalism, 0.9},
	"ft.com":              {model.CategoryJournalism, 0.9},
	"bbc.com":             {model.CategoryJournalism, 0.9},
	"bbc.co.uk":           {model.CategoryJournalism, 0.9},
	"theguardian.com":     {model.CategoryJournalism, 0.9},
	"cnbc.com":            {model.CategoryJournalism, 0.85},
	"forbes.com":          {model.CategoryJournalism, 0.75},
	"businessinsider.com": {model.CategoryJournalism, 0.75},
	"techcrunch.com":      {model.CategoryJournalism, 0.8},
	"theverge.com":        {model.CategoryJournalism, 0.8},
	"wired.com":           {model.CategoryJournalism, 0.8},
	"spiegel.de":          {model.CategoryJournalism, 0.9},
	"lemonde.fr":          {model.CategoryJournalism, 0.9},
	// aggregator / encyclopedic
	"wikipedia.org":  {model.CategoryAggregatorEncyclopedic, 0.85},
	"britannica.com": {model.CategoryAggregatorEncyclopedic, 0.85},
	"g2.com":         {model.CategoryAggregatorEncyclopedic, 0.7},
	"capterra.com":   {model.CategoryAggregatorEncyclopedic, 0.7},
	"gartner.com":    {model.CategoryAggregatorEncyclopedic, 0.8},
	"statista.com":   {model.CategoryAggregatorEncyclopedic, 0.75},
	"crunchbase.com": {model.CategoryAggregatorEncyclopedic, 0.65},
	// social / user generated
	"reddit.com":      {model.CategorySocialUGC, 0},
	"quora.com":       {model.CategorySocialUGC, 0},
	"youtube.com":     {model.CategorySocialUGC, 0},
	"youtu.be":        {model.CategorySocialUGC, 0},
	"vimeo.com":       {model.CategorySocialUGC, 0},
	"tiktok.com":      {model.CategorySocialUGC, 0},
	"x.com":           {model.CategorySocialUGC, 0},
	"twitter.com":     {model.CategorySocialUGC, 0},
	"facebook.com":    {model.CategorySocialUGC, 0},
	"instagram.com":   {model.CategorySocialUGC, 0},
	"linkedin.com":    {model.CategorySocialUGC, 0},
	"medium.com":      {model.CategorySocialUGC, 0},
	"trustpilot.com":  {model.CategorySocialUGC, 0.5},
	"yelp.com":        {model.CategorySocialUGC, 0.5},
	"tripadvisor.com": {model.CategorySocialUGC, 0.5},
	// press releases
	"prnewswire.com":    {model.CategoryPressRelease, 0},
	"businesswire.com":  {model.CategoryPressRelease, 0},
	"globenewswire.com": {model.CategoryPressRelease, 0},
	"accesswire.com":    {model.CategoryPressRelease, 0},
	"einpresswire.com":  {model.CategoryPressRelease, 0},
	// paid
	"outbrain.com": {model.CategoryPaidAdvertorial, 0},
	"taboola.com":  {model.CategoryPaidAdvertorial, 0},
	// government / ngo
	"who.int":   {model.CategoryGovernmentNGO, 0.95},
	"europa.eu": {model.CategoryGovernmentNGO, 0.9},
	"un.org":    {model.CategoryGovernmentNGO, 0.9},
	// academic
	"arxiv.org":          {model.CategoryAcademic, 0.85},
	"nature.com":         {model.CategoryAcademic, 0.95},
	"sciencedirect.com":  {model.CategoryAcademic, 0.9},
	"springer.com":       {model.CategoryAcademic, 0.9},
	"jstor.org":          {model.CategoryAcademic, 0.9},
	"researchgate.net":   {model.CategoryAcademic, 0.7},
	"scholar.google.com": {model.CategoryAcademic, 0.8},
}

// lookupDomain finds the rule for domain or its closest listed parent.
func lookupDomain(domain string) (domainRule, bool) {
	d := strings.ToLower(domain)
	for d != "" {
		if r, ok := domainTable[d]; ok {
			return r, true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return domainRule{}, false
}

// tldCategory classifies by public suffix conventions.
func tldCategory(domain string) (model.SourceCategory, bool) {
	d := "." + strings.ToLower(domain)
	switch {
	case strings.HasSuffix(d, ".gov"), strings.HasSuffix(d, ".mil"),
		strings.Contains(d, ".gov."), strings.Contains(d, ".gouv."):
		return model.CategoryGovernmentNGO, true
	case strings.HasSuffix(d, ".edu"), strings.Contains(d, ".edu."), strings.Contains(d, ".ac."):
		return model.CategoryAcademic, true
	case strings.HasSuffix(d, ".ngo"):
		return model.CategoryGovernmentNGO, true
	}
	return "", false
}

var keywordRules = []struct {
	category model.SourceCategory
	words    []string
}{
	{model.CategoryPressRelease, []string{"press-release", "pressrelease", "/press/", "newsroom", "/news-releases/"}},
	{model.CategoryPaidAdvertorial, []string{"sponsored", "advertorial", "partner-content", "/brandvoice/", "paid-post"}},
	{model.CategorySocialUGC, []string{"forum", "/community/", "/threads/", "/discussion", "/reviews/"}},
	{model.CategoryAcademic, []string{"journal", "/doi/", "/abs/", "/paper"}},
	{model.CategoryJournalism, []string{"/news/", "/article", "/story/", "/magazine/"}},
	{model.CategoryAggregatorEncyclopedic, []string{"/wiki/", "/compare", "/alternatives", "/top-", "/best-"}},
}

// keywordCategory matches the URL and title against content-type keywords.
func keywordCategory(rawURL, title string) (model.SourceCategory, string, bool) {
	hay := strings.ToLower(rawURL + " " + title)
	for _, r := range keywordRules {
		for _, w := range r.words {
			if strings.Contains(hay, w) {
				return r.category, w, true
			}
		}
	}
	return "", "", false
}

// defaultAuthority is the category-level authority for confident results.
func defaultAuthority(c model.SourceCategory) float64 {
	switch c {
	case model.CategoryGovernmentNGO:
		return 0.9
	case model.CategoryAcademic:
		return 0.85
	case model.CategoryJournalism:
		return 0.8
	case model.CategoryAggregatorEncyclopedic:
		return 0.7
	case model.CategoryOwnedMedia:
		return 0.6
	case model.CategoryCompetitorMedia:
		return 0.5
	case model.CategorySocialUGC:
		return 0.4
	case model.CategoryPressRelease:
		return 0.35
	case model.CategoryPaidAdvertorial:
		return 0.3
	default:
		return lowConfidenceAuthority
	}
}

const lowConfidenceAuthority = 0.30

// authority scores a classified source. Low confidence is capped at 0.30
// unless the domain table vouches for the domain.
func authority(domain string, category model.SourceCategory, conf model.Confidence) float64 {
	rule, ok := lookupDomain(domain)
	trusted := ok && rule.Authority > 0 && rule.Category == category
	if trusted {
		return rule.Authority
	}
	if conf == model.ConfidenceLow {
		return lowConfidenceAuthority
	}
	return defaultAuthority(category)
}

// heuristic classifies without the model: domain table, then suffix
// conventions, then keywords, then other. Always low confidence.
func heuristic(src model.Source) (model.SourceCategory, string) {
	if r, ok := lookupDomain(src.Domain); ok {
		return r.Category, "domain table match for " + src.Domain
	}
	if c, ok := tldCategory(src.Domain); ok {
		return c, "domain suffix of " + src.Domain
	}
	if c, w, ok := keywordCategory(src.URL, src.Title); ok {
		return c, "keyword " + strings.Trim(w, "/-")
	}
	return model.CategoryOther, "no heuristic matched"
}
