package classify

import (
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/sells-group/brand-radar/internal/model"
)

var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "msclkid": true, "mc_cid": true, "mc_eid": true,
	"ref": true, "ref_src": true, "igshid": true, "si": true,
}

// NormalizeURL canonicalises a cited URL for deduplication: https scheme,
// lowercase host without "www.", no fragment, default port or tracking
// parameters, sorted query and no trailing slash. The second return is the
// bare host.
func NormalizeURL(raw string) (string, string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") || trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "/" {
		path = ""
	}

	out := "https://" + host + path
	if len(q) > 0 {
		out += "?" + q.Encode()
	}
	return out, strings.Split(host, ":")[0], true
}

// Collect deduplicates the citations of every usable provider answer into
// Sources ordered by URL. A provider citing the same URL twice in one
// answer counts once.
func Collect(responses []model.RawResponse) []model.Source {
	byURL := make(map[string]*model.Source)
	for _, r := range responses {
		for _, a := range r.Answers {
			if a.Failed {
				continue
			}
			seen := make(map[string]bool, len(a.Citations))
			for _, c := range a.Citations {
				norm, host, ok := NormalizeURL(c.URL)
				if !ok || seen[norm] {
					continue
				}
				seen[norm] = true

				src, exists := byURL[norm]
				if !exists {
					src = &model.Source{URL: norm, Domain: host}
					byURL[norm] = src
				}
				if src.Title == "" {
					src.Title = strings.TrimSpace(c.Title)
				}
				src.CitationCount++
				if !slices.Contains(src.Providers, a.Provider) {
					src.Providers = append(src.Providers, a.Provider)
				}
				if !slices.Contains(src.QuestionIDs, r.QuestionID) {
					src.QuestionIDs = append(src.QuestionIDs, r.QuestionID)
				}
			}
		}
	}

	out := make([]model.Source, 0, len(byURL))
	for _, s := range byURL {
		sort.Strings(s.Providers)
		sort.Strings(s.QuestionIDs)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
