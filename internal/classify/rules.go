package classify

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/brand-radar/internal/names"
)

// Rules are the job-specific ownership rules that take precedence over any
// content-based classification.
type Rules struct {
	Target       string
	OwnedDomains []string
	Competitors  []string
}

// Owned reports whether domain belongs to the target: a configured owned
// domain or one of its subdomains, or a registrable domain whose label is
// the target's name.
func (r Rules) Owned(domain string) bool {
	d := cleanDomain(domain)
	for _, o := range r.OwnedDomains {
		o = cleanDomain(o)
		if o != "" && (d == o || strings.HasSuffix(d, "."+o)) {
			return true
		}
	}
	return r.Target != "" && siteLabel(d) == names.Compact(r.Target)
}

// Competitor returns the competitor whose name is the domain's site label.
func (r Rules) Competitor(domain string) (string, bool) {
	label := siteLabel(cleanDomain(domain))
	if label == "" {
		return "", false
	}
	for _, c := range r.Competitors {
		if names.Compact(c) == label {
			return c, true
		}
	}
	return "", false
}

func cleanDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
}

// RegistrableDomain folds a host to its registrable domain:
// "de.wikipedia.org" → "wikipedia.org". Hosts without a public suffix, such
// as IPs and "localhost", are returned cleaned but otherwise unchanged.
func RegistrableDomain(host string) string {
	h := cleanDomain(host)
	if net.ParseIP(h) != nil {
		return h
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(h)
	if err != nil {
		return h
	}
	return etld1
}

// siteLabel is the registrable label of a host: "shop.acme.co.uk" → "acme".
func siteLabel(host string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	label, _, _ := strings.Cut(etld1, ".")
	return names.Compact(label)
}
