package behavior

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var urlRegex = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)

var phishingDomains = setOf(
	"bit.ly", "tinyurl.com", "short.link", "rebrand.ly",
	"ow.ly", "buff.ly", "t.co", "goo.gl",
)

var shortenerDomains = setOf(
	"bit.ly", "tinyurl.com", "short.link", "rebrand.ly",
	"ow.ly", "buff.ly", "t.co", "goo.gl", "tiny.cc",
)

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

var suspiciousDomainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`),
	regexp.MustCompile(`[a-z]{20,}\.com`),
	regexp.MustCompile(`telegram.*bot`),
	regexp.MustCompile(`crypto.*giveaway`),
	regexp.MustCompile(`free.*money`),
}

// link analysis weights
const (
	weightManyLinks  = 0.3
	weightPhishing   = 0.9
	weightSuspicious = 0.6
	weightShortener  = 0.4
	linkWeightCap    = 1.0
	linkBanThreshold = 0.5
)

// ExtractURLs returns the http(s) and www. links found in text.
func ExtractURLs(text string) []string {
	return urlRegex.FindAllString(text, -1)
}

// Domain returns the lower-cased host of a link, without a leading "www.".
func Domain(link string) string {
	if !strings.Contains(link, "://") {
		link = "http://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

type linkReport struct {
	count   int
	weight  float64
	reasons []string
}

// analyzeLinks weighs the links in text. The aggregate weight is capped at
// linkWeightCap.
func analyzeLinks(text string, threshold int) linkReport {
	links := ExtractURLs(text)
	rep := linkReport{count: len(links)}
	if len(links) == 0 {
		return rep
	}
	if len(links) > threshold {
		rep.weight += weightManyLinks
		rep.reasons = append(rep.reasons, fmt.Sprintf("Too many links (%d)", len(links)))
	}
	for _, link := range links {
		domain := Domain(link)
		if domain == "" {
			continue
		}
		if _, ok := phishingDomains[domain]; ok {
			rep.weight += weightPhishing
			rep.reasons = append(rep.reasons, "Phishing domain: "+domain)
		}
		for _, p := range suspiciousDomainPatterns {
			if p.MatchString(domain) {
				rep.weight += weightSuspicious
				rep.reasons = append(rep.reasons, "Suspicious domain: "+domain)
				break
			}
		}
		if _, ok := shortenerDomains[domain]; ok {
			rep.weight += weightShortener
			rep.reasons = append(rep.reasons, "URL shortener: "+domain)
		}
	}
	if rep.weight > linkWeightCap {
		rep.weight = linkWeightCap
	}
	return rep
}
