package scrapeutil

import (
	"net/url"
	"sort"
	"strings"
)

// ResolveLinks makes every link absolute against the base URL, strips
// fragments, and drops anything that is not http(s). Order is preserved
// and duplicates are removed.
func ResolveLinks(links []string, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool, len(links))
	resolved := make([]string, 0, len(links))

	for _, link := range links {
		if link == "" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(link))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(u)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		abs.Fragment = ""
		s := abs.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		resolved = append(resolved, s)
	}

	return resolved
}

// FilterLinks applies basic link filters.
// sameDomainOnly restricts links to those matching the base URL's host.
// maxPerDocument > 0 limits the number of links returned.
func FilterLinks(links []string, baseURL string, sameDomainOnly bool, maxPerDocument int) []string {
	if len(links) == 0 {
		return links
	}

	filtered := make([]string, 0, len(links))

	var baseHost string
	if sameDomainOnly {
		if u, err := url.Parse(baseURL); err == nil {
			baseHost = strings.ToLower(u.Hostname())
		} else {
			// If base URL is invalid, skip same-domain filtering but still apply maxPerDocument.
			sameDomainOnly = false
		}
	}

	for _, link := range links {
		if link == "" {
			continue
		}

		if sameDomainOnly {
			lu, err := url.Parse(link)
			if err != nil {
				continue
			}
			if strings.ToLower(lu.Hostname()) != baseHost {
				continue
			}
		}

		filtered = append(filtered, link)
		if maxPerDocument > 0 && len(filtered) >= maxPerDocument {
			break
		}
	}

	return filtered
}

// Keywords that suggest a subpage is worth scraping for pantry details.
// Scores are additive per keyword found in the URL path.
var relevanceKeywords = map[string]int{
	"hour":        3,
	"schedule":    3,
	"eligib":      3,
	"requirement": 2,
	"pantry":      2,
	"food":        2,
	"distribut":   2,
	"service":     1,
	"program":     1,
	"visit":       1,
	"about":       1,
	"contact":     1,
	"location":    1,
	"get-help":    2,
	"gethelp":     2,
	"faq":         1,
}

// RankLinks orders links by how likely their URL is to describe pantry
// hours or eligibility, most relevant first. Links that match no
// keyword are dropped. The sort is stable so equally scored links keep
// their original order.
func RankLinks(links []string) []string {
	type scored struct {
		link  string
		score int
	}

	ranked := make([]scored, 0, len(links))
	for _, link := range links {
		lower := strings.ToLower(link)
		score := 0
		for kw, w := range relevanceKeywords {
			if strings.Contains(lower, kw) {
				score += w
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{link: link, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.link
	}
	return out
}
