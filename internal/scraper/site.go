package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"equitable/internal/scrapeutil"
)

// minUsableContent is the minimum combined markdown length below which
// a site scrape is considered empty.
const minUsableContent = 20

// SiteOptions configures a SiteScraper.
type SiteOptions struct {
	UserAgent     string
	TimeoutMs     int
	MaxSubpages   int
	RespectRobots bool
}

// SiteResult is the combined markdown for a site: the landing page plus
// any relevant subpages, each prefixed with its source URL.
type SiteResult struct {
	URL      string
	Markdown string
	Pages    int
	Engine   string
}

// SiteScraper fetches a pantry website and concatenates the landing
// page with up to MaxSubpages same-domain pages whose URLs look like
// they describe hours or eligibility.
type SiteScraper struct {
	engine Scraper
	opts   SiteOptions
	client *http.Client
	log    *slog.Logger
}

func NewSiteScraper(engine Scraper, opts SiteOptions, log *slog.Logger) *SiteScraper {
	if log == nil {
		log = slog.Default()
	}
	return &SiteScraper{
		engine: engine,
		opts:   opts,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

// ScrapeSite fetches the site's landing page and relevant subpages and
// returns their markdown joined by source-labelled sections. Subpage
// failures are skipped; a landing page failure fails the whole scrape.
func (s *SiteScraper) ScrapeSite(ctx context.Context, siteURL string) (*SiteResult, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, &Failure{Kind: FailHTTPError, URL: siteURL, Err: err}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	if s.opts.RespectRobots && !s.allowed(ctx, u) {
		return nil, &Failure{Kind: FailBlocked, URL: u.String()}
	}

	req := BuildRequestFromOptions(RequestOptions{
		URL:       u.String(),
		TimeoutMs: s.opts.TimeoutMs,
		UserAgent: s.opts.UserAgent,
	})

	landing, err := s.engine.Scrape(ctx, req)
	if err != nil {
		return nil, err
	}

	sections := []string{section(landing.URL, landing.Markdown)}
	pages := 1

	for _, link := range s.pickSubpages(landing) {
		if ctx.Err() != nil {
			break
		}
		subReq := req
		subReq.URL = link
		sub, err := s.engine.Scrape(ctx, subReq)
		if err != nil {
			s.log.Debug("subpage scrape failed", "url", link, "error", err)
			continue
		}
		sections = append(sections, section(sub.URL, sub.Markdown))
		pages++
	}

	combined := strings.Join(sections, "\n\n---\n\n")
	if len(strings.TrimSpace(stripSections(combined))) < minUsableContent {
		return nil, &Failure{Kind: FailEmpty, URL: u.String()}
	}

	return &SiteResult{
		URL:      u.String(),
		Markdown: combined,
		Pages:    pages,
		Engine:   landing.Engine,
	}, nil
}

// pickSubpages selects up to MaxSubpages same-domain links from the
// landing page, ranked by URL relevance, excluding the landing page
// itself.
func (s *SiteScraper) pickSubpages(landing *Result) []string {
	if s.opts.MaxSubpages <= 0 {
		return nil
	}

	sameDomain := scrapeutil.FilterLinks(landing.Links, landing.URL, true, 0)
	ranked := scrapeutil.RankLinks(sameDomain)

	picked := make([]string, 0, s.opts.MaxSubpages)
	for _, link := range ranked {
		if strings.TrimRight(link, "/") == strings.TrimRight(landing.URL, "/") {
			continue
		}
		picked = append(picked, link)
		if len(picked) >= s.opts.MaxSubpages {
			break
		}
	}
	return picked
}

// allowed checks the site's robots.txt for our user agent. Fetch
// errors count as allowed so an unreachable robots.txt never blocks a
// scrape.
func (s *SiteScraper) allowed(ctx context.Context, u *url.URL) bool {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return true
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return robots.FindGroup(s.opts.UserAgent).Test(path)
}

func section(sourceURL, markdown string) string {
	return fmt.Sprintf("## Source: %s\n\n%s", sourceURL, strings.TrimSpace(markdown))
}

// stripSections removes the source headers so the emptiness check only
// counts real page content.
func stripSections(combined string) string {
	var b strings.Builder
	for _, line := range strings.Split(combined, "\n") {
		if strings.HasPrefix(line, "## Source: ") || strings.TrimSpace(line) == "---" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
