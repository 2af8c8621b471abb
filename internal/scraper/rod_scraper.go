package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodScraper uses a real browser (via rod) to render JS-heavy pages
// before extracting HTML, markdown, and links.
type RodScraper struct {
	BrowserURL string
	Timeout    time.Duration
}

func NewRodScraper(browserURL string, timeout time.Duration) *RodScraper {
	return &RodScraper{BrowserURL: browserURL, Timeout: timeout}
}

func (r *RodScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	// Prepare browser with context and timeout; a per-request timeout
	// overrides the scraper-wide one.
	timeout := r.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	browser := rod.New().Context(ctx).Timeout(timeout)
	if r.BrowserURL != "" {
		browser = browser.ControlURL(r.BrowserURL)
	}

	if err := browser.Connect(); err != nil {
		return nil, classifyTransport(u.String(), err)
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		return nil, classifyTransport(u.String(), err)
	}
	defer page.MustClose()

	if err := page.WaitLoad(); err != nil {
		return nil, classifyTransport(u.String(), err)
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, classifyTransport(u.String(), err)
	}

	// First, attempt HTML -> Markdown conversion (CommonMark-enabled)
	converter := htmlmd.NewConverter(u.Hostname(), true, nil)
	markdown, mdErr := converter.ConvertString(htmlStr)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		// If parsing fails, still return raw HTML with best-effort markdown
		if mdErr != nil {
			markdown = ""
		}
		return &Result{
			URL:      u.String(),
			Markdown: markdown,
			HTML:     htmlStr,
			Status:   200,
			Engine:   "browser",
		}, nil
	}

	// Extract links
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			href = strings.TrimSpace(href)
			if href == "" || strings.HasPrefix(href, "#") {
				return
			}
			linkURL, err := url.Parse(href)
			if err != nil {
				return
			}
			if !linkURL.IsAbs() {
				linkURL = u.ResolveReference(linkURL)
			}
			if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
				return
			}
			linkURL.Fragment = ""
			links = append(links, linkURL.String())
		}
	})

	// Fallback markdown if converter failed
	if mdErr != nil {
		markdown = doc.Text()
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	return &Result{
		URL:      u.String(),
		Title:    title,
		Markdown: markdown,
		HTML:     htmlStr,
		Links:    links,
		Status:   200,
		Engine:   "browser",
	}, nil
}
