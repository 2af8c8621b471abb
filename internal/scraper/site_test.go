package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newSiteServer(t *testing.T, robots string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><head><title>Hope Pantry</title></head>
<body><p>Hope Pantry serves families every week.</p>
<a href="/hours">Hours</a>
<a href="/donate">Donate</a>
</body></html>`))
	})
	mux.HandleFunc("/hours", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Open Tuesdays 9am to noon.</p></body></html>`))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		if robots == "" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(robots))
	})
	return httptest.NewServer(mux)
}

func TestSiteScraperCombinesSubpages(t *testing.T) {
	srv := newSiteServer(t, "")
	defer srv.Close()

	s := NewSiteScraper(NewHTTPScraper(5*time.Second), SiteOptions{
		UserAgent:   "equitable-test",
		TimeoutMs:   5000,
		MaxSubpages: 2,
	}, nil)

	res, err := s.ScrapeSite(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ScrapeSite returned error: %v", err)
	}

	if res.Pages != 2 {
		t.Fatalf("expected 2 pages (landing + hours), got %d", res.Pages)
	}
	if !strings.Contains(res.Markdown, "serves families") {
		t.Fatalf("expected landing content in markdown:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "Open Tuesdays") {
		t.Fatalf("expected hours subpage content in markdown:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "## Source: "+srv.URL+"/hours") {
		t.Fatalf("expected source header for subpage:\n%s", res.Markdown)
	}
}

func TestSiteScraperRespectsRobots(t *testing.T) {
	srv := newSiteServer(t, "User-agent: *\nDisallow: /\n")
	defer srv.Close()

	s := NewSiteScraper(NewHTTPScraper(5*time.Second), SiteOptions{
		UserAgent:     "equitable-test",
		TimeoutMs:     5000,
		MaxSubpages:   2,
		RespectRobots: true,
	}, nil)

	_, err := s.ScrapeSite(context.Background(), srv.URL)
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Kind != FailBlocked {
		t.Fatalf("expected blocked failure, got %s", f.Kind)
	}
}

func TestSiteScraperEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body></body></html>`))
	}))
	defer srv.Close()

	s := NewSiteScraper(NewHTTPScraper(5*time.Second), SiteOptions{
		TimeoutMs:   5000,
		MaxSubpages: 0,
	}, nil)

	_, err := s.ScrapeSite(context.Background(), srv.URL)
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Kind != FailEmpty {
		t.Fatalf("expected empty failure, got %s", f.Kind)
	}
}

func TestSiteScraperSubpageFailureIsSoft(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><body><p>Food pantry open to residents of the county.</p>
<a href="/hours">Hours</a></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSiteScraper(NewHTTPScraper(5*time.Second), SiteOptions{
		TimeoutMs:   5000,
		MaxSubpages: 2,
	}, nil)

	res, err := s.ScrapeSite(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected soft subpage failure, got error: %v", err)
	}
	if res.Pages != 1 {
		t.Fatalf("expected only landing page, got %d pages", res.Pages)
	}
}
