package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"equitable/internal/config"
	"equitable/internal/discovery"
	"equitable/internal/extract"
	server "equitable/internal/http"
	"equitable/internal/ingest"
	"equitable/internal/llm"
	"equitable/internal/metrics"
	"equitable/internal/migrate"
	"equitable/internal/places"
	"equitable/internal/scraper"
	"equitable/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	// Basic pool settings; adjust as needed
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// Places search with the content-addressed cache in Postgres
	provider := places.NewGoogleProvider(cfg.Places.APIKey)
	searcher := places.NewClient(provider, st, places.Options{
		Variants:       cfg.Places.Variants,
		TimeoutMs:      cfg.Places.TimeoutMs,
		CacheTTLSecond: cfg.Places.CacheTTLSeconds,
		LatLngRound:    cfg.Places.LatLngRound,
		MaxResults:     cfg.Places.MaxResults,
	}, logger)

	// Scrape engine: HTTP by default, browser when rod is enabled
	var engine scraper.Scraper
	if cfg.Rod.Enabled {
		engine = scraper.NewRodScraper(cfg.Rod.BrowserURL, time.Duration(cfg.Scraper.TimeoutMs)*time.Millisecond)
	} else {
		engine = scraper.NewHTTPScraper(time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond)
	}
	siteScraper := scraper.NewSiteScraper(engine, scraper.SiteOptions{
		UserAgent:     cfg.Scraper.UserAgent,
		TimeoutMs:     cfg.Scraper.TimeoutMs,
		MaxSubpages:   cfg.Scraper.MaxSubpages,
		RespectRobots: cfg.Scraper.RespectRobots,
	}, logger)

	// LLM extraction; without a configured provider, discovery degrades
	// to places-only records.
	var extractor ingest.Extractor
	client, providerName, modelName, err := llm.NewClientFromConfig(cfg)
	if err != nil {
		logger.Warn("llm provider not configured, storing places-only records", "error", err)
	} else {
		extractor = extract.New(client, string(providerName), modelName, cfg.LLM.TimeoutMs, logger)
	}

	pipeline := ingest.New(siteScraper, extractor, st, logger)

	registry := discovery.NewRegistry(time.Duration(cfg.Discovery.JobRetentionMs)*time.Millisecond, logger)
	orchestrator := discovery.NewOrchestrator(searcher, pipeline, st, registry, discovery.Options{
		Workers:          cfg.Discovery.WorkerConcurrency,
		JobTimeout:       time.Duration(cfg.Discovery.JobTimeoutMs) * time.Millisecond,
		ProgressCoalesce: time.Duration(cfg.Discovery.ProgressCoalesceMs) * time.Millisecond,
		SubscriberSlow:   time.Duration(cfg.Discovery.SubscriberSlowMs) * time.Millisecond,
	}, logger)

	rootCtx := context.Background()

	go registry.RunJanitor(rootCtx, time.Minute)

	if cfg.Retention.Enabled {
		go runCacheRetention(rootCtx, cfg, st, logger)
	}

	s := server.NewServer(cfg, st, orchestrator, registry, pipeline, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// runCacheRetention periodically deletes places cache rows past their
// TTL so the table does not grow without bound.
func runCacheRetention(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) {
	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(cfg.Places.CacheTTLSeconds) * time.Second)
			deleted, err := st.DeleteExpiredPlacesCache(ctx, cutoff)
			if err != nil {
				logger.Warn("places cache cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				metrics.RecordRetentionCacheRows(deleted)
				logger.Info("places cache cleanup", "deleted", deleted)
			}
		}
	}
}
