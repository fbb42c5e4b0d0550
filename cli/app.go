package cli

import (
	"context"
	"fmt"
	"log"
	"strings"

	"listing_canon/config"
	"listing_canon/httputil"
	"listing_canon/identity"
	"listing_canon/logging"
	"listing_canon/scraper"
	"listing_canon/services"
	"listing_canon/storage"
)

// app wires the pipeline for one command invocation.
type app struct {
	cfg          *config.Config
	sqlite       *storage.SQLiteStore
	pg           *storage.PostgresStore
	memory       *storage.MemorySink
	archive      *storage.S3Archive
	clients      *httputil.Clients
	router       *scraper.Router
	orchestrator *scraper.Orchestrator
	logFile      *logging.RotatingWriter
}

// loadConfig reads the environment and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if configDir != "" && configDir != cfg.ConfigDir {
		cfg.ConfigDir = configDir
		if err := cfg.LoadDir(configDir); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if workerCount > 0 {
		cfg.Workers = workerCount
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) *logging.RotatingWriter {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
		return nil
	}
	return logFile
}

// newApp opens the stores and builds the pipeline. A dry run keeps all
// output in memory and touches no database.
func newApp(ctx context.Context, dryRun bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logFile: setupLogging(cfg)}

	logging.Infof("Loaded %d source configs", len(cfg.Sources))
	for _, id := range cfg.SourceIDs() {
		logging.Debugf("  - %s (%s)", cfg.Sources[id].Name, id)
	}

	dedup := identity.NewDeduplicator(cfg.Pipeline.Dedup)
	var sink storage.RecordSink
	if dryRun {
		a.memory = storage.NewMemorySink()
		sink = a.memory
	} else {
		if a.sqlite, err = storage.NewSQLiteStore(cfg.DBPath); err != nil {
			a.Close()
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logging.Infof("SQLite database: %s", cfg.DBPath)
		sinks := storage.MultiSink{a.sqlite}

		if cfg.Postgres.URL != "" {
			if a.pg, err = storage.NewPostgresStore(ctx, cfg.Postgres.URL); err != nil {
				a.Close()
				return nil, fmt.Errorf("connect postgres: %w", err)
			}
			logging.Infof("Connected to Postgres: %s", maskConnectionString(cfg.Postgres.URL))
			sinks = append(sinks, a.pg)
		}
		sink = sinks

		if err := services.WarmIndex(ctx, dedup, a.sqlite); err != nil {
			a.Close()
			return nil, err
		}
	}

	listings := services.NewListingService(cfg, dedup, sink)
	a.clients = httputil.NewClients(cfg.Fetch)
	a.router = scraper.NewRouter(cfg, a.clients)
	a.orchestrator = scraper.NewOrchestrator(cfg, a.router, listings)
	if a.sqlite != nil {
		a.orchestrator.SetRunStore(a.sqlite)
	}

	if cfg.S3.Enabled() && !dryRun {
		archive, err := storage.NewS3Archive(ctx, cfg.S3)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		a.archive = archive
		a.orchestrator.SetArchive(archive)
		logging.Infof("Archiving raw pages to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
	}

	return a, nil
}

func (a *app) Close() {
	if a.router != nil {
		a.router.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.sqlite != nil {
		a.sqlite.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3
	at := strings.Index(connStr[start:], "@")
	if at < 0 {
		return connStr
	}
	at += start
	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:start+colon+1] + "****" + connStr[at:]
}
