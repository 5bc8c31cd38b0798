package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/agroclim/weather-pipeline/internal/api/http"
	"github.com/agroclim/weather-pipeline/internal/config"
	"github.com/agroclim/weather-pipeline/internal/fetch"
	"github.com/agroclim/weather-pipeline/internal/load"
	"github.com/agroclim/weather-pipeline/internal/normalize"
	"github.com/agroclim/weather-pipeline/internal/pipeline"
	"github.com/agroclim/weather-pipeline/internal/report"
	"github.com/agroclim/weather-pipeline/internal/scheduler"
	"github.com/agroclim/weather-pipeline/internal/staging"
	"github.com/agroclim/weather-pipeline/internal/store"
)

func main() {
	var (
		skipHistorical = flag.Bool("skip-historical", false, "do not acquire historical data")
		skipForecast   = flag.Bool("skip-forecast", false, "do not acquire forecast data")
		dryRun         = flag.Bool("dry-run", false, "load into an in-memory store instead of Postgres")
		reportOnly     = flag.Bool("report", false, "print the analytical report and exit")
		reportYear     = flag.Int("report-year", time.Now().UTC().Year(), "year for the monthly precipitation report")
		serve          = flag.Bool("serve", false, "run the scheduler and HTTP API")
		interval       = flag.Duration("interval", 0, "override the schedule interval in serve mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *interval > 0 {
		cfg.ScheduleInterval = *interval
	}

	ctx := context.Background()

	// Target store: Postgres in normal operation, in-memory for dry runs.
	var (
		st       store.Store
		reporter *report.Reporter
	)
	if *dryRun {
		st = store.NewMemoryStore()
		log.Println("dry run: loading into in-memory store")
	} else {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		if err := pg.CreateSchema(ctx); err != nil {
			log.Fatalf("failed to create schema: %v", err)
		}
		st = pg
		reporter = report.NewReporter(pg.Pool())
	}
	defer st.Close()

	if *reportOnly {
		if reporter == nil {
			log.Fatal("report mode requires a relational store; drop -dry-run")
		}
		if err := reporter.WriteText(ctx, os.Stdout, *reportYear); err != nil {
			log.Fatalf("failed to generate report: %v", err)
		}
		return
	}

	// Historical-response cache. Missing cache degrades to direct fetches.
	var cache fetch.Cache
	if cfg.CachePath != "" {
		sqlCache, err := fetch.OpenSQLiteCache(cfg.CachePath, cfg.CacheTTL)
		if err != nil {
			log.Printf("WARN: response cache unavailable: %v", err)
		} else {
			cache = sqlCache
			defer sqlCache.Close()
		}
	}

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	client := fetch.NewClient(httpClient, cfg.ArchiveURL, cfg.ForecastURL, fetch.BackoffConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialBackoff,
		MaxInterval:     cfg.MaxBackoff,
	}, cache)

	writer, err := staging.NewWriter(cfg.StagingDir)
	if err != nil {
		log.Fatalf("failed to prepare staging directory: %v", err)
	}
	reader := staging.NewReader(cfg.StagingDir)
	loader := load.NewLoader(st, reader)
	normalizer := normalize.New(cfg.SkipThreshold)

	pipe := pipeline.New(cfg, client, normalizer, writer, loader)
	opts := pipeline.Options{
		Historical: !*skipHistorical,
		Forecast:   !*skipForecast,
	}

	if !*serve {
		summary := pipe.Run(ctx, opts)
		if summary.Failed() {
			os.Exit(1)
		}
		return
	}

	sched := scheduler.New(pipe, cfg.ScheduleInterval, opts)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-pipeline",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-pipeline",
		})
	})

	httpapi.RegisterRoutes(app, pipe, reporter)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
