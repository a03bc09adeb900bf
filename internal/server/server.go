package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/archive"
	"github.com/mohammad-safakhou/svat/internal/backend"
	"github.com/mohammad-safakhou/svat/internal/codescan"
	"github.com/mohammad-safakhou/svat/internal/dedup"
	"github.com/mohammad-safakhou/svat/internal/embedding"
	"github.com/mohammad-safakhou/svat/internal/extract"
	"github.com/mohammad-safakhou/svat/internal/helpers"
	"github.com/mohammad-safakhou/svat/internal/ingest"
	"github.com/mohammad-safakhou/svat/internal/llm"
	"github.com/mohammad-safakhou/svat/internal/news"
	"github.com/mohammad-safakhou/svat/internal/notify"
	"github.com/mohammad-safakhou/svat/internal/rag"
	"github.com/mohammad-safakhou/svat/internal/reference"
	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/search"
	"github.com/mohammad-safakhou/svat/internal/store"
	"github.com/mohammad-safakhou/svat/internal/telemetry"
	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/internal/vectorstore/memory"
	"github.com/mohammad-safakhou/svat/internal/vectorstore/pgstore"
)

// App holds every handler and the shared dependencies behind them.
type App struct {
	Config    *config.Config
	Secret    []byte
	Auth      *AuthHandler
	Report    *ReportHandler
	Code      *CodeHandler
	Results   *ResultsHandler
	News      *NewsHandler
	Chat      *ChatHandler
	Scheduler *Scheduler

	closers []func() error
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build connects to the backing stores and wires every component.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Secret: secret}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	dsn := cfg.Storage.Postgres.DSN()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	app.closers = append(app.closers, st.Close)

	var vectors vectorstore.Store
	switch cfg.Storage.Vector.Type {
	case "memory":
		vectors = memory.NewStorage()
	default:
		pg, err := pgstore.NewWithDSN(ctx, cfg.Storage.Vector.DSN(cfg.Storage.Postgres))
		if err != nil {
			return fail(fmt.Errorf("vector store: %w", err))
		}
		app.closers = append(app.closers, pg.DB.Close)
		vectors = pg
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fail(fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err))
		}
		app.closers = append(app.closers, rdb.Close)
	}

	embedder := embedding.NewOpenAI(embedding.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
		Timeout: cfg.LLM.Timeout,
		Retries: 1,
	})
	chatModels := &llm.OpenAIFactory{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
		Allowed: cfg.LLM.AllowedModels,
	}

	var locker dedup.Locker
	if rdb != nil {
		locker = &dedup.RedisLocker{Rdb: rdb}
	}
	gate := dedup.NewGate(vectors, embedder, locker, nil)

	extractor := extract.NewExtractor(extract.ExecRunner{}, chatModels, cfg.Ingestion.PDFToTextPath, cfg.Ingestion.TesseractPath, nil)
	builder := rag.NewBuilder(vectors, embedder, chatModels, cfg.Ingestion.TopK)
	be := backend.New(extractor, builder)

	vault, err := archive.NewFromConfig(ctx, cfg.Archive)
	if err != nil {
		return fail(fmt.Errorf("archive: %w", err))
	}
	orch := ingest.NewOrchestrator(cfg.Ingestion, be, gate, vault, nil)

	refHTTP := helpers.NewHTTPClient(cfg.Enrichment.Timeout, cfg.Enrichment.Retries, 0)
	analyzer := codescan.NewAnalyzer(chatModels,
		reference.NewNVDClient(refHTTP, cfg.Enrichment.NVDURL, os.Getenv("NVD_API_KEY")),
		reference.NewCWEClient(refHTTP, cfg.Enrichment.CWEURL),
		cfg.Enrichment.CVEPageURL, cfg.Enrichment.CWEURL, nil)

	fetcher := news.NewFetcher(cfg.News.Feeds, cfg.News.MaxItems, helpers.NewHTTPClient(cfg.News.Timeout, 1, 0), nil)
	var cache news.Cache
	if rdb != nil {
		cache = news.NewRedisCache(rdb)
	}
	newsSvc := news.NewService(fetcher, cache, cfg.News.CacheTTL, nil)

	idx, err := search.New()
	if err != nil {
		return fail(fmt.Errorf("search index: %w", err))
	}
	app.closers = append(app.closers, idx.Close)
	if err := rebuildIndex(ctx, st, idx); err != nil {
		log.Printf("search index rebuild: %v", err)
	}

	notifier := notify.NewFromConfig(cfg.Mail, nil)

	app.Auth = &AuthHandler{Store: st, Secret: secret, TokenTTL: cfg.Server.TokenTTL, SecureCookies: cfg.Server.SecureCookies}
	app.Report = &ReportHandler{
		Store:         st,
		Vectors:       vectors,
		Ingest:        orch,
		Chains:        be,
		Notifier:      notifier,
		Search:        idx,
		Defaults:      cfg.Ingestion,
		AllowedModels: cfg.LLM.AllowedModels,
		ResultURLBase: cfg.General.ResultURLBase,
		PingTimeout:   cfg.Storage.Vector.PingTimeout,
		Logger:        log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
	app.Code = &CodeHandler{
		Store:         st,
		Analyzer:      analyzer,
		Notifier:      notifier,
		Defaults:      cfg.CodeAnalysis,
		AllowedModels: cfg.LLM.AllowedModels,
		ResultURLBase: cfg.General.ResultURLBase,
		MaxBytes:      cfg.Server.MaxUploadBytes,
		Logger:        log.New(log.Writer(), "[SCAN] ", log.LstdFlags),
	}
	app.Results = &ResultsHandler{Store: st, Vectors: vectors, Search: idx}
	app.News = &NewsHandler{News: newsSvc}
	app.Chat = NewChatHandler(st, be, cfg.Ingestion, cfg.Server.AllowedOrigins, nil)

	if cache != nil {
		app.Scheduler = NewScheduler(newsSvc, cfg.News.RefreshCron, rdb, nil)
	}
	return app, nil
}

// NewEcho builds the router for app.
func NewEcho(app *App) *echo.Echo {
	cfg := app.Config
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		} else {
			code = httpError(err, http.StatusInternalServerError).Code
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			baseLogger.Printf("%s %s %d %s", v.Method, v.URIPath, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))
	if cfg.Server.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.Server.MaxUploadBytes)))
	}
	if cfg.Telemetry.MetricsEnabled {
		e.Use(telemetry.EchoMiddleware())
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	root := e.Group("")
	if app.Auth != nil {
		app.Auth.Register(e.Group("/auth"))
	}
	if app.Report != nil {
		app.Report.Register(root, app.Secret)
	}
	if app.Code != nil {
		app.Code.Register(root, app.Secret)
	}
	if app.Results != nil {
		app.Results.Register(root, app.Secret)
	}
	if app.News != nil {
		app.News.Register(root, app.Secret)
	}
	if app.Chat != nil {
		app.Chat.Register(root, app.Secret)
	}
	return e
}

// Run migrates the database, builds the app and serves until SIGINT or
// SIGTERM.
func Run(cfg *config.Config, migrationsDir string) error {
	if err := Migrate(migrationsDir, cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Scheduler != nil {
		app.Scheduler.Start()
	}

	e := NewEcho(app)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Server.Address)
		errCh <- e.Start(cfg.Server.Address)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func rebuildIndex(ctx context.Context, st *store.Store, idx *search.Index) error {
	all, err := st.ListAllVulnerabilities(ctx)
	if err != nil {
		return err
	}
	for _, o := range all {
		if err := idx.Add(o.UserID, o.Vulnerability); err != nil {
			return err
		}
	}
	return nil
}
