package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"veracity/internal/archive"
	"veracity/internal/broadcast"
	"veracity/internal/capability"
	"veracity/internal/gateway/config"
	"veracity/internal/gateway/handler"
	"veracity/internal/gateway/server"
	"veracity/internal/llm"
	"veracity/internal/pipeline"
	"veracity/internal/session"
)

type App struct {
	server *server.Server
	store  *session.Store
	bus    *broadcast.Broadcaster
	runner *pipeline.Runner
	client llm.Client
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	bus := broadcast.New(cfg.HeartbeatInterval)
	bus.StartHeartbeat()

	store, err := session.NewStore(session.Options{
		TTL:      cfg.SessionTTL,
		DSN:      cfg.DatabaseURL,
		Notifier: bus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	store.StartSweeper(time.Minute)

	// One limiter for the whole process. Search and reasoning calls from
	// every session draw on the same budget.
	limiter := llm.PerMinute(cfg.Capability.RateBudgetRPM)

	gemini, err := llm.NewGeminiClient(ctx, cfg.Capability.GeminiModel, cfg.Capability.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init reasoning client: %w", err)
	}
	client := llm.Wrap(gemini,
		llm.WithLogging(nil),
		llm.Retry(llm.DefaultRetryPolicy()),
		llm.RateLimitWith(limiter),
	)

	searcher := capability.NewWebSearcher(cfg.Capability.SearchAPIKey, cfg.Capability.SearchEngineID, limiter)
	extractor := capability.NewCachedExtractor(capability.NewHTTPExtractor(0), 256, 15*time.Minute)

	var reports archive.Store
	if cfg.Archive.Enabled {
		s3, err := archive.NewS3Store(archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Printf("report archive disabled: %v", err)
		} else {
			reports = s3
		}
	}
	if reports == nil {
		if fs, err := archive.NewFileStore(filepath.Join("tmp", "reports")); err == nil {
			reports = fs
		} else {
			log.Printf("local report archive disabled: %v", err)
		}
	}

	router := pipeline.NewRouter(pipeline.DefaultRouterConfig())
	runner := &pipeline.Runner{
		Store: store,
		Bus:   bus,
		Screening: &pipeline.Screening{
			Store:     store,
			Bus:       bus,
			Extractor: extractor,
			LLM:       client,
			Router:    router,
			Config:    pipeline.DefaultScreeningConfig(),
		},
		Classify:     &pipeline.Classify{Store: store, Bus: bus, LLM: client},
		Perspectives: &pipeline.Perspectives{Store: store, Bus: bus, LLM: client},
		Enrich: &pipeline.Enrich{
			Store:     store,
			Bus:       bus,
			LLM:       client,
			Searcher:  searcher,
			Extractor: extractor,
			Config: pipeline.EnrichConfig{
				MaxLinksPerPerspective: cfg.Enrich.MaxLinksPerPerspective,
				RelevanceThreshold:     cfg.Enrich.RelevanceThreshold,
				RequestDelay:           cfg.Enrich.RequestDelay,
				CandidateParallelism:   2,
			},
			Logger: log.Default(),
		},
		Debate: &pipeline.Debate{
			Store:  store,
			Bus:    bus,
			LLM:    client,
			Config: pipeline.DefaultDebateConfig(),
			Logger: log.Default(),
		},
		Report: &pipeline.Report{
			Store:   store,
			Bus:     bus,
			Archive: reports,
			Logger:  log.Default(),
		},
		Logger: log.Default(),
	}

	analysis := &handler.AnalysisHandler{
		Store:   store,
		Runner:  runner,
		Bus:     bus,
		Archive: reports,
		Model:   cfg.Capability.GeminiModel,
	}

	mux := server.NewMux(analysis)
	srv := server.New(cfg.Port, mux)

	return &App{
		server: srv,
		store:  store,
		bus:    bus,
		runner: runner,
		client: client,
	}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.bus.Close()
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
