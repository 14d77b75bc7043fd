package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/decisionlog/internal/adapter/driven/github"
	"github.com/ericfisherdev/decisionlog/internal/adapter/driven/llm"
	sqliteadapter "github.com/ericfisherdev/decisionlog/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/decisionlog/internal/adapter/driving/http"
	"github.com/ericfisherdev/decisionlog/internal/application"
	"github.com/ericfisherdev/decisionlog/internal/config"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid values).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sync_interval", cfg.SyncInterval,
		"sync_concurrency", cfg.SyncConcurrency,
		"auto_extract", cfg.AutoExtract,
		"vault_enabled", cfg.SecretKey != nil,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	repoStore := sqliteadapter.NewRepoRepo(db)
	artifactStore := sqliteadapter.NewArtifactRepo(db)
	candidateStore := sqliteadapter.NewCandidateRepo(db)
	decisionStore := sqliteadapter.NewDecisionRepo(db)
	costStore := sqliteadapter.NewCostRepo(db)
	operationStore := sqliteadapter.NewSyncOperationRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)

	// 6. GitHub clients are built per user token and cached by the provider.
	factory, err := githubadapter.NewClientFactory(cfg.GitHubBaseURL)
	if err != nil {
		return err
	}
	hosts := application.NewHostClientProvider(factory)
	application.RegisterHostClientGauge(prometheus.DefaultRegisterer, hosts)

	// 7. Extraction is optional; without a provider candidates wait for one.
	extractor, err := buildExtractor(cfg, candidateStore, decisionStore, artifactStore, costStore)
	if err != nil {
		return err
	}

	orchestrator := application.NewOrchestrator(application.OrchestratorDeps{
		Repos:       repoStore,
		Lock:        repoStore,
		Artifacts:   artifactStore,
		Candidates:  candidateStore,
		Decisions:   decisionStore,
		Operations:  operationStore,
		Credentials: credentialStore,
		Hosts:       hosts,
		Fetcher:     application.NewFetcher(artifactStore),
		Governor:    application.NewGovernor(repoStore, cfg.DailyExtractionLimit),
		Extractor:   extractor,
		AutoExtract: cfg.AutoExtract,
	})

	// 8. Reset locks left behind by a crash.
	if _, err := orchestrator.RecoverStaleLocks(ctx); err != nil {
		return err
	}

	// 9. Start the scheduler unless disabled.
	var schedules httphandler.ScheduleReader
	if cfg.SyncInterval > 0 {
		scheduler := application.NewScheduler(repoStore, orchestrator, cfg.SyncInterval, cfg.SyncConcurrency)
		schedules = scheduler
		go scheduler.Start(ctx)
	} else {
		slog.Info("scheduled syncs disabled")
	}

	// 10. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(
		orchestrator,
		application.NewRepoService(repoStore),
		application.NewExportService(repoStore, decisionStore, candidateStore, artifactStore),
		application.NewCredentialService(credentialStore, factory, hosts),
		schedules,
		db,
		slog.Default(),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout(cfg.ProviderTimeout),
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("decisionlog started",
		"listen_addr", cfg.ListenAddr,
		"extraction_enabled", extractor != nil,
	)

	// 11. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 12. Graceful shutdown: drain HTTP, then let background syncs record
	// their outcome and release their locks.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	orchestrator.Wait()

	slog.Info("shutdown complete")
	return nil
}

// buildExtractor wires the configured providers. Anthropic is primary when
// both are configured and OpenAI becomes the fallback.
// writeTimeout lets an approval response outlive the slowest extraction:
// both providers timing out plus the lock bookkeeping around them.
func writeTimeout(providerTimeout time.Duration) time.Duration {
	return application.MaxBatchDuration(providerTimeout) + 15*time.Second
}

func buildExtractor(
	cfg *config.Config,
	candidates driven.CandidateStore,
	decisions driven.DecisionStore,
	artifacts driven.ArtifactStore,
	costs driven.CostStore,
) (*application.Extractor, error) {
	var providers []driven.Provider

	if cfg.Anthropic.Enabled() {
		p, err := llm.NewAnthropic(llm.Config{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("configure anthropic: %w", err)
		}
		providers = append(providers, p)
	}

	if cfg.OpenAI.Enabled() {
		p, err := llm.NewOpenAI(llm.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("configure openai: %w", err)
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		slog.Warn("no extraction provider configured, candidates will stay pending")
		return nil, nil
	}

	redactor, err := application.NewSecretRedactor()
	if err != nil {
		return nil, err
	}

	deps := application.ExtractorDeps{
		Primary:    providers[0],
		Candidates: candidates,
		Decisions:  decisions,
		Artifacts:  artifacts,
		Costs:      costs,
		Redactor:   redactor,
		Timeout:    cfg.ProviderTimeout,
	}
	if len(providers) > 1 {
		deps.Fallback = providers[1]
	}

	slog.Info("extraction enabled",
		"primary", providers[0].Name()+"/"+providers[0].Model(),
		"fallback", deps.Fallback != nil,
	)
	return application.NewExtractor(deps), nil
}
