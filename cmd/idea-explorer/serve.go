package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"idea-explorer/internal/config"
	"idea-explorer/internal/domain/ports/adapter"
	aiAdapters "idea-explorer/internal/infra/adapters/ai"
	ghstore "idea-explorer/internal/infra/adapters/github"
	"idea-explorer/internal/infra/api"
	"idea-explorer/internal/infra/logging"
	"idea-explorer/internal/infra/metrics"
	red "idea-explorer/internal/infra/redis"
	"idea-explorer/internal/infra/security"
	"idea-explorer/internal/infra/webhook"
	"idea-explorer/internal/infra/worker"
	"idea-explorer/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the job workers and the recovery loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.SetBuildInfo(version, commit)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	repoOpts := []red.JobRepoOption{red.WithJobTTL(cfg.Redis.JobTTL)}
	if cfg.Security.EncryptionKey != "" {
		sealer, err := security.NewSecretSealer(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		repoOpts = append(repoOpts, red.WithSealer(sealer))
	} else {
		logger.Warn().Msg("security.encryption_key not set; webhook secrets are stored in plain text")
	}
	jobRepo := red.NewJobRepo(redisClient, logger, repoOpts...)
	checkpoints := red.NewCheckpointStore(redisClient, cfg.Redis.StepTTL)

	// ---- Generation ----
	gen, err := buildGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// ---- Content store and notifier ----
	githubHTTP := &http.Client{Timeout: 60 * time.Second}
	stores := ghstore.NewFactory(cfg.GitHub, githubHTTP, logger)
	storeFactory := worker.StoreFactoryFunc(func(jobID string) (adapter.ContentStore, error) {
		return stores.New(jobID)
	})

	var senderOpts []webhook.Option
	if cfg.Webhook.GuardDial {
		senderOpts = append(senderOpts, webhook.WithDialGuard(cfg.Webhook.AttemptTimeout))
	}
	sender := webhook.NewSender(cfg.Webhook.AttemptTimeout, logger, senderOpts...)

	// ---- Pipeline and workers ----
	explorer := usecase.NewExplorer(jobRepo, gen, sender, cfg.GitHub.PathPrefix, logger)
	pool := worker.NewPool(cfg.Worker.Workers, logger)
	pool.Start(ctx)
	defer pool.Stop()

	processor := worker.NewJobProcessor(pool, explorer, storeFactory, checkpoints, red.NewLocker(redisClient), cfg.Worker.LeaseTTL, logger)
	jobUC := usecase.NewJobUseCase(jobRepo, processor, logger, usecase.WithDevLogging(cfg.Runtime.Dev))

	recovery := worker.NewRecoveryWorker(cfg.Worker.RecoveryInterval, cfg.Worker.StaleAfter, jobRepo, processor, logger)
	go func() { _ = recovery.Run(ctx) }()

	// ---- HTTP ----
	auth := api.NewTokenAuth(cfg.Security.JWTSecret)
	if !auth.Enabled() {
		logger.Warn().Msg("security.jwt_secret not set; API is unauthenticated")
	}
	srv := api.NewServer(jobUC, api.Options{
		RequestTimeout:  cfg.Server.RequestTimeout,
		Auth:            auth,
		Limiter:         red.NewRateLimiter(redisClient),
		SubmitPerMinute: cfg.Server.SubmitPerMinute,
		SubmitKey:       red.SubmitKey,
		Health:          redisClient.Ping,
		Metrics:         metrics.Handler(),
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("version", version).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		logger.Error().Err(err).Msg("http server error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
	return nil
}

// buildGenerator wires every configured provider behind the model router.
// In dev mode without keys a noop provider answers instead.
func buildGenerator(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.GenerationAdapter, error) {
	providers := map[string]adapter.ProviderAdapter{}

	if cfg.AI.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, "", cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = oa
		logger.Info().Str("base_url", cfg.AI.OpenAIBaseURL).Msg("AI provider: openai")
	}
	if cfg.AI.GeminiKey != "" {
		gm, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, "", cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = gm
		logger.Info().Str("base_url", cfg.AI.GeminiURL).Msg("AI provider: gemini")
	}

	defaultProvider := cfg.AI.DefaultProvider
	if len(providers) == 0 {
		if !cfg.Runtime.Dev {
			return nil, errors.New("no AI provider configured")
		}
		logger.Warn().Msg("no AI provider configured; using noop generator")
		providers["noop"] = aiAdapters.NewNoopAIAdapter(logger, 0)
		defaultProvider = "noop"
	}

	router := aiAdapters.NewMultiAIAdapter(defaultProvider, providers, cfg.AI.ModelProviders)
	limited := aiAdapters.NewLimitedAI(router, cfg.AI.ConcurrentLimit)
	return aiAdapters.NewGenerator(limited, aiAdapters.NewTokenCounter(), logger), nil
}
