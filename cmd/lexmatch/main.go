package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lexmatch/internal/adapter/embedding"
	"lexmatch/internal/adapter/gateway"
	"lexmatch/internal/adapter/store"
	"lexmatch/internal/domain"
	"lexmatch/internal/infra/config"
	"lexmatch/internal/infra/logger"
	"lexmatch/internal/infra/tracer"
	"lexmatch/internal/search"
	"lexmatch/internal/usecase"
	"lexmatch/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "reindex":
		if err := runReindex(); err != nil {
			fmt.Fprintf(os.Stderr, "reindex: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'lexmatch --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`lexmatch - semantic matching service for legal service providers

USAGE:
    lexmatch [COMMAND]

COMMANDS:
    reindex     Run one embedding backfill pass and exit
    encrypt     Encrypt a secret for use as an enc: config value
    doctor      Check config, database, and embedding provider health

    (no command) - Run the matching service

CONFIGURATION:
    Config file: ./config.yaml
    Environment: LEXMATCH_* variables override config
    Secrets:     values prefixed enc: are decrypted with LEXMATCH_CONFIG_KEY`)
}

func configPath() string {
	if v := os.Getenv("LEXMATCH_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// run starts the full service: store, embedding pipeline, search engine,
// event bus, websocket gateway, and the scheduled reindexer.
func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	profileStore, err := store.New(cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer profileStore.Close()

	queryEmbedder, profileEmbedder, err := buildEmbedders(cfg.Embedding, log)
	if err != nil {
		return err
	}

	engine := search.NewEngine(profileStore, search.WithTracer(tracer.Tracer()))
	bus := eventbus.New(log)
	defer bus.Close()

	searchSvc := usecase.NewSearchService(queryEmbedder, engine, profileStore, bus, log,
		usecase.SearchConfig{
			Threshold:      cfg.Search.Threshold,
			Limit:          cfg.Search.Limit,
			EmbedTimeout:   cfg.Search.EmbedTimeout,
			RetryAttempts:  cfg.Search.RetryAttempts,
			RetryBaseDelay: cfg.Search.RetryBaseDelay,
		},
		usecase.WithSearchTracer(tracer.Tracer()),
	)
	profileSvc := usecase.NewProfileService(profileStore, profileEmbedder, bus, log)

	if cfg.Reindex.Enabled {
		reindexer := usecase.NewReindexer(profileStore, profileEmbedder, bus, log)
		if err := reindexer.Start(cfg.Reindex.Schedule); err != nil {
			return err
		}
		defer reindexer.Stop()
	}

	if !cfg.Gateway.Enabled {
		log.Info("gateway disabled, nothing to serve")
		<-ctx.Done()
		return nil
	}

	srv := gateway.NewServer(bus, buildAuth(cfg.Gateway.Auth), cfg.Gateway.Addr, log)
	deps := gateway.HandlerDeps{
		Search:   searchSvc,
		Profiles: profileSvc,
		Corpus:   profileStore,
		Embedder: queryEmbedder,
		Logger:   log,
	}
	gateway.RegisterCoreHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)

	log.Info("lexmatch starting",
		"embedder", queryEmbedder.Name(),
		"dimensions", queryEmbedder.Dimensions(),
		"threshold", cfg.Search.Threshold,
		"addr", cfg.Gateway.Addr,
	)
	return srv.Start(ctx)
}

// buildEmbedders assembles the embedding call chains. Both share the base
// provider, rate limiter, and circuit breaker. Only the profile chain adds
// the LRU cache: descriptions re-embed on every edit, while query vectors
// are computed fresh per search and never cached across requests.
func buildEmbedders(cfg config.EmbeddingConfig, log *slog.Logger) (query, profile domain.EmbeddingProvider, err error) {
	client := &http.Client{Timeout: cfg.Timeout}

	var base domain.EmbeddingProvider
	switch cfg.Provider {
	case "huggingface":
		opts := []embedding.HuggingFaceOption{
			embedding.WithHuggingFaceModel(cfg.Model),
			embedding.WithHuggingFaceDimensions(cfg.Dimensions),
			embedding.WithHuggingFaceClient(client),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithHuggingFaceBaseURL(cfg.BaseURL))
		}
		base = embedding.NewHuggingFaceProvider(cfg.APIKey, opts...)
	case "ollama":
		opts := []embedding.OllamaOption{
			embedding.WithOllamaModel(cfg.Model),
			embedding.WithOllamaDimensions(cfg.Dimensions),
			embedding.WithOllamaClient(client),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOllamaBaseURL(cfg.BaseURL))
		}
		base = embedding.NewOllamaProvider(opts...)
	default:
		return nil, nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrMisconfigured, cfg.Provider)
	}

	chain := base
	if cfg.RateLimit.Enabled {
		chain = embedding.NewRateLimitedEmbedder(chain, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	chain = embedding.NewBreakerEmbedder(chain, embedding.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		Interval:    cfg.Breaker.Interval,
	}, log)
	return chain, embedding.NewCachedEmbedder(chain, cfg.CacheSize), nil
}

func buildAuth(cfg config.AuthConfig) gateway.Authenticator {
	if !cfg.Enabled {
		return gateway.AllowAllAuth{}
	}
	entries := make([]gateway.TokenEntry, len(cfg.Tokens))
	for i, t := range cfg.Tokens {
		entries[i] = gateway.TokenEntry{Name: t.Name, Token: t.Token}
	}
	return gateway.NewStaticTokenAuth(entries)
}

// runReindex performs one backfill pass and prints the result.
func runReindex() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	profileStore, err := store.New(cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer profileStore.Close()

	_, profileEmbedder, err := buildEmbedders(cfg.Embedding, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := usecase.NewReindexer(profileStore, profileEmbedder, nil, log).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d, reindexed %d, failed %d\n", result.Scanned, result.Reindexed, result.Failed)
	return nil
}

// runEncrypt reads a secret and prints its enc: form for the config file.
func runEncrypt() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: lexmatch encrypt <value> (reads passphrase from LEXMATCH_CONFIG_KEY)")
	}
	passphrase := os.Getenv("LEXMATCH_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("LEXMATCH_CONFIG_KEY is not set")
	}
	encrypted, err := config.EncryptValue(os.Args[2], passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("enc:%s\n", encrypted)
	return nil
}

// runDoctor checks the configuration, database, and embedding provider.
func runDoctor() error {
	fmt.Println("lexmatch doctor")

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("  [FAIL] config: %v\n", err)
		return err
	}
	fmt.Println("  [ OK ] config")

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("  [FAIL] logger: %v\n", err)
		return err
	}
	defer closeLog()

	profileStore, err := store.New(cfg.Store.Path, log)
	if err != nil {
		fmt.Printf("  [FAIL] store: %v\n", err)
		return err
	}
	defer profileStore.Close()

	ctx := context.Background()
	n, err := profileStore.Count(ctx)
	if err != nil {
		fmt.Printf("  [FAIL] store query: %v\n", err)
		return err
	}
	fmt.Printf("  [ OK ] store (%d providers)\n", n)

	stale, err := profileStore.StaleProfiles(ctx, cfg.Embedding.Dimensions)
	if err != nil {
		fmt.Printf("  [FAIL] stale scan: %v\n", err)
		return err
	}
	if len(stale) > 0 {
		fmt.Printf("  [WARN] %d profiles need reindexing (run 'lexmatch reindex')\n", len(stale))
	} else {
		fmt.Println("  [ OK ] embeddings current")
	}

	embedder, _, err := buildEmbedders(cfg.Embedding, log)
	if err != nil {
		fmt.Printf("  [FAIL] embedder: %v\n", err)
		return err
	}
	if _, err := embedder.Embed(ctx, []string{"health check"}); err != nil {
		fmt.Printf("  [FAIL] embedding provider %s: %v\n", embedder.Name(), err)
		return err
	}
	fmt.Printf("  [ OK ] embedding provider %s (%d dims)\n", embedder.Name(), embedder.Dimensions())
	return nil
}
