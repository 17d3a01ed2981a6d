package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zkledger/config"
	"zkledger/core"
	"zkledger/core/genesis"
	"zkledger/core/pricing"
	"zkledger/observability/logging"
	telemetry "zkledger/observability/otel"
	"zkledger/rpc"
	"zkledger/rpc/middleware"
	"zkledger/storage"
	"zkledger/storage/eventstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zkledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  string
		subject  string
		roleList string
		tokenTTL time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./zkledger.toml", "path to the node configuration")
	flag.StringVar(&subject, "issue-token", "", "print a bearer token for this subject and exit")
	flag.StringVar(&roleList, "roles", "user", "comma separated roles for -issue-token")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if subject != "" {
		token, err := middleware.IssueToken(cfg.JWTSecret(), cfg.RPC.JWTIssuer, cfg.RPC.JWTAudience, subject, parseRoles(roleList), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	logger := logging.SetupLevel("zkledgerd", cfg.Environment, cfg.Log.Level, cfg.Log.File)

	if cfg.Telemetry.Enabled() {
		shutdown, err := telemetry.Init(context.Background(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	db, err := openState(cfg.Storage.LevelDBDir, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := core.Options{
		Rollup:     cfg.RollupConfig(),
		Oracle:     pricing.NewOracle(cfg.Loan.OracleMaxAge.Std()),
		RollWindow: cfg.Loan.RollWindow.Std(),
		Logger:     logger,
	}
	if opts.LoanDefaults, err = cfg.LoanParams(); err != nil {
		return err
	}

	var events rpc.EventLister
	if driver := strings.TrimSpace(cfg.Storage.EventStoreDriver); driver != "" {
		store, err := eventstore.Open(driver, cfg.Storage.EventStoreDSN)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts.Journal = store
		events = store
		logger.Info("event journal enabled", "driver", driver, "lastSeq", store.LastSeq())
	}

	ledger, err := core.NewLedger(db, opts)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}

	spec, err := genesis.LoadGenesisSpec(cfg.GenesisFile)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	initialised, err := ledger.Initialized()
	if err != nil {
		return err
	}
	if initialised {
		ledger.InstallGenesisFeeds(spec)
	} else if _, err := ledger.InitGenesis(context.Background(), spec); err != nil {
		return fmt.Errorf("init genesis: %w", err)
	}

	secret := cfg.JWTSecret()
	if secret == "" {
		logger.Warn("no JWT secret configured; only public methods are reachable")
	}
	server := rpc.NewServer(ledger, events, rpc.ServerConfig{
		Auth: middleware.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.RPC.JWTIssuer,
			Audience:   cfg.RPC.JWTAudience,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RPC.RateLimit.RequestsPerSecond,
			Burst:             cfg.RPC.RateLimit.Burst,
		},
		MaxBodyBytes:      cfg.RPC.MaxBodyBytes,
		ReadHeaderTimeout: cfg.RPC.ReadHeaderTimeout.Std(),
		WriteTimeout:      cfg.RPC.WriteTimeout.Std(),
		Logger:            logger.With("module", "rpc"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Start(ctx, cfg.RPC.ListenAddress)
}

func openState(dir string, logger *slog.Logger) (storage.Database, error) {
	if strings.TrimSpace(dir) == "" {
		logger.Warn("no LevelDBDir configured; state is kept in memory")
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

func parseRoles(list string) []middleware.Role {
	var roles []middleware.Role
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			roles = append(roles, middleware.Role(strings.ToLower(name)))
		}
	}
	return roles
}
