package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/asset"
	s3blob "github.com/agoramarkets/parimutuel/internal/blob/s3"
	membus "github.com/agoramarkets/parimutuel/internal/bus/memory"
	redisbus "github.com/agoramarkets/parimutuel/internal/bus/redis"
	"github.com/agoramarkets/parimutuel/internal/config"
	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/store/memory"
	"github.com/agoramarkets/parimutuel/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Ledger is the in-process asset ledger backing all escrows.
	Ledger *asset.Ledger

	// Stores
	MarketStore     domain.MarketStore
	BetStore        domain.BetStore
	ResolutionStore domain.ResolutionStore
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Bus
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage (nil when S3 is disabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// Standalone mode always runs on in-memory stores and bus regardless of the
// postgres/redis enabled flags; server mode honors them and falls back to the
// in-memory implementations when a backend is disabled.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	standalone := strings.ToLower(cfg.Mode) == "standalone"

	deps := &Dependencies{
		Ledger: asset.NewLedger(),
	}

	// Seed the ledger from the genesis table so deployments start with
	// funded accounts instead of an empty book.
	for _, g := range cfg.Engine.Genesis {
		amount, ok := new(big.Int).SetString(g.Balance, 10)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: genesis balance for %s is not a base-10 integer: %q", g.Account, g.Balance)
		}
		if err := deps.Ledger.Mint(ctx, common.HexToAddress(g.Account), amount); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: minting genesis balance for %s: %w", g.Account, err)
		}
	}

	// --- Stores ---
	if cfg.Postgres.Enabled && !standalone {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.BetStore = postgres.NewBetStore(pool)
		deps.ResolutionStore = postgres.NewResolutionStore(pool)
		deps.SettlementStore = postgres.NewSettlementStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	} else {
		deps.MarketStore = memory.NewMarketStore()
		deps.BetStore = memory.NewBetStore()
		deps.ResolutionStore = memory.NewResolutionStore()
		deps.SettlementStore = memory.NewSettlementStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Bus ---
	if cfg.Redis.Enabled && !standalone {
		redisClient, err := redisbus.New(ctx, redisbus.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redisbus.NewSignalBus(redisClient)
		deps.LockManager = redisbus.NewLockManager(redisClient)
		deps.RateLimiter = redisbus.NewRateLimiter(redisClient)
	} else {
		deps.SignalBus = membus.NewSignalBus()
		deps.LockManager = membus.NewLockManager()
		deps.RateLimiter = membus.NewRateLimiter()
	}

	// --- S3 evidence archive ---
	if cfg.S3.Enabled && !standalone {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		archive := s3blob.NewArchive(s3Client)
		deps.BlobWriter = archive
		deps.BlobReader = archive
	}

	return deps, cleanup, nil
}
