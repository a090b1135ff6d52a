package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/engine"
	"github.com/agoramarkets/parimutuel/internal/relay"
	"github.com/agoramarkets/parimutuel/internal/server"
	"github.com/agoramarkets/parimutuel/internal/server/handler"
	"github.com/agoramarkets/parimutuel/internal/server/ws"
	"github.com/agoramarkets/parimutuel/internal/service"
)

// shutdownTimeout bounds how long in-flight requests may run after the
// context is cancelled.
const shutdownTimeout = 5 * time.Second

// ServerMode builds the market engine and services on top of the wired
// dependencies and runs the HTTP + WebSocket API until the context is
// cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	// Engine: factory and oracle adapter.
	factory := engine.NewFactory(engine.MarketTemplate{
		Ledger:   deps.Ledger,
		Treasury: common.HexToAddress(a.cfg.Engine.Treasury),
		Admin:    common.HexToAddress(a.cfg.Engine.Admin),
		Clock:    engine.SystemClock(),
		Logger:   a.logger,
	})

	operators := make([]common.Address, 0, len(a.cfg.Oracle.Operators))
	for _, op := range a.cfg.Oracle.Operators {
		operators = append(operators, common.HexToAddress(op))
	}
	adapter := engine.NewOracleAdapter(factory, operators, common.HexToHash(a.cfg.Oracle.Salt), a.logger)

	// Services.
	marketSvc := service.NewMarketService(
		factory, deps.MarketStore, deps.BetStore, deps.SettlementStore,
		deps.AuditStore, deps.SignalBus, engine.SystemClock(), a.logger,
	)
	oracleSvc := service.NewOracleService(
		adapter, deps.ResolutionStore, deps.BlobWriter, deps.BlobReader,
		deps.SignalBus, engine.SystemClock(), a.logger,
	)
	ledgerSvc := service.NewLedgerService(deps.Ledger, deps.AuditStore, a.logger)

	// Relayer, only when a signing key is configured.
	var relayHandler *handler.RelayHandler
	if a.cfg.Relay.Enabled {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Relay.PrivateKey,
			EncryptedKeyPath: a.cfg.Relay.EncryptedKeyPath,
			KeyPassword:      a.cfg.Relay.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("app: relay key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			return fmt.Errorf("app: relay signer: %w", err)
		}
		relayer := relay.NewRelayer(signer, deps.Ledger, factory, marketSvc, deps.LockManager, a.logger)
		relayHandler = handler.NewRelayHandler(relayer, a.logger)
		a.logger.InfoContext(ctx, "relay enabled",
			slog.String("relayer", signer.Address().Hex()),
		)
	}

	// WebSocket hub.
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// HTTP server.
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(marketSvc, a.logger),
		Ledger:  handler.NewLedgerHandler(ledgerSvc, a.logger),
		Oracle:  handler.NewOracleHandler(oracleSvc, a.logger),
		Relay:   relayHandler,
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
