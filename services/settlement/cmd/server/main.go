package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/accordsai/transferlane/pkg/authn"
	"github.com/accordsai/transferlane/pkg/config"
	"github.com/accordsai/transferlane/pkg/db"
	"github.com/accordsai/transferlane/pkg/ledger/memledger"
	"github.com/accordsai/transferlane/pkg/settlement"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/accordsai/transferlane/pkg/transferstate/pgstore"
	"github.com/accordsai/transferlane/pkg/transferstate/sqlitestore"
	"github.com/accordsai/transferlane/pkg/webhooks"
	"github.com/accordsai/transferlane/services/settlement/internal/api"
)

func main() {
	cfg, err := config.LoadService()
	if err != nil {
		config.Exitf("settlement: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		config.Exitf("settlement: state store: %v", err)
	}
	defer closeStore.Close()

	ledger := memledger.New()
	if cfg.LedgerFixture != "" {
		ledger, err = memledger.LoadFixtureFile(cfg.LedgerFixture)
		if err != nil {
			config.Exitf("settlement: %v", err)
		}
	} else {
		logger.Warn("no LEDGER_FIXTURE set, starting with an empty ledger")
	}
	token, err := ledger.Token(cfg.Token)
	if err != nil {
		token = ledger.AddToken(memledger.NewToken(cfg.Token, 18))
	}

	emitter := settlement.Fanout{settlement.LogEmitter(logger)}
	if cfg.WebhookURL != "" {
		notifier := webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, 0)
		notifier.Logger = logger
		go notifier.Run(ctx)
		emitter = append(emitter, notifier)
	}

	exec, err := settlement.New(settlement.Config{
		Instance:    cfg.Instance,
		Token:       cfg.Token,
		TokenProxy:  cfg.TokenProxy,
		AssetProxy:  cfg.AssetProxy,
		ReadTimeout: cfg.ReadTimeout,
	}, settlement.Deps{
		Store:          store,
		TokenReader:    token,
		TokenTransfers: memledger.TokenProxy{Address: cfg.TokenProxy, Ledger: ledger},
		Registries:     ledger,
		AssetTransfers: memledger.AssetProxy{Address: cfg.AssetProxy, Ledger: ledger},
		Emitter:        emitter,
		Logger:         logger,
	})
	if err != nil {
		config.Exitf("settlement: %v", err)
	}

	handler := api.NewHandler(exec, authn.Verifier{MaxSkew: cfg.AuthMaxSkew, Logger: logger}, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("settlement service listening",
		"port", cfg.Port,
		"backend", cfg.StateBackend,
		"instance", cfg.Instance.Hex(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		config.Exitf("settlement: %v", err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg config.Service) (transferstate.Store, io.Closer, error) {
	switch cfg.StateBackend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := pgstore.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, closerFunc(func() error { pool.Close(); return nil }), nil
	case config.BackendSQLite:
		st, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		return transferstate.NewMemory(), closerFunc(func() error { return nil }), nil
	}
}
