// Command dcabot runs the DCA cycle bot for every configured asset.
// It supports Binance and Bybit spot, plus a paper exchange driven by live Binance prices.
//
// Usage:
//
//	dcabot --config config.yaml
//
// Secrets are read from the environment (or a .env file):
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	Notifications: DISCORD_WEBHOOK_ID, DISCORD_WEBHOOK_TOKEN
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal"
	"github.com/vadiminshakov/dcabot/internal/clients"
	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/logger"
	"github.com/vadiminshakov/dcabot/internal/metrics"
	"github.com/vadiminshakov/dcabot/internal/notify"
	"github.com/vadiminshakov/dcabot/internal/services/caretaker"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcabot/internal/storage/journal"
	"github.com/vadiminshakov/dcabot/internal/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

func main() {
	conf, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	l, err := logger.New(conf.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, l, conf); err != nil && !errors.Is(err, context.Canceled) {
		l.Fatal("bot stopped", zap.Error(err))
	}
	l.Info("bot stopped")
}

func run(ctx context.Context, l *zap.Logger, conf config.Config) error {
	store, err := sqlite.Open(conf.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	assets, err := seedAssets(ctx, store, conf.Assets)
	if err != nil {
		return err
	}

	orders, err := journal.Open(conf.JournalDir)
	if err != nil {
		return err
	}
	defer orders.Close()

	if n, err := orders.FailOrphans(ctx, store); err != nil {
		return errors.Wrap(err, "failed to clean order journal")
	} else if n > 0 {
		l.Warn("orphaned journal entries marked failed", zap.Int("count", n))
	}

	client, err := newClient(conf)
	if err != nil {
		return err
	}
	provider, err := internal.NewServiceProvider(client, l)
	if err != nil {
		return err
	}
	exchange, err := provider.Exchange()
	if err != nil {
		return errors.Wrap(err, "failed to create exchange")
	}

	notifier, err := notify.New(conf.Credentials.DiscordWebhookID, conf.Credentials.DiscordWebhookToken)
	if err != nil {
		return err
	}

	locks := dca.NewAssetLocks()
	deps := internal.Dependencies{
		Store:    store,
		Exchange: exchange,
		Ticks:    provider.TickSource(),
		Engine:   internal.NewEngine(l, conf),
		Reconciler: dca.NewReconciler(l.Named("reconciler"), store, store, exchange, locks,
			dca.WithCompletionHook(notify.CompletionHook(l, notifier))),
		Journal: orders,
		Locks:   locks,
	}
	settings := internal.Settings{PollInterval: conf.PollInterval, OrderNotFoundGrace: conf.OrderNotFoundGrace}

	g, ctx := errgroup.WithContext(ctx)

	symbols := make([]string, 0, len(assets))
	for _, asset := range assets {
		symbols = append(symbols, asset.Symbol)

		bot, err := internal.NewTradingBot(l, asset, deps, settings)
		if err != nil {
			return errors.Wrapf(err, "failed to create bot for %s", asset.Symbol)
		}
		g.Go(func() error {
			return bot.Run(ctx)
		})
	}

	g.Go(func() error {
		return provider.RunFeeds(ctx, symbols)
	})

	if err := caretaker.New(l.Named("caretaker"), store, locks).Start(ctx, conf.CaretakerSchedule); err != nil {
		return err
	}

	g.Go(func() error {
		return serveMetrics(ctx, l, conf.MetricsAddr)
	})

	l.Info("bot started",
		zap.String("platform", conf.Platform),
		zap.Strings("symbols", symbols),
		zap.Bool("testing_mode", conf.TestingMode))

	return g.Wait()
}

// seedAssets upserts the configured assets and returns them with their store ids.
func seedAssets(ctx context.Context, store *sqlite.Store, assets []domain.AssetConfig) ([]domain.AssetConfig, error) {
	seeded := make([]domain.AssetConfig, 0, len(assets))
	for _, a := range assets {
		stored, err := store.UpsertAssetConfig(ctx, a)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to seed asset %s", a.Symbol)
		}
		seeded = append(seeded, *stored)
	}
	return seeded, nil
}

func newClient(conf config.Config) (any, error) {
	creds := conf.Credentials

	switch conf.Platform {
	case config.PlatformBinance:
		if creds.BinanceAPIKey == "" || creds.BinanceAPISecret == "" {
			return nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
		return clients.NewBinanceClient(creds.BinanceAPIKey, creds.BinanceAPISecret, conf.Testnet), nil
	case config.PlatformBybit:
		if creds.BybitAPIKey == "" || creds.BybitAPISecret == "" {
			return nil, errors.New("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
		return clients.NewBybitClient(creds.BybitAPIKey, creds.BybitAPISecret, conf.Testnet), nil
	case config.PlatformSimulate:
		return clients.NewSimulateClient(conf.SimulateBalance), nil
	default:
		return nil, errors.Errorf("unsupported platform %q", conf.Platform)
	}
}

func serveMetrics(ctx context.Context, l *zap.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}()

	l.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server failed")
	}

	return ctx.Err()
}
