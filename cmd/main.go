// Command pandamarket runs the marketplace ledger daemon: the listing and
// proceeds engine, its event journal and the HTTP API.
//
// Usage:
//
//	pandamarket --config config.yaml
//	pandamarket --operator 0x... --feebps 500
//	pandamarket --setup
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/config"
	"github.com/vadiminshakov/pandamarket/internal/events"
	"github.com/vadiminshakov/pandamarket/internal/services/custody"
	"github.com/vadiminshakov/pandamarket/internal/services/market"
	"github.com/vadiminshakov/pandamarket/internal/services/payout"
	"github.com/vadiminshakov/pandamarket/internal/services/royalty"
	"github.com/vadiminshakov/pandamarket/internal/setup"
	"github.com/vadiminshakov/pandamarket/internal/storage/journal"
	"github.com/vadiminshakov/pandamarket/internal/storage/simstate"
	"github.com/vadiminshakov/pandamarket/internal/web"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, opts, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}
	if opts.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		if cfg, err = config.Load(path); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("marketplace stopped", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	custodyState, err := simstate.NewStore(cfg.StateDir, "custody")
	if err != nil {
		return err
	}
	registry, err := custody.NewRegistry(custodyState, logger.Named("custody"))
	if err != nil {
		return err
	}
	if err := seedAssets(ctx, registry, cfg); err != nil {
		return err
	}

	terms := make(map[common.Address]royalty.Terms, len(cfg.Collections))
	for _, c := range cfg.Collections {
		terms[c.Address] = royalty.Terms{Receiver: c.RoyaltyReceiver, Rate: c.RoyaltyRate}
	}
	oracle, err := royalty.NewOracle(terms)
	if err != nil {
		return err
	}

	payoutState, err := simstate.NewStore(cfg.StateDir, "payouts")
	if err != nil {
		return err
	}
	wallet, err := payout.NewWallet(payoutState, logger.Named("payout"))
	if err != nil {
		return err
	}

	j, err := journal.NewWALStore(journal.Config{
		Dir:              cfg.WALDir,
		SegmentThreshold: cfg.WALSegmentThreshold,
		MaxSegments:      cfg.WALMaxSegments,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Warn("failed to close journal", zap.Error(err))
		}
	}()

	broadcaster := events.NewBroadcaster(0)
	engine, err := market.NewEngine(market.Config{
		Operator:      cfg.Operator,
		Address:       cfg.Address,
		FeeRate:       cfg.FeeRate,
		SnapshotEvery: cfg.SnapshotEvery,
	}, registry, oracle, wallet, logger.Named("market"),
		market.WithJournal(j),
		market.WithPublisher(broadcaster))
	if err != nil {
		return err
	}

	server := web.NewServer(cfg.HTTPAddr, engine, j, broadcaster, logger.Named("web"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(gctx, cfg.TLSDomains, cfg.TLSCacheDir)
		}
		return server.Start(gctx)
	})
	g.Go(func() error {
		ch := broadcaster.Subscribe()
		defer broadcaster.Unsubscribe(ch)
		for {
			select {
			case <-gctx.Done():
				return nil
			case e := <-ch:
				logger.Debug("event committed", zap.String("event", e.String()))
			}
		}
	})

	logger.Info("marketplace started",
		zap.String("http", cfg.HTTPAddr),
		zap.String("wal", cfg.WALDir),
		zap.String("fee", cfg.FeeRate.Percent().String()+"%"))

	err = g.Wait()
	logger.Info("marketplace stopped", zap.Uint64("dropped_stream_events", broadcaster.Dropped()))
	return err
}

// seedAssets registers configured assets that the registry does not know yet.
func seedAssets(ctx context.Context, registry *custody.Registry, cfg config.Config) error {
	for _, a := range cfg.Assets {
		if _, err := registry.OwnerOf(ctx, a.Key); err == nil {
			continue
		} else if !errors.Is(err, custody.ErrUnknownAsset) {
			return err
		}

		if err := registry.Register(a.Key, a.Owner); err != nil {
			return errors.Wrapf(err, "register %s", a.Key)
		}
		if a.ApproveMarket {
			if err := registry.Approve(a.Key, a.Owner, cfg.Address); err != nil {
				return errors.Wrapf(err, "approve %s", a.Key)
			}
		}
	}
	return nil
}
