package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"SynthVault/internal/config"
	"SynthVault/internal/engine"
	"SynthVault/internal/event"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/persistence"
	"SynthVault/internal/publisher"
	"SynthVault/internal/registry"
	"SynthVault/internal/server"
	"SynthVault/internal/state"
	"SynthVault/internal/token"
)

// vaultAccount is the custody account all deposited collateral sits under.
var vaultAccount = uuid.NewSHA1(uuid.NameSpaceURL, []byte("synthvault:vault"))

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("SYNTH_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	log := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log.Info().Str("http", cfg.HTTPAddr).Str("metrics", cfg.MetricsAddr).Msg("synthvault starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator")).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("postgres connected, migrations applied")

	// --- Recovery: restore book from latest snapshot ---
	snapMgr := persistence.NewSnapshotManager(db)
	book := state.NewBook()
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatest(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}
	if snap != nil {
		if err := book.Restore(snap.Collateral, snap.Minted); err != nil {
			log.Fatal().Err(err).Msg("restore book from snapshot")
		}
		startSequence = snap.Sequence
		log.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		log.Info().Msg("no snapshot, cold start")
	}

	// --- Replay events recorded after the snapshot ---
	eventLog := persistence.NewEventLogWriter(db)
	replayed, lastSeq, err := replayEvents(ctx, eventLog, book, startSequence+1)
	if err != nil {
		log.Fatal().Err(err).Msg("event replay")
	}
	if replayed > 0 {
		startSequence = lastSeq
		log.Info().Int("events", replayed).Int64("sequence", lastSeq).Msg("replayed event log")
	}

	// --- NATS ---
	nc, js, err := publisher.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := publisher.EnsureStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}
	log.Info().Msg("nats connected")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Asset registry and oracle ---
	entries := make([]registry.Entry, 0, len(cfg.Assets))
	feedIDs := make([]string, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		entries = append(entries, registry.Entry{Symbol: a.Symbol, FeedID: a.Feed})
		feedIDs = append(feedIDs, a.Feed)
	}
	reg, err := registry.New(entries)
	if err != nil {
		log.Fatal().Err(err).Msg("build asset registry")
	}

	var priceSource oracle.PriceOracle
	if cfg.Oracle.WSURL != "" {
		feed := oracle.NewFeed(cfg.Oracle.WSURL, feedIDs, 5*time.Second, observability.NewLogger("oracle"))
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("oracle feed stopped")
			}
		}()
		priceSource = feed
	} else {
		log.Warn().Msg("no oracle ws_url configured, using manual price source")
		priceSource = oracle.NewStatic()
	}
	guarded := oracle.NewStalenessGuard(priceSource, cfg.Oracle.Staleness)

	// --- Channels and event sink ---
	// The persist channel blocks the engine when full, so no event is ever
	// lost; the publish channel drops when full because NATS consumers can
	// always catch up from the Postgres log.
	persistChan := make(chan persistence.EventRow, cfg.PersistChanSize)
	publishChan := make(chan event.Envelope, cfg.PublishChanSize)

	sink := event.SinkFunc(func(env event.Envelope) {
		row, err := persistence.RowFromEnvelope(env)
		if err != nil {
			log.Error().Int64("sequence", env.Sequence).Err(err).Msg("encode event row")
			return
		}
		persistChan <- row

		select {
		case publishChan <- env:
		default:
			metrics.PublishDrops.Inc()
		}
	})

	// --- Engine ---
	minHealthFactor, err := uint256.FromDecimal(cfg.Policy.MinHealthFactor)
	if err != nil {
		log.Fatal().Err(err).Msg("parse min health factor")
	}
	// In-process custody and liability token. A production deployment
	// would integrate an external custodian here; the interfaces are the
	// contract, the bank is the reference implementation.
	bank := token.NewBank()

	eng := engine.New(engine.Config{
		Registry:  reg,
		Book:      book,
		Prices:    guarded,
		Custody:   bank,
		Liability: token.NewSynth(),
		Vault:     vaultAccount,
		Policy: engine.Policy{
			LiquidationThreshold: cfg.Policy.LiquidationThreshold,
			LiquidationPrecision: cfg.Policy.LiquidationPrecision,
			LiquidationBonusPct:  cfg.Policy.LiquidationBonusPct,
			MinHealthFactor:      minHealthFactor,
		},
		Sink:          sink,
		StartSequence: startSequence,
		Logger:        observability.NewLogger("engine"),
		Metrics:       metrics,
	})

	// --- Workers ---
	errChan := make(chan error, 8)

	persistWorker := persistence.NewWorker(
		db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		observability.NewLogger("persistence"), metrics,
	)
	go func() { errChan <- persistWorker.Run(ctx) }()

	outbound := publisher.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"), metrics)
	go func() { errChan <- outbound.Run(ctx) }()

	// --- HTTP API ---
	api := server.New(eng, persistWorker.Writer(), healthChecker, observability.NewLogger("http"), metrics).
		WithFaucet(bank)

	go runPeriodicSnapshots(ctx, api, eng, snapMgr, cfg.SnapshotInterval, metrics, observability.NewLogger("snapshot"))
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().Int64("sequence", startSequence).Msg("synthvault ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("worker failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	close(persistChan)
	close(publishChan)

	if err := takeSnapshot(shutdownCtx, api, eng, snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Int64("sequence", eng.Sequence()).Msg("final snapshot saved")
	}

	log.Info().Msg("shutdown complete")
}

// runPeriodicSnapshots saves a snapshot whenever the engine sequence has
// advanced by interval events since the last one. The sequence is read
// between HTTP requests; a slightly stale value only delays the snapshot by
// one tick.
func runPeriodicSnapshots(
	ctx context.Context,
	api *server.Server,
	eng *engine.Engine,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	lastSnapshot := eng.Sequence()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := eng.Sequence()
			if seq-lastSnapshot < interval {
				continue
			}
			if err := takeSnapshot(ctx, api, eng, snapMgr, metrics); err != nil {
				log.Error().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshot = seq
			log.Info().Int64("sequence", seq).Msg("snapshot saved")
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	api *server.Server,
	eng *engine.Engine,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	var (
		collateral, minted map[string]string
		seq                int64
	)
	api.Sync(func() {
		collateral, minted = eng.Snapshot()
		seq = eng.Sequence()
	})

	err := snapMgr.Save(ctx, &persistence.SnapshotData{
		Sequence:   seq,
		Collateral: collateral,
		Minted:     minted,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotLastSeq.Set(float64(seq))
	}
	return nil
}

// replayEvents re-applies logged events to the book, page by page, starting
// at from. Returns the number of events applied and the last sequence seen.
func replayEvents(ctx context.Context, eventLog *persistence.EventLogWriter, book *state.Book, from int64) (int, int64, error) {
	const pageSize = 1000

	count := 0
	last := from - 1
	for {
		rows, err := eventLog.LoadEventsFrom(ctx, last+1, pageSize)
		if err != nil {
			return count, last, err
		}
		if len(rows) == 0 {
			return count, last, nil
		}
		for _, row := range rows {
			if err := applyRow(book, row); err != nil {
				return count, last, fmt.Errorf("replay sequence %d: %w", row.Sequence, err)
			}
			last = row.Sequence
			count++
		}
	}
}

// applyRow folds one logged event back into the book. Collaborator legs are
// not repeated: the log records operations that already completed.
func applyRow(book *state.Book, row persistence.EventRow) error {
	switch row.EventType {
	case event.TypeCollateralDeposited.String():
		var p event.CollateralDeposited
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(p.Amount)
		if err != nil {
			return err
		}
		book.AddCollateral(p.User, p.Asset, amount)

	case event.TypeCollateralRedeemed.String():
		var p event.CollateralRedeemed
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(p.Amount)
		if err != nil {
			return err
		}
		return book.SubCollateral(p.From, p.Asset, amount)

	case event.TypeLiabilityMinted.String():
		var p event.LiabilityMinted
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(p.Amount)
		if err != nil {
			return err
		}
		book.AddMinted(p.User, amount)

	case event.TypeLiabilityBurned.String():
		var p event.LiabilityBurned
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(p.Amount)
		if err != nil {
			return err
		}
		return book.SubMinted(p.OnBehalfOf, amount)

	case event.TypePositionLiquidated.String():
		var p event.PositionLiquidated
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			return err
		}
		seized, err := uint256.FromDecimal(p.CollateralSeized)
		if err != nil {
			return err
		}
		debt, err := uint256.FromDecimal(p.DebtCovered)
		if err != nil {
			return err
		}
		if err := book.SubCollateral(p.Target, p.Asset, seized); err != nil {
			return err
		}
		return book.SubMinted(p.Target, debt)

	default:
		return fmt.Errorf("unknown event type %q", row.EventType)
	}
	return nil
}
