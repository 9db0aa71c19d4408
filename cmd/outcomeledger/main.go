package main

import (
	"OutcomeLedger/internal/config"
	"OutcomeLedger/internal/custody"
	"OutcomeLedger/internal/engine"
	"OutcomeLedger/internal/ingestion"
	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/observability"
	"OutcomeLedger/internal/persistence"
	"OutcomeLedger/internal/position"
	"OutcomeLedger/internal/projection"
	"OutcomeLedger/internal/promo"
	"OutcomeLedger/internal/query"
	"OutcomeLedger/internal/request"
	"OutcomeLedger/internal/server"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("OUTCOME_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("outcomeledger", level)
	logger.Info().Msg("OutcomeLedger starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot")
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel
	// drops and rebuilds from the log if it falls behind.
	persistEngineChan := make(chan engine.EngineOutput, cfg.Persistence.PersistBuffer)
	projectionEngineChan := make(chan engine.EngineOutput, cfg.Persistence.ProjectionBuffer)

	// Bridge channels for the workers (avoids import cycle)
	persistWorkerChan := make(chan persistence.EngineOutput, cfg.Persistence.PersistBuffer)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.Persistence.ProjectionBuffer)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Settlement engine ---
	settlementEngine := engine.NewSettlementEngine(
		engine.Config{
			RequireOperator:     cfg.Settlement.RequireOperator,
			OperatorKey:         cfg.Settlement.OperatorKey,
			PromoEnabled:        cfg.Settlement.PromoEnabled,
			CreationDeposit:     cfg.Settlement.CreationDeposit,
			PositionDeposit:     cfg.Settlement.PositionDeposit,
			IdempotencyCapacity: cfg.Settlement.IdempotencyCapacity,
		},
		startSequence,
		persistEngineChan,
		projectionEngineChan,
		dbChecker,
		metrics,
	)

	if snap != nil {
		restoreStateFromSnapshot(logger, settlementEngine, snap)

		if len(snap.IdempotencyKeys) > 0 {
			logger.Info().Int("keys", len(snap.IdempotencyKeys)).Msg("warming dedup LRU from snapshot")
			settlementEngine.WarmLRU(snap.IdempotencyKeys)
		}
	}

	// --- Request replay ---
	replayCount, err := replayRequestsFromLog(ctx, logger, snapMgr, settlementEngine, startSequence, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("request replay failed")
	}
	if replayCount > 0 {
		logger.Info().
			Int64("replayed", replayCount).
			Int64("sequence", settlementEngine.GetSequence()).
			Msg("request log replayed")
	}

	// --- State hash verification ---
	if snap != nil && replayCount == 0 {
		var expectedHash [32]byte
		copy(expectedHash[:], snap.StateHash)
		actualHash := settlementEngine.GetStateHash()
		if expectedHash != actualHash {
			logger.Fatal().
				Hex("expected", expectedHash[:]).
				Hex("actual", actualHash[:]).
				Msg("state hash mismatch after restore")
		}
		logger.Info().Msg("state hash verified after snapshot restore")
	}

	// --- NATS ---
	var (
		natsSubscriber    *ingestion.NATSSubscriber
		outboundPublisher *ingestion.OutboundPublisher
		rawRequestChan    chan ingestion.RawRequest
		publishChan       chan ingestion.PublishableRequest
	)
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure nats streams")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}

		rawRequestChan = make(chan ingestion.RawRequest, cfg.Settlement.RequestBuffer)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawRequestChan)
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}

		publishChan = make(chan ingestion.PublishableRequest, 4096)
		outboundPublisher = ingestion.NewOutboundPublisher(js, publishChan)
	} else {
		logger.Warn().Msg("nats disabled, ingesting via gRPC only")
	}

	// --- Services ---
	queryService := query.NewQueryService(db)
	injectChan := make(chan request.Request, 1024)
	ingestService := ingestion.NewGRPCIngestService(injectChan)

	apiServer := server.NewAPIServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
	})

	// --- Workers ---
	g, gctx := errgroup.WithContext(ctx)

	persistWorker := persistence.NewPersistenceWorker(
		db, persistWorkerChan, cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout.Duration, metrics)
	g.Go(func() error { return persistWorker.Run(gctx) })

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan)
	g.Go(func() error { return projWorker.Run(gctx) })

	if outboundPublisher != nil {
		g.Go(func() error { return outboundPublisher.Run(gctx) })
	}

	g.Go(func() error {
		bridgeEngineOutputs(gctx, metrics,
			persistEngineChan, projectionEngineChan,
			persistWorkerChan, projectionWorkerChan, publishChan)
		return nil
	})

	// The engine goroutine: every request, NATS or injected, funnels
	// through here. Single-threaded by construction.
	g.Go(func() error {
		runEngineLoop(gctx, logger, rawRequestChan, injectChan, settlementEngine)
		return nil
	})

	g.Go(func() error { return apiServer.StartGRPC(gctx) })
	g.Go(func() error { return apiServer.StartHTTP(gctx) })

	g.Go(func() error {
		runPeriodicSnapshots(gctx, logger, settlementEngine, snapMgr, cfg.Persistence.SnapshotInterval, metrics)
		return nil
	})

	g.Go(func() error {
		return runMetricsServer(gctx, cfg.Server.MetricsAddr, logger)
	})

	g.Go(func() error {
		monitorChannels(gctx, metrics, persistEngineChan, projectionEngineChan)
		return nil
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", startSequence).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("OutcomeLedger ready")

	// --- Wait for shutdown ---
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("worker failed, shutting down")
	}

	healthChecker.SetReady(false)
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}

	// Final snapshot before exit
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, settlementEngine, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	logger.Info().Msg("OutcomeLedger shutdown complete")
}

// bridgeEngineOutputs converts engine.EngineOutput to the persistence
// and projection worker formats. This avoids import cycles between the
// engine and the worker packages.
func bridgeEngineOutputs(
	ctx context.Context,
	metrics *observability.Metrics,
	persistIn <-chan engine.EngineOutput,
	projectionIn <-chan engine.EngineOutput,
	persistOut chan<- persistence.EngineOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableRequest,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			env := output.Envelope

			var eventID *int64
			if env.EventID != nil {
				id := int64(*env.EventID)
				eventID = &id
			}

			pOutput := persistence.EngineOutput{
				RequestRow: persistence.RequestRow{
					Sequence:       env.Sequence,
					RequestType:    env.RequestType.String(),
					IdempotencyKey: env.IdempotencyKey,
					EventID:        eventID,
					Payload:        env.Payload,
					StateHash:      env.StateHash[:],
					PrevHash:       env.PrevHash[:],
					Timestamp:      env.Timestamp,
					SourceSequence: env.SourceSequence,
				},
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:   j.JournalID.String(),
						BatchID:     j.BatchID.String(),
						RequestRef:  j.RequestRef,
						Sequence:    j.Sequence,
						FromBucket:  j.From.Path(),
						ToBucket:    j.To.Path(),
						Authority:   string(j.Authority),
						Amount:      int64(j.Amount),
						JournalType: int32(j.JournalType),
						Timestamp:   j.Timestamp,
					})
				}
			}

			persistOut <- pOutput

			if publishOut != nil {
				select {
				case publishOut <- ingestion.PublishableRequest{
					Sequence:       env.Sequence,
					RequestType:    env.RequestType.String(),
					IdempotencyKey: env.IdempotencyKey,
					EventID:        env.EventID,
					Payload:        output.Batch,
					StateHash:      env.StateHash[:],
					Timestamp:      env.Timestamp,
				}:
				default:
					if metrics != nil {
						metrics.PublishDrops.Inc()
					}
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			env := output.Envelope

			pOutput := projection.ProjectionOutput{
				Sequence:    env.Sequence,
				RequestType: env.RequestType.String(),
				EventID:     env.EventID,
				Timestamp:   env.Timestamp.UnixMicro(),
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalEntries = append(pOutput.JournalEntries, projection.JournalEntry{
						FromBucket:  j.From.Path(),
						ToBucket:    j.To.Path(),
						Amount:      int64(j.Amount),
						JournalType: int32(j.JournalType),
					})
				}
			}

			if p := output.Position; p != nil {
				pOutput.Position = &projection.PositionUpdate{
					UserID:         p.UserID,
					EventID:        p.EventID,
					AvgCostYes:     p.AvgCostYes,
					QtyYes:         p.QtyYes,
					AvgCostNo:      p.AvgCostNo,
					QtyNo:          p.QtyNo,
					CommissionRate: p.CommissionRate,
					Version:        p.Version,
					Removed:        p.Removed,
				}
			}
			if e := output.Event; e != nil {
				pOutput.Event = &projection.EventUpdate{
					EventID:        e.EventID,
					CommissionRate: e.CommissionRate,
					MaxPrice:       e.MaxPrice,
					Outcome:        e.Outcome,
					Version:        e.Version,
					Removed:        e.Removed,
				}
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Drop if the projection worker is behind; projections
				// rebuild from the request log
				if metrics != nil {
					metrics.ProjectionDropped.Inc()
				}
			}
		}
	}
}

// runEngineLoop feeds parsed requests into the settlement engine. Raw
// NATS requests are parsed and acked on a helper goroutine; the engine
// itself only ever sees typed requests, from one goroutine.
func runEngineLoop(
	ctx context.Context,
	logger zerolog.Logger,
	rawChan <-chan ingestion.RawRequest,
	injectChan <-chan request.Request,
	settlementEngine *engine.SettlementEngine,
) {
	// Subject-prefix → request-type lookup from DefaultSubjects.
	// Subjects use the ">" wildcard, so match by prefix.
	subjectToType := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefix := sc.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = sc.RequestType
	}

	// Messages are acked after the parsed request is handed to the
	// typed channel, NOT after engine processing. This prevents AckWait
	// expiry during slow processing and propagates backpressure via
	// channel blocking.
	typedChan := make(chan request.Request, 4096)

	go func() {
		defer close(typedChan)
		if rawChan == nil {
			<-ctx.Done()
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					return
				}

				requestType := resolveRequestType(raw.Subject, subjectToType)
				if requestType == "" {
					logger.Warn().Str("subject", raw.Subject).Msg("unknown nats subject")
					raw.AckFunc() // ack to avoid a redelivery loop
					continue
				}

				req, err := ingestion.ParseRawRequest(raw, requestType)
				if err != nil {
					logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse request failed")
					raw.AckFunc() // invalid requests are acked but not forwarded
					continue
				}

				select {
				case typedChan <- req:
					raw.AckFunc() // ack AFTER successful channel send
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-typedChan:
			if !ok {
				return
			}
			processOne(logger, settlementEngine, req)
		case req, ok := <-injectChan:
			if !ok {
				return
			}
			processOne(logger, settlementEngine, req)
		}
	}
}

func processOne(logger zerolog.Logger, settlementEngine *engine.SettlementEngine, req request.Request) {
	if err := settlementEngine.ProcessRequest(req); err != nil {
		// Already acked upstream. Rejections (dedup, gap, validation)
		// are logged and counted, never retried via NATS.
		logger.Warn().
			Err(err).
			Str("type", req.RequestType().String()).
			Str("key", req.IdempotencyKey()).
			Msg("request rejected")
	}
}

// resolveRequestType finds the request type for a NATS subject by
// matching the longest configured prefix.
func resolveRequestType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, reqType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = reqType
			}
		}
	}
	return bestType
}

// --- Snapshot restore & replay ---

// restoreStateFromSnapshot converts persistence.SnapshotData into
// engine.SnapshotState and restores the engine's in-memory state.
func restoreStateFromSnapshot(logger zerolog.Logger, settlementEngine *engine.SettlementEngine, snap *persistence.SnapshotData) {
	engineSnap := &engine.SnapshotState{
		Sequence:        snap.Sequence,
		Balances:        make(map[custody.BucketKey]uint64, len(snap.Balances)),
		Minted:          snap.Minted,
		Burned:          snap.Burned,
		Authorities:     make(map[custody.BucketKey]custody.Authority, len(snap.Authorities)),
		Fundings:        make(map[uuid.UUID]promo.Funding, len(snap.Fundings)),
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
	}
	copy(engineSnap.StateHash[:], snap.StateHash)

	for _, b := range snap.Balances {
		key := custody.BucketKey{
			Scope:    custody.Scope(b.Scope),
			EntityID: b.EntityID,
			Purpose:  custody.Purpose(b.Purpose),
		}
		engineSnap.Balances[key] = b.Balance
	}

	for _, a := range snap.Authorities {
		key := custody.BucketKey{
			Scope:    custody.Scope(a.Scope),
			EntityID: a.EntityID,
			Purpose:  custody.Purpose(a.Purpose),
		}
		engineSnap.Authorities[key] = custody.Authority(a.Authority)
	}

	for _, es := range snap.Events {
		engineSnap.Events = append(engineSnap.Events, market.RestoreResolved(
			es.EventID, es.CommissionRate, es.MaxPrice, market.Outcome(es.Outcome), es.Version))
	}

	for _, ps := range snap.Positions {
		engineSnap.Positions = append(engineSnap.Positions, &position.Position{
			UserID:         ps.UserID,
			EventID:        ps.EventID,
			AvgCost:        [2]uint64{position.SideYes: ps.AvgCostYes, position.SideNo: ps.AvgCostNo},
			Qty:            [2]uint64{position.SideYes: ps.QtyYes, position.SideNo: ps.QtyNo},
			CommissionRate: ps.CommissionRate,
			Version:        ps.Version,
		})
	}

	for _, fs := range snap.Fundings {
		lockID, err := uuid.Parse(fs.LockID)
		if err != nil {
			logger.Warn().Str("lock_id", fs.LockID).Msg("skip malformed funding record in snapshot")
			continue
		}
		engineSnap.Fundings[lockID] = promo.Funding{
			PromoAmount:   fs.Promo,
			PrimaryAmount: fs.Primary,
		}
	}

	settlementEngine.RestoreFromSnapshot(engineSnap)
	logger.Info().Int64("sequence", snap.Sequence).Msg("restored in-memory state from snapshot")
}

// replayRequestsFromLog replays requests from the durable log starting
// at fromSequence. Used for warm restart (replay from snapshot) and
// cold restart (replay all).
func replayRequestsFromLog(
	ctx context.Context,
	logger zerolog.Logger,
	snapMgr *persistence.SnapshotManager,
	settlementEngine *engine.SettlementEngine,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	const batchSize = 1000
	var totalReplayed int64
	start := time.Now()

	for {
		rows, err := snapMgr.LoadRequestsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load requests from seq %d: %w", fromSequence, err)
		}

		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			req, err := ingestion.DecodeStoredRequest(row.RequestType, row.Payload)
			if err != nil {
				logger.Warn().
					Err(err).
					Int64("sequence", row.Sequence).
					Str("type", row.RequestType).
					Msg("skip undecodable request during replay")
				continue
			}

			if err := settlementEngine.ProcessRequest(req); err != nil {
				// Duplicates and sequence rejections are expected here
				logger.Debug().Err(err).Int64("sequence", row.Sequence).Msg("replay skip")
			}

			totalReplayed++
			if metrics != nil {
				metrics.ReplayRequests.Inc()
			}
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return totalReplayed, nil
}

// --- Snapshot helpers ---

// runPeriodicSnapshots takes a snapshot every interval sequences.
func runPeriodicSnapshots(
	ctx context.Context,
	logger zerolog.Logger,
	settlementEngine *engine.SettlementEngine,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := settlementEngine.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := settlementEngine.GetSequence()
			if currentSeq-lastSnapshotSeq >= interval {
				if err := takeSnapshot(ctx, settlementEngine, snapMgr, metrics); err != nil {
					logger.Warn().Err(err).Msg("periodic snapshot failed")
				} else {
					lastSnapshotSeq = currentSeq
					logger.Info().Int64("sequence", currentSeq).Msg("periodic snapshot taken")
				}
			}
		}
	}
}

// takeSnapshot captures the engine's in-memory state and persists it.
func takeSnapshot(
	ctx context.Context,
	settlementEngine *engine.SettlementEngine,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	engineSnap := settlementEngine.CreateSnapshotState()

	snapData := &persistence.SnapshotData{
		Sequence:        engineSnap.Sequence,
		StateHash:       engineSnap.StateHash[:],
		Minted:          engineSnap.Minted,
		Burned:          engineSnap.Burned,
		SequenceState:   engineSnap.SequenceState,
		IdempotencyKeys: engineSnap.IdempotencyKeys,
		CreatedAt:       time.Now(),
	}

	for key, balance := range engineSnap.Balances {
		snapData.Balances = append(snapData.Balances, persistence.BalanceSnapshot{
			Scope:    uint8(key.Scope),
			EntityID: key.EntityID,
			Purpose:  uint8(key.Purpose),
			Balance:  balance,
		})
	}

	for key, auth := range engineSnap.Authorities {
		snapData.Authorities = append(snapData.Authorities, persistence.AuthoritySnapshot{
			Scope:     uint8(key.Scope),
			EntityID:  key.EntityID,
			Purpose:   uint8(key.Purpose),
			Authority: string(auth),
		})
	}

	for _, ev := range engineSnap.Events {
		snapData.Events = append(snapData.Events, persistence.EventSnapshot{
			EventID:        ev.EventID,
			CommissionRate: ev.CommissionRate,
			MaxPrice:       ev.MaxPrice,
			Outcome:        uint8(ev.Outcome()),
			Version:        ev.Version(),
		})
	}

	for _, pos := range engineSnap.Positions {
		snapData.Positions = append(snapData.Positions, persistence.PositionSnapshot{
			UserID:         pos.UserID,
			EventID:        pos.EventID,
			AvgCostYes:     pos.AvgCost[position.SideYes],
			QtyYes:         pos.Qty[position.SideYes],
			AvgCostNo:      pos.AvgCost[position.SideNo],
			QtyNo:          pos.Qty[position.SideNo],
			CommissionRate: pos.CommissionRate,
			Version:        pos.Version,
		})
	}

	for lockID, funding := range engineSnap.Fundings {
		snapData.Fundings = append(snapData.Fundings, persistence.FundingSnapshot{
			LockID:  lockID.String(),
			Promo:   funding.PromoAmount,
			Primary: funding.PrimaryAmount,
		})
	}

	if err := snapMgr.SaveSnapshot(ctx, snapData); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Mark as verified immediately; it was captured from live state
	if err := snapMgr.MarkVerified(ctx, snapData.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snapData.Sequence))
	}

	return nil
}

// --- Metrics ---

func runMetricsServer(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// monitorChannels samples channel depths for backpressure visibility.
func monitorChannels(
	ctx context.Context,
	metrics *observability.Metrics,
	persistChan chan engine.EngineOutput,
	projectionChan chan engine.EngineOutput,
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
		}
	}
}
