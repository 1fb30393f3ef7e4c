package main

import (
	"context"
	"net/http"
	"time"

	"github.com/MrImmortal09/fedimint/internal/modules/deposit"
	"github.com/MrImmortal09/fedimint/internal/modules/pingpong"
	"github.com/MrImmortal09/fedimint/pkg/config"
	"github.com/MrImmortal09/fedimint/pkg/executor"
	"github.com/MrImmortal09/fedimint/pkg/flog"
	"github.com/MrImmortal09/fedimint/pkg/fmetrics"
	"github.com/MrImmortal09/fedimint/pkg/notifier"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/store"
	"github.com/rs/zerolog"
)

// Module instance ids this demo binary wires up. A real client would learn
// these from its module registry/configuration; here they are fixed.
const (
	instancePingPong smkit.ModuleInstanceId = 1
	instanceDeposit  smkit.ModuleInstanceId = 2
)

// app bundles the long-lived handles a subcommand needs, assembled the same
// way from every subcommand so flag/config precedence stays consistent.
type app struct {
	cfg config.Config
	log zerolog.Logger
	db  *store.DB
	ex  *executor.Executor
}

func newApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogJSON {
		cfg.LogJSON = true
	}
	if flagConcurrency != 0 {
		cfg.Concurrency = flagConcurrency
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}

	base := flog.New(flog.Config{Level: flog.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	log := flog.WithComponent(base, "fedimint-exec")

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	// First open of a fresh data dir records how it was initialized; reopens
	// leave the existing record alone.
	err = db.Update(ctx, func(tx *store.Tx) error {
		if _, ok, gErr := tx.GetInitState(); gErr != nil || ok {
			return gErr
		}
		return tx.SetInitState(store.InitState{Phase: store.InitPhaseComplete, Mode: store.InitModeFresh})
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", fmetrics.Handler())
		go func() {
			if serveErr := http.ListenAndServe(cfg.MetricsAddr, mux); serveErr != nil {
				log.Warn().Err(serveErr).Msg("metrics endpoint stopped")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving prometheus metrics")
	}

	notif := notifier.New(notifier.DefaultRingSize)
	tasks := executor.NewTaskGroup(ctx, 10*time.Second)

	builder := executor.NewBuilder()
	if cfg.Concurrency > 0 {
		builder = builder.WithConcurrency(cfg.Concurrency)
	}
	builder.WithModule(instancePingPong, pingpong.Kind, pingpong.Context{}, pingpong.NewDecoder(instancePingPong))
	builder.WithModule(instanceDeposit, deposit.Kind, deposit.Context{
		Confirm: func(context.Context) (bool, error) { return true, nil },
	}, deposit.NewDecoder(instanceDeposit))

	ex := builder.Build(db, notif, tasks, base)

	a := &app{cfg: cfg, log: log, db: db, ex: ex}
	cleanup := func() {
		_ = ex.Stop(context.Background())
		_ = db.Close()
	}
	return a, cleanup, nil
}
