package main

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/engine"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/runner"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// initStore opens the configured store backend and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initEngine opens the store and builds an engine over the given registry.
func initEngine(ctx context.Context, reg *runner.Registry) (*engine.Engine, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return engine.New(cfg, st, reg), st, nil
}

// simulationRunners registers a synthetic runner per phase. Real deployments
// register domain runners through the runner package; the CLI ships these so
// the engine can be exercised end to end without live collectors.
func simulationRunners(itemsPerPhase int) *runner.Registry {
	reg := runner.NewRegistry()
	for i, p := range model.AllPhases() {
		s := runner.NewStatic(string(p)+"_svc", itemsPerPhase)
		// Distinct IDs per phase keep queue lanes easy to read in the db.
		for j := range s.Items {
			s.Items[j].ItemID = string(p) + "-" + strconv.Itoa(i) + "-" + strconv.Itoa(j+1)
		}
		reg.Register(p, s)
	}
	return reg
}
