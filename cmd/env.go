package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/qc"
	"github.com/settlemetrics/qc-service/internal/registry"
	"github.com/settlemetrics/qc-service/internal/report"
	"github.com/settlemetrics/qc-service/internal/store"
	"github.com/settlemetrics/qc-service/internal/triage"
)

// qcEnv holds the initialized store, registry, and engine shared by the
// serve/ingest/compare/export commands.
type qcEnv struct {
	Store     store.Store
	Fields    *model.FieldRegistry
	Engine    *qc.Engine
	Queue     *triage.Queue
	Assembler *report.Assembler
}

// Close releases resources held by the environment.
func (e *qcEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, runs migrations, loads the field registry, and
// builds the engine. Callers should defer env.Close().
func initEnv(ctx context.Context) (*qcEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fields, err := registry.Load(cfg.Registry.FieldsFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine := qc.NewEngine(st, fields, cfg.QC)
	return &qcEnv{
		Store:     st,
		Fields:    fields,
		Engine:    engine,
		Queue:     triage.NewQueue(st),
		Assembler: report.NewAssembler(engine),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "qc.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
