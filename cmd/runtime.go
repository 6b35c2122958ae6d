package cmd

import (
	"context"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/marts"
	"sigetidwh/internal/refresh"
	"sigetidwh/internal/serving"
	"sigetidwh/internal/source"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/models"
)

// runtime holds the wired services for one command invocation. The source
// service carries the read-only OLTP role, the target service the warehouse
// owner role; both point at the same Postgres instance, so builders issue
// cross-schema SQL on the target connection.
type runtime struct {
	source  *warehouse.Service
	target  *warehouse.Service
	adapter *source.Adapter
}

func newRuntime(ctx context.Context, cfg *models.Config) (*runtime, error) {
	contract := source.DefaultContract()
	if cfg.Refresh.MappingFile != "" {
		merged, err := source.LoadOverrides(contract, cfg.Refresh.MappingFile)
		if err != nil {
			return nil, err
		}
		contract = merged
	}

	sourceSvc := warehouse.NewService(warehouse.Config{
		DSN:              cfg.Source.DSN,
		StatementTimeout: cfg.Refresh.StatementTimeout,
	})
	if err := sourceSvc.Connect(ctx); err != nil {
		return nil, err
	}

	targetSvc := warehouse.NewService(warehouse.Config{
		DSN:              cfg.Target.DSN,
		StatementTimeout: cfg.Refresh.StatementTimeout,
		MaxOpenConns:     cfg.Refresh.MaxParallel + 2,
	})
	if err := targetSvc.Connect(ctx); err != nil {
		sourceSvc.Close()
		return nil, err
	}

	return &runtime{
		source:  sourceSvc,
		target:  targetSvc,
		adapter: source.NewAdapter(sourceSvc, contract),
	}, nil
}

func (r *runtime) close() {
	r.source.Close()
	r.target.Close()
}

// targetAdapter returns the contract bound to the target connection, which is
// what the builders use for cross-schema reads.
func (r *runtime) targetAdapter() *source.Adapter {
	return source.NewAdapter(r.target, r.adapter.Contract())
}

func (r *runtime) orchestrator(cfg *models.Config) *refresh.Orchestrator {
	adapter := r.targetAdapter()
	dims := dimensions.NewBuilder(adapter, r.target)
	factBuilder := facts.NewBuilder(adapter, r.target, facts.NewWatermarkStore(r.target))
	martBuilder := marts.NewBuilder(adapter, r.target)
	return refresh.New(dims, factBuilder, martBuilder, cfg.Refresh.MaxParallel)
}

func (r *runtime) servingLayer() *serving.Layer {
	return serving.NewLayer(r.target)
}
