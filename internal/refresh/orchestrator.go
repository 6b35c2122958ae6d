package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/logger"
	"sigetidwh/internal/marts"
	"sigetidwh/pkg/errors"
	"sigetidwh/pkg/models"
)

// Tier names, in execution order.
const (
	TierDimensions = "dimensions"
	TierFacts      = "facts"
	TierMarts      = "marts"
)

// BuildFunc materializes one component.
type BuildFunc func(ctx context.Context, policy models.RefreshPolicy) (models.BuildStats, error)

// Component is one independently-buildable unit of a tier.
type Component struct {
	Name  string
	Tier  string
	Build BuildFunc
}

// Orchestrator drives a refresh: dimensions, then facts, then marts. Within a
// tier components run in parallel; a tier that fails skips every later tier
// but leaves completed siblings in place.
type Orchestrator struct {
	tiers       [][]Component
	maxParallel int
	prepare     func(ctx context.Context) error
}

// New wires the standard component set from the three builders.
func New(dims *dimensions.Builder, factBuilder *facts.Builder, martBuilder *marts.Builder, maxParallel int) *Orchestrator {
	ignorePolicy := func(build func(ctx context.Context) (models.BuildStats, error)) BuildFunc {
		return func(ctx context.Context, _ models.RefreshPolicy) (models.BuildStats, error) {
			return build(ctx)
		}
	}

	tiers := [][]Component{
		{
			{Name: "dim_temps", Tier: TierDimensions, Build: ignorePolicy(dims.BuildTime)},
			{Name: "dim_entreprise", Tier: TierDimensions, Build: ignorePolicy(dims.BuildEnterprises)},
			{Name: "dim_zone", Tier: TierDimensions, Build: ignorePolicy(dims.BuildZones)},
			{Name: "dim_domaine_activite", Tier: TierDimensions, Build: ignorePolicy(dims.BuildActivityDomains)},
		},
		{
			{Name: "fait_factures", Tier: TierFacts, Build: factBuilder.BuildInvoices},
			{Name: "fait_recouvrements", Tier: TierFacts, Build: factBuilder.BuildCollections},
			{Name: "fait_demandes_attribution", Tier: TierFacts, Build: factBuilder.BuildRequests},
		},
		{
			{Name: "mart_performance_financiere", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildFinancial)},
			{Name: "mart_occupation_zones", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildOccupation)},
			{Name: "mart_portefeuille_clients", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildClients)},
			{Name: "mart_kpi_operationnels", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildOperational)},
			{Name: "mart_productivite_agents", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildAgents)},
			{Name: "mart_conformite", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildCompliance)},
			{Name: "mart_implantations", Tier: TierMarts, Build: ignorePolicy(martBuilder.BuildImplantation)},
		},
	}

	prepare := func(ctx context.Context) error {
		if err := dims.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := factBuilder.EnsureSchema(ctx); err != nil {
			return err
		}
		return martBuilder.EnsureSchemas(ctx)
	}

	return NewWithComponents(tiers, maxParallel, prepare)
}

// NewWithComponents builds an orchestrator over an explicit component set.
func NewWithComponents(tiers [][]Component, maxParallel int, prepare func(ctx context.Context) error) *Orchestrator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Orchestrator{tiers: tiers, maxParallel: maxParallel, prepare: prepare}
}

// Run executes a refresh and always returns a report, failed or not. When
// only is non-empty, just that component runs (its tier prerequisites are the
// caller's responsibility).
func (o *Orchestrator) Run(ctx context.Context, policy models.RefreshPolicy, only string) (*models.RefreshReport, error) {
	report := &models.RefreshReport{
		Policy:    policy,
		StartedAt: time.Now().UTC(),
		Success:   true,
	}

	if o.prepare != nil {
		if err := o.prepare(ctx); err != nil {
			report.Success = false
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
	}

	if only != "" {
		component, ok := o.find(only)
		if !ok {
			report.Success = false
			report.FinishedAt = time.Now().UTC()
			return report, errors.ConfigError("unknown component "+only, "only")
		}
		result := o.runComponent(ctx, component, policy)
		report.Components = append(report.Components, result)
		report.Quality.Add(result.Quality)
		report.Success = result.State == models.StateSuccess
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	tierFailed := false
	for _, tier := range o.tiers {
		if tierFailed {
			for _, component := range tier {
				report.Components = append(report.Components, models.ComponentResult{
					Name:  component.Name,
					Tier:  component.Tier,
					State: models.StateSkipped,
				})
			}
			continue
		}

		results := o.runTier(ctx, tier, policy)
		for _, result := range results {
			report.Components = append(report.Components, result)
			report.Quality.Add(result.Quality)
			if result.State == models.StateFailed {
				tierFailed = true
				report.Success = false
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	logger.Info("refresh finished",
		zap.String("policy", string(policy)),
		zap.Bool("success", report.Success),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// runTier builds every component of one tier, at most maxParallel at a time.
// All components run to completion even when a sibling fails: completed work
// stays queryable.
func (o *Orchestrator) runTier(ctx context.Context, tier []Component, policy models.RefreshPolicy) []models.ComponentResult {
	results := make([]models.ComponentResult, len(tier))
	var mu sync.Mutex

	pool := pond.NewPool(o.maxParallel, pond.WithContext(ctx))
	for i, component := range tier {
		i, component := i, component
		pool.Submit(func() {
			result := o.runComponent(ctx, component, policy)
			mu.Lock()
			results[i] = result
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	return results
}

func (o *Orchestrator) runComponent(ctx context.Context, component Component, policy models.RefreshPolicy) models.ComponentResult {
	result := models.ComponentResult{
		Name:      component.Name,
		Tier:      component.Tier,
		State:     models.StateRunning,
		StartedAt: time.Now().UTC(),
	}
	logger.Info("component started",
		zap.String("component", component.Name), zap.String("tier", component.Tier))

	stats, err := component.Build(ctx, policy)
	result.Duration = time.Since(result.StartedAt)
	result.RowsWritten = stats.RowsWritten
	result.RowsRejected = stats.RowsRejected
	result.Quality = stats.Quality

	if err != nil {
		result.State = models.StateFailed
		result.Error = err.Error()
		logger.Error(err,
			zap.String("component", component.Name),
			zap.String("code", string(errors.GetErrorCode(err))))
		return result
	}

	result.State = models.StateSuccess
	logger.Info("component finished",
		zap.String("component", component.Name),
		zap.Int64("rows", result.RowsWritten),
		zap.Duration("elapsed", result.Duration))
	return result
}

func (o *Orchestrator) find(name string) (Component, bool) {
	for _, tier := range o.tiers {
		for _, component := range tier {
			if component.Name == name {
				return component, true
			}
		}
	}
	return Component{}, false
}
