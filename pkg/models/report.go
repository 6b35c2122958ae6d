package models

import "time"

// ComponentState tracks the lifecycle of one refresh component.
type ComponentState string

const (
	StatePending ComponentState = "pending"
	StateRunning ComponentState = "running"
	StateSuccess ComponentState = "success"
	StateFailed  ComponentState = "failed"
	StateSkipped ComponentState = "skipped"
)

// RefreshPolicy selects full rebuild or watermark-bounded fact loads.
type RefreshPolicy string

const (
	PolicyFull        RefreshPolicy = "full"
	PolicyIncremental RefreshPolicy = "incremental"
)

// ComponentResult is the per-component entry of a refresh report.
type ComponentResult struct {
	Name         string          `json:"name"`
	Tier         string          `json:"tier"`
	State        ComponentState  `json:"state"`
	RowsWritten  int64           `json:"rows_written"`
	RowsRejected int64           `json:"rows_rejected"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	Duration     time.Duration   `json:"duration_ns"`
	Quality      QualityCounters `json:"quality"`
	Error        string          `json:"error,omitempty"`
}

// RefreshReport is printed as JSON to stdout after every refresh run.
type RefreshReport struct {
	Policy     RefreshPolicy     `json:"policy"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Success    bool              `json:"success"`
	Components []ComponentResult `json:"components"`
	Quality    QualityCounters   `json:"quality"`
}

// QualityCounters aggregates the source-integrity incidents recovered during
// a refresh: rows excluded or corrected, never silently dropped.
type QualityCounters struct {
	OrphanFactRows    int64 `json:"orphan_fact_rows"`
	DatesOutOfRange   int64 `json:"dates_out_of_range"`
	NegativeDelays    int64 `json:"negative_delays"`
}

// BuildStats is returned by every builder operation and folded into the
// refresh report by the orchestrator.
type BuildStats struct {
	RowsWritten  int64
	RowsRejected int64
	Quality      QualityCounters
}

// Add folds other counters into q.
func (q *QualityCounters) Add(other QualityCounters) {
	q.OrphanFactRows += other.OrphanFactRows
	q.DatesOutOfRange += other.DatesOutOfRange
	q.NegativeDelays += other.NegativeDelays
}

// Failed returns the names of components that failed.
func (r *RefreshReport) Failed() []string {
	var failed []string
	for _, c := range r.Components {
		if c.State == StateFailed {
			failed = append(failed, c.Name)
		}
	}
	return failed
}

// Find returns the result for a named component, or nil.
func (r *RefreshReport) Find(name string) *ComponentResult {
	for i := range r.Components {
		if r.Components[i].Name == name {
			return &r.Components[i]
		}
	}
	return nil
}
