/*
batch.go - Concurrent payslip generation for many employees

PURPOSE:
  Calculations are independent across employees, so a batch fans out over
  a bounded worker pool. One employee's failure is recorded and never
  aborts siblings.

READ SKEW:
  Parameters, tax brackets and the rubrique catalog are captured once,
  before any worker starts, and the same ConfigSnapshot is threaded through
  every calculation. Every resolved rubrique is rebound to the snapshot's
  definition, so a rate change committed mid-batch is invisible to the
  whole batch. The structures the roster uses are loaded into a per-batch
  cache before the workers start.

ORDERING:
  Payslips and failures are reported in request order.

CANCELLATION:
  When ctx is cancelled no new employee is scheduled; unscheduled
  employees are reported as failures with code "canceled".
*/
package payroll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recorder receives batch metrics. Implemented by observability.Metrics.
type Recorder interface {
	ObservePayslip(status string, elapsed time.Duration)
	BatchInFlight(delta int)
}

type nopRecorder struct{}

func (nopRecorder) ObservePayslip(string, time.Duration) {}
func (nopRecorder) BatchInFlight(int)                   {}

const DefaultBatchWorkers = 8

type BatchFailure struct {
	EmployeeID string `json:"employee_id"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

type BatchResult struct {
	Period   Period         `json:"period"`
	AsOf     Date           `json:"as_of"`
	Payslips []Payslip      `json:"payslips"`
	Failures []BatchFailure `json:"failures"`
}

type BatchRunner struct {
	service  *Service
	workers  int
	recorder Recorder
	log      *zap.Logger
}

func NewBatchRunner(service *Service, workers int, recorder Recorder) *BatchRunner {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &BatchRunner{service: service, workers: workers, recorder: recorder, log: service.log}
}

type outcome struct {
	payslip *Payslip
	failure *BatchFailure
}

// Run calculates every request for period. Requests whose Period differs
// from period are rejected as failures. The returned error is non-nil only
// when the configuration snapshot cannot be taken or ctx was cancelled.
func (b *BatchRunner) Run(ctx context.Context, period Period, reqs []PayslipRequest) (*BatchResult, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	asOf := period.AsOf()
	snap, err := b.service.Snapshot(ctx, asOf)
	if err != nil {
		return nil, err
	}

	b.log.Info("payroll batch started",
		zap.String("period", period.String()),
		zap.Int("employees", len(reqs)),
		zap.Int("workers", b.workers),
		zap.Int("parameters", len(snap.Parameters)),
		zap.Int("brackets", len(snap.Brackets)),
	)
	start := time.Now()
	b.recorder.BatchInFlight(1)
	defer b.recorder.BatchInFlight(-1)

	structures := newStructureCache(b.service.store)
	structures.prefetch(ctx, b.service.store, reqs, asOf)
	resolver := b.service.resolver.withStructures(structures)
	outcomes := make([]outcome, len(reqs))

	g := new(errgroup.Group)
	g.SetLimit(b.workers)

	for i, req := range reqs {
		if ctx.Err() != nil {
			outcomes[i] = outcome{failure: &BatchFailure{EmployeeID: req.EmployeeID, Code: "canceled", Reason: ctx.Err().Error()}}
			continue
		}
		if req.Period != period {
			outcomes[i] = outcome{failure: &BatchFailure{EmployeeID: req.EmployeeID, Code: "invalid_input", Reason: "request period " + req.Period.String() + " differs from batch period"}}
			continue
		}
		g.Go(func() error {
			outcomes[i] = b.runOne(ctx, resolver, req, snap)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Period: period, AsOf: asOf, Payslips: []Payslip{}, Failures: []BatchFailure{}}
	for _, o := range outcomes {
		if o.failure != nil {
			result.Failures = append(result.Failures, *o.failure)
			continue
		}
		result.Payslips = append(result.Payslips, *o.payslip)
	}

	b.log.Info("payroll batch finished",
		zap.String("period", period.String()),
		zap.Int("payslips", len(result.Payslips)),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, ctx.Err()
}

// RunRoster runs a batch over every employee in the store.
func (b *BatchRunner) RunRoster(ctx context.Context, period Period) (*BatchResult, error) {
	reqs, err := b.service.RosterRequests(ctx, period)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx, period, reqs)
}

func (b *BatchRunner) runOne(ctx context.Context, resolver *AssignmentResolver, req PayslipRequest, snap *ConfigSnapshot) outcome {
	start := time.Now()
	p, err := b.service.calculate(ctx, resolver, req, snap)
	if err != nil {
		b.recorder.ObservePayslip("failed", time.Since(start))
		b.log.Warn("payslip calculation failed",
			zap.String("employee_id", req.EmployeeID),
			zap.String("code", ErrorCode(err)),
			zap.Error(err),
		)
		return outcome{failure: &BatchFailure{EmployeeID: req.EmployeeID, Code: ErrorCode(err), Reason: err.Error()}}
	}
	b.recorder.ObservePayslip("ok", time.Since(start))
	return outcome{payslip: p}
}

// =============================================================================
// STRUCTURE CACHE - Per-batch memoisation of structure lookups
// =============================================================================

type structureCache struct {
	next StructureReader

	mu      sync.Mutex
	entries map[string]*structureEntry
}

type structureEntry struct {
	once  sync.Once
	links []StructureRubrique
	err   error
}

func newStructureCache(next StructureReader) *structureCache {
	return &structureCache{next: next, entries: make(map[string]*structureEntry)}
}

// prefetch loads the structure of every request's active contract. Lookup
// errors are left for the employee's own calculation to report.
func (c *structureCache) prefetch(ctx context.Context, contracts ContractReader, reqs []PayslipRequest, asOf Date) {
	for _, req := range reqs {
		contract, err := contracts.ActiveContract(ctx, req.EmployeeID, asOf)
		if err != nil || contract == nil || contract.SalaryStructureID == nil {
			continue
		}
		_, _ = c.StructureRubriques(ctx, *contract.SalaryStructureID)
	}
}

func (c *structureCache) StructureRubriques(ctx context.Context, structureID string) ([]StructureRubrique, error) {
	c.mu.Lock()
	e, ok := c.entries[structureID]
	if !ok {
		e = &structureEntry{}
		c.entries[structureID] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.links, e.err = c.next.StructureRubriques(ctx, structureID)
	})
	return e.links, e.err
}
