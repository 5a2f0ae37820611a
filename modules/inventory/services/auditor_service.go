package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/configuration"
	"github.com/iota-uz/inventory-core/pkg/eventbus"
	"github.com/iota-uz/inventory-core/pkg/serrors"
)

const (
	defaultReconExampleLimit = 5
	atpOversellExampleLimit  = 25
)

// atpEpsilon bounds acceptable rounding drift when comparing committed
// quantity against on-hand.
var atpEpsilon = decimal.New(1, -6)

// ReservationBalancePair is one (item, location, uom) triple with the cached
// committed quantity next to the same quantity re-derived from reservation
// rows.
type ReservationBalancePair struct {
	ItemID           uuid.UUID       `json:"item_id"`
	LocationID       uuid.UUID       `json:"location_id"`
	UOM              string          `json:"uom"`
	BalanceCommitted decimal.Decimal `json:"balance_committed"`
	DerivedCommitted decimal.Decimal `json:"derived_committed"`
}

func (p ReservationBalancePair) Delta() decimal.Decimal {
	return p.BalanceCommitted.Sub(p.DerivedCommitted).Abs()
}

// WarehouseDriftRow is a location whose stored owning warehouse disagrees
// with the one recomputed from its ancestry chain.
type WarehouseDriftRow struct {
	LocationID          uuid.UUID `json:"location_id"`
	StoredWarehouseID   uuid.UUID `json:"stored_warehouse_id"`
	ExpectedWarehouseID uuid.UUID `json:"expected_warehouse_id"`
}

// ATPGroup aggregates on-hand and committed quantity for sellable bins of one
// (warehouse, item, uom).
type ATPGroup struct {
	WarehouseID uuid.UUID       `json:"warehouse_id"`
	ItemID      uuid.UUID       `json:"item_id"`
	UOM         string          `json:"uom"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Committed   decimal.Decimal `json:"committed"`
}

func (g ATPGroup) Oversell() decimal.Decimal {
	return g.Committed.Sub(g.OnHand)
}

type AuditRepository interface {
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)

	// Receipt/QC completeness within the trailing window.
	CountUnpairedReceiptLines(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error)
	CountLegacyReceiveMovements(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error)
	CountUnpairedQCEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error)
	CountLegacyQCTransfers(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error)

	CountNonSellableQCAccepts(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountNegativeOnHand(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ListReservationBalancePairs(ctx context.Context, tenantID uuid.UUID) ([]ReservationBalancePair, error)
	ListWarehouseDrift(ctx context.Context, tenantID uuid.UUID) ([]WarehouseDriftRow, error)
	CountReservationWarehouseMismatch(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountNonSellableFlows(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountSalesOrderWarehouseMismatch(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ListATPGroups(ctx context.Context, tenantID uuid.UUID) ([]ATPGroup, error)
}

// TenantReport carries every per-check count for one tenant of one sweep.
type TenantReport struct {
	TenantID uuid.UUID `json:"tenant_id"`

	UnpairedReceiptLineCount   int64 `json:"unpaired_receipt_line_count"`
	LegacyReceiveMovementCount int64 `json:"legacy_receive_movement_count"`
	UnpairedQCEventCount       int64 `json:"unpaired_qc_event_count"`
	LegacyQCTransferCount      int64 `json:"legacy_qc_transfer_count"`

	NonSellableQCAcceptCount                    int64 `json:"non_sellable_qc_accept_count"`
	NegativeOnHandCount                         int64 `json:"negative_on_hand_count"`
	ReservationBalanceMismatchCount             int64 `json:"reservation_balance_mismatch_count"`
	WarehouseIDDriftCount                       int64 `json:"warehouse_id_drift_count"`
	ReservationWarehouseHistoricalMismatchCount int64 `json:"reservation_warehouse_historical_mismatch_count"`
	NonSellableFlowCount                        int64 `json:"non_sellable_flow_count"`
	SalesOrderWarehouseMismatchCount            int64 `json:"sales_order_warehouse_mismatch_count"`
	ATPOversellDetectedCount                    int64 `json:"atp_oversell_detected_count"`

	ReservationBalanceExamples []ReservationBalancePair `json:"reservation_balance_examples,omitempty"`
	WarehouseDriftExamples     []WarehouseDriftRow      `json:"warehouse_drift_examples,omitempty"`
	ATPOversellExamples        []ATPGroup               `json:"atp_oversell_examples,omitempty"`

	Failed        bool   `json:"failed,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// strictFindings returns the counts that strict mode escalates. Legacy
// tagging gaps and historical reservation mismatches stay informational.
func (r *TenantReport) strictFindings() map[string]int64 {
	out := map[string]int64{}
	track := func(name string, n int64) {
		if n > 0 {
			out[name] = n
		}
	}
	track("negative_on_hand", r.NegativeOnHandCount)
	track("reservation_balance_mismatch", r.ReservationBalanceMismatchCount)
	track("warehouse_id_drift", r.WarehouseIDDriftCount)
	track("non_sellable_qc_accept", r.NonSellableQCAcceptCount)
	track("non_sellable_flow", r.NonSellableFlowCount)
	track("sales_order_warehouse_mismatch", r.SalesOrderWarehouseMismatchCount)
	track("atp_oversell", r.ATPOversellDetectedCount)
	return out
}

type RunOptions struct {
	// TenantIDs scopes the sweep. Empty falls back to the CSV environment
	// scope, then to all tenants.
	TenantIDs []uuid.UUID

	// Strict forces strict mode for this run; the environment toggle
	// applies regardless.
	Strict bool

	// Zero values fall back to the configured defaults.
	WindowDays int
	Tolerance  decimal.Decimal
	Limit      int
}

type RunResult struct {
	// Skipped is true when another sweep was already in flight; Reports is
	// empty in that case.
	Skipped   bool           `json:"skipped"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Reports   []TenantReport `json:"reports"`
}

// AuditorService recomputes the cross-subsystem reconciliations per tenant,
// logs drift at a severity reflecting risk, and escalates warehouse-id drift
// into a durable block. Overlapping invocations no-op via RunState.
type AuditorService struct {
	repo      AuditRepository
	blocks    *BlockRegistry
	publisher eventbus.EventBus
	logger    *logrus.Entry
	state     *RunState
	cfg       *configuration.InvariantOptions
}

func NewAuditorService(
	repo AuditRepository,
	blocks *BlockRegistry,
	publisher eventbus.EventBus,
	logger *logrus.Entry,
	state *RunState,
	cfg *configuration.InvariantOptions,
) *AuditorService {
	if logger == nil {
		nop := logrus.New()
		nop.SetLevel(logrus.PanicLevel)
		logger = logrus.NewEntry(nop)
	}
	if state == nil {
		state = NewRunState()
	}
	if cfg == nil {
		cfg = &configuration.Use().Invariants
	}
	return &AuditorService{
		repo:      repo,
		blocks:    blocks,
		publisher: publisher,
		logger:    logger,
		state:     state,
		cfg:       cfg,
	}
}

func (s *AuditorService) Health() RunHealth {
	return s.state.Health()
}

// Run performs one sweep. Per-tenant work is sequential; a hard failure on
// one tenant is logged and, in non-strict mode, does not stop the sweep.
func (s *AuditorService) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	started := time.Now().UTC()
	if !s.state.TryStart(started) {
		s.logger.Warn("invariant sweep already running, skipping")
		getMetrics().auditRunsTotal.WithLabelValues("skipped").Inc()
		return &RunResult{Skipped: true, StartedAt: started}, nil
	}
	getMetrics().auditRunning.Set(1)
	defer func() {
		now := time.Now().UTC()
		s.state.Finish(now)
		getMetrics().auditRunning.Set(0)
		getMetrics().auditLastRun.Set(float64(now.Unix()))
		getMetrics().auditDuration.Observe(now.Sub(started).Seconds())
	}()

	strict := opts.Strict || s.cfg.Strict
	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = s.cfg.WindowDays
	}
	tolerance := opts.Tolerance
	if tolerance.IsZero() {
		tolerance = s.cfg.Tolerance()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.ReconLimit
	}
	if limit <= 0 {
		limit = defaultReconExampleLimit
	}

	tenantIDs, err := s.resolveScope(ctx, opts.TenantIDs)
	if err != nil {
		getMetrics().auditRunsTotal.WithLabelValues("failed").Inc()
		return nil, mapPgError(err)
	}

	since := started.AddDate(0, 0, -windowDays)
	result := &RunResult{StartedAt: started, Reports: make([]TenantReport, 0, len(tenantIDs))}
	violations := map[string]any{}

	for _, tenantID := range tenantIDs {
		report, err := s.auditTenant(ctx, tenantID, since, tolerance, limit)
		if err != nil {
			s.logger.WithField("tenant_id", tenantID).WithError(err).Error("tenant audit failed")
			report = &TenantReport{TenantID: tenantID, Failed: true, FailureReason: err.Error()}
			if strict {
				violations[tenantID.String()] = map[string]any{"error": err.Error()}
			}
		} else if strict {
			if findings := report.strictFindings(); len(findings) > 0 {
				violations[tenantID.String()] = findings
			}
		}
		result.Reports = append(result.Reports, *report)
	}

	result.Duration = time.Since(started)
	s.publishGauges(result.Reports)
	getMetrics().auditRunsTotal.WithLabelValues("completed").Inc()

	if s.publisher != nil {
		s.publisher.Publish(AuditCompletedEvent{
			TenantCount: len(result.Reports),
			Duration:    result.Duration,
			OccurredAt:  time.Now().UTC(),
		})
	}

	if strict && len(violations) > 0 {
		return result, serrors.NewError(ErrCodeInvariantsStrictFailed, "inventory invariants violated").
			WithDetails(violations)
	}
	return result, nil
}

// resolveScope picks explicit tenant ids, else the CSV environment scope,
// else every tenant.
func (s *AuditorService) resolveScope(ctx context.Context, explicit []uuid.UUID) ([]uuid.UUID, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if scoped := s.cfg.TenantScope(); len(scoped) > 0 {
		return scoped, nil
	}
	return s.repo.ListTenantIDs(ctx)
}

func (s *AuditorService) auditTenant(
	ctx context.Context,
	tenantID uuid.UUID,
	since time.Time,
	tolerance decimal.Decimal,
	limit int,
) (*TenantReport, error) {
	log := s.logger.WithField("tenant_id", tenantID)
	report := &TenantReport{TenantID: tenantID}
	var err error

	if report.UnpairedReceiptLineCount, err = s.repo.CountUnpairedReceiptLines(ctx, tenantID, since); err != nil {
		return nil, err
	}
	if report.LegacyReceiveMovementCount, err = s.repo.CountLegacyReceiveMovements(ctx, tenantID, since); err != nil {
		return nil, err
	}
	if report.UnpairedQCEventCount, err = s.repo.CountUnpairedQCEvents(ctx, tenantID, since); err != nil {
		return nil, err
	}
	if report.LegacyQCTransferCount, err = s.repo.CountLegacyQCTransfers(ctx, tenantID, since); err != nil {
		return nil, err
	}
	if report.LegacyReceiveMovementCount > 0 || report.LegacyQCTransferCount > 0 {
		log.WithFields(logrus.Fields{
			"legacy_receive_movements": report.LegacyReceiveMovementCount,
			"legacy_qc_transfers":      report.LegacyQCTransferCount,
		}).Info("movements without source tagging")
	}
	if report.UnpairedReceiptLineCount > 0 || report.UnpairedQCEventCount > 0 {
		log.WithFields(logrus.Fields{
			"unpaired_receipt_lines": report.UnpairedReceiptLineCount,
			"unpaired_qc_events":     report.UnpairedQCEventCount,
		}).Warn("receipt/qc completeness gaps")
	}

	if report.NonSellableQCAcceptCount, err = s.repo.CountNonSellableQCAccepts(ctx, tenantID); err != nil {
		return nil, err
	}
	if report.NonSellableQCAcceptCount > 0 {
		log.WithField("count", report.NonSellableQCAcceptCount).Error("qc accepts landed in non-sellable locations")
	}

	if report.NegativeOnHandCount, err = s.repo.CountNegativeOnHand(ctx, tenantID); err != nil {
		return nil, err
	}
	if report.NegativeOnHandCount > 0 {
		log.WithField("count", report.NegativeOnHandCount).Error("negative on-hand balances")
	}

	pairs, err := s.repo.ListReservationBalancePairs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	mismatched := reconcilePairs(pairs, tolerance, limit)
	report.ReservationBalanceMismatchCount = int64(countMismatches(pairs, tolerance))
	report.ReservationBalanceExamples = mismatched
	if report.ReservationBalanceMismatchCount > 0 {
		log.WithFields(logrus.Fields{
			"count":    report.ReservationBalanceMismatchCount,
			"examples": mismatched,
		}).Warn("reservation committed quantity disagrees with balance cache")
	}

	drift, err := s.repo.ListWarehouseDrift(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	report.WarehouseIDDriftCount = int64(len(drift))
	if n := len(drift); n > defaultReconExampleLimit {
		drift = drift[:defaultReconExampleLimit]
	}
	report.WarehouseDriftExamples = drift
	if err := s.reconcileDriftBlock(ctx, tenantID, report.WarehouseIDDriftCount, drift, log); err != nil {
		return nil, err
	}

	if report.ReservationWarehouseHistoricalMismatchCount, err = s.repo.CountReservationWarehouseMismatch(ctx, tenantID); err != nil {
		return nil, err
	}
	if report.ReservationWarehouseHistoricalMismatchCount > 0 {
		log.WithField("count", report.ReservationWarehouseHistoricalMismatchCount).
			Warn("reservations captured under a previous warehouse")
	}

	if report.NonSellableFlowCount, err = s.repo.CountNonSellableFlows(ctx, tenantID); err != nil {
		return nil, err
	}
	if report.NonSellableFlowCount > 0 {
		log.WithField("count", report.NonSellableFlowCount).Warn("reservations or shipments against non-sellable locations")
	}

	if report.SalesOrderWarehouseMismatchCount, err = s.repo.CountSalesOrderWarehouseMismatch(ctx, tenantID); err != nil {
		return nil, err
	}
	if report.SalesOrderWarehouseMismatchCount > 0 {
		log.WithField("count", report.SalesOrderWarehouseMismatchCount).Warn("sales order warehouse scope mismatches")
	}

	groups, err := s.repo.ListATPGroups(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	oversold := detectOversell(groups)
	report.ATPOversellDetectedCount = int64(len(oversold))
	if len(oversold) > atpOversellExampleLimit {
		oversold = oversold[:atpOversellExampleLimit]
	}
	report.ATPOversellExamples = oversold
	if report.ATPOversellDetectedCount > 0 {
		log.WithFields(logrus.Fields{
			"count":    report.ATPOversellDetectedCount,
			"examples": oversold,
		}).Error("committed quantity exceeds on-hand")
	}

	return report, nil
}

// reconcileDriftBlock is the single writer of the warehouse-drift block:
// nonzero drift raises it, zero drift clears it.
func (s *AuditorService) reconcileDriftBlock(
	ctx context.Context,
	tenantID uuid.UUID,
	count int64,
	samples []WarehouseDriftRow,
	log *logrus.Entry,
) error {
	if count > 0 {
		log.WithFields(logrus.Fields{
			"count":   count,
			"samples": samples,
		}).Error("owning warehouse drifted from ancestry")
		details, err := json.Marshal(map[string]any{"count": count, "samples": samples})
		if err != nil {
			return err
		}
		if _, err := s.blocks.Raise(ctx, tenantID, entities.BlockCodeWarehouseIDDrift, details); err != nil {
			return err
		}
		if s.publisher != nil {
			s.publisher.Publish(InvariantBlockRaisedEvent{
				TenantID:   tenantID,
				Code:       entities.BlockCodeWarehouseIDDrift,
				OccurredAt: time.Now().UTC(),
			})
		}
		return nil
	}

	blocked, err := s.blocks.IsBlocked(ctx, tenantID, entities.BlockCodeWarehouseIDDrift)
	if err != nil {
		return err
	}
	if !blocked {
		return nil
	}
	if _, err := s.blocks.Clear(ctx, tenantID, entities.BlockCodeWarehouseIDDrift); err != nil {
		return err
	}
	log.Info("warehouse drift resolved, block cleared")
	if s.publisher != nil {
		s.publisher.Publish(InvariantBlockClearedEvent{
			TenantID:   tenantID,
			Code:       entities.BlockCodeWarehouseIDDrift,
			OccurredAt: time.Now().UTC(),
		})
	}
	return nil
}

func countMismatches(pairs []ReservationBalancePair, tolerance decimal.Decimal) int {
	n := 0
	for _, p := range pairs {
		if p.Delta().GreaterThan(tolerance) {
			n++
		}
	}
	return n
}

// reconcilePairs returns the top-limit largest-delta mismatches.
func reconcilePairs(pairs []ReservationBalancePair, tolerance decimal.Decimal, limit int) []ReservationBalancePair {
	var out []ReservationBalancePair
	for _, p := range pairs {
		if p.Delta().GreaterThan(tolerance) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Delta().GreaterThan(out[j].Delta())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// detectOversell returns every group whose committed quantity exceeds
// on-hand beyond epsilon, ranked by oversell magnitude.
func detectOversell(groups []ATPGroup) []ATPGroup {
	var out []ATPGroup
	for _, g := range groups {
		if g.Oversell().GreaterThan(atpEpsilon) {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Oversell().GreaterThan(out[j].Oversell())
	})
	return out
}

func (s *AuditorService) publishGauges(reports []TenantReport) {
	totals := map[string]int64{
		"unpaired_receipt_lines":                    0,
		"legacy_receive_movements":                  0,
		"unpaired_qc_events":                        0,
		"legacy_qc_transfers":                       0,
		"non_sellable_qc_accepts":                   0,
		"negative_on_hand":                          0,
		"reservation_balance_mismatches":            0,
		"warehouse_id_drift":                        0,
		"reservation_warehouse_historical_mismatch": 0,
		"non_sellable_flows":                        0,
		"sales_order_warehouse_mismatch":            0,
		"atp_oversell":                              0,
	}
	for _, r := range reports {
		totals["unpaired_receipt_lines"] += r.UnpairedReceiptLineCount
		totals["legacy_receive_movements"] += r.LegacyReceiveMovementCount
		totals["unpaired_qc_events"] += r.UnpairedQCEventCount
		totals["legacy_qc_transfers"] += r.LegacyQCTransferCount
		totals["non_sellable_qc_accepts"] += r.NonSellableQCAcceptCount
		totals["negative_on_hand"] += r.NegativeOnHandCount
		totals["reservation_balance_mismatches"] += r.ReservationBalanceMismatchCount
		totals["warehouse_id_drift"] += r.WarehouseIDDriftCount
		totals["reservation_warehouse_historical_mismatch"] += r.ReservationWarehouseHistoricalMismatchCount
		totals["non_sellable_flows"] += r.NonSellableFlowCount
		totals["sales_order_warehouse_mismatch"] += r.SalesOrderWarehouseMismatchCount
		totals["atp_oversell"] += r.ATPOversellDetectedCount
	}
	for check, total := range totals {
		getMetrics().auditFindings.WithLabelValues(check).Set(float64(total))
	}
}
