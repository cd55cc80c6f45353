package mirror

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"launchpad/core/events"
	"launchpad/core/idempotency"
	"launchpad/core/types"
	"launchpad/native/bonding"
	"launchpad/native/escrow"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
	"launchpad/observability"
)

var (
	// ErrMissingTxID is returned when a delivery carries no transaction id.
	ErrMissingTxID = errors.New("mirror: transaction id required")
	// ErrNotFound is returned by the read models for unknown records.
	ErrNotFound = errors.New("mirror: record not found")
	// ErrMalformedEvent is returned when an event lacks a required attribute
	// or carries a non-integer amount.
	ErrMalformedEvent = errors.New("mirror: malformed event")
)

// Mirror maintains off-chain read models from committed engine events.
// Deliveries are keyed by transaction id and applied exactly once.
type Mirror struct {
	db      *gorm.DB
	seen    idempotency.Store
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
	now     func() time.Time
}

// New migrates the schema and returns a mirror over db. seen is an optional
// fast-path cache in front of the durable processed-transaction table.
func New(db *gorm.DB, seen idempotency.Store) (*Mirror, error) {
	if db == nil {
		return nil, fmt.Errorf("mirror: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("mirror: migrate: %w", err)
	}
	return &Mirror{
		db:      db,
		seen:    seen,
		logger:  slog.Default(),
		metrics: observability.Settlement(),
		now:     time.Now,
	}, nil
}

// SetLogger overrides the structured logger.
func (m *Mirror) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger
}

// SetNowFunc overrides the clock used for row timestamps.
func (m *Mirror) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.now = now
}

// Apply projects the events of one committed transaction. It reports false
// when txID was already applied; redelivery never changes the mirror.
func (m *Mirror) Apply(ctx context.Context, txID string, evts ...events.Event) (bool, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return false, ErrMissingTxID
	}
	if m.seen != nil {
		if seen, err := m.seen.Seen(ctx, txID); err != nil {
			return false, err
		} else if seen {
			m.metrics.RecordIdempotency("mirror", true)
			return false, nil
		}
	}

	applied := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marker := ProcessedTx{TxID: txID, RequestID: uuid.New(), Events: len(evts), CreatedAt: m.now()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for _, evt := range evts {
			payload, ok := events.Payload(evt)
			if !ok || payload == nil {
				continue
			}
			if err := m.project(tx, txID, payload); err != nil {
				return fmt.Errorf("mirror: %s: %w", payload.Type, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	m.metrics.RecordIdempotency("mirror", !applied)
	if m.seen != nil {
		if _, err := m.seen.Remember(ctx, txID, 0); err != nil {
			m.logger.Warn("mirror idempotency cache update failed", slog.String("tx", txID), slog.Any("error", err))
		}
	}
	if applied {
		m.logger.Debug("mirror applied transaction", slog.String("tx", txID), slog.Int("events", len(evts)))
	}
	return applied, nil
}

func (m *Mirror) project(tx *gorm.DB, txID string, evt *types.Event) error {
	attrs := attributes(evt.Attributes)
	switch evt.Type {
	case escrow.EventTypeDeposited, escrow.EventTypeReleased, escrow.EventTypeRefunded:
		return m.projectDeposit(tx, attrs)
	case sale.EventTypeRoundCreated, sale.EventTypeRoundEnded, sale.EventTypeCancelled,
		sale.EventTypeFinalizing, sale.EventTypeFinalized, sale.EventTypeRefunded:
		return m.projectRound(tx, attrs)
	case sale.EventTypeContributed:
		return m.projectContribution(tx, txID, attrs, false)
	case sale.EventTypeContribRefund:
		return m.projectContribution(tx, txID, attrs, true)
	case vesting.EventTypeScheduleCreated, vesting.EventTypePaused, vesting.EventTypeResumed:
		return m.projectSchedule(tx, attrs, evt.Type == vesting.EventTypePaused)
	case vesting.EventTypeClaimed:
		return m.projectClaim(tx, attrs)
	case finalize.EventTypeFinalized:
		return m.projectResult(tx, attrs)
	case bonding.EventTypePoolCreated, bonding.EventTypeGraduating, bonding.EventTypeGraduated:
		return m.projectPool(tx, attrs, false)
	case bonding.EventTypeSwap:
		return m.projectPool(tx, attrs, true)
	case events.TypeFeeRouted:
		return m.projectFee(tx, txID, attrs)
	case finalize.EventTypeReconciliationRejected:
		m.logger.Warn("mirror observed rejected finalization", slog.String("round", attrs["roundId"]))
		return nil
	default:
		m.logger.Debug("mirror ignoring event", slog.String("type", evt.Type))
		return nil
	}
}

type attributes map[string]string

func (a attributes) require(keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(a[key]) == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformedEvent, key)
		}
	}
	return nil
}

// amount returns the attribute as a canonical base-10 integer string.
func (a attributes) amount(key string) (string, error) {
	raw := strings.TrimSpace(a[key])
	if raw == "" {
		return "0", nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("%w: %s=%q is not a non-negative integer", ErrMalformedEvent, key, raw)
	}
	return value.String(), nil
}

func (a attributes) integer(key string) int64 {
	v, _ := strconv.ParseInt(a[key], 10, 64)
	return v
}

func upsert(tx *gorm.DB, key string, row any, columns ...string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}

func (m *Mirror) projectDeposit(tx *gorm.DB, a attributes) error {
	if err := a.require("projectId", "token", "depositor"); err != nil {
		return err
	}
	amount, err := a.amount("amount")
	if err != nil {
		return err
	}
	status := DepositPending
	switch {
	case a["released"] == "true":
		status = DepositReleased
	case a["refunded"] == "true":
		status = DepositRefunded
	}
	recipient := a["to"]
	if status == DepositRefunded {
		recipient = a["depositor"]
	}
	row := &Deposit{
		ID:        uuid.New(),
		ProjectID: a["projectId"],
		Token:     a["token"],
		Amount:    amount,
		Depositor: a["depositor"],
		Recipient: recipient,
		Status:    status,
		UpdatedAt: m.now(),
	}
	return upsert(tx, "project_id", row, "status", "recipient", "updated_at")
}

func (m *Mirror) projectRound(tx *gorm.DB, a attributes) error {
	if err := a.require("roundId", "status", "kind"); err != nil {
		return err
	}
	kind, err := sale.ParseKind(a["kind"])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	raised, err := a.amount("totalRaised")
	if err != nil {
		return err
	}
	contributors, _ := strconv.ParseUint(a["contributors"], 10, 64)
	row := &Round{
		ID:           uuid.New(),
		RoundID:      a["roundId"],
		ProjectID:    a["projectId"],
		Owner:        a["owner"],
		Kind:         kind.String(),
		QuoteToken:   a["quoteToken"],
		SaleToken:    a["saleToken"],
		Status:       a["status"],
		TotalRaised:  raised,
		Contributors: contributors,
		EndedEarly:   a["endedEarly"] == "true",
		UpdatedAt:    m.now(),
	}
	return upsert(tx, "round_id", row, "status", "total_raised", "contributors", "ended_early", "updated_at")
}

func (m *Mirror) projectContribution(tx *gorm.DB, txID string, a attributes, refund bool) error {
	if err := a.require("roundId", "contributor"); err != nil {
		return err
	}
	amount, err := a.amount("amount")
	if err != nil {
		return err
	}
	cumulative, err := a.amount("cumulative")
	if err != nil {
		return err
	}
	row := &Contribution{
		ID:          uuid.New(),
		TxID:        txID,
		RoundID:     a["roundId"],
		Contributor: a["contributor"],
		Amount:      amount,
		Cumulative:  cumulative,
		Refund:      refund,
		Timestamp:   a.integer("timestamp"),
		CreatedAt:   m.now(),
	}
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	return m.projectRound(tx, a)
}

func (m *Mirror) projectSchedule(tx *gorm.DB, a attributes, paused bool) error {
	if err := a.require("scheduleId", "roundId", "token"); err != nil {
		return err
	}
	total, err := a.amount("total")
	if err != nil {
		return err
	}
	row := &Schedule{
		ID:         uuid.New(),
		ScheduleID: a["scheduleId"],
		RoundID:    a["roundId"],
		Token:      a["token"],
		Total:      total,
		MerkleRoot: a["merkleRoot"],
		Interval:   a["interval"],
		TGEAt:      a.integer("tgeAt"),
		Paused:     paused,
		UpdatedAt:  m.now(),
	}
	return upsert(tx, "schedule_id", row, "paused", "updated_at")
}

func (m *Mirror) projectClaim(tx *gorm.DB, a attributes) error {
	if err := a.require("scheduleId", "beneficiary"); err != nil {
		return err
	}
	claimed, err := a.amount("claimed")
	if err != nil {
		return err
	}
	entitlement, err := a.amount("entitlement")
	if err != nil {
		return err
	}
	row := &Claim{
		ID:          uuid.New(),
		ScheduleID:  a["scheduleId"],
		Beneficiary: a["beneficiary"],
		Entitlement: entitlement,
		Claimed:     claimed,
		LastClaimAt: a.integer("timestamp"),
		UpdatedAt:   m.now(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "beneficiary"}},
		DoUpdates: clause.AssignmentColumns([]string{"claimed", "entitlement", "last_claim_at", "updated_at"}),
	}).Create(row).Error
}

func (m *Mirror) projectResult(tx *gorm.DB, a attributes) error {
	if err := a.require("roundId", "status"); err != nil {
		return err
	}
	row := &Result{
		ID:             uuid.New(),
		RoundID:        a["roundId"],
		Status:         a["status"],
		Reason:         a["reason"],
		MerkleRoot:     a["merkleRoot"],
		ScheduleID:     a["scheduleId"],
		EffectivePrice: a["effectivePrice"],
		FinalizedAt:    a.integer("finalizedAt"),
		CreatedAt:      m.now(),
	}
	amounts := []struct {
		key string
		dst *string
	}{
		{"totalRaised", &row.TotalRaised},
		{"tokensForSale", &row.TokensForSale},
		{"netPayout", &row.NetPayout},
		{"feeTotal", &row.FeeTotal},
		{"burn", &row.Burn},
		{"vestingFunded", &row.VestingFunded},
		{"depositReturned", &row.DepositReturned},
	}
	for _, field := range amounts {
		value, err := a.amount(field.key)
		if err != nil {
			return err
		}
		*field.dst = value
	}
	feeShares := make(map[string]string)
	for key := range a {
		if name, ok := strings.CutPrefix(key, "fee."); ok {
			value, err := a.amount(key)
			if err != nil {
				return err
			}
			feeShares[name] = value
		}
	}
	encoded, err := json.Marshal(feeShares)
	if err != nil {
		return err
	}
	row.Fees = string(encoded)
	// Results are immutable once written.
	return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "round_id"}}, DoNothing: true}).Create(row).Error
}

func (m *Mirror) projectPool(tx *gorm.DB, a attributes, swap bool) error {
	if err := a.require("poolId", "status"); err != nil {
		return err
	}
	row := &Pool{
		ID:         uuid.New(),
		PoolID:     a["poolId"],
		BaseToken:  a["baseToken"],
		QuoteToken: a["quoteToken"],
		Status:     a["status"],
		UpdatedAt:  m.now(),
	}
	amounts := []struct {
		key string
		dst *string
	}{
		{"virtualBase", &row.VirtualBase},
		{"virtualQuote", &row.VirtualQuote},
		{"actualQuote", &row.ActualQuote},
		{"threshold", &row.Threshold},
	}
	for _, field := range amounts {
		value, err := a.amount(field.key)
		if err != nil {
			return err
		}
		*field.dst = value
	}
	if !swap {
		return upsert(tx, "pool_id", row, "virtual_base", "virtual_quote", "actual_quote", "threshold", "status", "updated_at")
	}
	res := tx.Model(&Pool{}).Where("pool_id = ?", row.PoolID).Updates(map[string]any{
		"virtual_base":  row.VirtualBase,
		"virtual_quote": row.VirtualQuote,
		"actual_quote":  row.ActualQuote,
		"status":        row.Status,
		"swaps":         gorm.Expr("swaps + ?", 1),
		"updated_at":    row.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: swap for unknown pool %s", ErrMalformedEvent, row.PoolID)
	}
	return nil
}

func (m *Mirror) projectFee(tx *gorm.DB, txID string, a attributes) error {
	if err := a.require("domain", "reference", "bucket", "recipient"); err != nil {
		return err
	}
	amount, err := a.amount("amount")
	if err != nil {
		return err
	}
	return tx.Create(&FeeCredit{
		ID:        uuid.New(),
		TxID:      txID,
		Domain:    a["domain"],
		Reference: a["reference"],
		Asset:     a["asset"],
		Profile:   a["profile"],
		Bucket:    a["bucket"],
		Recipient: a["recipient"],
		Amount:    amount,
		At:        a.integer("at"),
		CreatedAt: m.now(),
	}).Error
}

func hexID(id [32]byte) string { return hex.EncodeToString(id[:]) }

func hexAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func first(db *gorm.DB, dst any, query string, args ...any) error {
	err := db.First(dst, append([]any{query}, args...)...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// RoundStatus returns the mirrored round.
func (m *Mirror) RoundStatus(ctx context.Context, roundID [32]byte) (*Round, error) {
	var row Round
	if err := first(m.db.WithContext(ctx), &row, "round_id = ?", hexID(roundID)); err != nil {
		return nil, err
	}
	return &row, nil
}

// EscrowBalance returns the amount still in custody for the project: the
// deposit while pending, zero once released or refunded.
func (m *Mirror) EscrowBalance(ctx context.Context, projectID [32]byte) (string, error) {
	var row Deposit
	if err := first(m.db.WithContext(ctx), &row, "project_id = ?", hexID(projectID)); err != nil {
		return "", err
	}
	if row.Status != DepositPending {
		return "0", nil
	}
	return row.Amount, nil
}

// FinalizationResult returns the mirrored result of a finalized round.
func (m *Mirror) FinalizationResult(ctx context.Context, roundID [32]byte) (*Result, error) {
	var row Result
	if err := first(m.db.WithContext(ctx), &row, "round_id = ?", hexID(roundID)); err != nil {
		return nil, err
	}
	return &row, nil
}

// FeeShares decodes the per-bucket fee amounts of a result.
func (r *Result) FeeShares() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(r.Fees) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Fees), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Claimed returns the amount the beneficiary has claimed from the schedule.
// Unknown pairs have claimed nothing.
func (m *Mirror) Claimed(ctx context.Context, scheduleID [32]byte, beneficiary [20]byte) (string, error) {
	var row Claim
	err := first(m.db.WithContext(ctx), &row, "schedule_id = ? AND beneficiary = ?", hexID(scheduleID), hexAddr(beneficiary))
	if errors.Is(err, ErrNotFound) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return row.Claimed, nil
}

// Contributions lists a round's contribution and refund lines in delivery
// order.
func (m *Mirror) Contributions(ctx context.Context, roundID [32]byte) ([]Contribution, error) {
	var rows []Contribution
	err := m.db.WithContext(ctx).
		Where("round_id = ?", hexID(roundID)).
		Order("created_at asc").Order("timestamp asc").
		Find(&rows).Error
	return rows, err
}

// Pool returns the mirrored bonding pool.
func (m *Mirror) Pool(ctx context.Context, poolID [32]byte) (*Pool, error) {
	var row Pool
	if err := first(m.db.WithContext(ctx), &row, "pool_id = ?", hexID(poolID)); err != nil {
		return nil, err
	}
	return &row, nil
}

// Processed lists applied transaction ids in lexical order.
func (m *Mirror) Processed(ctx context.Context) ([]string, error) {
	var rows []ProcessedTx
	if err := m.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.TxID
	}
	sort.Strings(out)
	return out, nil
}

// Prune drops processed-transaction markers created before the cutoff and
// reports how many were removed. A pruned transaction id is no longer
// deduplicated, so the cutoff must trail the longest redelivery window.
func (m *Mirror) Prune(ctx context.Context, before time.Time) (int64, error) {
	var stale []ProcessedTx
	if err := m.db.WithContext(ctx).Where("created_at < ?", before).Find(&stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	ids := make([]string, len(stale))
	for i, row := range stale {
		ids[i] = row.TxID
	}
	res := m.db.WithContext(ctx).Where("tx_id IN ?", ids).Delete(&ProcessedTx{})
	if res.Error != nil {
		return 0, res.Error
	}
	if forgetter, ok := m.seen.(interface{ Forget(string) }); ok {
		for _, id := range ids {
			forgetter.Forget(id)
		}
	}
	m.logger.Info("mirror pruned processed transactions",
		slog.Int64("count", res.RowsAffected),
		slog.Time("before", before))
	return res.RowsAffected, nil
}

// FeeTotals sums the fee credits of one asset per bucket.
func (m *Mirror) FeeTotals(ctx context.Context, asset string) (map[string]string, error) {
	var rows []FeeCredit
	err := m.db.WithContext(ctx).
		Where("asset = ?", strings.ToUpper(strings.TrimSpace(asset))).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[string]*big.Int)
	for _, row := range rows {
		amount, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("%w: fee credit %s amount %q", ErrMalformedEvent, row.ID, row.Amount)
		}
		if sums[row.Bucket] == nil {
			sums[row.Bucket] = new(big.Int)
		}
		sums[row.Bucket].Add(sums[row.Bucket], amount)
	}
	out := make(map[string]string, len(sums))
	for bucket, total := range sums {
		out[bucket] = total.String()
	}
	return out, nil
}
