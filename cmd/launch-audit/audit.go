package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"launchpad/config"
	"launchpad/core/events"
	"launchpad/core/idempotency"
	"launchpad/core/params"
	"launchpad/core/pricing"
	"launchpad/core/state"
	"launchpad/native/bonding"
	"launchpad/native/common"
	"launchpad/native/escrow"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
	"launchpad/observability/logging"
	"launchpad/services/mirror"
	"launchpad/storage"
)

type auditReport struct {
	Scenario     string            `json:"scenario"`
	FeeProfiles  []string          `json:"feeProfiles"`
	Round        roundReport       `json:"round"`
	Deposit      depositReport     `json:"deposit"`
	Finalization finalReport       `json:"finalization"`
	Unlocks      []unlockRow       `json:"unlocks,omitempty"`
	Bonding      *bondingReport    `json:"bonding,omitempty"`
	Mirror       *mirrorReport     `json:"mirror,omitempty"`
	Events       map[string]int    `json:"events"`
	Balances     map[string]string `json:"balances"`
}

type roundReport struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Softcap        string `json:"softcap"`
	Hardcap        string `json:"hardcap,omitempty"`
	TotalRaised    string `json:"totalRaised"`
	RaisedUnits    string `json:"totalRaisedUnits"`
	TokensForSale  string `json:"tokensForSale"`
	SupplyUnits    string `json:"tokensForSaleUnits"`
	Price          string `json:"price,omitempty"`
	RequiredTokens string `json:"requiredTokensAtHardcap,omitempty"`
	Contributors   uint64 `json:"contributors"`
	Rejected       int    `json:"rejectedContributions"`
}

type depositReport struct {
	ProjectID string `json:"projectId"`
	Amount    string `json:"amount"`
	Covered   bool   `json:"coversTokensForSale"`
}

type finalReport struct {
	Status         string            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Breakdown      map[string]string `json:"breakdown"`
	FeeShares      map[string]string `json:"feeShares,omitempty"`
	Entitlements   map[string]string `json:"entitlements,omitempty"`
	Refunds        map[string]string `json:"refunds,omitempty"`
	MerkleRoot     string            `json:"merkleRoot,omitempty"`
	ProofsVerified bool              `json:"proofsVerified"`
	ScheduleID     string            `json:"scheduleId,omitempty"`
	EffectivePrice string            `json:"effectivePrice,omitempty"`
}

type unlockRow struct {
	At       int64             `json:"at"`
	Unlocked map[string]string `json:"unlocked"`
}

type bondingReport struct {
	PoolID      string        `json:"poolId"`
	Status      string        `json:"status"`
	ActualQuote string        `json:"actualQuote"`
	RealBase    string        `json:"realBase"`
	Trades      []tradeReport `json:"trades"`
}

type tradeReport struct {
	Trader        string `json:"trader"`
	Direction     string `json:"direction"`
	Input         string `json:"input"`
	Fee           string `json:"fee"`
	Output        string `json:"output"`
	MinimumOutput string `json:"minimumOutput"`
	Error         string `json:"error,omitempty"`
}

type mirrorReport struct {
	Processed   int    `json:"processed"`
	Pruned      int64  `json:"pruned"`
	Replayed    int    `json:"replayed"`
	RoundStatus string `json:"roundStatus"`
	Escrow      string `json:"escrowBalance"`
}

// auditor replays a scenario against a fresh ledger with every engine wired
// the way the node wires them.
type auditor struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *state.Manager
	buffer  *events.Buffer
	escrow  *escrow.Engine
	sale    *sale.Engine
	ledger  *vesting.Ledger
	final   *finalize.Engine
	bonding *bonding.Engine
	mirror  *mirror.Mirror
	scope   string
	clock   int64
	report  *auditReport
}

func openLedger(path string) (storage.Database, error) {
	if path != "" {
		return storage.NewLevelDB(path)
	}
	return storage.NewMemDB(), nil
}

func newAuditor(cfg *config.Config, db storage.Database, logger *slog.Logger) (*auditor, error) {
	registry, err := cfg.FeeRegistry()
	if err != nil {
		return nil, err
	}
	quota, err := cfg.Sale.Quota()
	if err != nil {
		return nil, err
	}
	pauses := cfg.Pauses.View()
	a := &auditor{
		cfg:    cfg,
		logger: logger,
		state:  state.NewManager(db),
		buffer: &events.Buffer{},
		report: &auditReport{
			FeeProfiles: registry.Names(),
			Events:      make(map[string]int),
			Balances:    make(map[string]string),
		},
	}
	now := func() int64 { return a.clock }

	a.escrow = escrow.NewEngine()
	a.escrow.SetState(a.state)
	a.escrow.SetTransactor(a.state.EscrowTransaction)
	a.escrow.SetRoleChecker(a.state)
	a.escrow.SetPauses(pauses)
	a.escrow.SetLogger(logger)
	a.escrow.SetNowFunc(now)
	a.escrow.SetEmitter(a.buffer)

	a.sale = sale.NewEngine()
	a.sale.SetState(a.state)
	a.sale.SetTransactor(a.state.SaleTransaction)
	a.sale.SetPauses(pauses)
	a.sale.SetQuota(quota)
	a.sale.SetLogger(logger)
	a.sale.SetNowFunc(now)
	a.sale.SetEmitter(a.buffer)

	a.ledger = vesting.NewLedger()
	a.ledger.SetState(a.state)
	a.ledger.SetTransactor(a.state.VestingTransaction)
	a.ledger.SetPauses(pauses)
	a.ledger.SetLogger(logger)
	a.ledger.SetNowFunc(now)
	a.ledger.SetEmitter(a.buffer)

	a.final = finalize.NewEngine(a.escrow, a.sale, a.ledger)
	a.final.SetTransactor(a.state.Transaction)
	a.final.SetFeeProfiles(registry)
	a.final.SetSaleFeeBps(cfg.Sale.FeeBps)
	a.final.SetPauses(pauses)
	a.final.SetLogger(logger)
	a.final.SetEmitter(a.buffer)
	if operator, ok := cfg.Finalize.OperatorAddress(); ok {
		a.final.SetOperator(operator)
	}
	if err := a.state.SetRole(escrow.RoleOperator, a.final.Operator()); err != nil {
		return nil, err
	}

	a.bonding = bonding.NewEngine()
	a.bonding.SetState(a.state)
	a.bonding.SetPauses(pauses)
	a.bonding.SetFeeProfiles(registry)
	a.bonding.SetLogger(logger)
	a.bonding.SetNowFunc(now)
	a.bonding.SetEmitter(a.buffer)
	return a, nil
}

// attachMirror projects every committed step into the read model.
func (a *auditor) attachMirror(driver, dsn string) error {
	db, err := mirror.Open(driver, dsn)
	if err != nil {
		return err
	}
	seen := idempotency.NewMemoryStore(a.cfg.Idempotency.TTL(), a.cfg.Idempotency.MaxEntries)
	m, err := mirror.New(db, seen)
	if err != nil {
		return err
	}
	m.SetLogger(a.logger)
	a.logger.Info("mirror attached", slog.String("driver", driver), logging.MaskField("dsn", dsn))
	a.mirror = m
	a.report.Mirror = &mirrorReport{}
	return nil
}

// commit drains the events of one step. Transaction ids are derived from
// the scenario so replaying the same scenario into a mirror is a no-op.
func (a *auditor) commit(ctx context.Context, step string) error {
	pending := a.buffer.Events()
	a.buffer.Reset()
	for _, evt := range pending {
		a.report.Events[evt.EventType()]++
	}
	if a.mirror == nil || len(pending) == 0 {
		return nil
	}
	txID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("launch-audit:"+a.scope+"/"+step)).String()
	applied, err := a.mirror.Apply(ctx, txID, pending...)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", step, err)
	}
	if !applied {
		a.report.Mirror.Replayed++
	}
	return nil
}

func (a *auditor) run(ctx context.Context, sc *scenario) (*auditReport, error) {
	a.report.Scenario = sc.Name
	decoded, err := sc.Round.decode()
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	var input *sale.Round
	switch p := decoded.(type) {
	case *params.PresaleParams:
		input, err = p.Round()
	case *params.FairlaunchParams:
		input, err = p.Round()
	default:
		return nil, fmt.Errorf("%w: round kind %s", errInvalidScenario, decoded.Kind())
	}
	if err != nil {
		return nil, err
	}
	if input.FeeProfile == "" {
		input.FeeProfile = a.cfg.Sale.FeeProfile
	}
	a.scope = sc.Name + "/" + hex.EncodeToString(input.ProjectID[:])

	if err := a.deposit(ctx, sc, input); err != nil {
		return nil, err
	}
	a.clock = input.StartTime
	round, err := a.sale.CreateRound(input)
	if err != nil {
		return nil, err
	}
	if err := a.commit(ctx, "round"); err != nil {
		return nil, err
	}
	if err := a.contribute(ctx, sc, round); err != nil {
		return nil, err
	}
	result, err := a.finalize(ctx, sc, round.ID)
	if err != nil {
		return nil, err
	}
	if err := a.describeRound(round.ID, input); err != nil {
		return nil, err
	}
	if err := a.describeResult(sc, result); err != nil {
		return nil, err
	}
	if sc.Bonding != nil {
		if err := a.runBonding(ctx, sc.Bonding, sc.FinalizeAt); err != nil {
			return nil, err
		}
	}
	if err := a.describeBalances(round); err != nil {
		return nil, err
	}
	if a.mirror != nil {
		if err := a.describeMirror(ctx, round); err != nil {
			return nil, err
		}
	}
	return a.report, nil
}

func (a *auditor) deposit(ctx context.Context, sc *scenario, round *sale.Round) error {
	depositor, _ := address("deposit.depositor", sc.Deposit.Depositor)
	amt, _ := amount("deposit.amount", sc.Deposit.Amount)
	if err := a.state.Credit(depositor, round.SaleToken, amt); err != nil {
		return err
	}
	a.clock = round.StartTime
	if _, err := a.escrow.Deposit(round.ProjectID, round.SaleToken, amt, depositor); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	a.report.Deposit = depositReport{
		ProjectID: hex.EncodeToString(round.ProjectID[:]),
		Amount:    amt.String(),
		Covered:   amt.Cmp(round.TokensForSale) >= 0,
	}
	return a.commit(ctx, "deposit")
}

// contribute replays the contributions. Rejected ones are counted and logged
// rather than aborting the audit.
func (a *auditor) contribute(ctx context.Context, sc *scenario, round *sale.Round) error {
	for i, c := range sc.Contributions {
		who, _ := address("contributor", c.Contributor)
		amt, _ := amount("amount", c.Amount)
		if err := a.state.Credit(who, round.QuoteToken, amt); err != nil {
			return err
		}
		at := c.At
		if at == 0 {
			at = round.StartTime
		}
		a.clock = at
		if _, err := a.sale.Contribute(round.ID, who, amt, at); err != nil {
			a.report.Round.Rejected++
			a.logger.Warn("contribution rejected", "index", i, "error", err)
			continue
		}
		if err := a.commit(ctx, fmt.Sprintf("contribution/%d", i)); err != nil {
			return err
		}
	}
	return nil
}

func (a *auditor) finalize(ctx context.Context, sc *scenario, roundID [32]byte) (*finalize.Result, error) {
	outcome := sc.Outcome
	if outcome == outcomeCancel {
		a.clock = sc.CancelAt
		if _, err := a.sale.Cancel(roundID, sc.CancelAt); err != nil {
			return nil, fmt.Errorf("cancel: %w", err)
		}
		if err := a.commit(ctx, "cancel"); err != nil {
			return nil, err
		}
	}
	a.clock = sc.FinalizeAt
	if outcome == outcomeAuto {
		status, err := a.sale.Resolve(roundID, sc.FinalizeAt)
		if err != nil {
			return nil, err
		}
		outcome = outcomeFailed
		if status == sale.StatusFinalizedSuccess {
			outcome = outcomeSuccess
		}
	}

	var (
		result *finalize.Result
		err    error
	)
	switch outcome {
	case outcomeSuccess:
		inputs, inputErr := merkleInputs(sc)
		if inputErr != nil {
			return nil, inputErr
		}
		result, err = a.final.FinalizeSuccess(ctx, roundID, inputs, sc.FinalizeAt)
	case outcomeFailed:
		result, err = a.final.FinalizeFailed(ctx, roundID, "softcap not reached", sc.FinalizeAt)
	case outcomeCancel:
		result, err = a.final.Settle(ctx, roundID, sc.FinalizeAt)
	}
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", outcome, err)
	}
	if err := a.commit(ctx, "finalize"); err != nil {
		return nil, err
	}
	return result, nil
}

func merkleInputs(sc *scenario) (finalize.MerkleInputs, error) {
	inputs := finalize.MerkleInputs{
		Salt:            crypto.Keccak256Hash([]byte(sc.Name)),
		ChainID:         sc.Vesting.ChainID,
		TGEAt:           sc.FinalizeAt,
		TGEPercentage:   100,
		CliffDuration:   sc.Vesting.CliffSeconds,
		VestingDuration: sc.Vesting.DurationSeconds,
		Interval:        vesting.IntervalLinear,
	}
	if sc.Vesting.TGEPercentage != nil {
		inputs.TGEPercentage = *sc.Vesting.TGEPercentage
	}
	if sc.Vesting.Interval != "" {
		interval, err := vesting.ParseInterval(sc.Vesting.Interval)
		if err != nil {
			return finalize.MerkleInputs{}, err
		}
		inputs.Interval = interval
	}
	return inputs, nil
}

func (a *auditor) describeRound(roundID [32]byte, input *sale.Round) error {
	round, err := a.sale.Get(roundID)
	if err != nil {
		return err
	}
	r := &a.report.Round
	r.ID = hex.EncodeToString(round.ID[:])
	r.Kind = round.Kind.String()
	r.Status = round.Status(a.clock).String()
	r.Softcap = round.Softcap.String()
	r.TotalRaised = round.TotalRaised.String()
	r.TokensForSale = round.TokensForSale.String()
	r.RaisedUnits = pricing.FormatUnits(round.TotalRaised, input.QuoteDecimals)
	r.SupplyUnits = pricing.FormatUnits(round.TokensForSale, input.TokenDecimals)
	r.Contributors = round.ContributorCount
	if round.Hardcap != nil {
		r.Hardcap = round.Hardcap.String()
	}
	if round.Kind == sale.KindPresale {
		price, err := pricing.ParsePrice(round.Price)
		if err != nil {
			return err
		}
		required, err := pricing.RequiredTokens(round.Hardcap, price, input.QuoteDecimals, input.TokenDecimals)
		if err != nil {
			return err
		}
		r.Price = price.String()
		r.RequiredTokens = required.String()
	}
	return nil
}

func (a *auditor) describeResult(sc *scenario, result *finalize.Result) error {
	f := &a.report.Finalization
	f.Status = result.Status.String()
	f.Reason = result.Reason
	f.Breakdown = finalize.Breakdown(result)
	f.EffectivePrice = result.EffectivePrice
	if len(result.FeeShares) > 0 {
		f.FeeShares = make(map[string]string, len(result.FeeShares))
		for _, share := range result.FeeShares {
			f.FeeShares[share.Name] = share.Amount.String()
		}
	}
	if len(result.Refunds) > 0 {
		f.Refunds = make(map[string]string, len(result.Refunds))
		for _, refund := range result.Refunds {
			f.Refunds[hexAddress(refund.Contributor)] = refund.Amount.String()
		}
	}
	if result.Status != finalize.StatusSuccess {
		return nil
	}
	f.MerkleRoot = hex.EncodeToString(result.MerkleRoot[:])
	f.ScheduleID = hex.EncodeToString(result.ScheduleID[:])
	f.Entitlements = make(map[string]string, len(result.Entitlements))

	schedule, err := a.ledger.Schedule(result.ScheduleID)
	if err != nil {
		return err
	}
	tree, err := vesting.AllocationTree(schedule, result.Entitlements)
	if err != nil {
		return err
	}
	f.ProofsVerified = tree.Root() == schedule.MerkleRoot
	for _, ent := range result.Entitlements {
		f.Entitlements[hexAddress(ent.Beneficiary)] = ent.Amount.String()
		leaf, err := vesting.LeafFor(schedule, ent.Beneficiary, ent.Amount)
		if err != nil {
			return err
		}
		proof, ok := tree.Proof(leaf)
		if !ok || !vesting.VerifyProof(proof, schedule.MerkleRoot, leaf) {
			f.ProofsVerified = false
		}
	}

	for _, at := range checkpoints(schedule, sc.Vesting.Checkpoints) {
		row := unlockRow{At: at, Unlocked: make(map[string]string, len(result.Entitlements))}
		for _, ent := range result.Entitlements {
			row.Unlocked[hexAddress(ent.Beneficiary)] = vesting.Unlocked(schedule, ent.Amount, at).String()
		}
		a.report.Unlocks = append(a.report.Unlocks, row)
	}
	return nil
}

// checkpoints returns the explicit unlock timestamps or, when none are
// given, TGE, cliff end, the vesting midpoint and full vest.
func checkpoints(s *vesting.Schedule, explicit []int64) []int64 {
	points := explicit
	if len(points) == 0 {
		vestStart := s.TGEAt + s.CliffDuration
		points = []int64{s.TGEAt, vestStart, vestStart + s.VestingDuration/2, vestStart + s.VestingDuration}
	}
	seen := make(map[int64]struct{}, len(points))
	out := make([]int64, 0, len(points))
	for _, p := range points {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *auditor) runBonding(ctx context.Context, plan *bondingSpec, at int64) error {
	decoded, err := plan.Pool.decode()
	if err != nil {
		return fmt.Errorf("bonding pool: %w", err)
	}
	p, ok := decoded.(*params.BondingParams)
	if !ok {
		return fmt.Errorf("%w: bonding pool kind %s", errInvalidScenario, decoded.Kind())
	}
	poolParams, err := p.Pool()
	if err != nil {
		return err
	}
	if poolParams.FeeProfile == "" {
		poolParams.FeeProfile = a.cfg.Bonding.FeeProfile
	}
	creator, _ := address("bonding.creator", plan.Creator)
	if err := a.state.Credit(creator, poolParams.BaseToken, poolParams.SeedBase.ToBig()); err != nil {
		return err
	}
	a.clock = at
	pool, err := a.bonding.CreatePool(creator, poolParams)
	if err != nil {
		return err
	}
	if err := a.commit(ctx, "pool"); err != nil {
		return err
	}

	report := &bondingReport{PoolID: hex.EncodeToString(pool.ID[:])}
	for i, t := range plan.Trades {
		a.clock++
		tr, err := a.trade(ctx, pool, t)
		if err != nil {
			tr.Error = err.Error()
			a.logger.Warn("swap rejected", "index", i, "error", err)
		}
		report.Trades = append(report.Trades, tr)
		if err := a.commit(ctx, fmt.Sprintf("swap/%d", i)); err != nil {
			return err
		}
	}
	final, err := a.bonding.Pool(pool.ID)
	if err != nil {
		return err
	}
	report.Status = final.Status.String()
	report.ActualQuote = final.ActualQuote.Dec()
	report.RealBase = final.RealBase.Dec()
	a.report.Bonding = report
	return nil
}

// trade funds the trader, quotes and executes against the quoted snapshot.
func (a *auditor) trade(ctx context.Context, pool *bonding.Pool, t trade) (tradeReport, error) {
	out := tradeReport{Direction: t.Direction, Input: t.Input}
	trader, _ := address("trader", t.Trader)
	out.Trader = hexAddress(trader)

	direction, err := bonding.ParseDirection(t.Direction)
	if err != nil {
		return out, err
	}
	input, err := bonding.ParseAmount(t.Input)
	if err != nil {
		return out, err
	}
	token := pool.QuoteToken
	if direction == bonding.Sell {
		token = pool.BaseToken
	}
	held, err := a.state.Balance(trader, token)
	if err != nil {
		return out, err
	}
	if short := new(big.Int).Sub(input.ToBig(), held); short.Sign() > 0 {
		if err := a.state.Credit(trader, token, short); err != nil {
			return out, err
		}
	}

	quote, err := a.bonding.Quote(ctx, pool.ID, bonding.QuoteRequest{
		Direction:   t.Direction,
		InputAmount: t.Input,
		SlippageBps: t.SlippageBps,
	})
	if err != nil {
		return out, err
	}
	out.MinimumOutput = quote.MinimumOutput
	minOutput, err := uint256.FromDecimal(quote.MinimumOutput)
	if err != nil {
		return out, err
	}
	result, err := a.bonding.Execute(ctx, pool.ID, trader, bonding.ExecuteRequest{
		Direction:   direction,
		InputAmount: input,
		MinOutput:   minOutput,
		Snapshot:    quote.Snapshot,
	})
	if err != nil {
		return out, err
	}
	out.Fee = result.Fee.Dec()
	out.Output = result.Output.Dec()
	return out, nil
}

func (a *auditor) describeBalances(round *sale.Round) error {
	accounts := map[string]struct {
		addr  [20]byte
		token string
	}{
		"owner":        {round.Owner, round.QuoteToken},
		"saleVault":    {sale.VaultAddress(round.QuoteToken), round.QuoteToken},
		"escrowVault":  {escrow.VaultAddress(round.SaleToken), round.SaleToken},
		"vestingVault": {vesting.VaultAddress(round.SaleToken), round.SaleToken},
		"burn":         {common.BurnAddress, round.SaleToken},
		"settlement":   {finalize.SettlementVault(round.SaleToken), round.SaleToken},
		"depositor":    {a.depositor(round.ProjectID), round.SaleToken},
	}
	for name, acct := range accounts {
		if acct.addr == ([20]byte{}) {
			continue
		}
		bal, err := a.state.Balance(acct.addr, acct.token)
		if err != nil {
			return err
		}
		a.report.Balances[name] = bal.String()
	}
	return nil
}

func (a *auditor) depositor(projectID [32]byte) [20]byte {
	deposit, err := a.escrow.Get(projectID)
	if err != nil {
		return [20]byte{}
	}
	return deposit.Depositor
}

func (a *auditor) describeMirror(ctx context.Context, round *sale.Round) error {
	pruned, err := a.mirror.Prune(ctx, time.Now().Add(-a.cfg.Idempotency.TTL()))
	if err != nil {
		return err
	}
	a.report.Mirror.Pruned = pruned
	processed, err := a.mirror.Processed(ctx)
	if err != nil {
		return err
	}
	a.report.Mirror.Processed = len(processed)
	row, err := a.mirror.RoundStatus(ctx, round.ID)
	if err != nil {
		return err
	}
	a.report.Mirror.RoundStatus = row.Status
	balance, err := a.mirror.EscrowBalance(ctx, round.ProjectID)
	if err != nil {
		return err
	}
	a.report.Mirror.Escrow = balance
	return nil
}

func hexAddress(addr [20]byte) string { return "0x" + hex.EncodeToString(addr[:]) }
