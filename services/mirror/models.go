package mirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Deposit states mirrored from escrow events.
const (
	DepositPending  = "PENDING"
	DepositReleased = "RELEASED"
	DepositRefunded = "REFUNDED"
)

// ProcessedTx records every delivery applied to the mirror. Its primary key
// is the transaction id, so a redelivered transaction is a no-op.
type ProcessedTx struct {
	TxID      string    `gorm:"primaryKey;size:128"`
	RequestID uuid.UUID `gorm:"type:uuid"`
	Events    int
	CreatedAt time.Time
}

// Round mirrors a sale round.
type Round struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoundID      string    `gorm:"size:64;uniqueIndex"`
	ProjectID    string    `gorm:"size:64;index"`
	Owner        string    `gorm:"size:40"`
	Kind         string    `gorm:"size:16"`
	QuoteToken   string    `gorm:"size:32"`
	SaleToken    string    `gorm:"size:32"`
	Status       string    `gorm:"size:32;index"`
	TotalRaised  string    `gorm:"size:80"`
	Contributors uint64
	EndedEarly   bool
	UpdatedAt    time.Time
}

// Contribution is a single contribution or refund line of a round.
type Contribution struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TxID        string    `gorm:"size:128;index"`
	RoundID     string    `gorm:"size:64;index"`
	Contributor string    `gorm:"size:40;index"`
	Amount      string    `gorm:"size:80"`
	Cumulative  string    `gorm:"size:80"`
	Refund      bool
	Timestamp   int64
	CreatedAt   time.Time
}

// Deposit mirrors an escrowed sale token deposit.
type Deposit struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID string    `gorm:"size:64;uniqueIndex"`
	Token     string    `gorm:"size:32"`
	Amount    string    `gorm:"size:80"`
	Depositor string    `gorm:"size:40;index"`
	Recipient string    `gorm:"size:40"`
	Status    string    `gorm:"size:16;index"`
	UpdatedAt time.Time
}

// Schedule mirrors a vesting schedule.
type Schedule struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScheduleID string    `gorm:"size:64;uniqueIndex"`
	RoundID    string    `gorm:"size:64;index"`
	Token      string    `gorm:"size:32"`
	Total      string    `gorm:"size:80"`
	MerkleRoot string    `gorm:"size:64"`
	Interval   string    `gorm:"size:16"`
	TGEAt      int64
	Paused     bool
	UpdatedAt  time.Time
}

// Claim is the running claimed amount per schedule and beneficiary.
type Claim struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScheduleID  string    `gorm:"size:64;uniqueIndex:idx_claim_owner"`
	Beneficiary string    `gorm:"size:40;uniqueIndex:idx_claim_owner"`
	Entitlement string    `gorm:"size:80"`
	Claimed     string    `gorm:"size:80"`
	LastClaimAt int64
	UpdatedAt   time.Time
}

// Result mirrors a finalization result.
type Result struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoundID         string    `gorm:"size:64;uniqueIndex"`
	Status          string    `gorm:"size:16;index"`
	Reason          string    `gorm:"size:255"`
	TotalRaised     string    `gorm:"size:80"`
	TokensForSale   string    `gorm:"size:80"`
	NetPayout       string    `gorm:"size:80"`
	FeeTotal        string    `gorm:"size:80"`
	Burn            string    `gorm:"size:80"`
	VestingFunded   string    `gorm:"size:80"`
	DepositReturned string    `gorm:"size:80"`
	Fees            string    `gorm:"type:text"`
	MerkleRoot      string    `gorm:"size:64"`
	ScheduleID      string    `gorm:"size:64"`
	EffectivePrice  string    `gorm:"size:80"`
	FinalizedAt     int64
	CreatedAt       time.Time
}

// Pool mirrors a bonding curve pool.
type Pool struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	PoolID       string    `gorm:"size:64;uniqueIndex"`
	BaseToken    string    `gorm:"size:32"`
	QuoteToken   string    `gorm:"size:32"`
	VirtualBase  string    `gorm:"size:80"`
	VirtualQuote string    `gorm:"size:80"`
	ActualQuote  string    `gorm:"size:80"`
	Threshold    string    `gorm:"size:80"`
	Status       string    `gorm:"size:16;index"`
	Swaps        int64
	UpdatedAt    time.Time
}

// FeeCredit is one fee bucket credit from a sale settlement or a swap.
type FeeCredit struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TxID      string    `gorm:"size:128;index"`
	Domain    string    `gorm:"size:16;index"`
	Reference string    `gorm:"size:64;index"`
	Asset     string    `gorm:"size:32;index"`
	Profile   string    `gorm:"size:64"`
	Bucket    string    `gorm:"size:64;index"`
	Recipient string    `gorm:"size:40"`
	Amount    string    `gorm:"size:80"`
	At        int64
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the mirror.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ProcessedTx{},
		&Round{},
		&Contribution{},
		&Deposit{},
		&Schedule{},
		&Claim{},
		&Result{},
		&Pool{},
		&FeeCredit{},
	)
}

// Open connects to the mirror database. Supported drivers are sqlite and
// postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("mirror: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("mirror: open %s: %w", driver, err)
	}
	return db, nil
}
