package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printforge/internal/clock"
	ledgerdomain "github.com/smallbiznis/printforge/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/printforge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Grant(ctx context.Context, shopID snowflake.ID, amountMills int64, idempotencyKey string) error {
	if shopID == 0 {
		return ledgerdomain.ErrInvalidShop
	}
	if amountMills <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return ledgerdomain.ErrInvalidIdempotencyKey
	}

	inserted, err := s.insertEntry(ctx, s.db, shopID, ledgerdomain.EntryGiftGrant, amountMills, idempotencyKey)
	if err != nil {
		return err
	}
	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.EntryGiftGrant))
	}
	return nil
}

// Charge splits costMills deterministically: gift balance is consumed
// first, the remainder is booked as paid usage. Each part carries a
// suffixed idempotency key so a retried charge skips already-written
// parts instead of double-posting.
func (s *Service) Charge(ctx context.Context, shopID snowflake.ID, costMills int64, idempotencyKey string) (ledgerdomain.ChargeResult, error) {
	var result ledgerdomain.ChargeResult
	if shopID == 0 {
		return result, ledgerdomain.ErrInvalidShop
	}
	if costMills <= 0 {
		return result, ledgerdomain.ErrInvalidAmount
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return result, ledgerdomain.ErrInvalidIdempotencyKey
	}

	giftKey := idempotencyKey + ":gift_spend"
	paidKey := idempotencyKey + ":paid_usage"

	// sqlite transactions are serializable already; asking its driver
	// for an explicit level is rejected.
	var txOpts []*sql.TxOptions
	if s.db.Dialector.Name() != "sqlite" {
		txOpts = append(txOpts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	var wroteGift, wrotePaid bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []ledgerdomain.UsageLedgerEntry
		if err := tx.Where("shop_id = ? AND idempotency_key IN ?", shopID, []string{giftKey, paidKey}).
			Find(&existing).Error; err != nil {
			return err
		}

		var giftEntry, paidEntry *ledgerdomain.UsageLedgerEntry
		for i := range existing {
			switch existing[i].IdempotencyKey {
			case giftKey:
				giftEntry = &existing[i]
			case paidKey:
				paidEntry = &existing[i]
			}
		}

		giftApplied := int64(-1)
		switch {
		case giftEntry != nil:
			giftApplied = -giftEntry.AmountMills
		case paidEntry != nil:
			// Gift part was never written for this key, so whatever is
			// not covered by the recorded paid part was gift.
			giftApplied = costMills - paidEntry.AmountMills
		default:
			balance, err := s.giftBalanceTx(ctx, tx, shopID)
			if err != nil {
				return err
			}
			giftApplied = balance
			if giftApplied > costMills {
				giftApplied = costMills
			}
		}
		paidUsage := costMills - giftApplied

		if giftEntry == nil && giftApplied > 0 {
			inserted, err := s.insertEntry(ctx, tx, shopID, ledgerdomain.EntryGiftSpend, -giftApplied, giftKey)
			if err != nil {
				return err
			}
			wroteGift = inserted
		}
		if paidEntry == nil && paidUsage > 0 {
			inserted, err := s.insertEntry(ctx, tx, shopID, ledgerdomain.EntryPaidUsage, paidUsage, paidKey)
			if err != nil {
				return err
			}
			wrotePaid = inserted
		}

		result = ledgerdomain.ChargeResult{
			GiftAppliedMills: giftApplied,
			PaidUsageMills:   paidUsage,
		}
		return nil
	}, txOpts...)
	if err != nil {
		return ledgerdomain.ChargeResult{}, err
	}

	if s.obsMetrics != nil {
		if wroteGift {
			s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.EntryGiftSpend))
		}
		if wrotePaid {
			s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.EntryPaidUsage))
		}
	}
	return result, nil
}

func (s *Service) GiftBalance(ctx context.Context, shopID snowflake.ID) (int64, error) {
	if shopID == 0 {
		return 0, ledgerdomain.ErrInvalidShop
	}
	return s.giftBalanceTx(ctx, s.db, shopID)
}

func (s *Service) PaidUsageMonthToDate(ctx context.Context, shopID snowflake.ID) (int64, error) {
	if shopID == 0 {
		return 0, ledgerdomain.ErrInvalidShop
	}
	now := s.clock.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var total int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_mills), 0)
		 FROM usage_ledger_entries
		 WHERE shop_id = ? AND entry_type = ? AND created_at >= ?`,
		shopID,
		ledgerdomain.EntryPaidUsage,
		monthStart,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Balance is derived from summed entries rather than a running counter so
// the ledger stays append-only and auditable.
func (s *Service) giftBalanceTx(ctx context.Context, tx *gorm.DB, shopID snowflake.ID) (int64, error) {
	var balance int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_mills), 0)
		 FROM usage_ledger_entries
		 WHERE shop_id = ? AND entry_type IN (?, ?)`,
		shopID,
		ledgerdomain.EntryGiftGrant,
		ledgerdomain.EntryGiftSpend,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) insertEntry(ctx context.Context, tx *gorm.DB, shopID snowflake.ID, entryType ledgerdomain.EntryType, amountMills int64, idempotencyKey string) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO usage_ledger_entries (
			id, shop_id, entry_type, amount_mills, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_id, idempotency_key) DO NOTHING`,
		s.genID.Generate(),
		shopID,
		string(entryType),
		amountMills,
		idempotencyKey,
		s.clock.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
