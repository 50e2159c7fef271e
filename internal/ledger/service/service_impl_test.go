package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/printforge/internal/clock"
	ledgerdomain "github.com/smallbiznis/printforge/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, fake *clock.FakeClock) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.UsageLedgerEntry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	}).(*Service)
	return svc, db
}

func TestCharge_GiftThenPaidSplit(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, db := newTestService(t, fake)
	ctx := context.Background()
	shopID := snowflake.ID(42)

	require.NoError(t, svc.Grant(ctx, shopID, 700, "grant-1"))

	result, err := svc.Charge(ctx, shopID, 1000, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), result.GiftAppliedMills)
	assert.Equal(t, int64(300), result.PaidUsageMills)

	var spend ledgerdomain.UsageLedgerEntry
	require.NoError(t, db.Where("idempotency_key = ?", "charge-1:gift_spend").First(&spend).Error)
	assert.Equal(t, int64(-700), spend.AmountMills)
	assert.Equal(t, ledgerdomain.EntryGiftSpend, spend.EntryType)

	var paid ledgerdomain.UsageLedgerEntry
	require.NoError(t, db.Where("idempotency_key = ?", "charge-1:paid_usage").First(&paid).Error)
	assert.Equal(t, int64(300), paid.AmountMills)
	assert.Equal(t, ledgerdomain.EntryPaidUsage, paid.EntryType)

	balance, err := svc.GiftBalance(ctx, shopID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestCharge_RetrySameKeyWritesNothing(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, db := newTestService(t, fake)
	ctx := context.Background()
	shopID := snowflake.ID(42)

	require.NoError(t, svc.Grant(ctx, shopID, 500, "grant-1"))

	first, err := svc.Charge(ctx, shopID, 800, "charge-1")
	require.NoError(t, err)

	second, err := svc.Charge(ctx, shopID, 800, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.UsageLedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(3), count, "grant + gift_spend + paid_usage, no duplicates")
}

func TestCharge_FullyGiftCovered(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, db := newTestService(t, fake)
	ctx := context.Background()
	shopID := snowflake.ID(7)

	require.NoError(t, svc.Grant(ctx, shopID, 1000, "grant-1"))

	result, err := svc.Charge(ctx, shopID, 250, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), result.GiftAppliedMills)
	assert.Equal(t, int64(0), result.PaidUsageMills)

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.UsageLedgerEntry{}).
		Where("entry_type = ?", ledgerdomain.EntryPaidUsage).
		Count(&count).Error)
	assert.Equal(t, int64(0), count, "no paid_usage entry when gift covers the cost")
}

func TestCharge_BalanceNeverNegative(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()
	shopID := snowflake.ID(9)

	require.NoError(t, svc.Grant(ctx, shopID, 100, "grant-1"))

	charges := []struct {
		cost int64
		key  string
	}{
		{300, "c1"},
		{50, "c2"},
		{1000, "c3"},
	}
	for _, c := range charges {
		_, err := svc.Charge(ctx, shopID, c.cost, c.key)
		require.NoError(t, err)

		balance, err := svc.GiftBalance(ctx, shopID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance, int64(0))
	}
}

func TestCharge_Validation(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.Charge(ctx, 0, 100, "k")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidShop)

	_, err = svc.Charge(ctx, 1, 0, "k")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Charge(ctx, 1, 100, "  ")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidIdempotencyKey)
}

func TestPaidUsageMonthToDate(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()
	shopID := snowflake.ID(11)

	// Last month's paid usage must not count.
	fake.Advance(-30 * 24 * time.Hour)
	_, err := svc.Charge(ctx, shopID, 400, "april")
	require.NoError(t, err)

	fake.Advance(30*24*time.Hour + 10*24*time.Hour)
	_, err = svc.Charge(ctx, shopID, 250, "may-1")
	require.NoError(t, err)
	_, err = svc.Charge(ctx, shopID, 100, "may-2")
	require.NoError(t, err)

	total, err := svc.PaidUsageMonthToDate(ctx, shopID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), total)
}
