package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingdomain "github.com/smallbiznis/printforge/internal/billing/domain"
	"github.com/smallbiznis/printforge/internal/clock"
	"github.com/smallbiznis/printforge/internal/config"
	ledgerdomain "github.com/smallbiznis/printforge/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/printforge/internal/ledger/service"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type billingAPIStub struct {
	calls int
	err   error
}

func (b *billingAPIStub) CreateUsageRecord(ctx context.Context, shop *shopdomain.Shop, req platformdomain.CreateUsageRecordRequest) (*platformdomain.UsageRecord, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &platformdomain.UsageRecord{
		ID:          "usage-record-1",
		AmountMills: req.AmountMills,
		Currency:    req.Currency,
	}, nil
}

func newTestBilling(t *testing.T, api *billingAPIStub) (billingdomain.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&billingdomain.BillableEvent{},
		&ledgerdomain.UsageLedgerEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	svc := NewService(Params{
		Config:     config.Config{OrderFeeMills: 250},
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Ledger:     ledgerSvc,
		BillingAPI: api,
	})
	return svc, db
}

func testShop(plan shopdomain.PlanStatus) *shopdomain.Shop {
	return &shopdomain.Shop{
		ID:                snowflake.ID(100),
		Domain:            "example.myshop.test",
		PlanStatus:        plan,
		BillingLineItemID: "gid://billing/line-item/1",
	}
}

func TestChargeOrderFee_WaivedPlans(t *testing.T) {
	plans := []shopdomain.PlanStatus{
		shopdomain.PlanEarlyAccess,
		shopdomain.PlanStandardPending,
		shopdomain.PlanEarlyAccessPending,
		shopdomain.PlanNone,
		shopdomain.PlanStatus("totally-new-plan"),
	}
	for i, plan := range plans {
		t.Run(string(plan), func(t *testing.T) {
			api := &billingAPIStub{}
			svc, _ := newTestBilling(t, api)

			event, err := svc.ChargeOrderFee(context.Background(), testShop(plan), "order-1",
				fmt.Sprintf("100:line-%d:order_fee", i))
			require.NoError(t, err)
			assert.Equal(t, billingdomain.EventWaived, event.Status)
			assert.Equal(t, int64(250), event.AmountMills)
			assert.Equal(t, 0, api.calls, "waived fees never hit the billing API")
		})
	}
}

func TestChargeOrderFee_StandardChargesExactlyOnce(t *testing.T) {
	api := &billingAPIStub{}
	svc, db := newTestBilling(t, api)
	ctx := context.Background()
	shop := testShop(shopdomain.PlanStandard)
	key := "100:line-1:order_fee"

	first, err := svc.ChargeOrderFee(ctx, shop, "order-1", key)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.EventConfirmed, first.Status)

	second, err := svc.ChargeOrderFee(ctx, shop, "order-1", key)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.EventConfirmed, second.Status)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, api.calls, "retry with the same key must not double-charge")

	var count int64
	require.NoError(t, db.Model(&billingdomain.BillableEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestChargeOrderFee_FailedRetryReusesKey(t *testing.T) {
	api := &billingAPIStub{err: &platformdomain.UsageRecordError{Messages: []string{"capped"}}}
	svc, db := newTestBilling(t, api)
	ctx := context.Background()
	shop := testShop(shopdomain.PlanStandard)
	key := "100:line-1:order_fee"

	_, err := svc.ChargeOrderFee(ctx, shop, "order-1", key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billingdomain.ErrChargeFailed))

	var failed billingdomain.BillableEvent
	require.NoError(t, db.Where("idempotency_key = ?", key).First(&failed).Error)
	assert.Equal(t, billingdomain.EventFailed, failed.Status)
	assert.NotEmpty(t, failed.ErrorMessage)

	api.err = nil
	event, err := svc.ChargeOrderFee(ctx, shop, "order-1", key)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.EventConfirmed, event.Status)
	assert.Equal(t, failed.ID, event.ID, "retry reuses the same monetary line")

	var count int64
	require.NoError(t, db.Model(&billingdomain.BillableEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestChargeOrderFee_StandardWithoutLineItem(t *testing.T) {
	api := &billingAPIStub{}
	svc, _ := newTestBilling(t, api)
	shop := testShop(shopdomain.PlanStandard)
	shop.BillingLineItemID = ""

	_, err := svc.ChargeOrderFee(context.Background(), shop, "order-1", "100:line-1:order_fee")
	require.Error(t, err)
	assert.True(t, errors.Is(err, billingdomain.ErrChargeFailed))
	assert.Equal(t, 0, api.calls)
}

func TestChargeUsage_SplitsThroughLedger(t *testing.T) {
	api := &billingAPIStub{}
	svc, db := newTestBilling(t, api)
	ctx := context.Background()
	shop := testShop(shopdomain.PlanStandard)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	// Seed gift credit directly; the grant path is the ledger's concern.
	require.NoError(t, db.Create(&ledgerdomain.UsageLedgerEntry{
		ID:             node.Generate(),
		ShopID:         shop.ID,
		EntryType:      ledgerdomain.EntryGiftGrant,
		AmountMills:    400,
		IdempotencyKey: "seed-grant",
		CreatedAt:      time.Now().UTC(),
	}).Error)

	event, err := svc.ChargeUsage(ctx, shop, billingdomain.EventGeneration, 1000, "personalization-1", "100:gen-1")
	require.NoError(t, err)
	assert.Equal(t, billingdomain.EventConfirmed, event.Status)
	assert.Equal(t, int64(1000), event.AmountMills)

	var spend ledgerdomain.UsageLedgerEntry
	require.NoError(t, db.Where("idempotency_key = ?", "100:gen-1:gift_spend").First(&spend).Error)
	assert.Equal(t, int64(-400), spend.AmountMills)

	var paid ledgerdomain.UsageLedgerEntry
	require.NoError(t, db.Where("idempotency_key = ?", "100:gen-1:paid_usage").First(&paid).Error)
	assert.Equal(t, int64(600), paid.AmountMills)

	// Usage charges settle on the ledger, not the platform API.
	assert.Equal(t, 0, api.calls)
}
