package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/printforge/internal/clock"
	"github.com/smallbiznis/printforge/internal/fulfillment"
	orderlinedomain "github.com/smallbiznis/printforge/internal/orderline/domain"
	orderlinerepo "github.com/smallbiznis/printforge/internal/orderline/repository"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type verifierStub struct{ err error }

func (v *verifierStub) Verify(shopDomain string, payload []byte, headers http.Header) error {
	return v.err
}

type shopsStub struct{ shop *shopdomain.Shop }

func (s *shopsStub) GetByID(ctx context.Context, id snowflake.ID) (*shopdomain.Shop, error) {
	if s.shop != nil && s.shop.ID == id {
		return s.shop, nil
	}
	return nil, shopdomain.ErrShopNotFound
}

func (s *shopsStub) GetByDomain(ctx context.Context, domain string) (*shopdomain.Shop, error) {
	if s.shop != nil && s.shop.Domain == domain {
		return s.shop, nil
	}
	return nil, shopdomain.ErrShopNotFound
}

type dispatcherStub struct {
	jobs    []fulfillment.Job
	failFor map[string]error
}

func (d *dispatcherStub) Enqueue(ctx context.Context, job fulfillment.Job) error {
	if err, ok := d.failFor[job.OrderLineID]; ok {
		return err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type ingestFixture struct {
	svc        *Service
	shop       *shopdomain.Shop
	dispatcher *dispatcherStub
	db         *gorm.DB
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orderlinedomain.Processing{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := orderlinerepo.NewRepository(orderlinerepo.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)),
	})

	shop := &shopdomain.Shop{ID: snowflake.ID(100), Domain: "example.myshop.test"}
	dispatcher := &dispatcherStub{failFor: map[string]error{}}

	svc := NewService(Params{
		Log:        zap.NewNop(),
		Shops:      &shopsStub{shop: shop},
		Lines:      repo,
		Verifier:   &verifierStub{},
		Dispatcher: dispatcher,
	})
	return &ingestFixture{svc: svc, shop: shop, dispatcher: dispatcher, db: db}
}

func orderPayload(lines string) []byte {
	return []byte(`{
		"id": 5001,
		"currency": "USD",
		"line_items": [` + lines + `],
		"shipping_address": {"address1": "1 Main St", "city": "Springfield", "country_code": "US", "zip": "12345"},
		"shipping_lines": [{"title": "Standard", "price": "4.99"}]
	}`)
}

const personalizedLine = `{
	"id": 9001, "variant_id": 111, "quantity": 1, "price": "24.99",
	"properties": [{"name": "_personalization_id", "value": "pers-1"}]
}`

func TestIngest_EligibleLineEnqueued(t *testing.T) {
	f := newIngestFixture(t)

	result, err := f.svc.Ingest(context.Background(), f.shop.Domain, "wh-1", orderPayload(personalizedLine), http.Header{})
	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 1, result.LinesProcessed)
	assert.Equal(t, 1, result.LinesSucceeded)

	require.Len(t, f.dispatcher.jobs, 1)
	job := f.dispatcher.jobs[0]
	assert.Equal(t, "100:9001:fulfillment", job.IdempotencyKey)
	assert.Equal(t, "100:9001:order_fee", job.OrderFeeKey)
	assert.Equal(t, "pers-1", job.PersonalizationID)
	assert.NotNil(t, job.ShippingAddress)
}

func TestIngest_DuplicateWebhookShortCircuits(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, f.shop.Domain, "wh-1", orderPayload(personalizedLine), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.LinesSucceeded)

	second, err := f.svc.Ingest(ctx, f.shop.Domain, "wh-1", orderPayload(personalizedLine), http.Header{})
	require.NoError(t, err)
	assert.True(t, second.Processed)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 0, second.LinesProcessed)

	assert.Len(t, f.dispatcher.jobs, 1, "redelivery must not enqueue again")
}

func TestIngest_DuplicateLineAcrossWebhooks(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, f.shop.Domain, "wh-1", orderPayload(personalizedLine), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.LinesSucceeded)

	// Same order re-delivered under a different webhook id: the network
	// check misses but the per-line key still dedupes.
	second, err := f.svc.Ingest(ctx, f.shop.Domain, "wh-2", orderPayload(personalizedLine), http.Header{})
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Equal(t, 1, second.LinesDuplicate)
	assert.Equal(t, 0, second.LinesSucceeded)
	assert.Len(t, f.dispatcher.jobs, 1)
}

func TestIngest_LineFailureIsolated(t *testing.T) {
	f := newIngestFixture(t)
	f.dispatcher.failFor["9001"] = errors.New("queue full")

	lines := personalizedLine + `, {
		"id": 9002, "variant_id": 112, "quantity": 1, "price": "19.99",
		"properties": [{"name": "_personalization_id", "value": "pers-2"}]
	}`
	result, err := f.svc.Ingest(context.Background(), f.shop.Domain, "wh-1", orderPayload(lines), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.LinesProcessed)
	assert.Equal(t, 1, result.LinesFailed)
	assert.Equal(t, 1, result.LinesSucceeded)

	var failed orderlinedomain.Processing
	require.NoError(t, f.db.Where("order_line_id = ?", "9001").First(&failed).Error)
	assert.Equal(t, orderlinedomain.StatusFailed, failed.Status)
	assert.Equal(t, "enqueue_failed", failed.ErrorCode)
}

func TestIngest_IgnoresUnmarkedLines(t *testing.T) {
	f := newIngestFixture(t)

	plain := `{"id": 9003, "quantity": 2, "price": "9.99", "properties": []}`
	result, err := f.svc.Ingest(context.Background(), f.shop.Domain, "wh-1", orderPayload(plain), http.Header{})
	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.Equal(t, 0, result.LinesProcessed)
	assert.Empty(t, f.dispatcher.jobs)
}

func TestIngest_MalformedPayloadNotRetryable(t *testing.T) {
	f := newIngestFixture(t)

	result, err := f.svc.Ingest(context.Background(), f.shop.Domain, "wh-1", []byte(`{"nope": true}`), http.Header{})
	require.NoError(t, err, "schema failures must not bubble as 5xx")
	assert.False(t, result.Processed)
	assert.Equal(t, "malformed_payload", result.Reason)
}

func TestIngest_BadSignatureRejected(t *testing.T) {
	f := newIngestFixture(t)
	svc := NewService(Params{
		Log:        zap.NewNop(),
		Shops:      &shopsStub{shop: f.shop},
		Lines:      nil,
		Verifier:   &verifierStub{err: platformdomain.ErrInvalidSignature},
		Dispatcher: f.dispatcher,
	})

	_, err := svc.Ingest(context.Background(), f.shop.Domain, "wh-1", orderPayload(personalizedLine), http.Header{})
	assert.ErrorIs(t, err, platformdomain.ErrInvalidSignature)
}
