package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CareerForgeApp/CareerForge/app/models"
)

// fakeFetcher serves canned provider subscriptions and records lookups.
type fakeFetcher struct {
	subs  map[string]*ProviderSubscription
	calls int
}

func (f *fakeFetcher) GetSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	f.calls++
	ps, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return ps, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.BillingWebhookEvent{}))
	return db
}

func newTestService(t *testing.T, f *fakeFetcher) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewServiceFromDB(db, f), db
}

func loadSubscription(t *testing.T, db *gorm.DB, userID uint) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", userID).First(&sub).Error)
	return &sub
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{
		"id": "evt_123",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_9", "customer": "cus_9"}}
	}`))
	require.NoError(t, err)
	require.Equal(t, "evt_123", ev.ID)
	require.Equal(t, EventSubscriptionUpdated, ev.Type)
	require.Equal(t, "sub_9", ev.Data.Object.ID)
	require.Equal(t, "cus_9", ev.Data.Object.Customer)

	_, err = ParseEvent([]byte(`{"id": "evt_1"}`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestIsEntitledStatus(t *testing.T) {
	for _, status := range []string{"active", "trialing", "past_due", " Active "} {
		require.True(t, IsEntitledStatus(status), status)
	}
	for _, status := range []string{"canceled", "unpaid", "incomplete", "incomplete_expired", ""} {
		require.False(t, IsEntitledStatus(status), status)
	}
}

func TestSyncSubscriptionCreatesRow(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	fetcher := &fakeFetcher{subs: map[string]*ProviderSubscription{
		"sub_1": {
			ID:               "sub_1",
			CustomerID:       "cus_1",
			PriceID:          "price_pro_monthly",
			Status:           models.BillingStatusActive,
			CurrentPeriodEnd: periodEnd,
			Metadata:         map[string]string{"userId": "7"},
		},
	}}
	svc, db := newTestService(t, fetcher)

	require.NoError(t, svc.SyncSubscription(context.Background(), "sub_1"))

	sub := loadSubscription(t, db, 7)
	require.Equal(t, "cus_1", sub.BillingCustomerID)
	require.Equal(t, "sub_1", sub.BillingSubscriptionID)
	require.Equal(t, "price_pro_monthly", sub.PriceID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	require.WithinDuration(t, periodEnd, *sub.CurrentPeriodEnd, time.Second)
	require.Equal(t, 1, fetcher.calls)
}

func TestSyncSubscriptionPreservesPointsColumns(t *testing.T) {
	granted := time.Now().Add(-time.Hour)
	fetcher := &fakeFetcher{subs: map[string]*ProviderSubscription{
		"sub_1": {
			ID:               "sub_1",
			CustomerID:       "cus_1",
			PriceID:          "price_pro_plus_monthly",
			Status:           models.BillingStatusTrialing,
			CurrentPeriodEnd: time.Now().Add(14 * 24 * time.Hour),
			Metadata:         map[string]string{"userId": "7"},
		},
	}}
	svc, db := newTestService(t, fetcher)

	require.NoError(t, db.Create(&models.Subscription{
		UserID:                 7,
		BillingCustomerID:      "cus_old",
		BillingSubscriptionID:  "sub_old",
		PriceID:                "price_pro_monthly",
		PointsBalance:          55,
		PointsAllowance:        40,
		StarterPointsGrantedAt: &granted,
		VoiceInterviewsUsed:    3,
	}).Error)

	require.NoError(t, svc.SyncSubscription(context.Background(), "sub_1"))

	sub := loadSubscription(t, db, 7)
	require.Equal(t, "cus_1", sub.BillingCustomerID)
	require.Equal(t, "sub_1", sub.BillingSubscriptionID)
	require.Equal(t, "price_pro_plus_monthly", sub.PriceID)

	// The upsert touches billing columns only; the ledger state survives.
	require.Equal(t, 55, sub.PointsBalance)
	require.Equal(t, 40, sub.PointsAllowance)
	require.NotNil(t, sub.StarterPointsGrantedAt)
	require.Equal(t, 3, sub.VoiceInterviewsUsed)
}

func TestSyncSubscriptionKeepsKnownPeriodEnd(t *testing.T) {
	knownEnd := time.Now().Add(20 * 24 * time.Hour).Truncate(time.Second)
	fetcher := &fakeFetcher{subs: map[string]*ProviderSubscription{
		"sub_1": {
			ID:         "sub_1",
			CustomerID: "cus_1",
			PriceID:    "price_pro_monthly",
			Status:     models.BillingStatusActive,
			// No CurrentPeriodEnd in the fetched object.
			Metadata: map[string]string{"userId": "7"},
		},
	}}
	svc, db := newTestService(t, fetcher)

	require.NoError(t, db.Create(&models.Subscription{
		UserID:                7,
		BillingCustomerID:     "cus_1",
		BillingSubscriptionID: "sub_1",
		PriceID:               "price_pro_monthly",
		CurrentPeriodEnd:      &knownEnd,
	}).Error)

	require.NoError(t, svc.SyncSubscription(context.Background(), "sub_1"))

	sub := loadSubscription(t, db, 7)
	require.NotNil(t, sub.CurrentPeriodEnd)
	require.WithinDuration(t, knownEnd, *sub.CurrentPeriodEnd, time.Second)
}

func TestSyncSubscriptionNotEntitledDeletes(t *testing.T) {
	fetcher := &fakeFetcher{subs: map[string]*ProviderSubscription{
		"sub_1": {
			ID:         "sub_1",
			CustomerID: "cus_1",
			PriceID:    "price_pro_monthly",
			Status:     "canceled",
			Metadata:   map[string]string{"userId": "7"},
		},
	}}
	svc, db := newTestService(t, fetcher)

	require.NoError(t, db.Create(&models.Subscription{
		UserID:                7,
		BillingCustomerID:     "cus_1",
		BillingSubscriptionID: "sub_1",
		PriceID:               "price_pro_monthly",
	}).Error)

	require.NoError(t, svc.SyncSubscription(context.Background(), "sub_1"))

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("billing_customer_id = ?", "cus_1").Count(&count).Error)
	require.Zero(t, count)
}

func TestSyncSubscriptionIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{subs: map[string]*ProviderSubscription{
		"sub_1": {
			ID:               "sub_1",
			CustomerID:       "cus_1",
			PriceID:          "price_pro_monthly",
			Status:           models.BillingStatusActive,
			CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour),
			Metadata:         map[string]string{"userId": "7"},
		},
	}}
	svc, db := newTestService(t, fetcher)

	require.NoError(t, svc.SyncSubscription(context.Background(), "sub_1"))
	require.NoError(t, svc.SyncSubscription(context.Background(), "sub_1"))

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("user_id = ?", 7).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestProcessEventCheckoutCompleted(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, db := newTestService(t, fetcher)

	ev, err := ParseEvent([]byte(`{
		"id": "evt_co",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_new",
			"client_reference_id": "12"
		}}
	}`))
	require.NoError(t, err)
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))

	// Checkout records the mapping; entitlement itself arrives with the
	// subscription events.
	sub := loadSubscription(t, db, 12)
	require.Equal(t, "cus_new", sub.BillingCustomerID)
	require.Empty(t, sub.PriceID)
	require.Zero(t, sub.PointsBalance)
	require.Zero(t, fetcher.calls)

	// Re-delivery with an updated customer id overwrites only the mapping.
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", 12).
		Update("points_balance", 30).Error)
	ev.Data.Object.Customer = "cus_moved"
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))

	sub = loadSubscription(t, db, 12)
	require.Equal(t, "cus_moved", sub.BillingCustomerID)
	require.Equal(t, 30, sub.PointsBalance)
}

func TestProcessEventCheckoutFallsBackToMetadata(t *testing.T) {
	svc, db := newTestService(t, &fakeFetcher{})

	ev, err := ParseEvent([]byte(`{
		"id": "evt_co2",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_2",
			"customer": "cus_meta",
			"metadata": {"userId": "21"}
		}}
	}`))
	require.NoError(t, err)
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
	require.Equal(t, "cus_meta", loadSubscription(t, db, 21).BillingCustomerID)

	// No user reference at all is a processing error.
	ev.Data.Object.ClientReferenceID = ""
	ev.Data.Object.Metadata = nil
	require.Error(t, svc.ProcessEvent(context.Background(), ev))
}

func TestProcessEventDeleted(t *testing.T) {
	svc, db := newTestService(t, &fakeFetcher{})

	require.NoError(t, db.Create(&models.Subscription{
		UserID:                7,
		BillingCustomerID:     "cus_1",
		BillingSubscriptionID: "sub_1",
		PriceID:               "price_pro_monthly",
	}).Error)

	ev, err := ParseEvent([]byte(`{
		"id": "evt_del",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "customer": "cus_1"}}
	}`))
	require.NoError(t, err)
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	require.Zero(t, count)

	// Deleting an already-absent customer stays a no-op.
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
}

func TestProcessEventUnknownTypeIgnored(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, _ := newTestService(t, fetcher)

	ev, err := ParseEvent([]byte(`{"id": "evt_x", "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`))
	require.NoError(t, err)
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
	require.Zero(t, fetcher.calls)
}

func TestRecordWebhookEventDedupe(t *testing.T) {
	svc, _ := newTestService(t, &fakeFetcher{})
	payload := []byte(`{"id": "evt_1", "type": "customer.subscription.updated"}`)

	created, stored, err := svc.RecordWebhookEvent("evt_1", EventSubscriptionUpdated, payload, true)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, stored)
	require.Nil(t, stored.ProcessedAt)

	require.NoError(t, svc.MarkWebhookProcessed(stored.ID, nil))

	// Redelivery of the same event id is detected.
	created, stored, err = svc.RecordWebhookEvent("evt_1", EventSubscriptionUpdated, payload, true)
	require.NoError(t, err)
	require.False(t, created)
	require.NotNil(t, stored.ProcessedAt)
	require.Empty(t, stored.ProcessingError)

	// A failed first attempt keeps the stored error for the retry decision.
	created, stored, err = svc.RecordWebhookEvent("evt_2", EventSubscriptionDeleted, payload, true)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, svc.MarkWebhookProcessed(stored.ID, errors.New("fetch subscription sub_9: timeout")))
	_, stored, err = svc.RecordWebhookEvent("evt_2", EventSubscriptionDeleted, payload, true)
	require.NoError(t, err)
	require.Equal(t, "fetch subscription sub_9: timeout", stored.ProcessingError)
}

func TestRecordWebhookEventHashFallback(t *testing.T) {
	svc, _ := newTestService(t, &fakeFetcher{})
	payload := []byte(`{"type": "customer.subscription.updated"}`)

	created, stored, err := svc.RecordWebhookEvent("", EventSubscriptionUpdated, payload, false)
	require.NoError(t, err)
	require.True(t, created)
	require.Contains(t, stored.ProviderEventID, "hash:")

	// The same payload without an id lands on the same row.
	created, again, err := svc.RecordWebhookEvent("", EventSubscriptionUpdated, payload, false)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, stored.ID, again.ID)
}
