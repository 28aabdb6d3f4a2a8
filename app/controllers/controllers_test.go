package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CareerForgeApp/CareerForge/app/models"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/billing"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/database"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/middleware"
)

// newTestApp wires the handlers under test onto a fresh fiber app backed by
// an injected sqlite store. Migrating only a subset of models simulates a
// broken store for the degradation paths.
func newTestApp(t *testing.T, migrate ...interface{}) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(migrate...))

	database.SetDB(db)
	t.Cleanup(func() { database.SetDB(nil) })

	app := fiber.New()
	app.Get("/api/v1/points", middleware.APIKeyAuthMiddleware(), HandleGetPoints)
	app.Post("/webhooks/billing", HandleBillingWebhook)
	return app
}

func seedUserWithKey(t *testing.T) string {
	t.Helper()
	user, err := models.CreateUser("testuser", "test@example.com", "secret123")
	require.NoError(t, err)
	key, err := user.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, database.GetDB().Create(user).Error)
	return key
}

func doJSON(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return resp.StatusCode, out
}

func TestGetPointsRequiresAuth(t *testing.T) {
	app := newTestApp(t, &models.User{}, &models.Subscription{}, &models.PointsTransaction{})

	status, body := doJSON(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/points", nil))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", body["error"])
}

func TestGetPointsRunsStarterGrant(t *testing.T) {
	app := newTestApp(t, &models.User{}, &models.Subscription{}, &models.PointsTransaction{})
	key := seedUserWithKey(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/points", nil)
	req.Header.Set("X-API-Key", key)

	status, body := doJSON(t, app, req)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 30, body["points"])
	require.EqualValues(t, 30, body["points_granted"])
	require.Equal(t, true, body["is_new_user"])
	require.Contains(t, body, "message")

	// The second view finds the grant already applied.
	status, body = doJSON(t, app, req)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 30, body["points"])
	require.EqualValues(t, 0, body["points_granted"])
}

func TestGetPointsDegradesOnStoreFailure(t *testing.T) {
	// Users table only: authentication works, every points query fails.
	app := newTestApp(t, &models.User{})
	key := seedUserWithKey(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/points", nil)
	req.Header.Set("X-API-Key", key)

	status, body := doJSON(t, app, req)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, body["points"])
	require.NotContains(t, body, "points_granted")
}

func TestBillingWebhookRejectsBadSignature(t *testing.T) {
	t.Setenv("BILLING_WEBHOOK_SECRET", "whsec_test")
	app := newTestApp(t, &models.Subscription{}, &models.BillingWebhookEvent{})
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)

	// Missing header.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	status, body := doJSON(t, app, req)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_signature", body["error"])

	// Signed with the wrong secret.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", billing.SignatureHeader(payload, "whsec_other", time.Now()))
	status, body = doJSON(t, app, req)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_signature", body["error"])

	// Nothing was recorded.
	var count int64
	require.NoError(t, database.GetDB().Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestBillingWebhookDuplicateDelivery(t *testing.T) {
	t.Setenv("BILLING_WEBHOOK_SECRET", "whsec_test")
	app := newTestApp(t, &models.Subscription{}, &models.BillingWebhookEvent{})
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)

	send := func() (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", billing.SignatureHeader(payload, "whsec_test", time.Now()))
		return doJSON(t, app, req)
	}

	status, body := send()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["received"])
	require.NotContains(t, body, "duplicate")

	// Redelivery of a processed event short-circuits before dispatch.
	status, body = send()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["duplicate"])

	var count int64
	require.NoError(t, database.GetDB().Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
