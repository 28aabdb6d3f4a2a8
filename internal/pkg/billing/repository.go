package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CareerForgeApp/CareerForge/app/models"
)

// Repository provides the DB operations used by the sync service.
type Repository interface {
	UpsertSubscriptionByUser(sub *models.Subscription) error
	DeleteSubscriptionByCustomerID(customerID string) error
	SetCustomerMapping(userID uint, customerID string) error
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertSubscriptionByUser creates the row with full fields or, when one
// exists, updates only the billing-owned columns. The points columns are
// deliberately absent from the update set: sync must never clobber the
// ledger it races against.
func (r *gormRepository) UpsertSubscriptionByUser(sub *models.Subscription) error {
	cols := []string{
		"billing_customer_id",
		"billing_subscription_id",
		"price_id",
		"cancel_at_period_end",
		"updated_at",
	}
	// A fetch without a period end must not null out one we already know.
	if sub.CurrentPeriodEnd != nil {
		cols = append(cols, "current_period_end")
	}

	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) DeleteSubscriptionByCustomerID(customerID string) error {
	return r.db.Where("billing_customer_id = ?", customerID).
		Delete(&models.Subscription{}).Error
}

// SetCustomerMapping records the user -> provider customer linkage so later
// entitlement lookups against the provider resolve. It does not touch the
// points ledger.
func (r *gormRepository) SetCustomerMapping(userID uint, customerID string) error {
	res := r.db.Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Update("billing_customer_id", customerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	periodEnd := time.Now().AddDate(0, 1, 0)
	sub := &models.Subscription{
		UserID:                userID,
		BillingCustomerID:     customerID,
		BillingSubscriptionID: models.PlaceholderSubscriptionID(userID),
		PriceID:               "",
		CurrentPeriodEnd:      &periodEnd,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"billing_customer_id", "updated_at"}),
	}).Create(sub).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
