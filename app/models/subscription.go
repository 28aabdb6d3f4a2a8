package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

const (
	BillingStatusActive            = "active"
	BillingStatusTrialing          = "trialing"
	BillingStatusPastDue           = "past_due"
	BillingStatusCanceled          = "canceled"
	BillingStatusIncomplete        = "incomplete"
	BillingStatusIncompleteExpired = "incomplete_expired"
	BillingStatusUnpaid            = "unpaid"
	BillingStatusPaused            = "paused"
)

// placeholderNamespace seeds deterministic billing identifiers for users that
// have a subscription row but never completed a checkout.
var placeholderNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Subscription holds one row per user: the mirrored billing state plus the
// spendable points balance. Every mutation of PointsBalance is paired with
// exactly one PointsTransaction row in the same DB transaction.
type Subscription struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	UserID                   uint       `gorm:"not null;uniqueIndex:ux_subscriptions_user" json:"user_id"`
	BillingCustomerID        string     `gorm:"type:varchar(191);not null;index" json:"billing_customer_id"`
	BillingSubscriptionID    string     `gorm:"type:varchar(191);not null;index" json:"billing_subscription_id"`
	PriceID                  string     `gorm:"type:varchar(191);not null;default:''" json:"price_id"`
	CurrentPeriodEnd         *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd        bool       `gorm:"default:false" json:"cancel_at_period_end"`
	PointsBalance            int        `gorm:"not null;default:0" json:"points_balance"`
	PointsAllowance          int        `gorm:"not null;default:0" json:"points_allowance"`
	StarterPointsGrantedAt   *time.Time `gorm:"type:timestamp;default:null" json:"starter_points_granted_at,omitempty"`
	VoiceInterviewsUsed      int        `gorm:"not null;default:0" json:"voice_interviews_used"`
	VoiceInterviewsResetDate *time.Time `gorm:"type:timestamp;default:null" json:"voice_interviews_reset_date,omitempty"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasActivePeriod reports whether the subscription period covers the given time.
func (s *Subscription) HasActivePeriod(now time.Time) bool {
	return s.CurrentPeriodEnd != nil && now.Before(*s.CurrentPeriodEnd)
}

// PlaceholderCustomerID derives a stable stand-in customer reference so a
// subscription row can exist before any purchase.
func PlaceholderCustomerID(userID uint) string {
	return "cus_local_" + uuid.NewSHA1(placeholderNamespace, []byte(fmt.Sprintf("customer:%d", userID))).String()
}

// PlaceholderSubscriptionID derives a stable stand-in subscription reference.
func PlaceholderSubscriptionID(userID uint) string {
	return "sub_local_" + uuid.NewSHA1(placeholderNamespace, []byte(fmt.Sprintf("subscription:%d", userID))).String()
}
