package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CareerForgeApp/CareerForge/app/models"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/entitlements"
)

// StarterGrantPoints is the one-time credit applied to brand-new users.
const StarterGrantPoints = 30

const insufficientPointsMessage = "Insufficient points"

// Service owns every mutation of the points balance. All coordination is
// pushed to the store: each operation runs as one per-user transaction with
// a row lock, so concurrent handlers for the same user serialize there and
// no in-process lock is needed.
type Service struct {
	db     *gorm.DB
	prices entitlements.PriceConfig
}

func NewService(db *gorm.DB, prices entitlements.PriceConfig) *Service {
	return &Service{db: db, prices: prices}
}

type StarterGrantResult struct {
	IsNewUser     bool `json:"is_new_user"`
	PointsGranted int  `json:"points_granted"`
}

// SpendResult is a business outcome, not an error: a blocked spend is an
// expected state the caller renders as user feedback.
type SpendResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type VoiceInterviewStatus struct {
	CanUse bool `json:"can_use"`
	Used   int  `json:"used"`
	Limit  int  `json:"limit"`
}

// EnsureStarterGrant lazily creates the subscription row for first-time users
// and applies the one-time starter credit. StarterPointsGrantedAt is the sole
// idempotency guard; the check-and-set shares one transaction with the
// balance increment, so redundant or concurrent calls never double-grant.
func (s *Service) EnsureStarterGrant(ctx context.Context, userID uint) (StarterGrantResult, error) {
	var res StarterGrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, created, err := lockOrCreateSubscription(tx, userID)
		if err != nil {
			return err
		}
		res.IsNewUser = created
		if sub.StarterPointsGrantedAt != nil {
			return nil
		}

		now := time.Now()
		sub.StarterPointsGrantedAt = &now
		sub.PointsBalance += StarterGrantPoints
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		if err := appendTransaction(tx, userID, StarterGrantPoints, models.PointsReasonStarterBonus, nil); err != nil {
			return err
		}
		res.PointsGranted = StarterGrantPoints
		return nil
	})
	if err != nil {
		return StarterGrantResult{}, fmt.Errorf("starter grant for user %d: %w", userID, err)
	}
	return res, nil
}

// ApplyMonthlyAllowanceIfNeeded credits the current billing period's point
// allowance at most once. Idempotency is period-keyed via the ledger itself:
// a period boundary is a moving window, so a one-shot flag cannot express
// "has this specific period been credited" - the grant counts prior
// monthly_allowance rows since periodStart instead.
func (s *Service) ApplyMonthlyAllowanceIfNeeded(ctx context.Context, userID uint) (int, error) {
	applied := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := lockForUpdate(tx).
			Where("user_id = ?", userID).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if sub.CurrentPeriodEnd == nil {
			// No period boundary, nothing to key the grant on.
			return nil
		}
		allowance := entitlements.MonthlyAllowance(s.prices, sub.PriceID)
		if allowance <= 0 {
			return nil
		}

		periodStart := sub.CurrentPeriodEnd.AddDate(0, -1, 0)
		var prior int64
		if err := tx.Model(&models.PointsTransaction{}).
			Where("user_id = ? AND reason = ? AND created_at >= ?", userID, models.PointsReasonMonthlyAllowance, periodStart).
			Count(&prior).Error; err != nil {
			return err
		}
		if prior > 0 {
			return nil
		}

		sub.PointsBalance += allowance
		sub.PointsAllowance = allowance
		if err := tx.Save(&sub).Error; err != nil {
			return err
		}
		if err := appendTransaction(tx, userID, allowance, models.PointsReasonMonthlyAllowance, map[string]any{
			"price_id": sub.PriceID,
		}); err != nil {
			return err
		}
		applied = allowance
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("monthly allowance for user %d: %w", userID, err)
	}
	return applied, nil
}

// DeductPoints atomically debits the balance. The sufficient-balance check
// and the decrement share one locked transaction; two concurrent spends can
// never both pass the check against a stale balance.
func (s *Service) DeductPoints(ctx context.Context, userID uint, amount int, reason string, metadata map[string]any) (SpendResult, error) {
	if amount < 0 {
		return SpendResult{}, fmt.Errorf("deduct points: negative amount %d", amount)
	}
	if amount == 0 {
		return SpendResult{OK: true}, nil
	}

	res := SpendResult{OK: false, Message: insufficientPointsMessage}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := lockForUpdate(tx).
			Where("user_id = ?", userID).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if sub.PointsBalance < amount {
			return nil
		}

		sub.PointsBalance -= amount
		if err := tx.Save(&sub).Error; err != nil {
			return err
		}
		if err := appendTransaction(tx, userID, -amount, reason, metadata); err != nil {
			return err
		}
		res = SpendResult{OK: true}
		return nil
	})
	if err != nil {
		return SpendResult{}, fmt.Errorf("deduct %d points for user %d: %w", amount, userID, err)
	}
	return res, nil
}

// AdjustPoints applies a manual signed correction with a caller-supplied
// reason. The balance never goes negative: an adjustment that would overdraw
// is refused as a business outcome.
func (s *Service) AdjustPoints(ctx context.Context, userID uint, delta int, reason string, metadata map[string]any) (SpendResult, error) {
	if delta == 0 {
		return SpendResult{OK: true}, nil
	}

	res := SpendResult{OK: false, Message: insufficientPointsMessage}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, _, err := lockOrCreateSubscription(tx, userID)
		if err != nil {
			return err
		}
		if sub.PointsBalance+delta < 0 {
			return nil
		}

		sub.PointsBalance += delta
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		if err := appendTransaction(tx, userID, delta, reason, metadata); err != nil {
			return err
		}
		res = SpendResult{OK: true}
		return nil
	})
	if err != nil {
		return SpendResult{}, fmt.Errorf("adjust points for user %d: %w", userID, err)
	}
	return res, nil
}

// Balance returns the current spendable balance, zero when no row exists.
func (s *Service) Balance(ctx context.Context, userID uint) (int, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return sub.PointsBalance, nil
}

// History returns the most recent ledger entries for a user.
func (s *Service) History(ctx context.Context, userID uint, limit int) ([]models.PointsTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var entries []models.PointsTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// GetVoiceInterviewStatus reports the per-period voice interview quota. The
// usage counter resets lazily when the billing period rolls over; the status
// read reports the effective value without writing the reset.
func (s *Service) GetVoiceInterviewStatus(ctx context.Context, userID uint) (VoiceInterviewStatus, error) {
	now := time.Now()
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return VoiceInterviewStatus{}, nil
		}
		return VoiceInterviewStatus{}, err
	}

	tier := tierOf(&sub, s.prices, now)
	limit := entitlements.VoiceInterviewLimit(tier)
	used := sub.VoiceInterviewsUsed
	if voiceCounterStale(&sub, now) {
		used = 0
	}
	return VoiceInterviewStatus{
		CanUse: limit > 0 && used < limit,
		Used:   used,
		Limit:  limit,
	}, nil
}

// StartVoiceInterview consumes one voice interview slot and the session's
// point cost in a single transaction: tier gate, period rollover reset,
// quota check, balance check, then counter increment plus ledger debit.
func (s *Service) StartVoiceInterview(ctx context.Context, userID uint) (SpendResult, error) {
	cost, _ := entitlements.CostOf(entitlements.ActionVoiceSessionStart)
	now := time.Now()

	res := SpendResult{OK: false}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := lockForUpdate(tx).
			Where("user_id = ?", userID).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				res.Message = "Voice interviews require a Pro Plus subscription"
				return nil
			}
			return err
		}

		tier := tierOf(&sub, s.prices, now)
		limit := entitlements.VoiceInterviewLimit(tier)
		if limit == 0 {
			res.Message = "Voice interviews require a Pro Plus subscription"
			return nil
		}

		if voiceCounterStale(&sub, now) {
			sub.VoiceInterviewsUsed = 0
			sub.VoiceInterviewsResetDate = &now
		}
		if sub.VoiceInterviewsUsed >= limit {
			res.Message = "Voice interview limit reached for this billing period"
			return nil
		}
		if sub.PointsBalance < cost {
			res.Message = insufficientPointsMessage
			return nil
		}

		sub.VoiceInterviewsUsed++
		sub.PointsBalance -= cost
		if err := tx.Save(&sub).Error; err != nil {
			return err
		}
		if err := appendTransaction(tx, userID, -cost, entitlements.ActionVoiceSessionStart, nil); err != nil {
			return err
		}
		res = SpendResult{OK: true}
		return nil
	})
	if err != nil {
		return SpendResult{}, fmt.Errorf("start voice interview for user %d: %w", userID, err)
	}
	return res, nil
}

// LedgerSum adds up all transaction deltas recorded at or after the current
// subscription row's creation. It must always equal the stored balance.
func (s *Service) LedgerSum(ctx context.Context, userID uint) (int, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var sum int64
	err := s.db.WithContext(ctx).Model(&models.PointsTransaction{}).
		Where("user_id = ? AND created_at >= ?", userID, sub.CreatedAt).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	return int(sum), err
}

// lockOrCreateSubscription returns the user's subscription row under a row
// lock, creating the free placeholder row first when none exists. Concurrent
// first requests race on the insert; the unique user_id index turns the
// loser's insert into a no-op and both re-read the winner's row.
func lockOrCreateSubscription(tx *gorm.DB, userID uint) (*models.Subscription, bool, error) {
	var sub models.Subscription
	err := lockForUpdate(tx).
		Where("user_id = ?", userID).First(&sub).Error
	if err == nil {
		return &sub, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	periodEnd := time.Now().AddDate(0, 1, 0)
	fresh := models.Subscription{
		UserID:                userID,
		BillingCustomerID:     models.PlaceholderCustomerID(userID),
		BillingSubscriptionID: models.PlaceholderSubscriptionID(userID),
		PriceID:               "",
		CurrentPeriodEnd:      &periodEnd,
	}
	insert := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&fresh)
	if insert.Error != nil {
		return nil, false, insert.Error
	}
	created := insert.RowsAffected > 0

	if err := lockForUpdate(tx).
		Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, false, err
	}
	return &sub, created, nil
}

// lockForUpdate adds a row lock on dialects that support it. SQLite has no
// FOR UPDATE; it serializes writers at the database level instead.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func appendTransaction(tx *gorm.DB, userID uint, delta int, reason string, metadata map[string]any) error {
	entry := models.PointsTransaction{
		UserID: userID,
		Delta:  delta,
		Reason: reason,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		entry.MetadataJSON = string(raw)
	}
	return tx.Create(&entry).Error
}

func tierOf(sub *models.Subscription, cfg entitlements.PriceConfig, now time.Time) entitlements.Tier {
	if !sub.HasActivePeriod(now) {
		return entitlements.TierFree
	}
	return entitlements.MatchTier(cfg, sub.PriceID)
}

func voiceCounterStale(sub *models.Subscription, now time.Time) bool {
	if sub.CurrentPeriodEnd == nil {
		return false
	}
	periodStart := sub.CurrentPeriodEnd.AddDate(0, -1, 0)
	if now.Before(periodStart) {
		return false
	}
	return sub.VoiceInterviewsResetDate == nil || sub.VoiceInterviewsResetDate.Before(periodStart)
}
