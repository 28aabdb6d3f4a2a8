package entitlements

import (
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/CareerForgeApp/CareerForge/app/models"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/env"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierProPlus Tier = "pro_plus"
)

// Gated actions and their point costs.
const (
	ActionEnhanceExperience  = "enhance_experience"
	ActionResumeSummary      = "resume_summary"
	ActionCoverLetter        = "cover_letter"
	ActionCoverLetterEnhance = "cover_letter_enhance"
	ActionVoiceSessionStart  = "voice_session_start"
	ActionFeedback           = "feedback"
)

var actionCosts = map[string]int{
	ActionEnhanceExperience:  2,
	ActionResumeSummary:      4,
	ActionCoverLetter:        5,
	ActionCoverLetterEnhance: 5,
	ActionVoiceSessionStart:  10,
	ActionFeedback:           0,
}

// CostOf returns the point cost of a gated action. Unknown actions are not
// spendable.
func CostOf(action string) (int, bool) {
	cost, ok := actionCosts[strings.TrimSpace(action)]
	return cost, ok
}

// CheapestGatedCost is the smallest non-zero action cost; the can-use check
// compares the balance against it.
func CheapestGatedCost() int {
	cheapest := 0
	for _, cost := range actionCosts {
		if cost == 0 {
			continue
		}
		if cheapest == 0 || cost < cheapest {
			cheapest = cost
		}
	}
	return cheapest
}

// Monthly point allowances per tier.
const (
	AllowancePro     = 40
	AllowanceProPlus = 80
)

// Voice interviews per billing period, a non-point entitlement.
const VoiceInterviewLimitProPlus = 5

// PriceConfig carries the billing provider price identifiers configured for
// the paid tiers. Identifiers differ between environments, which is why
// MatchTier keeps a substring fallback behind the exact matches.
type PriceConfig struct {
	ProPriceID     string
	ProPlusPriceID string
}

func PriceConfigFromEnv() PriceConfig {
	return PriceConfig{
		ProPriceID:     strings.TrimSpace(env.GetEnv("BILLING_PRICE_PRO", "")),
		ProPlusPriceID: strings.TrimSpace(env.GetEnv("BILLING_PRICE_PRO_PLUS", "")),
	}
}

// MatchTier classifies a provider price id. Order matters: exact matches are
// checked before substrings, and any unrecognized non-empty paid price
// classifies as the lower paid tier instead of failing closed to free.
func MatchTier(cfg PriceConfig, priceID string) Tier {
	id := strings.TrimSpace(priceID)
	lower := strings.ToLower(id)

	if id == "" || strings.Contains(lower, "free") {
		return TierFree
	}
	if cfg.ProPlusPriceID != "" && id == cfg.ProPlusPriceID {
		return TierProPlus
	}
	if strings.Contains(lower, "pro_plus") || strings.Contains(lower, "proplus") {
		return TierProPlus
	}
	if cfg.ProPriceID != "" && id == cfg.ProPriceID {
		return TierPro
	}
	return TierPro
}

// MonthlyAllowance maps a price id to the points credited per billing period.
func MonthlyAllowance(cfg PriceConfig, priceID string) int {
	switch MatchTier(cfg, priceID) {
	case TierProPlus:
		return AllowanceProPlus
	case TierPro:
		return AllowancePro
	default:
		return 0
	}
}

// VoiceInterviewLimit returns the per-period voice interview quota for a tier.
func VoiceInterviewLimit(tier Tier) int {
	if tier == TierProPlus {
		return VoiceInterviewLimitProPlus
	}
	return 0
}

// TierRank orders tiers for comparisons; higher is more entitled.
func TierRank(tier Tier) int {
	switch tier {
	case TierProPlus:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

// ResolveTier reads the user's subscription row and classifies it. The check
// is read-only and must not be cached across requests: webhook-driven syncs
// mutate the same row asynchronously. A storage outage degrades to free so
// free-tier features stay reachable.
func ResolveTier(db *gorm.DB, cfg PriceConfig, userID uint) Tier {
	return ResolveTierAt(db, cfg, userID, time.Now())
}

func ResolveTierAt(db *gorm.DB, cfg PriceConfig, userID uint, now time.Time) Tier {
	var sub models.Subscription
	if err := db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("entitlements: subscription lookup failed for user %d: %v", userID, err)
		}
		return TierFree
	}
	if !sub.HasActivePeriod(now) {
		return TierFree
	}
	return MatchTier(cfg, sub.PriceID)
}
