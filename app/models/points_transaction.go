package models

import "time"

// Grant reasons written by the points engine. Spend reasons use the action
// names from the cost table; manual adjustments may carry any reason string.
const (
	PointsReasonStarterBonus     = "starter_bonus"
	PointsReasonMonthlyAllowance = "monthly_allowance"
)

// PointsTransaction is the append-only ledger. Rows are never updated or
// deleted; the monthly-allowance grant uses this log as its idempotency
// oracle (one credit per billing period).
type PointsTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:idx_points_transactions_user_reason,priority:1" json:"user_id"`
	Delta        int       `gorm:"not null" json:"delta"`
	Reason       string    `gorm:"type:varchar(64);not null;index:idx_points_transactions_user_reason,priority:2" json:"reason"`
	MetadataJSON string    `gorm:"type:text" json:"metadata_json,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
