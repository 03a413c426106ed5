package casedb

import (
	"time"

	"github.com/uptrace/bun"
)

// Case status lifecycle. A case leaves pending_review exactly once.
const (
	StatusPendingReview  = "pending_review"
	StatusConfirmedSafe  = "confirmed_safe"
	StatusConfirmedFraud = "confirmed_fraud"
)

// FraudCase is one flagged transaction awaiting customer review.
type FraudCase struct {
	bun.BaseModel `bun:"table:fraud_cases,alias:fc"`

	ID                 int64  `bun:"id,pk,autoincrement"`
	UserName           string `bun:"user_name,notnull"`
	SecurityIdentifier string `bun:"security_identifier,notnull"`
	CardEnding         string `bun:"card_ending,notnull"`
	CaseStatus         string `bun:"case_status,notnull"`

	TransactionName     string  `bun:"transaction_name,notnull"`
	TransactionTime     string  `bun:"transaction_time,notnull"`
	TransactionCategory string  `bun:"transaction_category,notnull"`
	TransactionSource   string  `bun:"transaction_source,notnull"`
	TransactionAmount   float64 `bun:"transaction_amount,notnull"`
	TransactionLocation string  `bun:"transaction_location,notnull"`

	SecurityQuestion string `bun:"security_question,notnull"`
	SecurityAnswer   string `bun:"security_answer,notnull"`
	OutcomeNote      string `bun:"outcome_note"`
	CardBlocked      bool   `bun:"card_blocked,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
