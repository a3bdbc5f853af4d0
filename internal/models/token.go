// internal/models/token.go
package models

import "time"

// TokenAccount is the spendable balance for one user. Balance never
// goes negative; deductions that would cross zero are rejected.
type TokenAccount struct {
	UserID    string    `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction statuses.
const (
	TransactionSuccess  = "success"
	TransactionRejected = "rejected"
)

// TokenTransaction is the audit record for one deduction attempt.
// Exactly one is written per completed paid operation, whether the
// deduction succeeded or was rejected.
type TokenTransaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Endpoint     string    `json:"endpoint"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	Status       string    `json:"status"` // success, rejected
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
