package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet transaction types
const (
	TxTypeCredit = "CREDIT"
	TxTypeDebit  = "DEBIT"
)

// Wallet transaction statuses. PENDING entries are settled by a
// gateway callback or synchronously by internal transfers; terminal
// entries are never edited (corrections append new entries).
const (
	TxStatusPending = "PENDING"
	TxStatusSuccess = "SUCCESS"
	TxStatusFailed  = "FAILED"
)

// Wallet is one ledger account, keyed by user id. Balance never goes
// negative; TotalBalance accumulates all credits and never decreases.
type Wallet struct {
	ID           int             `json:"id" db:"id"`
	UserID       int             `json:"user_id" db:"user_id"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	TotalBalance decimal.Decimal `json:"total_balance" db:"total_balance"`
	Version      int             `json:"version" db:"version"` // for optimistic locking
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// WalletTransaction is one entry of the append-only wallet ledger log
type WalletTransaction struct {
	ID              int             `json:"id" db:"id"`
	WalletID        int             `json:"wallet_id" db:"wallet_id"`
	MerchantOrderID string          `json:"merchant_order_id" db:"merchant_order_id"`
	TransactionID   *string         `json:"transaction_id" db:"transaction_id"`
	Type            string          `json:"type" db:"type"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Status          string          `json:"status" db:"status"`
	PaymentDetails  Metadata        `json:"payment_details" db:"payment_details"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
