package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price maps a (category, subcategory) pair to the application fee and
// the share distributed to the processing distributor on completion.
// At most one active row exists per pair.
type Price struct {
	ID                  int             `json:"id" db:"id"`
	CategoryID          int             `json:"category_id" db:"category_id"`
	SubcategoryID       int             `json:"subcategory_id" db:"subcategory_id"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	DistributableAmount decimal.Decimal `json:"distributable_amount" db:"distributable_amount"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}
