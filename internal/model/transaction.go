package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. A record always carries a positive amount; direction
// comes from the type and the wallet endpoints, never from the sign.
const (
	TypeCredit   = "credit"
	TypeDebit    = "debit"
	TypeTransfer = "transfer"
)

// Transaction statuses.
const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Transaction struct {
	ID           string          `gorm:"type:uuid;primaryKey" json:"id"`
	Reference    string          `gorm:"size:64;not null;uniqueIndex" json:"reference"`
	Amount       decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
	Currency     string          `gorm:"size:8;not null" json:"currency"`
	Type         string          `gorm:"size:16;not null" json:"type"`
	Status       string          `gorm:"size:16;not null;default:'pending'" json:"status"`
	Description  string          `gorm:"size:255" json:"description"`
	FromWalletID *string         `gorm:"type:uuid;index" json:"fromWalletId,omitempty"`
	ToWalletID   *string         `gorm:"type:uuid;index" json:"toWalletId,omitempty"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
}

func (Transaction) TableName() string { return "transactions" }

// Touches reports whether the transaction references walletID on either end.
func (t *Transaction) Touches(walletID string) bool {
	if t.FromWalletID != nil && *t.FromWalletID == walletID {
		return true
	}
	return t.ToWalletID != nil && *t.ToWalletID == walletID
}
