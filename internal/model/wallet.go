package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID       string          `gorm:"size:64;not null;uniqueIndex" json:"ownerId"`
	AccountNumber string          `gorm:"size:16;not null;uniqueIndex" json:"accountNumber"`
	Balance       decimal.Decimal `gorm:"type:numeric(15,2);not null;default:'0'" json:"balance"`
	Currency      string          `gorm:"size:8;not null;default:'NGN'" json:"currency"`
	IsActive      bool            `gorm:"not null;default:true" json:"isActive"`
	DailyLimit    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:'1000000'" json:"dailyLimit"`
	MonthlyLimit  decimal.Decimal `gorm:"type:numeric(15,2);not null;default:'10000000'" json:"monthlyLimit"`
	Version       uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Wallet) TableName() string { return "wallets" }
