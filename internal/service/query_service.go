package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Mhixter/FintoMonie/internal/model"
)

// BalanceInfo is the balance projection shown to clients.
type BalanceInfo struct {
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	AccountNumber string          `json:"accountNumber"`
}

// Pagination describes a history page.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// GetBalance returns the owner's current balance, cache-aside through
// Redis. A stale cached value is acceptable; it is always a balance that
// actually existed.
func (s *WalletService) GetBalance(ctx context.Context, ownerID string) (*BalanceInfo, error) {
	w, err := s.repo.GetWalletByOwner(ctx, s.repo.DB(ctx), ownerID)
	if err != nil {
		return nil, err
	}
	bal := w.Balance
	if cached, err := s.repo.GetCachedBalance(ctx, w.ID); err == nil {
		bal = cached
	} else {
		s.cacheBalance(ctx, w.ID, bal)
	}
	return &BalanceInfo{
		Balance:       bal,
		Currency:      w.Currency,
		AccountNumber: w.AccountNumber,
	}, nil
}

// GetHistory returns the owner's transactions newest first. A transaction
// belongs to the history when the wallet is on either endpoint.
func (s *WalletService) GetHistory(ctx context.Context, ownerID string, page, limit int) ([]model.Transaction, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	w, err := s.repo.GetWalletByOwner(ctx, s.repo.DB(ctx), ownerID)
	if err != nil {
		return nil, Pagination{}, err
	}
	txs, total, err := s.repo.ListTransactions(ctx, w.ID, (page-1)*limit, limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return txs, Pagination{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}
