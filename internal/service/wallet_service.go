package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Mhixter/FintoMonie/internal/model"
	"github.com/Mhixter/FintoMonie/internal/reference"
	"github.com/Mhixter/FintoMonie/internal/repo"
)

// Validation errors surfaced to callers. Store-level errors
// (repo.ErrWalletNotFound, repo.ErrDuplicateReference, repo.ErrConflict)
// pass through unchanged.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInactiveWallet      = errors.New("wallet is inactive")
	ErrSameWalletTransfer  = errors.New("cannot transfer to own wallet")
	ErrCurrencyMismatch    = errors.New("sender and recipient currencies differ")
	ErrLimitExceeded       = errors.New("transaction limit exceeded")
)

const (
	defaultCurrency = "NGN"

	// Optimistic-lock conflicts are retried with doubling backoff before
	// surfacing repo.ErrConflict to the caller.
	maxCommitAttempts = 3
	retryBackoffBase  = 25 * time.Millisecond
)

var (
	defaultDailyLimit   = decimal.NewFromInt(1_000_000)
	defaultMonthlyLimit = decimal.NewFromInt(10_000_000)
)

// WalletService is the transfer engine: every wallet-balance mutation in the
// system goes through one of its operations, each an all-or-nothing unit.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: logger}
}

// CreateWallet onboards an owner, one wallet each, never deleted afterward.
func (s *WalletService) CreateWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	if currency == "" {
		currency = defaultCurrency
	}
	w := &model.Wallet{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		AccountNumber: reference.AccountNumber(),
		Balance:       decimal.Zero,
		Currency:      currency,
		IsActive:      true,
		DailyLimit:    defaultDailyLimit,
		MonthlyLimit:  defaultMonthlyLimit,
	}
	if err := s.repo.CreateWallet(ctx, s.repo.DB(ctx), w); err != nil {
		return nil, err
	}
	s.log.Infow("wallet created", "owner_id", ownerID, "account_number", w.AccountNumber)
	return w, nil
}

// Deposit credits the owner's wallet.
func (s *WalletService) Deposit(ctx context.Context, ownerID string, amount decimal.Decimal, description, ref string) (*model.Transaction, decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, decimal.Zero, ErrInvalidAmount
	}
	var (
		txn    *model.Transaction
		newBal decimal.Decimal
	)
	err := s.runAtomic(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if !w.IsActive {
			return ErrInactiveWallet
		}
		w, err = s.repo.GetWalletForUpdate(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		txnRef, err := s.resolveReference(ctx, tx, ref)
		if err != nil {
			return err
		}
		newBal = w.Balance.Add(amount)
		if err := s.repo.UpdateWalletBalance(ctx, tx, w.ID, newBal, w.Version); err != nil {
			return err
		}
		now := time.Now()
		txn = &model.Transaction{
			ID:          uuid.NewString(),
			Reference:   txnRef,
			Amount:      amount,
			Currency:    w.Currency,
			Type:        model.TypeCredit,
			Status:      model.StatusSuccess,
			Description: description,
			ToWalletID:  &w.ID,
			ProcessedAt: &now,
		}
		if err := s.repo.CreateTransaction(ctx, tx, txn); err != nil {
			return err
		}
		if err := s.emitEvent(ctx, tx, "Deposit", w.ID, txn, newBal); err != nil {
			return err
		}
		s.cacheBalance(ctx, w.ID, newBal)
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return txn, newBal, nil
}

// Withdraw debits the owner's wallet. The sufficiency and limit checks run
// on the locked row inside the same unit as the decrement, so no concurrent
// operation can invalidate them between check and commit.
func (s *WalletService) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal, description, ref string) (*model.Transaction, decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, decimal.Zero, ErrInvalidAmount
	}
	var (
		txn    *model.Transaction
		newBal decimal.Decimal
	)
	err := s.runAtomic(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if !w.IsActive {
			return ErrInactiveWallet
		}
		w, err = s.repo.GetWalletForUpdate(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}
		if err := s.checkLimits(ctx, tx, w, amount); err != nil {
			return err
		}
		txnRef, err := s.resolveReference(ctx, tx, ref)
		if err != nil {
			return err
		}
		newBal = w.Balance.Sub(amount)
		if err := s.repo.UpdateWalletBalance(ctx, tx, w.ID, newBal, w.Version); err != nil {
			return err
		}
		now := time.Now()
		txn = &model.Transaction{
			ID:           uuid.NewString(),
			Reference:    txnRef,
			Amount:       amount,
			Currency:     w.Currency,
			Type:         model.TypeDebit,
			Status:       model.StatusSuccess,
			Description:  description,
			FromWalletID: &w.ID,
			ProcessedAt:  &now,
		}
		if err := s.repo.CreateTransaction(ctx, tx, txn); err != nil {
			return err
		}
		if err := s.emitEvent(ctx, tx, "Withdraw", w.ID, txn, newBal); err != nil {
			return err
		}
		s.cacheBalance(ctx, w.ID, newBal)
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return txn, newBal, nil
}

// Transfer moves money from the owner's wallet to the wallet behind
// recipientAccountNumber as a single ledger record.
func (s *WalletService) Transfer(ctx context.Context, ownerID string, amount decimal.Decimal, recipientAccountNumber, description, ref string) (*model.Transaction, decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, decimal.Zero, ErrInvalidAmount
	}
	var (
		txn       *model.Transaction
		senderBal decimal.Decimal
	)
	err := s.runAtomic(ctx, func(tx *gorm.DB) error {
		sender, err := s.repo.GetWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		recipient, err := s.repo.GetWalletByAccountNumber(ctx, tx, recipientAccountNumber)
		if err != nil {
			return err
		}
		if sender.ID == recipient.ID {
			return ErrSameWalletTransfer
		}
		if !sender.IsActive || !recipient.IsActive {
			return ErrInactiveWallet
		}
		if sender.Currency != recipient.Currency {
			return ErrCurrencyMismatch
		}

		// Lock both rows in ascending id order so two opposite-direction
		// transfers between the same pair cannot deadlock.
		firstID, secondID := sender.ID, recipient.ID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}
		w1, err := s.repo.GetWalletForUpdate(ctx, tx, firstID)
		if err != nil {
			return err
		}
		w2, err := s.repo.GetWalletForUpdate(ctx, tx, secondID)
		if err != nil {
			return err
		}
		if firstID == sender.ID {
			sender, recipient = w1, w2
		} else {
			sender, recipient = w2, w1
		}

		if sender.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}
		if err := s.checkLimits(ctx, tx, sender, amount); err != nil {
			return err
		}
		txnRef, err := s.resolveReference(ctx, tx, ref)
		if err != nil {
			return err
		}
		senderBal = sender.Balance.Sub(amount)
		recipientBal := recipient.Balance.Add(amount)
		if err := s.repo.UpdateWalletBalance(ctx, tx, sender.ID, senderBal, sender.Version); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, recipient.ID, recipientBal, recipient.Version); err != nil {
			return err
		}
		now := time.Now()
		txn = &model.Transaction{
			ID:           uuid.NewString(),
			Reference:    txnRef,
			Amount:       amount,
			Currency:     sender.Currency,
			Type:         model.TypeTransfer,
			Status:       model.StatusSuccess,
			Description:  description,
			FromWalletID: &sender.ID,
			ToWalletID:   &recipient.ID,
			ProcessedAt:  &now,
		}
		if err := s.repo.CreateTransaction(ctx, tx, txn); err != nil {
			return err
		}
		if err := s.emitEvent(ctx, tx, "Transfer", sender.ID, txn, senderBal); err != nil {
			return err
		}
		s.cacheBalance(ctx, sender.ID, senderBal)
		s.cacheBalance(ctx, recipient.ID, recipientBal)
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return txn, senderBal, nil
}

// runAtomic executes fn inside a database transaction, retrying bounded
// times when an optimistic-lock conflict aborts the unit.
func (s *WalletService) runAtomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoffBase << (attempt - 1)):
			}
			s.log.Warnw("retrying ledger commit", "attempt", attempt+1)
		}
		err = s.repo.DB(ctx).Transaction(fn)
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
	}
	return err
}

// resolveReference generates a reference when the caller supplied none and
// rejects duplicates when it did.
func (s *WalletService) resolveReference(ctx context.Context, tx *gorm.DB, ref string) (string, error) {
	if ref == "" {
		return reference.Generate(), nil
	}
	exists, err := s.repo.ReferenceExists(ctx, tx, ref)
	if err != nil {
		return "", err
	}
	if exists {
		return "", repo.ErrDuplicateReference
	}
	return ref, nil
}

// checkLimits enforces the wallet's daily and monthly debit ceilings. It
// sums committed outflows inside the current transaction, so two concurrent
// withdrawals cannot both slip under a limit.
func (s *WalletService) checkLimits(ctx context.Context, tx *gorm.DB, w *model.Wallet, amount decimal.Decimal) error {
	now := time.Now()
	if w.DailyLimit.IsPositive() {
		spent, err := s.repo.SumDebits(ctx, tx, w.ID, startOfDay(now))
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(w.DailyLimit) {
			return ErrLimitExceeded
		}
	}
	if w.MonthlyLimit.IsPositive() {
		spent, err := s.repo.SumDebits(ctx, tx, w.ID, startOfMonth(now))
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(w.MonthlyLimit) {
			return ErrLimitExceeded
		}
	}
	return nil
}

func (s *WalletService) emitEvent(ctx context.Context, tx *gorm.DB, eventType, walletID string, txn *model.Transaction, balance decimal.Decimal) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"reference": txn.Reference,
		"type":      txn.Type,
		"amount":    txn.Amount,
		"currency":  txn.Currency,
		"balance":   balance,
	})
	evt := &model.OutboxEvent{
		Aggregate: "Wallet", AggregateID: walletID, EventType: eventType, Payload: string(payload),
	}
	return s.repo.CreateOutboxEvent(ctx, tx, evt)
}

// cacheBalance is best effort; a cold cache only costs the next read a trip
// to the store.
func (s *WalletService) cacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) {
	if err := s.repo.CacheBalance(ctx, walletID, bal); err != nil {
		s.log.Warnw("balance cache write failed", "wallet_id", walletID, "err", err)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
