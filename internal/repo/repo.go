package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Mhixter/FintoMonie/internal/model"
)

// Store-level errors. Business validation errors live in the service layer.
var (
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletExists       = errors.New("wallet already exists for owner")
	ErrDuplicateReference = errors.New("duplicate transaction reference")
	// ErrConflict means an atomic unit lost an optimistic-lock race and the
	// caller should retry or surface the failure.
	ErrConflict = errors.New("ledger write conflict")
)

// RepositoryInterface restricts Repo methods (unit test mocks).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	GetWalletByOwner(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Wallet, error)
	GetWalletByAccountNumber(ctx context.Context, tx *gorm.DB, accountNumber string) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	ReferenceExists(ctx context.Context, tx *gorm.DB, reference string) (bool, error)
	SumDebits(ctx context.Context, tx *gorm.DB, walletID string, since time.Time) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, walletID string, offset, limit int) ([]model.Transaction, int64, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface over Postgres, Redis and Kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateWallet inserts a wallet row; one wallet per owner.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	err := tx.WithContext(ctx).Create(w).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrWalletExists
	}
	return err
}

// GetWalletByOwner resolves the owner's single wallet.
func (r *Repository) GetWalletByOwner(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWalletByAccountNumber resolves a transfer recipient.
func (r *Repository) GetWalletByAccountNumber(ctx context.Context, tx *gorm.DB, accountNumber string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("account_number = ?", accountNumber).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks the wallet row for the enclosing transaction.
// sqlite (used in tests) has no row locks; there the version guard in
// UpdateWalletBalance is the only serialization token.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w model.Wallet
	if err := q.Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// UpdateWalletBalance writes the new balance guarded by the version the
// caller read. Zero rows affected means a concurrent writer won the race.
func (r *Repository) UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// CreateTransaction inserts a ledger record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	err := tx.WithContext(ctx).Create(t).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateReference
	}
	return err
}

// ReferenceExists checks a caller-supplied reference before committing.
func (r *Repository) ReferenceExists(ctx context.Context, tx *gorm.DB, reference string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&model.Transaction{}).
		Where("reference = ?", reference).Count(&count).Error
	return count > 0, err
}

// SumDebits totals successful debit-class outflows from a wallet since the
// given instant. Runs inside the caller's transaction so limit checks see
// the same snapshot as the balance mutation.
func (r *Repository) SumDebits(ctx context.Context, tx *gorm.DB, walletID string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	row := tx.WithContext(ctx).Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("from_wallet_id = ? AND status = ? AND created_at >= ?", walletID, model.StatusSuccess, since).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// ListTransactions returns a page of a wallet's history, newest first, with
// the total count for pagination.
func (r *Repository) ListTransactions(ctx context.Context, walletID string, offset, limit int) ([]model.Transaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("from_wallet_id = ? OR to_wallet_id = ?", walletID, walletID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []model.Transaction
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&txs).Error
	return txs, total, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, "balance:"+walletID, bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, "balance:"+walletID).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
