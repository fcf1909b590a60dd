package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Mhixter/FintoMonie/internal/logger"
	"github.com/Mhixter/FintoMonie/internal/model"
	"github.com/Mhixter/FintoMonie/internal/repo"
)

var testDBSeq uint64

// newTestService wires the service against an isolated in-memory SQLite
// ledger and a mock Redis. Cache traffic is best effort in the service, so
// the mock needs no scripted expectations; every command simply misses.
func newTestService(t *testing.T) (*WalletService, context.Context) {
	t.Helper()

	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddUint64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.OutboxEvent{}))

	// a single connection keeps SQLite from returning busy errors under
	// concurrent transactions
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	rdb, _ := redismock.NewClientMock()
	log, err := logger.NewLogger()
	require.NoError(t, err)

	repository := repo.NewRepository(db, rdb, nil, log)
	return NewWalletService(repository, log), context.Background()
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateWallet(t *testing.T) {
	svc, ctx := newTestService(t)

	w, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	assert.Equal(t, "NGN", w.Currency)
	assert.Len(t, w.AccountNumber, 10)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.IsActive)

	// one wallet per owner
	_, err = svc.CreateWallet(ctx, "owner-1", "")
	assert.ErrorIs(t, err, repo.ErrWalletExists)
}

func TestDeposit_IntoEmptyWallet(t *testing.T) {
	svc, ctx := newTestService(t)
	w, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)

	txn, bal, err := svc.Deposit(ctx, "owner-1", d(10_000), "salary", "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(10_000)))
	assert.Equal(t, model.TypeCredit, txn.Type)
	assert.Equal(t, model.StatusSuccess, txn.Status)
	require.NotNil(t, txn.ToWalletID)
	assert.Equal(t, w.ID, *txn.ToWalletID)
	assert.Nil(t, txn.FromWalletID)
	assert.NotNil(t, txn.ProcessedAt)
	assert.NotEmpty(t, txn.Reference)

	var count int64
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDeposit_Validation(t *testing.T) {
	svc, ctx := newTestService(t)
	_, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)

	_, _, err = svc.Deposit(ctx, "owner-1", d(0), "zero", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.Deposit(ctx, "owner-1", d(-5), "negative", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.Deposit(ctx, "nobody", d(100), "", "")
	assert.ErrorIs(t, err, repo.ErrWalletNotFound)
}

func TestDeposit_InactiveWallet(t *testing.T) {
	svc, ctx := newTestService(t)
	w, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Wallet{}).
		Where("id = ?", w.ID).Update("is_active", false).Error)

	_, _, err = svc.Deposit(ctx, "owner-1", d(100), "", "")
	assert.ErrorIs(t, err, ErrInactiveWallet)
}

func TestWithdraw_InsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	svc, ctx := newTestService(t)
	_, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	_, _, err = svc.Deposit(ctx, "owner-1", d(3_000), "seed", "")
	require.NoError(t, err)

	_, _, err = svc.Withdraw(ctx, "owner-1", d(5_000), "too much", "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	info, err := svc.GetBalance(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(d(3_000)))

	// only the seed deposit is recorded
	var count int64
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestWithdraw_Success(t *testing.T) {
	svc, ctx := newTestService(t)
	w, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	_, _, err = svc.Deposit(ctx, "owner-1", d(10_000), "seed", "")
	require.NoError(t, err)

	txn, bal, err := svc.Withdraw(ctx, "owner-1", d(4_000), "rent", "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(6_000)))
	assert.Equal(t, model.TypeDebit, txn.Type)
	require.NotNil(t, txn.FromWalletID)
	assert.Equal(t, w.ID, *txn.FromWalletID)
	assert.Nil(t, txn.ToWalletID)
}

func TestTransfer_MovesMoneyWithOneRecord(t *testing.T) {
	svc, ctx := newTestService(t)
	wa, err := svc.CreateWallet(ctx, "alice", "")
	require.NoError(t, err)
	wb, err := svc.CreateWallet(ctx, "bob", "")
	require.NoError(t, err)

	_, _, err = svc.Deposit(ctx, "alice", d(5_000), "seed", "")
	require.NoError(t, err)
	_, _, err = svc.Deposit(ctx, "bob", d(1_000), "seed", "")
	require.NoError(t, err)

	txn, senderBal, err := svc.Transfer(ctx, "alice", d(2_000), wb.AccountNumber, "gift", "")
	require.NoError(t, err)
	assert.True(t, senderBal.Equal(d(3_000)))
	assert.Equal(t, model.TypeTransfer, txn.Type)
	require.NotNil(t, txn.FromWalletID)
	require.NotNil(t, txn.ToWalletID)
	assert.Equal(t, wa.ID, *txn.FromWalletID)
	assert.Equal(t, wb.ID, *txn.ToWalletID)

	bob, err := svc.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Balance.Equal(d(3_000)))

	// exactly one transfer row, visible in both histories
	var count int64
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Transaction{}).
		Where("type = ?", model.TypeTransfer).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTransfer_Failures(t *testing.T) {
	svc, ctx := newTestService(t)
	wa, err := svc.CreateWallet(ctx, "alice", "")
	require.NoError(t, err)
	_, _, err = svc.Deposit(ctx, "alice", d(5_000), "seed", "")
	require.NoError(t, err)
	wu, err := svc.CreateWallet(ctx, "usd-owner", "USD")
	require.NoError(t, err)
	wc, err := svc.CreateWallet(ctx, "carol", "")
	require.NoError(t, err)

	_, _, err = svc.Transfer(ctx, "alice", d(100), "9099999999", "", "")
	assert.ErrorIs(t, err, repo.ErrWalletNotFound, "unknown recipient account")

	_, _, err = svc.Transfer(ctx, "alice", d(100), wa.AccountNumber, "", "")
	assert.ErrorIs(t, err, ErrSameWalletTransfer)

	_, _, err = svc.Transfer(ctx, "alice", d(100), wu.AccountNumber, "", "")
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, _, err = svc.Transfer(ctx, "alice", d(50_000), wc.AccountNumber, "", "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// sender untouched by any of the failures
	info, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(d(5_000)))
}

func TestDuplicateReference_SecondAttemptRejected(t *testing.T) {
	svc, ctx := newTestService(t)
	_, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)

	_, _, err = svc.Deposit(ctx, "owner-1", d(500), "first", "TXN_CLIENT_42")
	require.NoError(t, err)

	_, _, err = svc.Deposit(ctx, "owner-1", d(500), "replay", "TXN_CLIENT_42")
	assert.ErrorIs(t, err, repo.ErrDuplicateReference)

	// exactly one committed transaction for the reference
	var count int64
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Transaction{}).
		Where("reference = ?", "TXN_CLIENT_42").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	info, err := svc.GetBalance(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(d(500)))
}

func TestDailyLimit_Enforced(t *testing.T) {
	svc, ctx := newTestService(t)
	w, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Wallet{}).
		Where("id = ?", w.ID).Update("daily_limit", d(1_000)).Error)
	_, _, err = svc.Deposit(ctx, "owner-1", d(10_000), "seed", "")
	require.NoError(t, err)

	_, _, err = svc.Withdraw(ctx, "owner-1", d(800), "first", "")
	require.NoError(t, err)

	// 800 spent today, 300 more would breach the 1000 ceiling
	_, _, err = svc.Withdraw(ctx, "owner-1", d(300), "second", "")
	assert.ErrorIs(t, err, ErrLimitExceeded)

	_, _, err = svc.Withdraw(ctx, "owner-1", d(200), "exact fit", "")
	assert.NoError(t, err)
}

func TestMonthlyLimit_CountsTransfersAsOutflow(t *testing.T) {
	svc, ctx := newTestService(t)
	w, err := svc.CreateWallet(ctx, "alice", "")
	require.NoError(t, err)
	wb, err := svc.CreateWallet(ctx, "bob", "")
	require.NoError(t, err)
	require.NoError(t, svc.Repo().DB(ctx).Model(&model.Wallet{}).
		Where("id = ?", w.ID).Update("monthly_limit", d(2_000)).Error)
	_, _, err = svc.Deposit(ctx, "alice", d(10_000), "seed", "")
	require.NoError(t, err)

	_, _, err = svc.Transfer(ctx, "alice", d(1_500), wb.AccountNumber, "", "")
	require.NoError(t, err)

	_, _, err = svc.Withdraw(ctx, "alice", d(600), "breaches monthly", "")
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestConservation_TransfersPreserveTotal(t *testing.T) {
	svc, ctx := newTestService(t)
	owners := []string{"o1", "o2", "o3"}
	accounts := make([]string, len(owners))
	for i, o := range owners {
		w, err := svc.CreateWallet(ctx, o, "")
		require.NoError(t, err)
		accounts[i] = w.AccountNumber
		_, _, err = svc.Deposit(ctx, o, d(10_000), "seed", "")
		require.NoError(t, err)
	}

	moves := []struct {
		from   string
		to     int
		amount int64
	}{
		{"o1", 1, 2_500}, {"o2", 2, 700}, {"o3", 0, 4_000},
		{"o2", 0, 1_200}, {"o1", 2, 900},
	}
	for _, m := range moves {
		_, _, err := svc.Transfer(ctx, m.from, d(m.amount), accounts[m.to], "", "")
		require.NoError(t, err)
	}

	total := decimal.Zero
	for _, o := range owners {
		info, err := svc.GetBalance(ctx, o)
		require.NoError(t, err)
		assert.True(t, info.Balance.GreaterThanOrEqual(decimal.Zero))
		total = total.Add(info.Balance)
	}
	assert.True(t, total.Equal(d(30_000)), "transfers must not create or destroy money, got %s", total)
}

func TestGetHistory_PaginatedNewestFirst(t *testing.T) {
	svc, ctx := newTestService(t)
	_, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	wb, err := svc.CreateWallet(ctx, "owner-2", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = svc.Deposit(ctx, "owner-1", d(1_000), "seed", "")
		require.NoError(t, err)
	}
	_, _, err = svc.Withdraw(ctx, "owner-1", d(500), "out", "")
	require.NoError(t, err)
	_, _, err = svc.Transfer(ctx, "owner-1", d(200), wb.AccountNumber, "move", "")
	require.NoError(t, err)

	txs, page, err := svc.GetHistory(ctx, "owner-1", 1, 3)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.EqualValues(t, 5, page.Total)
	assert.EqualValues(t, 2, page.Pages)
	for i := 1; i < len(txs); i++ {
		assert.False(t, txs[i-1].CreatedAt.Before(txs[i].CreatedAt), "history must be newest first")
	}

	// the transfer shows up for the recipient too
	recv, _, err := svc.GetHistory(ctx, "owner-2", 1, 10)
	require.NoError(t, err)
	require.Len(t, recv, 1)
	assert.Equal(t, model.TypeTransfer, recv[0].Type)
	assert.True(t, recv[0].Touches(wb.ID))

	_, _, err = svc.GetHistory(ctx, "nobody", 1, 10)
	assert.ErrorIs(t, err, repo.ErrWalletNotFound)
}

func TestGetBalance_FallsBackToStoreOnCacheMiss(t *testing.T) {
	svc, ctx := newTestService(t)
	w, err := svc.CreateWallet(ctx, "owner-1", "")
	require.NoError(t, err)
	_, _, err = svc.Deposit(ctx, "owner-1", d(750), "seed", "")
	require.NoError(t, err)

	info, err := svc.GetBalance(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(d(750)))
	assert.Equal(t, w.AccountNumber, info.AccountNumber)
	assert.Equal(t, "NGN", info.Currency)
}
