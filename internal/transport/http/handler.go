package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Mhixter/FintoMonie/internal/loan"
	"github.com/Mhixter/FintoMonie/internal/repo"
	"github.com/Mhixter/FintoMonie/internal/service"
)

func RegisterHandlers(r *gin.Engine, svc *service.WalletService) {
	v1 := r.Group("/v1")
	v1.Use(IdentityMiddleware())
	{
		v1.POST("/wallets", createWalletHandler(svc))
		v1.GET("/wallet/balance", balanceHandler(svc))
		v1.POST("/wallet/deposit", depositHandler(svc))
		v1.POST("/wallet/withdraw", withdrawHandler(svc))
		v1.POST("/wallet/transfer", transferHandler(svc))
		v1.GET("/wallet/transactions", historyHandler(svc))
		v1.POST("/loans/quote", loanQuoteHandler())
	}
}

type createWalletReq struct {
	Currency string `json:"currency"`
}

func createWalletHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWalletReq
		// body is optional; currency defaults to NGN
		_ = c.ShouldBindJSON(&req)
		w, err := svc.CreateWallet(c, ownerID(c), req.Currency)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"id":            w.ID,
			"accountNumber": w.AccountNumber,
			"currency":      w.Currency,
			"balance":       w.Balance,
		})
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.GetBalance(c, ownerID(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

type moveMoneyReq struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

func depositHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req moveMoneyReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		txn, bal, err := svc.Deposit(c, ownerID(c), amt, req.Description, req.Reference)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": txn, "newBalance": bal})
	}
}

func withdrawHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req moveMoneyReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		txn, bal, err := svc.Withdraw(c, ownerID(c), amt, req.Description, req.Reference)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": txn, "newBalance": bal})
	}
}

type transferReq struct {
	Amount                 string `json:"amount" binding:"required"`
	RecipientAccountNumber string `json:"recipientAccountNumber" binding:"required"`
	Description            string `json:"description"`
	Reference              string `json:"reference"`
}

func transferHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		txn, bal, err := svc.Transfer(c, ownerID(c), amt, req.RecipientAccountNumber, req.Description, req.Reference)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": txn, "newBalance": bal})
	}
}

func historyHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		txs, pagination, err := svc.GetHistory(c, ownerID(c), page, limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs, "pagination": pagination})
	}
}

type loanQuoteReq struct {
	Amount         string  `json:"amount" binding:"required"`
	DurationMonths int     `json:"durationMonths" binding:"required"`
	AnnualRate     float64 `json:"annualRate"`
}

func loanQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loanQuoteReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		rate := req.AnnualRate
		if rate == 0 {
			rate = loan.AnnualRate
		}
		quote, err := loan.NewQuote(amt, rate, req.DurationMonths)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, quote)
	}
}

// abortWithError maps the ledger error taxonomy onto HTTP statuses. Every
// failure keeps its specific kind; nothing collapses into a generic 500
// except genuinely unknown errors.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repo.ErrWalletNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrInactiveWallet),
		errors.Is(err, service.ErrSameWalletTransfer),
		errors.Is(err, service.ErrCurrencyMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrLimitExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, repo.ErrDuplicateReference),
		errors.Is(err, repo.ErrWalletExists),
		errors.Is(err, repo.ErrConflict):
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
