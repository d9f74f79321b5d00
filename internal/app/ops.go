package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/repository"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

// initOpsServer 初始化重发工作器的运维 API
//
// 提供积压查看、手动重发、失败消息重置与钱包登录挑战。
func (a *App) initOpsServer() {
	if a.cfg.Service.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", a.handleHealthz)
	router.GET("/stats", a.handleStats)
	router.GET("/transactions", a.handleListTransactions)
	router.GET("/transactions/unsent", a.handleListUnsent)
	router.POST("/transactions/retry", a.handleRetry)
	router.POST("/inbox/reset-failed", a.handleResetFailed)
	router.POST("/auth/challenge", a.handleAuthChallenge)
	router.POST("/auth/verify", a.handleAuthVerify)

	a.opsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.OpsPort),
		Handler: router,
	}
}

func (a *App) handleHealthz(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStats 按状态统计交易与收件箱积压
func (a *App) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	txCounts, err := a.txRepo.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	inboxCounts, err := a.inboxRepo.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txCounts,
		"inbox":        inboxCounts,
	})
}

// handleListTransactions 按钱包地址分页查询交易
func (a *App) handleListTransactions(c *gin.Context) {
	var query struct {
		Wallet   string `form:"wallet" binding:"required"`
		Page     int    `form:"page"`
		PageSize int    `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &repository.Pagination{Page: query.Page, PageSize: query.PageSize}
	txs, err := a.txRepo.ListByWallet(c.Request.Context(), query.Wallet, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pagination": p, "transactions": txs})
}

func (a *App) handleListUnsent(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txs, err := a.retrySvc.ListUnsent(c.Request.Context(), query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(txs), "transactions": txs})
}

// handleRetry 手动触发一轮重发
func (a *App) handleRetry(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	// 请求体可省略, 省略时用默认批量
	_ = c.ShouldBindJSON(&req)

	results, err := a.retrySvc.RetryAll(c.Request.Context(), req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Info("manual retry triggered", zap.Int("count", len(results)))
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleResetFailed 把失败的收件箱消息重置为待处理
func (a *App) handleResetFailed(c *gin.Context) {
	n, err := a.inboxRepo.ResetFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Info("failed inbox rows reset", zap.Int64("count", n))
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (a *App) handleAuthChallenge(c *gin.Context) {
	var req struct {
		Wallet string `json:"wallet" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	challenge, err := a.nonceSvc.IssueChallenge(c.Request.Context(), req.Wallet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (a *App) handleAuthVerify(c *gin.Context) {
	var req struct {
		Wallet    string `json:"wallet" binding:"required"`
		Nonce     string `json:"nonce" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.nonceSvc.VerifySignature(c.Request.Context(), req.Wallet, req.Nonce, req.Signature); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}
