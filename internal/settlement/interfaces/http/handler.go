package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/settlementengine/internal/settlement/application"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

const dateLayout = "2006-01-02"

// SettlementHandler HTTP 处理器
// 负责处理结算引擎全部对外 HTTP 请求
type SettlementHandler struct {
	instructions   *application.InstructionService
	matching       *application.MatchingService
	netting        *application.NettingService
	reconciliation *application.ReconciliationService
	risk           *application.RiskService
}

// NewSettlementHandler 创建 HTTP 处理器实例
func NewSettlementHandler(
	instructions *application.InstructionService,
	matching *application.MatchingService,
	netting *application.NettingService,
	reconciliation *application.ReconciliationService,
	risk *application.RiskService,
) *SettlementHandler {
	return &SettlementHandler{
		instructions:   instructions,
		matching:       matching,
		netting:        netting,
		reconciliation: reconciliation,
		risk:           risk,
	}
}

// RegisterRoutes 注册路由
func (h *SettlementHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/settlement")
	{
		api.POST("/instructions", h.CreateInstruction)
		api.GET("/instructions/:id", h.GetInstruction)
		api.GET("/instructions/:id/validate", h.ValidateInstruction)
		api.POST("/instructions/:id/confirm", h.ConfirmInstruction)
		api.POST("/instructions/:id/settle", h.SettleDVP)
		api.POST("/instructions/:id/partial-delivery", h.PartialDelivery)
		api.POST("/instructions/:id/cancel", h.CancelInstruction)
		api.POST("/instructions/:id/amend", h.AmendInstruction)
		api.POST("/instructions/:id/retry", h.RetryInstruction)
		api.POST("/instructions/:id/submit", h.SubmitToClearingHouse)
		api.POST("/confirmations/:clearing_house_id", h.ApplyConfirmation)

		api.POST("/matches", h.Match)

		api.POST("/netting/compute", h.ComputeNetting)
		api.POST("/netting/eod", h.RunEndOfDayNetting)
		api.GET("/netting/:id", h.GetNettingGroup)
		api.POST("/netting/:id/settle-as-net", h.SettleAsNet)

		api.POST("/reconciliation/trades", h.ReconcileTrades)
		api.POST("/reconciliation/positions", h.ReconcilePositions)
		api.GET("/reconciliation/breaks", h.ListOpenBreaks)
		api.POST("/reconciliation/breaks/:id/resolve", h.ResolveBreak)

		api.GET("/risk/instructions/:id/exposure", h.InstructionExposure)
		api.GET("/risk/instructions/:id/herstatt", h.AssessHerstatt)
		api.GET("/risk/counterparties/:id/exposure", h.CounterpartyExposure)
	}
}

// CreateInstruction 创建结算指令
func (h *SettlementHandler) CreateInstruction(c *gin.Context) {
	var req application.CreateInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dto, validation, err := h.instructions.CreateInstruction(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	if dto == nil {
		// 校验硬错误，指令未落库
		c.JSON(http.StatusUnprocessableEntity, gin.H{"validation": validation})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"instruction": dto, "validation": validation})
}

// GetInstruction 查询结算指令
func (h *SettlementHandler) GetInstruction(c *gin.Context) {
	ins, err := h.instructions.GetInstruction(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ins)
}

// ValidateInstruction 重新校验指令
func (h *SettlementHandler) ValidateInstruction(c *gin.Context) {
	result, err := h.instructions.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type actorRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// ConfirmInstruction 确认指令
func (h *SettlementHandler) ConfirmInstruction(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.instructions.Confirm(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// SettleDVP 执行 DVP 交收
func (h *SettlementHandler) SettleDVP(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.instructions.SettleDVP(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// PartialDelivery 部分交收
func (h *SettlementHandler) PartialDelivery(c *gin.Context) {
	var req application.PartialDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.InstructionID = c.Param("id")

	dto, err := h.instructions.PartialDelivery(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// CancelInstruction 取消指令
func (h *SettlementHandler) CancelInstruction(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.instructions.Cancel(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// AmendInstruction 修改指令
func (h *SettlementHandler) AmendInstruction(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.instructions.Amend(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, dto)
}

// RetryInstruction 重试失败指令
func (h *SettlementHandler) RetryInstruction(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.instructions.Retry(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// SubmitToClearingHouse 向清算所提交指令
func (h *SettlementHandler) SubmitToClearingHouse(c *gin.Context) {
	submissionID, err := h.instructions.SubmitToClearingHouse(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission_id": submissionID})
}

// ApplyConfirmation 应用清算所回报（原始报文透传给对应解析器）
func (h *SettlementHandler) ApplyConfirmation(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.instructions.ApplyConfirmation(c.Request.Context(), c.Param("clearing_house_id"), raw)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// Match 匹配买卖双边指令
func (h *SettlementHandler) Match(c *gin.Context) {
	var req application.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.matching.Match(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ComputeNettingRequest 净额计算请求
type ComputeNettingRequest struct {
	Counterparty   string `json:"counterparty" binding:"required"`
	SettlementDate string `json:"settlement_date" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
}

// ComputeNetting 按对手方计算净额组
func (h *SettlementHandler) ComputeNetting(c *gin.Context) {
	var req ComputeNettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse(dateLayout, req.SettlementDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "settlement_date must be YYYY-MM-DD"})
		return
	}
	group, err := h.netting.ComputeForCounterparty(c.Request.Context(), req.Counterparty, date, req.Currency)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, group)
}

// RunEODNettingRequest 日终净额请求
type RunEODNettingRequest struct {
	SettlementDate string `json:"settlement_date" binding:"required"`
	BatchLimit     int    `json:"batch_limit"`
}

// RunEndOfDayNetting 日终批量净额
func (h *SettlementHandler) RunEndOfDayNetting(c *gin.Context) {
	var req RunEODNettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse(dateLayout, req.SettlementDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "settlement_date must be YYYY-MM-DD"})
		return
	}
	if req.BatchLimit <= 0 {
		req.BatchLimit = 10000
	}
	batch, err := h.netting.RunEndOfDay(c.Request.Context(), date, req.BatchLimit)
	if err != nil {
		// 部分分区失败时依旧返回已算出的批次结果
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "batch": batch})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// GetNettingGroup 查询净额组
func (h *SettlementHandler) GetNettingGroup(c *gin.Context) {
	group, err := h.netting.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, group)
}

// SettleAsNet 按净额交收
func (h *SettlementHandler) SettleAsNet(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := h.netting.MarkSettledAsNet(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, group)
}

// ReconcileTradesRequest 成交对账请求
type ReconcileTradesRequest struct {
	Date   string `json:"date" binding:"required"`
	Trades []struct {
		TradeID   string `json:"trade_id"`
		ISIN      string `json:"isin"`
		Quantity  string `json:"quantity"`
		Price     string `json:"price"`
		TradeDate string `json:"trade_date"`
	} `json:"trades"`
}

// ReconcileTrades 成交对结算指令对账
func (h *SettlementHandler) ReconcileTrades(c *gin.Context) {
	var req ReconcileTradesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	trades := make([]domain.TradeCapture, 0, len(req.Trades))
	for _, t := range req.Trades {
		quantity, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity for trade " + t.TradeID})
			return
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price for trade " + t.TradeID})
			return
		}
		tradeDate, err := time.Parse(dateLayout, t.TradeDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade_date for trade " + t.TradeID})
			return
		}
		trades = append(trades, domain.TradeCapture{
			TradeID:   t.TradeID,
			ISIN:      t.ISIN,
			Quantity:  quantity,
			Price:     price,
			TradeDate: tradeDate,
		})
	}

	report, err := h.reconciliation.ReconcileTrades(c.Request.Context(), date, trades)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ReconcilePositionsRequest 头寸对账请求
type ReconcilePositionsRequest struct {
	Positions []struct {
		Account  string `json:"account"`
		ISIN     string `json:"isin"`
		Quantity string `json:"quantity"`
	} `json:"positions" binding:"required"`
}

// ReconcilePositions 内部头寸对托管方对账
func (h *SettlementHandler) ReconcilePositions(c *gin.Context) {
	var req ReconcilePositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book := make([]domain.BookPosition, 0, len(req.Positions))
	for _, p := range req.Positions {
		quantity, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity for " + p.Account + "/" + p.ISIN})
			return
		}
		book = append(book, domain.BookPosition{Account: p.Account, ISIN: p.ISIN, Quantity: quantity})
	}

	report, err := h.reconciliation.ReconcilePositions(c.Request.Context(), book)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListOpenBreaks 查询未处置差异
func (h *SettlementHandler) ListOpenBreaks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	breaks, err := h.reconciliation.ListOpenBreaks(c.Request.Context(), limit)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"breaks": breaks})
}

// ResolveBreak 处置差异
func (h *SettlementHandler) ResolveBreak(c *gin.Context) {
	var req application.ResolveBreakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.BreakID = c.Param("id")

	brk, err := h.reconciliation.ResolveBreak(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, brk)
}

// InstructionExposure 单指令风险分解
func (h *SettlementHandler) InstructionExposure(c *gin.Context) {
	exposure, err := h.risk.InstructionExposure(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exposure)
}

// AssessHerstatt 跨币种时区风险评估
func (h *SettlementHandler) AssessHerstatt(c *gin.Context) {
	baseCurrency := c.Query("base_currency")
	assessment, err := h.risk.AssessHerstatt(c.Request.Context(), c.Param("id"), baseCurrency)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// CounterpartyExposure 对手方敞口评估
func (h *SettlementHandler) CounterpartyExposure(c *gin.Context) {
	limit, err := decimal.NewFromString(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a decimal"})
		return
	}
	exposure, err := h.risk.CounterpartyExposure(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exposure)
}

// statusForError 领域错误到 HTTP 状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInstructionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrBreakAlreadyResolved):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
