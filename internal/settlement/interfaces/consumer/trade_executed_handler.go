package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/settlementengine/internal/settlement/application"
)

const matchingTradeExecutedTopic = "matching.trade.executed"

// TradeExecutedHandler 消费撮合成交事件并生成结算指令。
type TradeExecutedHandler struct {
	instructions *application.InstructionService
	defaultCycle int
	logger       *slog.Logger
}

func NewTradeExecutedHandler(instructions *application.InstructionService, defaultCycle int, logger *slog.Logger) *TradeExecutedHandler {
	return &TradeExecutedHandler{
		instructions: instructions,
		defaultCycle: defaultCycle,
		logger:       logger,
	}
}

func (h *TradeExecutedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	if msg.Topic != matchingTradeExecutedTopic {
		return nil
	}

	var payload struct {
		TradeID        string `json:"trade_id"`
		ISIN           string `json:"isin"`
		Currency       string `json:"currency"`
		CountryOfIssue string `json:"country_of_issue"`
		Quantity       string `json:"quantity"`
		Price          string `json:"price"`
		BuyerAccount   string `json:"buyer_account"`
		SellerAccount  string `json:"seller_account"`
		BuyerCashAcct  string `json:"buyer_cash_account"`
		SellerCashAcct string `json:"seller_cash_account"`
		TradeDate      string `json:"trade_date"`
		SettlementType string `json:"settlement_type"`
	}

	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal trade executed event", "error", err)
		return err
	}
	if payload.TradeID == "" {
		return nil
	}

	tradeDate, err := time.Parse("2006-01-02", payload.TradeDate)
	if err != nil {
		h.logger.ErrorContext(ctx, "invalid trade date", "trade_id", payload.TradeID, "trade_date", payload.TradeDate, "error", err)
		return err
	}

	dto, validation, err := h.instructions.CreateInstruction(ctx, &application.CreateInstructionRequest{
		TradeID:        payload.TradeID,
		ISIN:           payload.ISIN,
		Currency:       payload.Currency,
		CountryOfIssue: payload.CountryOfIssue,
		Quantity:       payload.Quantity,
		Price:          payload.Price,
		BuyerAccount:   payload.BuyerAccount,
		SellerAccount:  payload.SellerAccount,
		BuyerCashAcct:  payload.BuyerCashAcct,
		SellerCashAcct: payload.SellerCashAcct,
		TradeDate:      tradeDate,
		SettlementType: payload.SettlementType,
		Cycle:          h.defaultCycle,
		CreatedBy:      "trade-feed",
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create instruction from event", "trade_id", payload.TradeID, "error", err)
		return err
	}
	if dto == nil {
		// 校验硬错误不重试，坏报文进不了交收流程
		h.logger.WarnContext(ctx, "trade rejected by validation",
			"trade_id", payload.TradeID, "errors", len(validation.Errors))
		return nil
	}
	return nil
}
