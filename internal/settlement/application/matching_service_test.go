package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

func storedInstruction(t *testing.T, repo *fakeInstructionRepo, id, tradeID string, netAmount int64) *domain.SettlementInstruction {
	t.Helper()
	ins := &domain.SettlementInstruction{
		InstructionID:    id,
		TradeID:          tradeID,
		ISIN:             "US0378331005",
		Currency:         "USD",
		NetAmount:        decimal.NewFromInt(netAmount),
		Quantity:         decimal.NewFromInt(500),
		SettlementDate:   time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
		Status:           domain.StatusPending,
		OriginalQuantity: decimal.NewFromInt(500),
		PendingQuantity:  decimal.NewFromInt(500),
		MaxRetry:         3,
		Version:          1,
	}
	require.NoError(t, repo.Save(context.Background(), ins))
	return ins
}

func TestMatchPersistsBothSides(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := NewMatchingService(repo, domain.DefaultTolerances(), publisher, discardLogger())

	buy := storedInstruction(t, repo, "SI-BUY", "TRD-B", 50000)
	sell := storedInstruction(t, repo, "SI-SELL", "TRD-S", 50000)

	result, err := svc.Match(context.Background(), &MatchRequest{
		BuyInstructionID:  buy.InstructionID,
		SellInstructionID: sell.InstructionID,
		Actor:             "matcher",
	})
	require.NoError(t, err)

	assert.True(t, result.Matched)
	assert.NotEmpty(t, result.MatchID)
	assert.Equal(t, domain.StatusMatched, buy.Status)
	assert.Equal(t, domain.StatusMatched, sell.Status)
	assert.Equal(t, buy.MatchID, sell.MatchID)
	assert.Equal(t, []string{domain.TopicInstructionMatched}, publisher.topics())
}

func TestMatchUnmatchedLeavesStateUntouched(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := NewMatchingService(repo, domain.DefaultTolerances(), publisher, discardLogger())

	buy := storedInstruction(t, repo, "SI-BUY", "TRD-B", 50000)
	sell := storedInstruction(t, repo, "SI-SELL", "TRD-S", 60000)

	result, err := svc.Match(context.Background(), &MatchRequest{
		BuyInstructionID:  buy.InstructionID,
		SellInstructionID: sell.InstructionID,
		Actor:             "matcher",
	})
	require.NoError(t, err, "a non-match is a result, not an error")

	assert.False(t, result.Matched)
	require.Len(t, result.UnmatchedFields, 1)
	assert.Equal(t, domain.StatusPending, buy.Status)
	assert.Equal(t, domain.StatusPending, sell.Status)
	assert.Empty(t, publisher.events)
}

func TestMatchUnknownInstruction(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := NewMatchingService(repo, domain.DefaultTolerances(), &fakePublisher{}, discardLogger())

	storedInstruction(t, repo, "SI-BUY", "TRD-B", 50000)

	_, err := svc.Match(context.Background(), &MatchRequest{
		BuyInstructionID:  "SI-BUY",
		SellInstructionID: "SI-GHOST",
		Actor:             "matcher",
	})
	assert.ErrorIs(t, err, domain.ErrInstructionNotFound)
}
