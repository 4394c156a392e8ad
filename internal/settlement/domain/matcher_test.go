package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchPair(t *testing.T) (*SettlementInstruction, *SettlementInstruction) {
	t.Helper()
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	buy := &SettlementInstruction{
		InstructionID:    "SI-BUY-1",
		ISIN:             "US0378331005",
		Quantity:         decimal.NewFromInt(500),
		NetAmount:        decimal.NewFromInt(50000),
		SettlementDate:   date,
		Status:           StatusPending,
		OriginalQuantity: decimal.NewFromInt(500),
		PendingQuantity:  decimal.NewFromInt(500),
		MaxRetry:         3,
	}
	sell := &SettlementInstruction{
		InstructionID:    "SI-SELL-1",
		ISIN:             "US0378331005",
		Quantity:         decimal.NewFromInt(500),
		NetAmount:        decimal.NewFromInt(50000),
		SettlementDate:   date,
		Status:           StatusPending,
		OriginalQuantity: decimal.NewFromInt(500),
		PendingQuantity:  decimal.NewFromInt(500),
		MaxRetry:         3,
	}
	return buy, sell
}

func TestMatchWithinAmountTolerance(t *testing.T) {
	buy, sell := matchPair(t)
	sell.NetAmount = decimal.NewFromFloat(50000.004)

	result := NewMatcher(DefaultTolerances()).Match(buy, sell)

	assert.True(t, result.Matched)
	assert.Empty(t, result.UnmatchedFields)
	assert.ElementsMatch(t, []string{FieldISIN, FieldSettlementDate, FieldQuantity, FieldNetAmount}, result.MatchedFields)
}

func TestMatchAmountOutsideTolerance(t *testing.T) {
	buy, sell := matchPair(t)
	sell.NetAmount = decimal.NewFromFloat(50001.50)

	result := NewMatcher(DefaultTolerances()).Match(buy, sell)

	assert.False(t, result.Matched)
	require.Len(t, result.UnmatchedFields, 1)
	diff := result.UnmatchedFields[0]
	assert.Equal(t, FieldNetAmount, diff.Field)
	assert.Equal(t, "50000", diff.BuyValue)
	assert.Equal(t, "50001.5", diff.SellValue)
	assert.True(t, diff.Variance.Equal(decimal.NewFromFloat(1.5)), "variance is sell minus buy")
}

func TestMatchExactFieldsHaveNoTolerance(t *testing.T) {
	buy, sell := matchPair(t)
	sell.ISIN = "US0378331004"
	sell.SettlementDate = sell.SettlementDate.AddDate(0, 0, 1)

	result := NewMatcher(DefaultTolerances()).Match(buy, sell)

	assert.False(t, result.Matched)
	require.Len(t, result.UnmatchedFields, 2)
	assert.Equal(t, FieldISIN, result.UnmatchedFields[0].Field)
	assert.Equal(t, "exact", result.UnmatchedFields[0].Tolerance)
	assert.Equal(t, FieldSettlementDate, result.UnmatchedFields[1].Field)
}

func TestMatchIsDeterministic(t *testing.T) {
	buy, sell := matchPair(t)
	sell.Quantity = decimal.NewFromInt(499)
	matcher := NewMatcher(DefaultTolerances())

	first := matcher.Match(buy, sell)
	second := matcher.Match(buy, sell)

	assert.Equal(t, first.Matched, second.Matched)
	assert.Equal(t, first.MatchedFields, second.MatchedFields)
	assert.Equal(t, first.UnmatchedFields, second.UnmatchedFields)
	assert.Equal(t, StatusPending, buy.Status, "matching has no side effects")
	assert.Equal(t, StatusPending, sell.Status)
}

func TestAssignMatchAdvancesBothSides(t *testing.T) {
	buy, sell := matchPair(t)
	result := NewMatcher(DefaultTolerances()).Match(buy, sell)
	require.True(t, result.Matched)

	require.NoError(t, AssignMatch(result, "MTH-77", "matcher", buy, sell))

	assert.Equal(t, "MTH-77", result.MatchID)
	assert.False(t, result.MatchedAt.IsZero())
	assert.Equal(t, StatusMatched, buy.Status)
	assert.Equal(t, StatusMatched, sell.Status)
	assert.Equal(t, "MTH-77", buy.MatchID)
	assert.Equal(t, "MTH-77", sell.MatchID)
}

func TestAssignMatchRejectsUnmatchedResult(t *testing.T) {
	buy, sell := matchPair(t)
	sell.NetAmount = decimal.NewFromInt(60000)
	result := NewMatcher(DefaultTolerances()).Match(buy, sell)
	require.False(t, result.Matched)

	err := AssignMatch(result, "MTH-78", "matcher", buy, sell)
	assert.Error(t, err)
	assert.Empty(t, result.MatchID)
	assert.Equal(t, StatusPending, buy.Status)
}
