package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nettingInstruction(id, deliverFrom, deliverTo string, qty, amount int64) *SettlementInstruction {
	return &SettlementInstruction{
		InstructionID:    id,
		ISIN:             "US0378331005",
		Currency:         "USD",
		DeliverFrom:      deliverFrom,
		DeliverTo:        deliverTo,
		SettlementType:   SettlementDVP,
		Status:           StatusPending,
		NetAmount:        decimal.NewFromInt(amount),
		OriginalQuantity: decimal.NewFromInt(qty),
		PendingQuantity:  decimal.NewFromInt(qty),
	}
}

func TestComputeNetsBothSides(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	instructions := []*SettlementInstruction{
		// counterparty X receives 1000 securities and pays 50000 cash
		nettingInstruction("SI-1", "CPTY-Y", "CPTY-X", 1000, 50000),
		// counterparty X delivers 600 securities and receives 30000 cash
		nettingInstruction("SI-2", "CPTY-X", "CPTY-Y", 600, 30000),
	}

	group, err := NewNettingEngine().Compute("NET-1", "CPTY-X", date, "USD", instructions)
	require.NoError(t, err)

	assert.True(t, group.GrossSecuritiesReceivable.Equal(decimal.NewFromInt(1000)))
	assert.True(t, group.GrossSecuritiesPayable.Equal(decimal.NewFromInt(600)))
	assert.True(t, group.GrossCashReceivable.Equal(decimal.NewFromInt(30000)))
	assert.True(t, group.GrossCashPayable.Equal(decimal.NewFromInt(50000)))

	assert.True(t, group.NetSecurities.Equal(decimal.NewFromInt(400)))
	assert.True(t, group.NetCash.Equal(decimal.NewFromInt(-20000)))
	assert.True(t, group.Efficiency.Equal(decimal.NewFromFloat(0.75)))

	assert.Equal(t, "SI-1,SI-2", group.InstructionIDs)
	assert.Equal(t, NettingStatusAdvisory, group.Status)
}

func TestComputeConservation(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	instructions := []*SettlementInstruction{
		nettingInstruction("SI-1", "CPTY-Y", "CPTY-X", 750, 12000),
		nettingInstruction("SI-2", "CPTY-X", "CPTY-Z", 200, 9000),
		nettingInstruction("SI-3", "CPTY-X", "CPTY-W", 300, 4000),
	}

	group, err := NewNettingEngine().Compute("NET-2", "CPTY-X", date, "USD", instructions)
	require.NoError(t, err)

	assert.True(t, group.NetSecurities.Equal(group.GrossSecuritiesReceivable.Sub(group.GrossSecuritiesPayable)))
	assert.True(t, group.NetCash.Equal(group.GrossCashReceivable.Sub(group.GrossCashPayable)))
	assert.True(t, group.Efficiency.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, group.Efficiency.LessThanOrEqual(decimal.NewFromInt(1)))
}

func TestComputeSkipsIneligibleAndForeignCurrency(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	settled := nettingInstruction("SI-SETTLED", "CPTY-Y", "CPTY-X", 100, 5000)
	settled.Status = StatusSettled
	cancelled := nettingInstruction("SI-CANCELLED", "CPTY-Y", "CPTY-X", 100, 5000)
	cancelled.Status = StatusCancelled
	euro := nettingInstruction("SI-EUR", "CPTY-Y", "CPTY-X", 100, 5000)
	euro.Currency = "EUR"

	instructions := []*SettlementInstruction{
		settled,
		cancelled,
		euro,
		nettingInstruction("SI-OK", "CPTY-Y", "CPTY-X", 100, 5000),
	}

	group, err := NewNettingEngine().Compute("NET-3", "CPTY-X", date, "USD", instructions)
	require.NoError(t, err)

	assert.Equal(t, "SI-OK", group.InstructionIDs)
	assert.True(t, group.GrossSecuritiesReceivable.Equal(decimal.NewFromInt(100)))
}

func TestComputeRejectsUnrelatedCounterparty(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	instructions := []*SettlementInstruction{
		nettingInstruction("SI-1", "CPTY-A", "CPTY-B", 100, 5000),
	}

	_, err := NewNettingEngine().Compute("NET-4", "CPTY-X", date, "USD", instructions)
	assert.Error(t, err)
}

func TestComputeDoesNotMutateInstructions(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	ins := nettingInstruction("SI-1", "CPTY-Y", "CPTY-X", 100, 5000)

	_, err := NewNettingEngine().Compute("NET-5", "CPTY-X", date, "USD", []*SettlementInstruction{ins})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, ins.Status)
	assert.True(t, ins.PendingQuantity.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, ins.History)
}

func TestFreeOfPaymentHasNoCashSide(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	fop := nettingInstruction("SI-FOP", "CPTY-Y", "CPTY-X", 100, 5000)
	fop.SettlementType = SettlementFOP

	group, err := NewNettingEngine().Compute("NET-6", "CPTY-X", date, "USD", []*SettlementInstruction{fop})
	require.NoError(t, err)

	assert.True(t, group.GrossCashPayable.IsZero())
	assert.True(t, group.GrossCashReceivable.IsZero())
	assert.True(t, group.GrossSecuritiesReceivable.Equal(decimal.NewFromInt(100)))
}

func TestDegenerateGroupEfficiencyZero(t *testing.T) {
	date := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	group, err := NewNettingEngine().Compute("NET-7", "CPTY-X", date, "USD", nil)
	require.NoError(t, err)
	assert.True(t, group.Efficiency.IsZero())
}

func TestMarkSettledAsNetIsOneWay(t *testing.T) {
	group := &NettingGroup{NettingID: "NET-8", Status: NettingStatusAdvisory}
	require.NoError(t, group.MarkSettledAsNet())
	assert.Equal(t, NettingStatusSettledAsNet, group.Status)
	assert.Error(t, group.MarkSettledAsNet())
}
