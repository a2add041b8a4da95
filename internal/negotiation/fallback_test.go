package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Checker-Finance/compute-market/internal/pricing"
)

func TestMiddleGround_StepBounded(t *testing.T) {
	m := MiddleGround{Factor: 0.5}
	assert.True(t, m.Step(1).Equal(d("0.5")))
	assert.True(t, m.Step(10).Equal(d("0.95")))
	assert.True(t, m.Step(-3).Equal(d("0.05")))
	assert.True(t, MiddleGround{}.Step(1).Equal(d("0.5")))
}

func TestMiddleGround_Next(t *testing.T) {
	m := MiddleGround{Factor: 0.5}

	// buyer halfway from 73.60 toward 88.00
	assert.True(t, m.Next(pricing.SideBuyer, d("73.6"), d("88"), d("100"), 1).Equal(d("80.8")))
	// seller halfway would be 82.80, lifted to the floor
	assert.True(t, m.Next(pricing.SideSeller, d("92"), d("73.6"), d("88"), 1).Equal(d("88")))
	// buyer capped by ceiling
	assert.True(t, m.Next(pricing.SideBuyer, d("90"), d("120"), d("100"), 1).Equal(d("100")))
}

func TestMiddleGround_GapNeverGrows(t *testing.T) {
	m := MiddleGround{Factor: 0.5}
	buyer, seller := d("40"), d("150")
	floor, ceiling := d("60"), d("140")

	gap := seller.Sub(buyer)
	for i := 0; i < 30; i++ {
		buyer = m.Next(pricing.SideBuyer, buyer, seller, ceiling, 1)
		assert.True(t, buyer.LessThan(seller))
		seller = m.Next(pricing.SideSeller, seller, buyer, floor, 1)
		assert.True(t, seller.GreaterThan(buyer))

		next := seller.Sub(buyer)
		assert.True(t, next.LessThanOrEqual(gap), "round %d gap %s > %s", i, next, gap)
		gap = next
	}
	assert.True(t, gap.Equal(pricing.MinPrice))
}

func TestSeeds(t *testing.T) {
	assert.True(t, BuyerSeed(d("92"), StrategyBalanced, 0.7).Equal(d("73.6")))
	assert.True(t, BuyerSeed(d("100"), StrategyAggressive, 0.7).Equal(d("70")))
	assert.True(t, BuyerSeed(d("100"), StrategyConservative, 0.7).Equal(d("90")))
	// urgent buyers open higher
	assert.True(t, BuyerSeed(d("100"), StrategyBalanced, 1).GreaterThan(BuyerSeed(d("100"), StrategyBalanced, 0.7)))
	assert.True(t, SellerSeed(d("50"), StrategyBalanced).Equal(d("60")))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Aggressive ")
	assert.NoError(t, err)
	assert.Equal(t, StrategyAggressive, s)

	s, err = ParseStrategy("")
	assert.NoError(t, err)
	assert.Equal(t, StrategyBalanced, s)

	_, err = ParseStrategy("sneaky")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuyerProfile(t *testing.T) {
	high := 3.0
	p := NewBuyerProfile(d("100"), &high, "", testRules())
	assert.Equal(t, 1.0, p.Urgency)
	assert.Equal(t, StrategyBalanced, p.Strategy)
	assert.True(t, p.EffectiveMax().Equal(d("110")))
	assert.True(t, p.EffectiveMax().GreaterThanOrEqual(p.MaxWTP))

	p = NewBuyerProfile(d("100"), nil, StrategyConservative, testRules())
	assert.Equal(t, 0.7, p.Urgency)
	assert.Equal(t, StrategyConservative, p.Strategy)
}
