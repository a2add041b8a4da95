package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClampCounter_Buyer(t *testing.T) {
	cases := []struct {
		name                    string
		proposed, opposing, max string
		want                    string
	}{
		{"inside range", "80", "92", "100", "80"},
		{"equal to opposing drops a cent", "92", "92", "100", "91.99"},
		{"above opposing", "95", "92", "100", "91.99"},
		{"above ceiling", "120", "150", "100", "100"},
		{"ceiling floored to the cent", "99.999", "150", "99.995", "99.99"},
		{"rounds half away from zero", "80.125", "92", "100", "80.13"},
		{"never below min price", "-5", "92", "100", "0.01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClampCounter(SideBuyer, d(tc.proposed), d(tc.opposing), d(tc.max))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestClampCounter_Seller(t *testing.T) {
	cases := []struct {
		name                      string
		proposed, opposing, floor string
		want                      string
	}{
		{"inside range", "90", "80", "88", "90"},
		{"below floor", "85.80", "73.60", "88", "88"},
		{"equal to opposing lifts a cent", "95", "95", "88", "95.01"},
		{"floor ceiled to the cent", "80", "50", "88.001", "88.01"},
		{"below opposing", "89", "90", "88", "90.01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClampCounter(SideSeller, d(tc.proposed), d(tc.opposing), d(tc.floor))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

// No counter ever equals or crosses the opposing price, across a sweep of inputs.
func TestClampCounter_NeverEqualsOpposing(t *testing.T) {
	for p := 1; p < 200; p += 7 {
		for o := 2; o < 200; o += 11 {
			prop := decimal.NewFromFloat(float64(p) + 0.005)
			opp := decimal.NewFromInt(int64(o))

			b := ClampCounter(SideBuyer, prop, opp, d("500"))
			assert.True(t, b.LessThan(opp), "buyer %s vs %s", b, opp)

			s := ClampCounter(SideSeller, prop, opp, d("1"))
			assert.True(t, s.GreaterThan(opp), "seller %s vs %s", s, opp)
			assert.True(t, s.Equal(s.Round(2)))
		}
	}
}

func TestCentHelpers(t *testing.T) {
	assert.True(t, FloorCent(d("10.019")).Equal(d("10.01")))
	assert.True(t, CeilCent(d("10.011")).Equal(d("10.02")))
	assert.True(t, CeilCent(d("10.01")).Equal(d("10.01")))
	assert.True(t, Round(d("10.005")).Equal(d("10.01")))
}

func TestBuyerCanCounter(t *testing.T) {
	assert.True(t, BuyerCanCounter(decimal.RequireFromString("0.02")))
	assert.False(t, BuyerCanCounter(MinPrice))
	assert.False(t, BuyerCanCounter(decimal.RequireFromString("0.005")))
}
