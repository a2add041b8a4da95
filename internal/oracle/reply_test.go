package oracle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply_Structured(t *testing.T) {
	r, err := ParseReply([]byte(`{"action":"counter_offer","price":84.5,"reason":"meet halfway"}`))
	require.NoError(t, err)
	co, ok := r.(CounterOffer)
	require.True(t, ok)
	assert.True(t, co.Price.Equal(decimal.RequireFromString("84.5")))
	assert.Equal(t, "meet halfway", ReasonOf(r))

	r, err = ParseReply([]byte(`{"action":"ACCEPT","price":null,"reason":"fair"}`))
	require.NoError(t, err)
	assert.IsType(t, Accept{}, r)

	r, err = ParseReply([]byte(`{"action":"reject","reason":null}`))
	require.NoError(t, err)
	assert.IsType(t, Reject{}, r)
	assert.Empty(t, ReasonOf(r))

	r, err = ParseReply([]byte(`{"action":"counter_offer","price":"90.10"}`))
	require.NoError(t, err)
	assert.True(t, r.(CounterOffer).Price.Equal(decimal.RequireFromString("90.10")))
}

func TestParseReply_Legacy(t *testing.T) {
	r, err := ParseReply([]byte("accept\n"))
	require.NoError(t, err)
	assert.IsType(t, Accept{}, r)

	r, err = ParseReply([]byte(`"accept"`))
	require.NoError(t, err)
	assert.IsType(t, Accept{}, r)

	r, err = ParseReply([]byte(" 77.25 "))
	require.NoError(t, err)
	assert.True(t, r.(CounterOffer).Price.Equal(decimal.RequireFromString("77.25")))
}

func TestParseReply_Invalid(t *testing.T) {
	for _, body := range []string{
		"",
		"   ",
		"maybe",
		"-3",
		"0",
		`{"action":"counter_offer"}`,
		`{"action":"counter_offer","price":null}`,
		`{"action":"counter_offer","price":"cheap"}`,
		`{"action":"counter_offer","price":-1}`,
		`{"action":"haggle","price":10}`,
		`{"action":`,
		"1e100000000",
		"1e-100000000",
		`{"action":"counter_offer","price":"1e100000000"}`,
		`{"action":"counter_offer","price":1e13}`,
		"10000000000000",
	} {
		_, err := ParseReply([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidReply, "body %q", body)
	}
}

func TestParseReply_PriceBounds(t *testing.T) {
	r, err := ParseReply([]byte(`{"action":"counter_offer","price":"1e3"}`))
	require.NoError(t, err)
	assert.True(t, r.(CounterOffer).Price.Equal(decimal.NewFromInt(1000)))

	r, err = ParseReply([]byte("1000000000000"))
	require.NoError(t, err)
	assert.True(t, r.(CounterOffer).Price.Equal(decimal.New(1, 12)))
}
