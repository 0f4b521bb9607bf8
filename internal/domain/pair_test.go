package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair_ErrorsHaveStack(t *testing.T) {
	p, err := ParsePair("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", p.String())
	assert.Equal(t, "BTCUSDT", p.Symbol())

	for _, bad := range []string{"", "BTCUSDT", "BTC/", "/USDT"} {
		_, err := ParsePair(bad)
		require.Error(t, err, bad)

		var traced interface{ StackTrace() errors.StackTrace }
		assert.True(t, errors.As(err, &traced), "validation errors carry a stack trace")
	}
}

func TestAssetConfigValidate_ErrorHasStack(t *testing.T) {
	err := AssetConfig{Symbol: "BTC/USDT"}.Validate()
	require.Error(t, err)

	var traced interface{ StackTrace() errors.StackTrace }
	assert.True(t, errors.As(err, &traced))
}
