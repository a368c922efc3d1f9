package aggregate

import (
	"math/big"
	"testing"

	"github.com/daoleno/uniswapv3-sdk/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraduationDeltaMintBurnRoundTrip(t *testing.T) {
	liquidity := wad(5)

	delta, err := GraduationDelta(-200, 200, liquidity, true)
	require.NoError(t, err)
	require.Equal(t, 1, delta.Sign())

	sqrtLower, err := utils.GetSqrtRatioAtTick(-200)
	require.NoError(t, err)
	sqrtUpper, err := utils.GetSqrtRatioAtTick(200)
	require.NoError(t, err)
	assertBigEqual(t, utils.GetAmount1Delta(sqrtLower, sqrtUpper, liquidity, false), delta)

	threshold := big.NewInt(12345)
	before := new(big.Int).Set(threshold)
	threshold.Add(threshold, delta)

	burnDelta, err := GraduationDelta(-200, 200, liquidity, true)
	require.NoError(t, err)
	threshold.Sub(threshold, burnDelta)
	assertBigEqual(t, before, threshold)
}

func TestGraduationDeltaUsesToken0WhenAssetIsToken1(t *testing.T) {
	liquidity := wad(1)
	delta, err := GraduationDelta(-600, 600, liquidity, false)
	require.NoError(t, err)

	sqrtLower, _ := utils.GetSqrtRatioAtTick(-600)
	sqrtUpper, _ := utils.GetSqrtRatioAtTick(600)
	assertBigEqual(t, utils.GetAmount0Delta(sqrtLower, sqrtUpper, liquidity, false), delta)
}

func TestGraduationDeltaFullRangeExcluded(t *testing.T) {
	cases := []struct {
		name  string
		lower int32
		upper int32
	}{
		{"near min", int32(utils.MinTick + 50), 200},
		{"at min", int32(utils.MinTick), 0},
		{"near max", -200, int32(utils.MaxTick - 100)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, IsFullRange(tc.lower, tc.upper))
			delta, err := GraduationDelta(tc.lower, tc.upper, wad(1), true)
			require.NoError(t, err)
			assert.Equal(t, 0, delta.Sign())
		})
	}

	assert.False(t, IsFullRange(int32(utils.MinTick+101), 200))
}

func TestGraduationDeltaInvalidRange(t *testing.T) {
	_, err := GraduationDelta(200, -200, wad(1), true)
	assert.Error(t, err)

	delta, err := GraduationDelta(200, -200, new(big.Int), true)
	require.NoError(t, err)
	assert.Equal(t, 0, delta.Sign())
}
