package aggregate

import (
	"math/big"
	"testing"

	"poolScope/internal/model"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), WAD)
}

func assertBigEqual(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	if want == nil || got == nil || want.Cmp(got) != 0 {
		t.Fatalf("big int mismatch: want %v got %v %v", want, got, msgAndArgs)
	}
}

// windowSum sums the checkpoints in [now-DayWindow, now].
func windowSum(checkpoints []model.Checkpoint, now int64) *big.Int {
	sum := new(big.Int)
	for _, cp := range checkpoints {
		if cp.Timestamp >= now-DayWindow && cp.Timestamp <= now {
			sum.Add(sum, cp.AmountUSD)
		}
	}
	return sum
}
