package aggregate

import (
	"math/big"
	"sort"

	"poolScope/internal/model"
)

// DayWindow is the length of the rolling volume window in seconds.
const DayWindow int64 = 86400

// RecordVolume adds a checkpoint and returns the evicted, re-summed window.
// A checkpoint already present for the same (timestamp, eventID) is overwritten,
// so re-applying an event leaves the window unchanged. Distinct events at the
// same timestamp are all kept.
func RecordVolume(dv model.DailyVolume, amountUSD *big.Int, ts int64, eventID string) model.DailyVolume {
	out := dv.Clone()
	if amountUSD == nil {
		amountUSD = new(big.Int)
	}

	idx := sort.Search(len(out.Checkpoints), func(i int) bool {
		return !checkpointLess(out.Checkpoints[i], ts, eventID)
	})
	if idx < len(out.Checkpoints) && out.Checkpoints[idx].Timestamp == ts && out.Checkpoints[idx].EventID == eventID {
		out.Checkpoints[idx].AmountUSD = new(big.Int).Set(amountUSD)
	} else {
		out.Checkpoints = append(out.Checkpoints, model.Checkpoint{})
		copy(out.Checkpoints[idx+1:], out.Checkpoints[idx:])
		out.Checkpoints[idx] = model.Checkpoint{
			Timestamp: ts,
			AmountUSD: new(big.Int).Set(amountUSD),
			EventID:   eventID,
		}
	}

	now := ts
	if out.LastUpdated > now {
		now = out.LastUpdated
	}
	return evict(out, now)
}

// RefreshVolume evicts expired checkpoints without recording a new one.
func RefreshVolume(dv model.DailyVolume, now int64) model.DailyVolume {
	out := dv.Clone()
	if out.LastUpdated > now {
		now = out.LastUpdated
	}
	return evict(out, now)
}

func evict(dv model.DailyVolume, now int64) model.DailyVolume {
	cutoff := now - DayWindow
	first := sort.Search(len(dv.Checkpoints), func(i int) bool {
		return dv.Checkpoints[i].Timestamp >= cutoff
	})
	dv.Checkpoints = append([]model.Checkpoint(nil), dv.Checkpoints[first:]...)

	total := new(big.Int)
	for _, cp := range dv.Checkpoints {
		total.Add(total, cp.AmountUSD)
	}
	dv.VolumeUSD = total
	dv.LastUpdated = now
	if len(dv.Checkpoints) > 0 {
		dv.EarliestCheckpoint = dv.Checkpoints[0].Timestamp
	} else {
		dv.EarliestCheckpoint = now
	}
	dv.Inactive = total.Sign() == 0
	return dv
}

func checkpointLess(cp model.Checkpoint, ts int64, eventID string) bool {
	if cp.Timestamp != ts {
		return cp.Timestamp < ts
	}
	return cp.EventID < eventID
}
