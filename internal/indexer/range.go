package indexer

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len is the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// Window is the range that may be synced starting at from: up to head minus
// confirmations, capped at toBlock when it is set. ok is false when no block
// past from is confirmed yet.
func Window(from, head, confirmations, toBlock uint64) (BlockRange, bool) {
	if head < confirmations {
		return BlockRange{}, false
	}
	to := head - confirmations
	if toBlock != 0 && toBlock < to {
		to = toBlock
	}
	if to < from {
		return BlockRange{}, false
	}
	return BlockRange{From: from, To: to}, true
}

// Batches splits the range into consecutive ranges of at most size blocks.
func (r BlockRange) Batches(size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if r.To < r.From {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	out := make([]BlockRange, 0, r.Len()/size+1)
	for start := r.From; ; start += size {
		end := r.To
		if r.To-start >= size {
			end = start + size - 1
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == r.To {
			return out, nil
		}
	}
}
