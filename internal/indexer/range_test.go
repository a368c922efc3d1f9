package indexer

import (
	"reflect"
	"testing"
)

func TestBlockRangeBatches(t *testing.T) {
	got, err := BlockRange{From: 100, To: 105}.Batches(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestBlockRangeBatchesShortTail(t *testing.T) {
	got, err := BlockRange{From: 5, To: 11}.Batches(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 5, To: 7}, {From: 8, To: 10}, {From: 11, To: 11}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
	if n := (BlockRange{From: 5, To: 11}).Len(); n != 7 {
		t.Fatalf("unexpected len: %d", n)
	}
}

func TestBlockRangeBatchesInvalid(t *testing.T) {
	if _, err := (BlockRange{From: 10, To: 9}).Batches(1); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if _, err := (BlockRange{From: 1, To: 10}).Batches(0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name                       string
		from, head, confs, toBlock uint64
		want                       BlockRange
		ok                         bool
	}{
		{name: "head", from: 10, head: 20, want: BlockRange{From: 10, To: 20}, ok: true},
		{name: "confirmations", from: 10, head: 20, confs: 5, want: BlockRange{From: 10, To: 15}, ok: true},
		{name: "to block caps", from: 10, head: 20, toBlock: 12, want: BlockRange{From: 10, To: 12}, ok: true},
		{name: "to block past head", from: 10, head: 20, toBlock: 50, want: BlockRange{From: 10, To: 20}, ok: true},
		{name: "caught up", from: 21, head: 20},
		{name: "head below confirmations", from: 0, head: 3, confs: 5},
		{name: "past to block", from: 13, head: 20, toBlock: 12},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Window(tc.from, tc.head, tc.confs, tc.toBlock)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("window = %+v, want %+v", got, tc.want)
			}
		})
	}
}
