package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"poolScope/internal/model"
)

func decodeCreate(event abi.Event, log model.LogRecord) (model.PoolCreatedData, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.PoolCreatedData{}, err
	}
	var indexed struct {
		Numeraire common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.PoolCreatedData{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 3)
	if err != nil {
		return model.PoolCreatedData{}, err
	}
	asset, err := asAddress(values[0])
	if err != nil {
		return model.PoolCreatedData{}, err
	}
	initializer, err := asAddress(values[1])
	if err != nil {
		return model.PoolCreatedData{}, err
	}
	pool, err := asAddress(values[2])
	if err != nil {
		return model.PoolCreatedData{}, err
	}

	return model.PoolCreatedData{
		Asset:       model.NormalizeAddress(asset.Hex()),
		Numeraire:   model.NormalizeAddress(indexed.Numeraire.Hex()),
		Initializer: model.NormalizeAddress(initializer.Hex()),
		Pool:        model.NormalizeAddress(pool.Hex()),
	}, nil
}

func decodeMigrate(event abi.Event, log model.LogRecord) (model.MigratedData, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.MigratedData{}, err
	}
	var indexed struct {
		Asset common.Address
		Pool  common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.MigratedData{}, fmt.Errorf("parse topics: %w", err)
	}
	return model.MigratedData{
		Asset: model.NormalizeAddress(indexed.Asset.Hex()),
		Pool:  model.NormalizeAddress(indexed.Pool.Hex()),
	}, nil
}

func decodeSwap(event abi.Event, log model.LogRecord) (model.SwapEventData, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.SwapEventData{}, err
	}

	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.SwapEventData{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 5)
	if err != nil {
		return model.SwapEventData{}, err
	}

	ints, err := asBigInts(values)
	if err != nil {
		return model.SwapEventData{}, err
	}
	tick, err := int24FromBig(ints[4])
	if err != nil {
		return model.SwapEventData{}, err
	}
	if ints[2].Sign() == 0 {
		return model.SwapEventData{}, fmt.Errorf("zero sqrtPriceX96")
	}

	return model.SwapEventData{
		Sender:       model.NormalizeAddress(indexed.Sender.Hex()),
		Recipient:    model.NormalizeAddress(indexed.Recipient.Hex()),
		Amount0:      ints[0],
		Amount1:      ints[1],
		SqrtPriceX96: ints[2],
		Liquidity:    ints[3],
		Tick:         tick,
	}, nil
}

type positionTopics struct {
	Owner     common.Address
	TickLower *big.Int
	TickUpper *big.Int
}

func (p positionTopics) ticks() (int32, int32, error) {
	tickLower, err := int24FromBig(p.TickLower)
	if err != nil {
		return 0, 0, err
	}
	tickUpper, err := int24FromBig(p.TickUpper)
	if err != nil {
		return 0, 0, err
	}
	if tickLower >= tickUpper {
		return 0, 0, fmt.Errorf("invalid tick range [%d, %d]", tickLower, tickUpper)
	}
	return tickLower, tickUpper, nil
}

func decodeMint(event abi.Event, log model.LogRecord) (model.MintEventData, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.MintEventData{}, err
	}

	var indexed positionTopics
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.MintEventData{}, fmt.Errorf("parse topics: %w", err)
	}
	tickLower, tickUpper, err := indexed.ticks()
	if err != nil {
		return model.MintEventData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 4)
	if err != nil {
		return model.MintEventData{}, err
	}
	sender, err := asAddress(values[0])
	if err != nil {
		return model.MintEventData{}, err
	}
	ints, err := asBigInts(values[1:])
	if err != nil {
		return model.MintEventData{}, err
	}

	return model.MintEventData{
		Sender:    model.NormalizeAddress(sender.Hex()),
		Owner:     model.NormalizeAddress(indexed.Owner.Hex()),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    ints[0],
		Amount0:   ints[1],
		Amount1:   ints[2],
	}, nil
}

func decodeBurn(event abi.Event, log model.LogRecord) (model.BurnEventData, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.BurnEventData{}, err
	}

	var indexed positionTopics
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.BurnEventData{}, fmt.Errorf("parse topics: %w", err)
	}
	tickLower, tickUpper, err := indexed.ticks()
	if err != nil {
		return model.BurnEventData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 3)
	if err != nil {
		return model.BurnEventData{}, err
	}
	ints, err := asBigInts(values)
	if err != nil {
		return model.BurnEventData{}, err
	}

	return model.BurnEventData{
		Owner:     model.NormalizeAddress(indexed.Owner.Hex()),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    ints[0],
		Amount0:   ints[1],
		Amount1:   ints[2],
	}, nil
}

func decodeTransfer(event abi.Event, log model.LogRecord) (model.TransferEventData, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.TransferEventData{}, err
	}

	var indexed struct {
		From common.Address
		To   common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.TransferEventData{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return model.TransferEventData{}, err
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return model.TransferEventData{}, err
	}

	return model.TransferEventData{
		From:  model.NormalizeAddress(indexed.From.Hex()),
		To:    model.NormalizeAddress(indexed.To.Hex()),
		Value: value,
	}, nil
}
