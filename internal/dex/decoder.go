package dex

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"poolScope/internal/model"
)

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord) (model.Event, error)
}

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map routes extra topic0 hashes to a known event name.
	Topic0Map map[string]string
}

type eventSpec struct {
	kind  model.EventKind
	event abi.Event
}

// EventDecoder decodes Airlock, pool and asset token logs into engine events.
type EventDecoder struct {
	topics map[string]eventSpec
}

// NewEventDecoder builds a decoder for every event the engine handles.
func NewEventDecoder(cfg DecoderConfig) (*EventDecoder, error) {
	airlock, err := AirlockABI()
	if err != nil {
		return nil, fmt.Errorf("parse airlock abi: %w", err)
	}
	pool, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	byKind := map[model.EventKind]abi.Event{
		model.EventPoolCreated: airlock.Events["Create"],
		model.EventMigrated:    airlock.Events["Migrate"],
		model.EventSwap:        pool.Events["Swap"],
		model.EventMint:        pool.Events["Mint"],
		model.EventBurn:        pool.Events["Burn"],
		model.EventTransfer:    erc20.Events["Transfer"],
	}

	topics := make(map[string]eventSpec, len(byKind)+len(cfg.Topic0Map))
	for kind, event := range byKind {
		topics[strings.ToLower(event.ID.Hex())] = eventSpec{kind: kind, event: event}
	}

	for topic0, name := range cfg.Topic0Map {
		kind := normalizeEventName(name)
		if kind == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		topics[strings.ToLower(topic0)] = eventSpec{kind: kind, event: byKind[kind]}
	}

	return &EventDecoder{topics: topics}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *EventDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topics[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into an Event. Every failure wraps model.ErrMalformedEvent.
func (d *EventDecoder) Decode(log model.LogRecord) (model.Event, error) {
	if len(log.Topics) == 0 {
		return model.Event{}, malformed(fmt.Errorf("missing topics"))
	}
	spec, ok := d.topics[strings.ToLower(log.Topics[0])]
	if !ok {
		return model.Event{}, malformed(fmt.Errorf("unsupported topic0: %s", log.Topics[0]))
	}
	if !common.IsHexAddress(log.Address) {
		return model.Event{}, malformed(fmt.Errorf("invalid contract address: %s", log.Address))
	}

	var (
		payload any
		err     error
	)
	switch spec.kind {
	case model.EventPoolCreated:
		payload, err = decodeCreate(spec.event, log)
	case model.EventMigrated:
		payload, err = decodeMigrate(spec.event, log)
	case model.EventSwap:
		payload, err = decodeSwap(spec.event, log)
	case model.EventMint:
		payload, err = decodeMint(spec.event, log)
	case model.EventBurn:
		payload, err = decodeBurn(spec.event, log)
	case model.EventTransfer:
		payload, err = decodeTransfer(spec.event, log)
	default:
		err = fmt.Errorf("unsupported event kind: %s", spec.kind)
	}
	if err != nil {
		return model.Event{}, malformed(fmt.Errorf("decode %s: %w", spec.kind, err))
	}

	return model.Event{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     model.NormalizeAddress(log.Address),
		Kind:        spec.kind,
		Timestamp:   int64(log.Timestamp),
		Payload:     payload,
	}, nil
}

// AirlockTopics returns the topic0 hashes emitted by the Airlock.
func AirlockTopics() ([]common.Hash, error) {
	parsed, err := AirlockABI()
	if err != nil {
		return nil, err
	}
	return []common.Hash{parsed.Events["Create"].ID, parsed.Events["Migrate"].ID}, nil
}

// TrackedTopics returns the topic0 hashes emitted by tracked pools and assets.
func TrackedTopics() ([]common.Hash, error) {
	pool, err := PoolABI()
	if err != nil {
		return nil, err
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	return []common.Hash{
		pool.Events["Swap"].ID,
		pool.Events["Mint"].ID,
		pool.Events["Burn"].ID,
		erc20.Events["Transfer"].ID,
	}, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
}

func normalizeEventName(name string) model.EventKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "create", "poolcreated":
		return model.EventPoolCreated
	case "migrate", "migrated":
		return model.EventMigrated
	case "swap":
		return model.EventSwap
	case "mint":
		return model.EventMint
	case "burn":
		return model.EventBurn
	case "transfer":
		return model.EventTransfer
	default:
		return ""
	}
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string, want int) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}
