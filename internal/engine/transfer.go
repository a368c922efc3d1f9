package engine

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/storage"
)

// handleTransfer maintains holder counts of an asset token. The ingestion
// adapter only delivers transfers of tracked assets, and the minting transfer
// of a new asset precedes its Create log, so the asset is created on first sight.
func (e *Engine) handleTransfer(ctx context.Context, ev model.Event, logger *zap.Logger) (*fanout, error) {
	transfer, ok := ev.Payload.(model.TransferEventData)
	if !ok {
		return nil, payloadError(ev)
	}
	if transfer.Value == nil || transfer.Value.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid transfer value", model.ErrMalformedEvent)
	}
	token := ev.Address
	from := model.NormalizeAddress(transfer.From)
	to := model.NormalizeAddress(transfer.To)
	logger = logger.With(zap.String("asset", token))

	meta := model.TokenMeta{Address: token, Decimals: defaultDecimals}
	if _, err := e.store.GetToken(ctx, ev.ChainID, token); notFound(err) && e.reader != nil {
		if m, err := e.reader.TokenMeta(ctx, token); err != nil {
			logger.Warn("token metadata read failed", zap.Error(err))
		} else {
			meta = m
		}
	}
	// supply is accumulated from mint and burn transfers
	meta.TotalSupply = nil

	err := e.withLease(ctx, ev, lease.PoolKey(ev.ChainID, token), func(ctx context.Context, tx storage.Tx) error {
		asset, _, err := tx.InsertAsset(ctx, model.NewAsset(ev.ChainID, token))
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		tok, _, err := tx.InsertToken(ctx, model.NewToken(ev.ChainID, meta))
		if err != nil {
			return fmt.Errorf("insert token: %w", err)
		}

		fields := []zap.Field{zap.String("asset", token), zap.String("event_id", ev.ID())}
		holders := asset.HolderCount
		supply := new(big.Int).Set(tok.TotalSupply)

		if from == model.ZeroAddress {
			supply.Add(supply, transfer.Value)
		} else {
			gone, err := e.moveBalance(ctx, tx, ev, from, token, new(big.Int).Neg(transfer.Value), fields)
			if err != nil {
				return err
			}
			if gone < 0 {
				if holders, err = e.guard.Decrement("holder_count", holders, fields...); err != nil {
					return err
				}
			}
			if err := tx.TouchUser(ctx, ev.ChainID, from, ev.Timestamp); err != nil {
				return fmt.Errorf("touch user: %w", err)
			}
		}

		if to == model.ZeroAddress {
			supply.Sub(supply, transfer.Value)
			if supply, err = e.guard.NonNegative("total_supply", supply, fields...); err != nil {
				return err
			}
		} else {
			added, err := e.moveBalance(ctx, tx, ev, to, token, transfer.Value, fields)
			if err != nil {
				return err
			}
			if added > 0 {
				holders++
			}
			if err := tx.TouchUser(ctx, ev.ChainID, to, ev.Timestamp); err != nil {
				return fmt.Errorf("touch user: %w", err)
			}
		}

		tokenPatch := model.TokenPatch{HolderCount: uint64Ptr(holders)}
		if supply.Cmp(tok.TotalSupply) != 0 {
			tokenPatch.TotalSupply = supply
		}
		if err := applyTokenUpdate(ctx, tx, ev.ChainID, token, tokenPatch); err != nil {
			return err
		}
		return applyAssetUpdate(ctx, tx, ev.ChainID, token, model.AssetPatch{HolderCount: uint64Ptr(holders)})
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// moveBalance applies delta to a holder balance and reports a zero-balance
// transition: +1 when the balance left zero, -1 when it reached zero.
func (e *Engine) moveBalance(ctx context.Context, tx storage.Tx, ev model.Event, user, asset string, delta *big.Int, fields []zap.Field) (int, error) {
	ua, err := tx.GetUserAsset(ctx, ev.ChainID, user, asset)
	switch {
	case notFound(err):
		ua = model.UserAsset{ChainID: ev.ChainID, User: user, Asset: asset, Balance: new(big.Int)}
	case err != nil:
		return 0, fmt.Errorf("get user asset: %w", err)
	}

	before := ua.Balance
	after := new(big.Int).Add(before, delta)
	if after, err = e.guard.NonNegative("holder_balance", after, append(fields, zap.String("user", user))...); err != nil {
		return 0, err
	}

	ua.Balance = after
	ua.UpdatedAt = ev.Timestamp
	if err := tx.SaveUserAsset(ctx, ua); err != nil {
		return 0, fmt.Errorf("save user asset: %w", err)
	}

	switch {
	case before.Sign() == 0 && after.Sign() > 0:
		return 1, nil
	case before.Sign() > 0 && after.Sign() == 0:
		return -1, nil
	default:
		return 0, nil
	}
}
