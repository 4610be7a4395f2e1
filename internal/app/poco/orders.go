package poco

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tutu-network/poco/internal/domain"
)

// ManageOrder presigns or closes an order on behalf of its signer. caller
// must be the identity that would sign the order: the owner of its subject,
// or the requester for request orders.
func (e *Engine) ManageOrder(ctx context.Context, caller common.Address, args domain.OrderOperationArgs) (common.Hash, error) {
	hash, signer, volume, err := e.resolveOrder(args)
	if err != nil {
		return common.Hash{}, err
	}
	if caller != signer {
		return common.Hash{}, fmt.Errorf("%s order %s: %w", args.Kind, hash.Hex(), domain.ErrNotOrderSigner)
	}

	_, err = e.run(ctx, "manage_order", func(tx domain.Tx, rec domain.Recorder, now uint64) error {
		ev := domain.Event{
			Time:        now,
			Account:     signer,
			Ref:         hash,
			OrderHashes: []common.Hash{hash},
		}
		switch args.Operation {
		case domain.OpSign:
			if err := tx.SetPresigned(hash, signer); err != nil {
				return fmt.Errorf("store presign: %w", err)
			}
			ev.Kind = domain.EventOrderSigned
		case domain.OpClose:
			consumed, err := tx.Consumed(hash)
			if err != nil {
				return fmt.Errorf("read consumption: %w", err)
			}
			// Consumption is monotonic; closing an exhausted order is a no-op.
			if consumed < volume {
				if err := tx.SetConsumed(hash, volume); err != nil {
					return fmt.Errorf("store consumption: %w", err)
				}
			}
			ev.Kind = domain.EventOrderClosed
			ev.Volume = volume
		default:
			return fmt.Errorf("operation %q: %w", args.Operation, domain.ErrUnknownOperation)
		}
		rec.Record(ev)
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	e.log.Info("order managed",
		zap.String("operation", string(args.Operation)),
		zap.String("kind", string(args.Kind)),
		zap.String("order", hash.Hex()))
	return hash, nil
}

// resolveOrder returns the order's identity hash, expected signer, and
// volume.
func (e *Engine) resolveOrder(args domain.OrderOperationArgs) (common.Hash, common.Address, uint64, error) {
	h := e.auth.Hasher()
	missing := fmt.Errorf("%s order missing: %w", args.Kind, domain.ErrUnknownOperation)
	switch args.Kind {
	case domain.KindApp:
		if args.App == nil {
			return common.Hash{}, common.Address{}, 0, missing
		}
		a, ok := e.assets.App(args.App.App)
		if !ok {
			return common.Hash{}, common.Address{}, 0, fmt.Errorf("app %s: %w", args.App.App.Hex(), domain.ErrUnknownApp)
		}
		return h.AppOrder(args.App), a.Owner, args.App.Volume, nil
	case domain.KindDataset:
		if args.Dataset == nil {
			return common.Hash{}, common.Address{}, 0, missing
		}
		a, ok := e.assets.Dataset(args.Dataset.Dataset)
		if !ok {
			return common.Hash{}, common.Address{}, 0, fmt.Errorf("dataset %s: %w", args.Dataset.Dataset.Hex(), domain.ErrUnknownDataset)
		}
		return h.DatasetOrder(args.Dataset), a.Owner, args.Dataset.Volume, nil
	case domain.KindWorkerpool:
		if args.Workerpool == nil {
			return common.Hash{}, common.Address{}, 0, missing
		}
		a, ok := e.assets.Workerpool(args.Workerpool.Workerpool)
		if !ok {
			return common.Hash{}, common.Address{}, 0, fmt.Errorf("workerpool %s: %w", args.Workerpool.Workerpool.Hex(), domain.ErrUnknownWorkerpool)
		}
		return h.WorkerpoolOrder(args.Workerpool), a.Owner, args.Workerpool.Volume, nil
	case domain.KindRequest:
		if args.Request == nil {
			return common.Hash{}, common.Address{}, 0, missing
		}
		if args.Request.Requester == (common.Address{}) {
			return common.Hash{}, common.Address{}, 0, fmt.Errorf("requester: %w", domain.ErrZeroAddress)
		}
		return h.RequestOrder(args.Request), args.Request.Requester, args.Request.Volume, nil
	}
	return common.Hash{}, common.Address{}, 0, fmt.Errorf("order kind %q: %w", args.Kind, domain.ErrUnknownOperation)
}
