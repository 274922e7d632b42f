// Copyright 2024 The evmtrack Authors
// This file is part of the evmtrack library.
//
// The evmtrack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtrack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtrack library. If not, see <http://www.gnu.org/licenses/>.

package pipeline

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/sigs"
	"github.com/evmtrack/evmtrack/track"
)

const (
	// MaxBackfill bounds how many blocks a resubscribe gap-backfill covers.
	MaxBackfill = 500

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	pollInterval   = 2 * time.Second

	streamBuffer = 256
)

// backfillStart returns the first block of the gap-closing query after a
// subscription drop, clamped to MaxBackfill blocks before cur.
func backfillStart(lastSeen, cur uint64) uint64 {
	if cur-lastSeen > MaxBackfill {
		return cur - MaxBackfill + 1
	}
	return lastSeen + 1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// RunEvents streams logs matching addrs and dispatches them. A dropped
// subscription is closed by fetching the gap (bounded by MaxBackfill) and
// resubscribing with exponential backoff; transports without subscription
// support fall back to polling.
func RunEvents(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet) error {
	events, err := sigs.LoadEventsDefault()
	if err != nil {
		logger.Warn("loading event catalog failed", "err", err)
		events = sigs.EventSigMap{}
	}
	lastSeen, err := b.BlockNumber(ctx)
	if err != nil {
		return err
	}
	filter := client.Filter{Addresses: addrs}
	backoff := initialBackoff

	for {
		ch := make(chan types.Log, streamBuffer)
		sub, err := b.SubscribeLogs(ctx, filter, ch)
		if err != nil {
			if client.IsNotificationsUnsupported(err) {
				logger.Info("subscriptions unsupported by transport; polling for logs")
				return pollEvents(ctx, b, addrs, set, events, lastSeen)
			}
			logger.Warn("log subscription failed", "err", err)
		} else {
			logger.Info("subscribed to logs", "addresses", len(addrs))
			backoff = initialBackoff
			lastSeen = consumeLogs(ctx, ch, sub, set, events, lastSeen)
			sub.Unsubscribe()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("log subscription ended; backfilling and resubscribing")
			subscriptionDropGauge.Update(time.Now().Unix())
			lastSeen = backfillEvents(ctx, b, addrs, set, events, lastSeen)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

// consumeLogs drains the stream until it terminates or ctx is done, tracking
// the highest block seen.
func consumeLogs(ctx context.Context, ch <-chan types.Log, sub interface{ Err() <-chan error }, set *track.ActionSet, events sigs.EventSigMap, lastSeen uint64) uint64 {
	for {
		select {
		case lg := <-ch:
			rec := track.DecodeLog(&lg, events)
			set.OnEvent(rec)
			eventsDispatchedCounter.Inc(1)
			if lg.BlockNumber > lastSeen {
				lastSeen = lg.BlockNumber
				lastSeenBlockGauge.Update(int64(lastSeen))
			}
		case err := <-sub.Err():
			if err != nil {
				logger.Warn("subscription error", "err", err)
			}
			return lastSeen
		case <-ctx.Done():
			return lastSeen
		}
	}
}

// backfillEvents closes the gap between lastSeen and the current head and
// dispatches everything found so no log is lost across the drop.
func backfillEvents(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet, events sigs.EventSigMap, lastSeen uint64) uint64 {
	cur, err := b.BlockNumber(ctx)
	if err != nil {
		logger.Warn("backfill head query failed", "err", err)
		return lastSeen
	}
	if cur <= lastSeen {
		return lastSeen
	}
	start := backfillStart(lastSeen, cur)
	logs, err := b.FilterLogs(ctx, client.Filter{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(cur),
		Addresses: addrs,
	})
	if err != nil {
		logger.Warn("backfill get_logs failed", "from", start, "to", cur, "err", err)
		return lastSeen
	}
	sortLogs(logs)
	for i := range logs {
		set.OnEvent(track.DecodeLog(&logs[i], events))
		backfilledLogsCounter.Inc(1)
	}
	return cur
}

// pollEvents diffs the head every pollInterval and fetches the new range.
func pollEvents(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet, events sigs.EventSigMap, last uint64) error {
	for {
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
		cur, err := b.BlockNumber(ctx)
		if err != nil {
			logger.Warn("poll head query failed", "err", err)
			continue
		}
		if cur <= last {
			continue
		}
		logs, err := b.FilterLogs(ctx, client.Filter{
			FromBlock: new(big.Int).SetUint64(last + 1),
			ToBlock:   new(big.Int).SetUint64(cur),
			Addresses: addrs,
		})
		if err != nil {
			logger.Warn("poll get_logs failed", "err", err)
			continue
		}
		sortLogs(logs)
		for i := range logs {
			set.OnEvent(track.DecodeLog(&logs[i], events))
			eventsDispatchedCounter.Inc(1)
		}
		last = cur
		lastSeenBlockGauge.Update(int64(last))
	}
}

// RunBlocks streams new heads; every header yields a BlockRecord followed by
// the block's filtered events and coalesced transactions.
func RunBlocks(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet) error {
	events, _ := sigs.LoadEventsDefault()
	funcs, _ := sigs.LoadFuncsDefault()
	lastSeen, err := b.BlockNumber(ctx)
	if err != nil {
		return err
	}
	backoff := initialBackoff

	for {
		ch := make(chan *types.Header, streamBuffer)
		sub, err := b.SubscribeNewHeads(ctx, ch)
		if err != nil {
			if client.IsNotificationsUnsupported(err) {
				logger.Info("subscriptions unsupported by transport; polling for heads")
				return pollBlocks(ctx, b, addrs, set, events, funcs, lastSeen, true, false)
			}
			logger.Warn("newHeads subscription failed", "err", err)
		} else {
			logger.Info("subscribed to new heads")
			backoff = initialBackoff
		consume:
			for {
				select {
				case header := <-ch:
					n := header.Number.Uint64()
					if err := ProcessBlock(ctx, b, n, addrs, set, events, funcs, true, false); err != nil {
						logger.Warn("block processing failed", "block", n, "err", err)
					}
					lastSeen = n
				case err := <-sub.Err():
					if err != nil {
						logger.Warn("subscription error", "err", err)
					}
					break consume
				case <-ctx.Done():
					sub.Unsubscribe()
					return ctx.Err()
				}
			}
			sub.Unsubscribe()
			logger.Warn("newHeads subscription ended; backfilling and resubscribing")
			lastSeen = backfillBlocks(ctx, b, addrs, set, events, funcs, lastSeen, true, false)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

func backfillBlocks(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet, events sigs.EventSigMap, funcs sigs.FuncSigMap, lastSeen uint64, doEvents, doDeployments bool) uint64 {
	cur, err := b.BlockNumber(ctx)
	if err != nil {
		logger.Warn("backfill head query failed", "err", err)
		return lastSeen
	}
	if cur <= lastSeen {
		return lastSeen
	}
	for n := backfillStart(lastSeen, cur); n <= cur; n++ {
		if err := ProcessBlock(ctx, b, n, addrs, set, events, funcs, doEvents, doDeployments); err != nil {
			logger.Warn("backfill block processing failed", "block", n, "err", err)
		}
	}
	return cur
}

func pollBlocks(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet, events sigs.EventSigMap, funcs sigs.FuncSigMap, last uint64, doEvents, doDeployments bool) error {
	for {
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
		cur, err := b.BlockNumber(ctx)
		if err != nil {
			logger.Warn("poll head query failed", "err", err)
			continue
		}
		for n := last + 1; n <= cur; n++ {
			if err := ProcessBlock(ctx, b, n, addrs, set, events, funcs, doEvents, doDeployments); err != nil {
				logger.Warn("block processing failed", "block", n, "err", err)
			}
		}
		if cur > last {
			last = cur
		}
	}
}

// RunDeployments streams new heads and emits a ContractCreationRecord for
// every to-less transaction whose receipt carries a contract address.
func RunDeployments(ctx context.Context, b Backend, set *track.ActionSet) error {
	events, _ := sigs.LoadEventsDefault()
	funcs, _ := sigs.LoadFuncsDefault()
	lastSeen, err := b.BlockNumber(ctx)
	if err != nil {
		return err
	}
	backoff := initialBackoff
	for {
		ch := make(chan *types.Header, streamBuffer)
		sub, err := b.SubscribeNewHeads(ctx, ch)
		if err != nil {
			if client.IsNotificationsUnsupported(err) {
				logger.Info("subscriptions unsupported by transport; polling for deployments")
				return pollBlocks(ctx, b, nil, set, events, funcs, lastSeen, false, true)
			}
			logger.Warn("newHeads subscription failed", "err", err)
		} else {
			logger.Info("watching contract deployments")
			backoff = initialBackoff
		consume:
			for {
				select {
				case header := <-ch:
					n := header.Number.Uint64()
					if err := ProcessBlock(ctx, b, n, nil, set, events, funcs, false, true); err != nil {
						logger.Warn("deployment processing failed", "block", n, "err", err)
					}
					lastSeen = n
				case err := <-sub.Err():
					if err != nil {
						logger.Warn("subscription error", "err", err)
					}
					break consume
				case <-ctx.Done():
					sub.Unsubscribe()
					return ctx.Err()
				}
			}
			sub.Unsubscribe()
			lastSeen = backfillBlocks(ctx, b, nil, set, events, funcs, lastSeen, false, true)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

// RunPendingTxs streams pending transactions, preferring the full-object
// subscription and falling back to hashes plus individual fetches. Records
// carry no receipt-dependent fields.
func RunPendingTxs(ctx context.Context, b Backend, addrs []common.Address, set *track.ActionSet, hashesOnly bool) error {
	funcs, err := sigs.LoadFuncsDefault()
	if err != nil {
		logger.Warn("loading function catalog failed", "err", err)
		funcs = sigs.FuncSigMap{}
	}
	watched := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		watched[a] = struct{}{}
	}
	dispatch := func(tx *client.RPCTransaction) {
		if len(watched) > 0 && tx.To != nil {
			if _, ok := watched[*tx.To]; !ok {
				return
			}
		}
		set.OnTx(track.NewTxRecord(tx, nil, funcs))
		txsDispatchedCounter.Inc(1)
	}

	backoff := initialBackoff
	for {
		if !hashesOnly {
			ch := make(chan *client.RPCTransaction, streamBuffer)
			sub, err := b.SubscribeFullPendingTransactions(ctx, ch)
			if err == nil {
				logger.Info("subscribed to full pending transactions")
				backoff = initialBackoff
			consumeFull:
				for {
					select {
					case tx := <-ch:
						dispatch(tx)
					case err := <-sub.Err():
						if err != nil {
							logger.Warn("subscription error", "err", err)
						}
						break consumeFull
					case <-ctx.Done():
						sub.Unsubscribe()
						return ctx.Err()
					}
				}
				sub.Unsubscribe()
			} else {
				logger.Warn("full pending subscription unavailable; using hashes", "err", err)
				hashesOnly = true
				continue
			}
		} else {
			ch := make(chan common.Hash, streamBuffer)
			sub, err := b.SubscribePendingTransactions(ctx, ch)
			if err != nil {
				if client.IsNotificationsUnsupported(err) {
					return err
				}
				logger.Warn("pending subscription failed", "err", err)
			} else {
				logger.Info("subscribed to pending transaction hashes")
				backoff = initialBackoff
			consumeHashes:
				for {
					select {
					case h := <-ch:
						tx, err := b.TransactionByHash(ctx, h)
						if err != nil {
							logger.Warn("pending tx fetch failed", "hash", h, "err", err)
							continue
						}
						if tx != nil {
							dispatch(tx)
						}
					case err := <-sub.Err():
						if err != nil {
							logger.Warn("subscription error", "err", err)
						}
						break consumeHashes
					case <-ctx.Done():
						sub.Unsubscribe()
						return ctx.Err()
					}
				}
				sub.Unsubscribe()
			}
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}
