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

import "github.com/rcrowley/go-metrics"

var (
	eventsDispatchedCounter = metrics.NewRegisteredCounter("pipeline/events/dispatched", nil)
	txsDispatchedCounter    = metrics.NewRegisteredCounter("pipeline/txs/dispatched", nil)
	blocksDispatchedCounter = metrics.NewRegisteredCounter("pipeline/blocks/dispatched", nil)

	txFetchCounter      = metrics.NewRegisteredCounter("pipeline/cache/txfetch", nil)
	receiptFetchCounter = metrics.NewRegisteredCounter("pipeline/cache/receiptfetch", nil)
	cacheHitCounter     = metrics.NewRegisteredCounter("pipeline/cache/hit", nil)

	subscriptionDropGauge = metrics.NewRegisteredGauge("pipeline/subscription/drops", nil)
	backfilledLogsCounter = metrics.NewRegisteredCounter("pipeline/backfill/logs", nil)
	lastSeenBlockGauge    = metrics.NewRegisteredGauge("pipeline/block/lastseen", nil)
)
