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

package main

import (
	"fmt"

	"gopkg.in/urfave/cli.v1"

	"github.com/evmtrack/evmtrack/actions"
	"github.com/evmtrack/evmtrack/cmd/utils"
)

var initScanCommand = cli.Command{
	Name:   "init-scan",
	Usage:  "Run the initializer heuristic over a historical block range",
	Action: runInitScan,
	Flags: []cli.Flag{
		utils.ConfigFlag,
		cli.Uint64Flag{Name: "from-block", Usage: "First block of the range (inclusive)"},
		cli.Uint64Flag{Name: "to-block", Usage: "Last block of the range (inclusive)"},
		cli.IntFlag{Name: "concurrency", Usage: "Concurrent block scans", Value: 10},
		cli.Uint64Flag{Name: "progress-every", Usage: "Print progress every N blocks"},
		cli.Uint64Flag{Name: "progress-percent", Usage: "Print progress every P percent"},
	},
}

var historyTxScanCommand = cli.Command{
	Name:   "history-tx-scan",
	Usage:  "Fetch callTracer frames for recorded deployment transactions",
	Action: runHistoryTxScan,
	Flags: []cli.Flag{
		utils.ConfigFlag,
		cli.IntFlag{Name: "concurrency", Usage: "Concurrent trace fetches", Value: 10},
		cli.Uint64Flag{Name: "progress-every", Usage: "Print progress every N transactions"},
		cli.Uint64Flag{Name: "progress-percent", Usage: "Print progress every P percent"},
		cli.StringFlag{Name: "input", Usage: "Recorded transactions file", Value: actions.DefaultNullTxPath},
		cli.StringFlag{Name: "output", Usage: "Trace output file", Value: actions.DefaultTracePath},
	},
}

func runInitScan(ctx *cli.Context) error {
	cfg, cl, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	ac := cfg.Action("Initscan")
	if ac == nil || !ac.Enabled {
		return fmt.Errorf("config must include an enabled actions.Initscan block")
	}
	opts := actions.HistoryInitScanOptions{
		FromBlock:       ctx.Uint64("from-block"),
		ToBlock:         ctx.Uint64("to-block"),
		Concurrency:     ctx.Int("concurrency"),
		ProgressEvery:   ctx.Uint64("progress-every"),
		ProgressPercent: ctx.Uint64("progress-percent"),
		Initscan:        actions.ParseInitscanOptions(ac, ctx.GlobalString(utils.WebhookURLFlag.Name)),
	}
	if opts.ToBlock < opts.FromBlock {
		return fmt.Errorf("--to-block must not precede --from-block")
	}
	runCtx, cancel := signalContext()
	defer cancel()
	return finish(actions.RunHistoryInitScan(runCtx, cl, cl, opts))
}

func runHistoryTxScan(ctx *cli.Context) error {
	_, cl, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	runCtx, cancel := signalContext()
	defer cancel()
	return finish(actions.RunHistoryTxScan(runCtx, cl, actions.HistoryTxScanOptions{
		Concurrency:     ctx.Int("concurrency"),
		ProgressEvery:   ctx.Uint64("progress-every"),
		ProgressPercent: ctx.Uint64("progress-percent"),
		InputPath:       ctx.String("input"),
		OutputPath:      ctx.String("output"),
	}))
}
