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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/evmtrack/evmtrack/actions"
	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/cmd/utils"
	"github.com/evmtrack/evmtrack/config"
	"github.com/evmtrack/evmtrack/pipeline"
	"github.com/evmtrack/evmtrack/ratelimit"
	"github.com/evmtrack/evmtrack/sigs"
	"github.com/evmtrack/evmtrack/track"
)

var trackCommand = cli.Command{
	Name:  "track",
	Usage: "Run the realtime or historical tracking pipelines",
	Subcommands: []cli.Command{
		{
			Name:   "realtime",
			Usage:  "Subscribe to the node and dispatch records as they arrive",
			Action: runRealtime,
			Flags: []cli.Flag{
				utils.ConfigFlag,
				cli.BoolFlag{Name: "events", Usage: "Track logs matching the configured addresses (default mode)"},
				cli.BoolFlag{Name: "blocks", Usage: "Track new heads with per-block events and transactions"},
				cli.BoolFlag{Name: "pending", Usage: "Track pending transactions"},
				cli.BoolFlag{Name: "pending-hashes-only", Usage: "Subscribe to pending hashes instead of full transactions"},
				cli.BoolFlag{Name: "deployments", Usage: "Track contract deployments"},
			},
		},
		{
			Name:  "historical",
			Usage: "Replay a historical block range",
			Subcommands: []cli.Command{
				{
					Name:   "events",
					Usage:  "Scan a range with chunked log queries",
					Action: runHistoricalEvents,
					Flags:  historicalFlags(),
				},
				{
					Name:   "blocks",
					Usage:  "Scan a range block by block with transactions",
					Action: runHistoricalBlocks,
					Flags:  historicalFlags(),
				},
			},
		},
	},
}

func historicalFlags() []cli.Flag {
	return []cli.Flag{
		utils.ConfigFlag,
		cli.Uint64Flag{Name: "from-block", Usage: "First block of the range (inclusive)"},
		cli.Uint64Flag{Name: "to-block", Usage: "Last block of the range (inclusive; defaults to from-block)"},
		cli.Uint64Flag{Name: "step-blocks", Usage: "Blocks per log query", Value: pipeline.DefaultStepBlocks},
	}
}

// globalFlags lifts the app-level switches into the action layer.
func globalFlags(ctx *cli.Context) track.GlobalFlags {
	return track.GlobalFlags{
		Verbose:    ctx.GlobalBool(utils.VerboseFlag.Name),
		JSON:       ctx.GlobalBool(utils.JSONFlag.Name),
		WebhookURL: ctx.GlobalString(utils.WebhookURLFlag.Name),
	}
}

// setupRuntime performs the startup sequence shared by all run modes:
// config, limiter, catalog paths and the node connection.
func setupRuntime(ctx *cli.Context) (*config.Config, *client.Client, error) {
	cfgPath := ctx.String(utils.ConfigFlag.Name)
	if cfgPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	ratelimit.Init(cfg.RequestsPerSecond())

	// First setter wins: the CLI override outranks the config field.
	if p := ctx.GlobalString(utils.EventSigsFlag.Name); p != "" {
		sigs.SetEventSigsPath(p)
	}
	if p := ctx.GlobalString(utils.FuncSigsFlag.Name); p != "" {
		sigs.SetFuncSigsPath(p)
	}
	if cfg.EventSigsPath != "" {
		sigs.SetEventSigsPath(cfg.EventSigsPath)
	}
	if cfg.FuncSigsPath != "" {
		sigs.SetFuncSigsPath(cfg.FuncSigsPath)
	}

	cl, err := client.Dial(context.Background(), cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", cfg.RPCURL, err)
	}
	return cfg, cl, nil
}

func buildActionSet(cfg *config.Config, cl *client.Client, flags track.GlobalFlags) (*track.ActionSet, error) {
	registry := track.NewRegistry()
	actions.RegisterAll(registry)
	return registry.Build(cfg, cl, flags)
}

// signalContext cancels on SIGINT/SIGTERM so subscriptions close cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// finish maps context cancellation to a clean exit.
func finish(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runRealtime(ctx *cli.Context) error {
	cfg, cl, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()
	set, err := buildActionSet(cfg, cl, globalFlags(ctx))
	if err != nil {
		return err
	}
	addrs := cfg.CollectEnabledAddresses()

	runCtx, cancel := signalContext()
	defer cancel()

	switch {
	case ctx.Bool("deployments"):
		return finish(pipeline.RunDeployments(runCtx, cl, set))
	case ctx.Bool("pending"):
		return finish(pipeline.RunPendingTxs(runCtx, cl, addrs, set, ctx.Bool("pending-hashes-only")))
	case ctx.Bool("blocks"):
		return finish(pipeline.RunBlocks(runCtx, cl, addrs, set))
	default:
		return finish(pipeline.RunEvents(runCtx, cl, addrs, set))
	}
}

func historicalRange(ctx *cli.Context) pipeline.Range {
	from := ctx.Uint64("from-block")
	to := ctx.Uint64("to-block")
	if to == 0 {
		to = from
	}
	return pipeline.Range{From: from, To: to, Step: ctx.Uint64("step-blocks")}
}

func runHistoricalEvents(ctx *cli.Context) error {
	cfg, cl, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()
	set, err := buildActionSet(cfg, cl, globalFlags(ctx))
	if err != nil {
		return err
	}
	runCtx, cancel := signalContext()
	defer cancel()
	return finish(pipeline.HistoricalEvents(runCtx, cl, cfg.CollectEnabledAddresses(), historicalRange(ctx), set))
}

func runHistoricalBlocks(ctx *cli.Context) error {
	cfg, cl, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()
	set, err := buildActionSet(cfg, cl, globalFlags(ctx))
	if err != nil {
		return err
	}
	runCtx, cancel := signalContext()
	defer cancel()
	return finish(pipeline.HistoricalBlocks(runCtx, cl, cfg.CollectEnabledAddresses(), historicalRange(ctx), set))
}
