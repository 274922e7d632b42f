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

// evmtrack is the command line interface of the EVM observability engine:
// realtime and historical tracking, initializer scans, trace sweeps, the
// receipt store and the signature catalog bootstrap.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"

	"github.com/evmtrack/evmtrack/cmd/utils"
)

const version = "0.4.0"

var app = newApp()

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "evmtrack"
	app.Version = version
	app.Usage = "Track events, transactions and deployments on EVM chains"
	app.Flags = utils.GlobalFlags
	app.Commands = []cli.Command{
		trackCommand,
		initScanCommand,
		historyTxScanCommand,
		dbCommand,
		dataCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		level := log.LevelWarn
		if ctx.GlobalBool(utils.VerboseFlag.Name) {
			level = log.LevelDebug
		}
		handler := log.NewTerminalHandlerWithLevel(os.Stderr, level, true)
		log.SetDefault(log.NewLogger(handler))
		return nil
	}
	return app
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
