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

	"github.com/evmtrack/evmtrack/cmd/utils"
	"github.com/evmtrack/evmtrack/dbsyncer"
)

var dbFlags = []cli.Flag{
	cli.StringFlag{Name: "db-host", Usage: "MySQL host", Value: "127.0.0.1"},
	cli.StringFlag{Name: "db-port", Usage: "MySQL port", Value: "3306"},
	cli.StringFlag{Name: "db-user", Usage: "MySQL user"},
	cli.StringFlag{Name: "db-password", Usage: "MySQL password"},
	cli.StringFlag{Name: "db-name", Usage: "MySQL database name"},
}

var dbCommand = cli.Command{
	Name:  "db",
	Usage: "Receipt store tools backed by MySQL",
	Subcommands: []cli.Command{
		{
			Name:   "import",
			Usage:  "Bulk-import transaction hashes from a JSON-lines file",
			Action: runDBImport,
			Flags: append([]cli.Flag{
				cli.StringFlag{Name: "file", Usage: "JSON-lines file of {\"hash\": \"0x...\"} documents"},
			}, dbFlags...),
		},
		{
			Name:   "receipts",
			Usage:  "Fetch and store the receipts of all pending jobs",
			Action: runDBReceipts,
			Flags: append([]cli.Flag{
				utils.ConfigFlag,
				cli.IntFlag{Name: "concurrency", Usage: "Concurrent receipt fetches", Value: 10},
				cli.IntFlag{Name: "batch-size", Usage: "Jobs claimed per batch", Value: 100},
			}, dbFlags...),
		},
	},
}

func openSyncer(ctx *cli.Context) (*dbsyncer.DBSyncer, error) {
	cfg := dbsyncer.DefaultConfig()
	cfg.DBHost = ctx.String("db-host")
	cfg.DBPort = ctx.String("db-port")
	cfg.DBUser = ctx.String("db-user")
	cfg.DBPassword = ctx.String("db-password")
	cfg.DBName = ctx.String("db-name")
	if cfg.DBName == "" {
		return nil, fmt.Errorf("--db-name is required")
	}
	s, err := dbsyncer.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureTables(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func runDBImport(ctx *cli.Context) error {
	file := ctx.String("file")
	if file == "" {
		return fmt.Errorf("--file is required")
	}
	s, err := openSyncer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	inserted, err := s.ImportHashes(file)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d new transaction hashes\n", inserted)
	return nil
}

func runDBReceipts(ctx *cli.Context) error {
	_, cl, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()
	s, err := openSyncer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	runCtx, cancel := signalContext()
	defer cancel()
	return finish(s.FetchReceipts(runCtx, cl, ctx.Int("concurrency"), ctx.Int("batch-size")))
}
