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
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/evmtrack/evmtrack/sigs"
)

var dataCommand = cli.Command{
	Name:  "data",
	Usage: "Maintain the signature catalog",
	Subcommands: []cli.Command{
		{
			Name:   "event",
			Usage:  "Merge event signatures from an ABI file into the catalog",
			Action: runDataEvent,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "abi", Usage: "ABI file (JSON array of ABI items)"},
				cli.StringFlag{Name: "output", Usage: "Catalog JSON path", Value: sigs.DefaultEventSigsPath},
			},
		},
		{
			Name:   "fetch-abi",
			Usage:  "Download a contract ABI from a block scanner API",
			Action: runDataFetchABI,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "address", Usage: "Contract address (0x...)"},
				cli.StringFlag{Name: "scanner-url", Usage: "Scanner URL template with %v for the address"},
				cli.StringFlag{Name: "api-key", Usage: "API key appended as &apikey=KEY when absent from the URL"},
				cli.StringFlag{Name: "output", Usage: "Output ABI JSON file"},
			},
		},
	},
}

func runDataEvent(ctx *cli.Context) error {
	abiPath := ctx.String("abi")
	if abiPath == "" {
		return fmt.Errorf("--abi is required")
	}
	return sigs.AddEventsFromABI(abiPath, ctx.String("output"))
}

func runDataFetchABI(ctx *cli.Context) error {
	address := ctx.String("address")
	scannerURL := ctx.String("scanner-url")
	outPath := ctx.String("output")
	if address == "" || scannerURL == "" || outPath == "" {
		return fmt.Errorf("--address, --scanner-url and --output are required")
	}
	target := strings.ReplaceAll(scannerURL, "%v", url.QueryEscape(address))
	if key := ctx.String("api-key"); key != "" && !strings.Contains(strings.ToLower(target), "apikey=") {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "apikey=" + url.QueryEscape(key)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Get(target)
	if err != nil {
		return fmt.Errorf("requesting scanner: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading scanner response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scanner returned status %d", resp.StatusCode)
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote ABI to %s\n", outPath)
	return nil
}
