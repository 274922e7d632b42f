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

// Package utils holds the shared CLI flags and helpers of the evmtrack
// commands.
package utils

import (
	"gopkg.in/urfave/cli.v1"
)

var (
	VerboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug-level logging",
	}
	JSONFlag = cli.BoolFlag{
		Name:  "json",
		Usage: "Output JSON lines to stdout (adds the JsonLog action)",
	}
	WebhookURLFlag = cli.StringFlag{
		Name:  "webhook-url",
		Usage: "Webhook URL for alert delivery (Discord-style JSON)",
	}
	EventSigsFlag = cli.StringFlag{
		Name:  "event-sigs",
		Usage: "Override path to the event signatures JSON",
	}
	FuncSigsFlag = cli.StringFlag{
		Name:  "func-sigs",
		Usage: "Override path to the function signatures JSON",
	}
	ConfigFlag = cli.StringFlag{
		Name:  "config",
		Usage: "Path to the configuration file (JSON or TOML)",
	}
)

// GlobalFlags are installed on the app and visible to every command.
var GlobalFlags = []cli.Flag{
	VerboseFlag,
	JSONFlag,
	WebhookURLFlag,
	EventSigsFlag,
	FuncSigsFlag,
}
