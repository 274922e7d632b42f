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

package actions

import (
	"fmt"

	"github.com/evmtrack/evmtrack/track"
)

// LoggingOptions selects what the logging action prints and where.
type LoggingOptions struct {
	EnableTerminalLogs bool
	EnableDiscordLogs  bool
	DiscordWebhookURL  string
	LogEvents          bool
	LogTransactions    bool
	LogBlocks          bool
}

// LoggingAction writes human-readable lines per record to the terminal
// and/or a Discord-style webhook.
type LoggingAction struct {
	track.BaseAction
	opts LoggingOptions
}

// NewLoggingAction builds the action from its options.
func NewLoggingAction(opts LoggingOptions) *LoggingAction {
	return &LoggingAction{opts: opts}
}

func (a *LoggingAction) discord(line string) {
	if !a.opts.EnableDiscordLogs || a.opts.DiscordWebhookURL == "" {
		return
	}
	url := a.opts.DiscordWebhookURL
	go func() {
		if err := postWebhook(url, line); err != nil {
			logger.Warn("webhook delivery failed", "err", err)
		}
	}()
}

func (a *LoggingAction) OnEvent(e *track.EventRecord) error {
	if !a.opts.LogEvents {
		return nil
	}
	line := fmt.Sprintf("[event] block=%s addr=%s tx=%s name=%s",
		fmtU64(e.BlockNumber), e.Address.Hex(), fmtHash(e.TxHash), orUnknown(e.Name))
	if a.opts.EnableTerminalLogs {
		fmt.Println(line)
		if e.Name == "" {
			fmt.Println("  [decode] unknown_topic0")
		}
		for _, f := range e.Fields {
			fmt.Printf("  %s = %s\n", f.Name, f.Value.String())
		}
	}
	a.discord(line)
	return nil
}

func (a *LoggingAction) OnTx(t *track.TxRecord) error {
	if !a.opts.LogTransactions {
		return nil
	}
	line := fmt.Sprintf("[tx] hash=%s to=%s from=%s func=%s",
		t.Hash.Hex(), fmtAddr(t.To), fmtAddr(t.From), orUnknown(t.FuncName))
	if a.opts.EnableTerminalLogs {
		fmt.Println(line)
		if t.Selector != nil && t.FuncName == "" {
			fmt.Println("  [decode] unknown_selector")
		}
	}
	a.discord(line)
	return nil
}

func (a *LoggingAction) OnBlock(b *track.BlockRecord) error {
	if !a.opts.LogBlocks {
		return nil
	}
	line := fmt.Sprintf("[block] number=%d", b.Number)
	if a.opts.EnableTerminalLogs {
		fmt.Println(line)
	}
	a.discord(line)
	return nil
}

func loggingFactory() track.Factory {
	return track.Factory{
		Description: "Log blockchain events, transactions, and blocks to terminal and/or a Discord webhook",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {
  "log-events": true, "log-transactions": true, "log-blocks": false,
  "enable-terminal-logs": true, "enable-discord-logs": false,
  "discord-webhook-url": "https://discord.com/api/webhooks/..."}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			o := ctx.Config
			url, _ := o.OptString("discord-webhook-url")
			if url == "" {
				url = ctx.Flags.WebhookURL
			}
			return NewLoggingAction(LoggingOptions{
				EnableTerminalLogs: o.OptBool("enable-terminal-logs", true),
				EnableDiscordLogs:  o.OptBool("enable-discord-logs", false) || ctx.Flags.WebhookURL != "",
				DiscordWebhookURL:  url,
				LogEvents:          o.OptBool("log-events", true),
				LogTransactions:    o.OptBool("log-transactions", true),
				LogBlocks:          o.OptBool("log-blocks", true),
			}), nil
		},
	}
}
