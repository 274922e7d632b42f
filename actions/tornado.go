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
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtrack/evmtrack/abi"
	"github.com/evmtrack/evmtrack/track"
)

// Mainnet Tornado.cash ETH pools; a non-empty addresses table in the action's
// config replaces this list.
var defaultTornadoContracts = []common.Address{
	common.HexToAddress("0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc"), // 0.1 ETH
	common.HexToAddress("0x47ce0c6ed5b0ce3d3a51fdb1c52dc66a7c3c2936"), // 1 ETH
	common.HexToAddress("0x910cbd523d972eb0a6f4cae4618ad62622b39dbf"), // 10 ETH
	common.HexToAddress("0xa160cdab225685da1d56aa342ad8841c3b53f291"), // 100 ETH
}

var tornadoAmountFields = []string{"wad", "amount", "value", "tokens"}

// TornadoOptions configures the activity log file.
type TornadoOptions struct {
	OutputFilepath string
	Contracts      []common.Address
}

// TornadoAction reports Deposit/Withdrawal events emitted by the allowlisted
// mixer contracts together with the decoded amount.
type TornadoAction struct {
	track.BaseAction
	opts    TornadoOptions
	watched map[common.Address]struct{}
}

// NewTornadoAction builds the action; an empty contract list falls back to
// the built-in allowlist.
func NewTornadoAction(opts TornadoOptions) *TornadoAction {
	contracts := opts.Contracts
	if len(contracts) == 0 {
		contracts = defaultTornadoContracts
	}
	watched := make(map[common.Address]struct{}, len(contracts))
	for _, c := range contracts {
		watched[c] = struct{}{}
	}
	return &TornadoAction{opts: opts, watched: watched}
}

func (a *TornadoAction) amountOf(e *track.EventRecord) string {
	for _, name := range tornadoAmountFields {
		if f := e.Field(name); f != nil && f.Value.Kind == abi.KindUint && f.Value.Num != nil {
			return fmt.Sprintf("%s WEI (%s ETH)", f.Value.Num, formatAmount(f.Value.Num, 18))
		}
	}
	var parts []string
	for _, f := range e.Fields {
		switch f.Value.Kind {
		case abi.KindUint, abi.KindAddress:
			parts = append(parts, f.Name+"="+f.Value.String())
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}

func (a *TornadoAction) OnEvent(e *track.EventRecord) error {
	if _, ok := a.watched[e.Address]; !ok {
		return nil
	}
	var kind string
	switch e.Name {
	case "Deposit", "Deposited":
		kind = "deposit"
	case "Withdrawal", "Withdraw":
		kind = "withdrawal"
	default:
		return nil
	}
	line := fmt.Sprintf("[tornado] %s addr=%s tx=%s block=%s amount=%s",
		kind, strings.ToLower(e.Address.Hex()), fmtHash(e.TxHash), fmtU64(e.BlockNumber), a.amountOf(e))
	fmt.Println(line)
	if a.opts.OutputFilepath != "" {
		if err := appendLine(a.opts.OutputFilepath, line); err != nil {
			logger.Warn("tornado log write failed", "path", a.opts.OutputFilepath, "err", err)
		}
	}
	return nil
}

func tornadoFactory() track.Factory {
	return track.Factory{
		Description: "Report mixer deposits and withdrawals from allowlisted contracts",
		ConfigExample: `{"enabled": true,
  "addresses": {"0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc": {}},
  "options": {"output-filepath": "tornado.log"}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			path, _ := ctx.Config.OptString("output-filepath")
			var contracts []common.Address
			for addr := range ctx.Config.Addresses {
				contracts = append(contracts, common.HexToAddress(addr))
			}
			return NewTornadoAction(TornadoOptions{
				OutputFilepath: path,
				Contracts:      contracts,
			}), nil
		},
	}
}
