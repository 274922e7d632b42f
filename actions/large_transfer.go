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

var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// anomalyCeilingTokens suppresses transfers whose scaled amount exceeds any
// plausible supply; such values are almost always decimals mismatches.
const anomalyCeilingTokens = "10000000000000" // 1e13

// wellKnownDecimals fixes the precision of heavily-traded BSC tokens whose
// on-chain decimals differ from the configured default.
var wellKnownDecimals = map[common.Address]uint8{
	common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"): 18, // USDT
	common.HexToAddress("0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d"): 6,  // USDC
	common.HexToAddress("0xe9e7cea3dedca5984780bafc599bd69add087d56"): 18, // BUSD
	common.HexToAddress("0x2170ed0880ac9a755fd29b2688956bd959f933f8"): 18, // ETH
	common.HexToAddress("0x7130d2a12b9bcbfae4f2634d864a1ee1ce3ead9c"): 18, // BTCB
	common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"): 18, // WBNB
}

// LargeTransferOptions configures the alert threshold in human units.
type LargeTransferOptions struct {
	MinAmountHuman  string
	DecimalsDefault uint8
}

// LargeTransferAction fires on Transfer events at or above the configured
// human-denominated threshold, with an anomaly ceiling against decimals
// mismatches.
type LargeTransferAction struct {
	track.BaseAction
	opts LargeTransferOptions
}

// NewLargeTransferAction builds the action from its options.
func NewLargeTransferAction(opts LargeTransferOptions) *LargeTransferAction {
	if opts.DecimalsDefault == 0 {
		opts.DecimalsDefault = 18
	}
	return &LargeTransferAction{opts: opts}
}

func (a *LargeTransferAction) tokenDecimals(token common.Address) uint8 {
	if d, ok := wellKnownDecimals[token]; ok {
		return d
	}
	return a.opts.DecimalsDefault
}

// Fires reports whether the record is an alert-worthy transfer and returns
// the formatted amount. Split out of OnEvent for testing.
func (a *LargeTransferAction) Fires(e *track.EventRecord) (string, bool) {
	if len(e.Topics) < 3 || e.Topics[0] != transferTopic {
		return "", false
	}
	if len(e.Fields) < 3 {
		return "", false
	}
	value := e.Fields[2].Value
	if value.Kind != abi.KindUint || value.Num == nil {
		return "", false
	}
	amount := value.Num
	decimals := a.tokenDecimals(e.Address)

	if a.opts.MinAmountHuman != "" {
		min, ok := parseHumanAmount(a.opts.MinAmountHuman, decimals)
		if !ok {
			logger.Warn("unparseable large-transfer threshold", "min-amount", a.opts.MinAmountHuman)
			return "", false
		}
		if amount.Cmp(min) < 0 {
			return "", false
		}
	}
	if ceiling, ok := parseHumanAmount(anomalyCeilingTokens, decimals); ok && amount.Cmp(ceiling) > 0 {
		logger.Debug("anomalous transfer amount ignored", "token", e.Address, "amount", amount)
		return "", false
	}
	return formatAmount(amount, decimals), true
}

func (a *LargeTransferAction) OnEvent(e *track.EventRecord) error {
	amount, ok := a.Fires(e)
	if !ok {
		return nil
	}
	fmt.Printf("[large-transfer] amount=%s token=%s block=%s tx=%s\n",
		amount, strings.ToLower(e.Address.Hex()), fmtU64(e.BlockNumber), fmtHash(e.TxHash))
	return nil
}

func largeTransferFactory() track.Factory {
	return track.Factory{
		Description:  "Alert on ERC-20 transfers above a configured threshold",
		Dependencies: []string{"Logging"},
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {
  "min-amount": "10000", "decimals-default": 18}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			min, _ := ctx.Config.OptString("min-amount")
			if min == "" {
				min, _ = ctx.Config.OptString("min_amount")
			}
			var decimals uint8 = 18
			if d, ok := ctx.Config.OptUint64("decimals-default"); ok && d <= 255 {
				decimals = uint8(d)
			}
			return NewLargeTransferAction(LargeTransferOptions{
				MinAmountHuman:  min,
				DecimalsDefault: decimals,
			}), nil
		},
	}
}
