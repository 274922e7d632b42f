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

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/evmtrack/evmtrack/track"
)

// SelectorScanOptions pins the 4-byte selector to match.
type SelectorScanOptions struct {
	Selector      [4]byte
	PrintReceipts bool
}

// SelectorScanAction reports every transaction whose calldata starts with
// the configured selector.
type SelectorScanAction struct {
	track.BaseAction
	opts SelectorScanOptions
}

// NewSelectorScanAction builds the action from its options.
func NewSelectorScanAction(opts SelectorScanOptions) *SelectorScanAction {
	return &SelectorScanAction{opts: opts}
}

func (a *SelectorScanAction) OnTx(t *track.TxRecord) error {
	if t.Selector == nil || *t.Selector != a.opts.Selector {
		return nil
	}
	fmt.Printf("[selector] hit selector=%s block=%s tx=%s from=%s to=%s\n",
		hexutil.Encode(a.opts.Selector[:]), fmtU64(t.BlockNumber), t.Hash.Hex(), fmtAddr(t.From), fmtAddr(t.To))
	if a.opts.PrintReceipts && t.Status != nil {
		fmt.Printf("[selector] receipt status=%d gas_used=%s logs=%d\n",
			*t.Status, fmtU64(t.GasUsed), len(t.ReceiptLogs))
	}
	return nil
}

// ParseSelector reads a 4-byte selector from 0x-prefixed hex.
func ParseSelector(s string) ([4]byte, error) {
	var sel [4]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return sel, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if len(b) != 4 {
		return sel, fmt.Errorf("selector must be 4 bytes, got %d", len(b))
	}
	copy(sel[:], b)
	return sel, nil
}

func selectorScanFactory() track.Factory {
	return track.Factory{
		Description: "Report transactions whose calldata matches a configured selector",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {
  "selector": "0x8129fc1c", "print-receipts": true}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			raw, ok := ctx.Config.OptString("selector")
			if !ok {
				return nil, fmt.Errorf("SelectorScan requires options.selector")
			}
			sel, err := ParseSelector(raw)
			if err != nil {
				return nil, err
			}
			return NewSelectorScanAction(SelectorScanOptions{
				Selector:      sel,
				PrintReceipts: ctx.Config.OptBool("print-receipts", false),
			}), nil
		},
	}
}
