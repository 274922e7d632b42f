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

package track

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmtrack/evmtrack/abi"
	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/sigs"
)

// DecodeLog builds an EventRecord from a raw log. Unknown topic0 leaves Name
// empty and Fields nil; the raw topics survive either way.
func DecodeLog(lg *types.Log, events sigs.EventSigMap) *EventRecord {
	rec := &EventRecord{
		Address: lg.Address,
		Topics:  append([]common.Hash(nil), lg.Topics...),
	}
	if lg.TxHash != (common.Hash{}) {
		h := lg.TxHash
		rec.TxHash = &h
	}
	bn := lg.BlockNumber
	rec.BlockNumber = &bn
	txIdx := uint64(lg.TxIndex)
	rec.TxIndex = &txIdx
	logIdx := uint64(lg.Index)
	rec.LogIndex = &logIdx
	removed := lg.Removed
	rec.Removed = &removed

	if len(lg.Topics) > 0 {
		t0 := lg.Topics[0]
		rec.Topic0 = &t0
		if sig, ok := events[strings.ToLower(t0.Hex())]; ok {
			rec.Name = sig.Name
			rec.Fields = abi.DecodeEvent(sig, lg.Topics, lg.Data)
		}
	}
	return rec
}

// DecodeFunction decodes calldata against the function catalog. The selector
// is returned whenever the input carries one, even on a catalog miss.
func DecodeFunction(input []byte, funcs sigs.FuncSigMap) (string, []abi.Value, *[4]byte) {
	if len(input) < 4 {
		return "", nil, nil
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	sig, ok := funcs[strings.ToLower(hexutil.Encode(sel[:]))]
	if !ok {
		return "", nil, &sel
	}
	return sig.Name, abi.DecodeCalldata(sig, input), &sel
}

// NewTxRecord assembles a TxRecord from a transaction and its optional
// receipt, decoding the calldata along the way.
func NewTxRecord(tx *client.RPCTransaction, receipt *client.RPCReceipt, funcs sigs.FuncSigMap) *TxRecord {
	name, args, sel := DecodeFunction(tx.Input, funcs)
	from := tx.From
	rec := &TxRecord{
		Hash:     tx.Hash,
		From:     &from,
		To:       tx.To,
		Selector: sel,
		FuncName: name,
		FuncArgs: args,
	}
	gas := uint64(tx.Gas)
	rec.Gas = &gas
	if tx.GasPrice != nil {
		rec.GasPrice = tx.GasPrice.ToInt()
	}
	if receipt != nil {
		status := uint64(receipt.Status)
		rec.Status = &status
		gasUsed := uint64(receipt.GasUsed)
		rec.GasUsed = &gasUsed
		cumulative := uint64(receipt.CumulativeGasUsed)
		rec.CumulativeGasUsed = &cumulative
		if receipt.EffectiveGasPrice != nil {
			rec.EffectiveGasPrice = receipt.EffectiveGasPrice.ToInt()
		}
		if receipt.BlockNumber != nil {
			bn := receipt.BlockNumber.ToInt().Uint64()
			rec.BlockNumber = &bn
		}
		if receipt.TxIndex != nil {
			idx := uint64(*receipt.TxIndex)
			rec.TxIndex = &idx
		}
		rec.ContractAddress = receipt.ContractAddress
		rec.ReceiptLogs = make([]SimpleLog, 0, len(receipt.Logs))
		for _, l := range receipt.Logs {
			idx := uint64(l.Index)
			rec.ReceiptLogs = append(rec.ReceiptLogs, SimpleLog{
				Address:  l.Address,
				Topics:   append([]common.Hash(nil), l.Topics...),
				Data:     l.Data,
				LogIndex: &idx,
			})
		}
	} else if tx.BlockNumber != nil {
		bn := tx.BlockNumber.ToInt().Uint64()
		rec.BlockNumber = &bn
		if tx.TxIndex != nil {
			idx := uint64(*tx.TxIndex)
			rec.TxIndex = &idx
		}
	}
	return rec
}
