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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/evmtrack/evmtrack/track"
)

// jsonEvent, jsonTx and jsonBlock are the wire documents shared by the JSON
// emitter and the Kafka sink. Decoded fields are flattened to string form;
// decode misses carry decode_ok=false with a reason.
type jsonField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type jsonEvent struct {
	Kind        string      `json:"kind"`
	Address     string      `json:"address"`
	TxHash      *string     `json:"tx_hash"`
	BlockNumber *uint64     `json:"block_number"`
	Name        *string     `json:"name"`
	DecodeOK    bool        `json:"decode_ok"`
	DecodeError *string     `json:"decode_error,omitempty"`
	Fields      []jsonField `json:"fields"`
	TxIndex     *uint64     `json:"tx_index"`
	LogIndex    *uint64     `json:"log_index"`
	Topics      []string    `json:"topics"`
	Removed     *bool       `json:"removed"`
}

type jsonReceiptLog struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex *uint64  `json:"log_index"`
	Removed  *bool    `json:"removed,omitempty"`
}

type jsonTx struct {
	Kind              string           `json:"kind"`
	Hash              string           `json:"hash"`
	From              *string          `json:"from"`
	To                *string          `json:"to"`
	Func              *string          `json:"func"`
	DecodeOK          *bool            `json:"decode_ok,omitempty"`
	DecodeError       *string          `json:"decode_error,omitempty"`
	Gas               *uint64          `json:"gas"`
	GasPrice          *string          `json:"gas_price"`
	EffectiveGasPrice *string          `json:"effective_gas_price"`
	Status            *uint64          `json:"status"`
	GasUsed           *uint64          `json:"gas_used"`
	CumulativeGasUsed *uint64          `json:"cumulative_gas_used"`
	BlockNumber       *uint64          `json:"block_number"`
	TxIndex           *uint64          `json:"tx_index"`
	ContractAddress   *string          `json:"contract_address"`
	ReceiptLogs       []jsonReceiptLog `json:"receipt_logs,omitempty"`
}

type jsonBlock struct {
	Kind   string `json:"kind"`
	Number uint64 `json:"number"`
}

func strPtr(s string) *string { return &s }

func eventToJSON(e *track.EventRecord) jsonEvent {
	j := jsonEvent{
		Kind:        "event",
		Address:     strings.ToLower(e.Address.Hex()),
		BlockNumber: e.BlockNumber,
		DecodeOK:    e.Name != "",
		TxIndex:     e.TxIndex,
		LogIndex:    e.LogIndex,
		Removed:     e.Removed,
		Fields:      []jsonField{},
	}
	if e.TxHash != nil {
		j.TxHash = strPtr(e.TxHash.Hex())
	}
	if e.Name != "" {
		j.Name = strPtr(e.Name)
	} else {
		j.DecodeError = strPtr("unknown_topic0")
	}
	for _, f := range e.Fields {
		j.Fields = append(j.Fields, jsonField{Name: f.Name, Value: f.Value.String()})
	}
	for _, t := range e.Topics {
		j.Topics = append(j.Topics, t.Hex())
	}
	return j
}

func txToJSON(t *track.TxRecord) jsonTx {
	j := jsonTx{
		Kind:              "tx",
		Hash:              t.Hash.Hex(),
		Gas:               t.Gas,
		Status:            t.Status,
		GasUsed:           t.GasUsed,
		CumulativeGasUsed: t.CumulativeGasUsed,
		BlockNumber:       t.BlockNumber,
		TxIndex:           t.TxIndex,
	}
	if t.From != nil {
		j.From = strPtr(fmtAddr(t.From))
	}
	if t.To != nil {
		j.To = strPtr(fmtAddr(t.To))
	}
	if t.FuncName != "" {
		j.Func = strPtr(t.FuncName)
	}
	if t.Selector != nil {
		ok := t.FuncName != ""
		j.DecodeOK = &ok
		if !ok {
			j.DecodeError = strPtr("unknown_selector")
		}
	}
	if t.GasPrice != nil {
		j.GasPrice = strPtr(t.GasPrice.String())
	}
	if t.EffectiveGasPrice != nil {
		j.EffectiveGasPrice = strPtr(t.EffectiveGasPrice.String())
	}
	if t.ContractAddress != nil {
		j.ContractAddress = strPtr(fmtAddr(t.ContractAddress))
	}
	for _, l := range t.ReceiptLogs {
		rl := jsonReceiptLog{
			Address:  strings.ToLower(l.Address.Hex()),
			Data:     hexutil.Encode(l.Data),
			LogIndex: l.LogIndex,
			Removed:  l.Removed,
		}
		for _, tp := range l.Topics {
			rl.Topics = append(rl.Topics, tp.Hex())
		}
		j.ReceiptLogs = append(j.ReceiptLogs, rl)
	}
	return j
}

// JsonLogAction prints one JSON document per record to stdout.
type JsonLogAction struct {
	track.BaseAction
}

func (JsonLogAction) OnEvent(e *track.EventRecord) error {
	b, err := json.Marshal(eventToJSON(e))
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func (JsonLogAction) OnTx(t *track.TxRecord) error {
	b, err := json.Marshal(txToJSON(t))
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func (JsonLogAction) OnBlock(b *track.BlockRecord) error {
	out, err := json.Marshal(jsonBlock{Kind: "block", Number: b.Number})
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func jsonLogFactory() track.Factory {
	return track.Factory{
		Description:   "Output events and transactions in JSON format",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {}}`,
		New: func(*track.FactoryContext) (track.Action, error) {
			return JsonLogAction{}, nil
		},
	}
}
