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

// Package track defines the immutable record types flowing from the
// pipelines to the analyzers, the Action contract, the ordered dispatch set
// and the registry that assembles it from configuration.
package track

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtrack/evmtrack/abi"
)

// SimpleLog is a receipt log stripped to what analyzers consume.
type SimpleLog struct {
	Address  common.Address
	Topics   []common.Hash
	Data     []byte
	LogIndex *uint64
	Removed  *bool
}

// EventRecord is one decoded log. An empty Name means topic0 was not in the
// catalog; the raw topics stay populated so analyzers can match on them
// directly.
type EventRecord struct {
	Address     common.Address
	TxHash      *common.Hash
	BlockNumber *uint64
	Topic0      *common.Hash
	Name        string
	Fields      []abi.Field
	TxIndex     *uint64
	LogIndex    *uint64
	Topics      []common.Hash
	Removed     *bool
}

// Field returns the named decoded field, or nil.
func (e *EventRecord) Field(name string) *abi.Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// TxRecord is one transaction, optionally enriched with its receipt. A nil To
// marks contract creation; receipt-dependent fields are nil for pending
// transactions.
type TxRecord struct {
	Hash              common.Hash
	From              *common.Address
	To                *common.Address
	Selector          *[4]byte
	FuncName          string
	FuncArgs          []abi.Value
	Gas               *uint64
	GasPrice          *big.Int
	EffectiveGasPrice *big.Int
	Status            *uint64
	GasUsed           *uint64
	CumulativeGasUsed *uint64
	BlockNumber       *uint64
	TxIndex           *uint64
	ContractAddress   *common.Address
	ReceiptLogs       []SimpleLog
}

// BlockRecord marks the arrival of a block.
type BlockRecord struct {
	Number uint64
}

// ContractCreationRecord is emitted when a deployment receipt carries a
// contract address.
type ContractCreationRecord struct {
	TxHash          common.Hash
	ContractAddress common.Address
	Deployer        common.Address
	BlockNumber     uint64
	TxIndex         uint64
	GasUsed         *uint64
	ConstructorArgs []byte
}
